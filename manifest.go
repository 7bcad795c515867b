// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/ecma335"

// ManifestReference is one AssemblyRef row of the secondary (manifest)
// metadata reader, exposed by simple name.
type ManifestReference struct {
	RID        uint32
	SimpleName string
}

// assemblyRefLoc names which (reader, rid) pair a reference-assembly index
// resolved to, carrying the simple name along for error messages.
type assemblyRefLoc struct {
	rid     uint32
	refName string
}

func (r *Reader) ensureManifest() error {
	r.manifestOnce.Do(func() {
		sec, ok := r.header.Section(SectionManifestMetadata)
		if !ok {
			return // no manifest metadata: leave manifestMeta nil, not an error
		}
		off, err := r.img.RVAToOffset(sec.RVA)
		if err != nil {
			r.manifestErr = newError(BadImage, "manifest metadata offset", err)
			return
		}
		blob, err := r.img.ReadBytesAtOffset(off, sec.Size)
		if err != nil {
			r.manifestErr = newError(BadImage, "manifest metadata blob", err)
			return
		}
		meta, err := ecma335.NewReaderFromBytes(blob)
		if err != nil {
			r.manifestErr = newError(BadImage, "manifest metadata parse", err)
			return
		}
		r.manifestMeta = meta

		count := meta.AssemblyRefCount()
		refs := make([]ManifestReference, 0, count)
		for rid := uint32(1); rid <= count; rid++ {
			row, err := meta.AssemblyRefRow(rid)
			if err != nil {
				r.logger.Warnf("manifest AssemblyRef %d: %v", rid, err)
				continue
			}
			name, err := meta.String(row.Name)
			if err != nil {
				r.logger.Warnf("manifest AssemblyRef %d name: %v", rid, err)
				continue
			}
			refs = append(refs, ManifestReference{RID: rid, SimpleName: name})
		}
		r.manifestRefs = refs
	})
	return r.manifestErr
}

// ManifestReferenceAssemblies returns the simple names of the manifest
// reader's AssemblyRef rows, in table order.
func (r *Reader) ManifestReferenceAssemblies() ([]string, error) {
	if err := r.ensureManifest(); err != nil {
		return nil, err
	}
	names := make([]string, len(r.manifestRefs))
	for i, ref := range r.manifestRefs {
		names[i] = ref.SimpleName
	}
	return names, nil
}

// primaryAssemblyRefCount returns A, spec.md §4.6's "primary AssemblyRef row
// count (0 for composite images, since there is no single primary)".
func (r *Reader) primaryAssemblyRefCount() uint32 {
	if r.composite || r.primaryMeta == nil {
		return 0
	}
	return r.primaryMeta.AssemblyRefCount()
}

// GetAssemblyAt unifies the primary AssemblyRef table and the manifest's
// ManifestReferences list into one numeric reference-assembly index space,
// per spec.md §4.6.
func (r *Reader) GetAssemblyAt(refIdx int) (*ecma335.Reader, assemblyRefLoc, error) {
	if refIdx == 0 {
		return nil, assemblyRefLoc{}, newError(BadImage, "GetAssemblyAt", ErrOutOfRange)
	}
	a := int(r.primaryAssemblyRefCount())
	if refIdx <= a {
		rid := uint32(refIdx)
		name := ""
		if row, err := r.primaryMeta.AssemblyRefRow(rid); err == nil {
			name, _ = r.primaryMeta.String(row.Name)
		}
		return r.primaryMeta, assemblyRefLoc{rid: rid, refName: name}, nil
	}
	if err := r.ensureManifest(); err != nil {
		return nil, assemblyRefLoc{}, err
	}
	idx := refIdx - a - 2
	if idx < 0 || idx >= len(r.manifestRefs) {
		return nil, assemblyRefLoc{}, newError(BadImage, "GetAssemblyAt manifest index", ErrOutOfRange)
	}
	ref := r.manifestRefs[idx]
	return r.manifestMeta, assemblyRefLoc{rid: ref.RID, refName: ref.SimpleName}, nil
}
