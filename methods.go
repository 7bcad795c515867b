// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/ecma335"

// decodeMethodEntrypoint decodes the method-entrypoint blob shared by
// MethodDef entries (§4.7) and the tail of InstanceMethod entries (§4.8):
// id's bit 0 flags the presence of a fixup blob; bit 1 (only meaningful
// when bit 0 is set) flags that an extra varint follows, whose value is
// subtracted from the cursor's position (after reading it) to locate the
// fixup blob; otherwise, when a fixup is flagged but bit 1 is clear, the
// fixup begins at the current cursor position. The remaining bits of id
// (shifted right by 2 when a fixup is flagged, by 1 otherwise) are the
// runtime-function index.
func decodeMethodEntrypoint(c *cursor) (runtimeFunctionID uint32, fixupOffset uint32, hasFixup bool, err error) {
	id, err := c.unsigned()
	if err != nil {
		return 0, 0, false, err
	}
	hasFixup = id&1 != 0
	if !hasFixup {
		return id >> 1, 0, false, nil
	}
	hasExtraRead := id&2 != 0
	runtimeFunctionID = id >> 2
	if !hasExtraRead {
		return runtimeFunctionID, c.off, true, nil
	}
	delta, err := c.unsigned()
	if err != nil {
		return 0, 0, false, err
	}
	return runtimeFunctionID, c.off - delta, true, nil
}

// headerContext pairs one header (the primary image's own, or a composite
// component's) with the metadata reader its handles resolve against.
type headerContext struct {
	header R2RHeader
	meta   *ecma335.Reader
}

// runtimeFunctionStride is 12 bytes on X64 (start RVA, end RVA, unwind RVA),
// 8 bytes elsewhere (start RVA, unwind RVA), per spec.md §3's invariant.
func (r *Reader) runtimeFunctionStride() uint32 {
	if r.class.class == X64 {
		return 12
	}
	return 8
}

// totalRuntimeFunctions returns the row count of RUNTIME_FUNCTIONS, or 0 if
// the section is absent.
func (r *Reader) totalRuntimeFunctions() uint32 {
	sec, ok := r.header.Section(SectionRuntimeFunctions)
	if !ok {
		return 0
	}
	return sec.Size / r.runtimeFunctionStride()
}

// markEntryPoint records that runtime-function id entryID belongs to some
// method's entry. Out of range is fatal on the MethodDef path but silently
// dropped on the InstanceMethod path, matching spec.md §9's documented
// asymmetry (flagged there as possibly-unintentional source behavior that a
// port should preserve rather than silently "fix").
func (r *Reader) markEntryPoint(entryID uint32, fatal bool) error {
	if entryID >= r.totalRuntimeFunctions() {
		if fatal {
			return newError(BadImage, "entry runtime-function id", ErrOutOfRange)
		}
		return nil
	}
	if r.isEntryPoint == nil {
		r.isEntryPoint = make(map[uint32]bool)
	}
	r.isEntryPoint[entryID] = true
	return nil
}

func (r *Reader) ensureMethods() error {
	r.methodsOnce.Do(func() {
		r.isEntryPoint = make(map[uint32]bool)
		var contexts []headerContext
		if r.composite {
			for i, comp := range r.components {
				meta, _ := r.componentMetadata(i)
				contexts = append(contexts, headerContext{header: comp.Header, meta: meta})
			}
		} else {
			contexts = append(contexts, headerContext{header: r.header, meta: r.primaryMeta})
		}

		for _, ctx := range contexts {
			if err := r.parseMethodDefEntrypoints(ctx); err != nil {
				r.methodsErr = err
				return
			}
			if err := r.parseInstanceMethodEntrypoints(ctx); err != nil {
				r.methodsErr = err
				return
			}
		}
	})
	return r.methodsErr
}

// parseMethodDefEntrypoints implements spec.md §4.7.
func (r *Reader) parseMethodDefEntrypoints(ctx headerContext) error {
	sec, ok := ctx.header.Section(SectionMethodDefEntryPoints)
	if !ok {
		return nil
	}
	off, err := r.img.RVAToOffset(sec.RVA)
	if err != nil {
		return newError(BadImage, "MethodDefEntryPoints offset", err)
	}
	arr, err := NewNativeArray(r.img, off)
	if err != nil {
		return newError(BadImage, "MethodDefEntryPoints array", err)
	}

	n := arr.Count()
	for i := uint32(0); i < n; i++ {
		payloadOff, present, err := arr.TryGetAt(i)
		if err != nil {
			return newError(BadImage, "MethodDefEntryPoints entry", err)
		}
		if !present {
			continue
		}
		c := newCursor(r.img, payloadOff)
		entryID, fixupOff, hasFixup, err := decodeMethodEntrypoint(c)
		if err != nil {
			return newError(BadImage, "method entrypoint blob", err)
		}
		m := Method{
			Handle:                 ecma335.MethodHandle{IsMemberRef: false, RID: i + 1},
			EntryRuntimeFunctionID: entryID,
			FixupOffset:            fixupOff,
			HasFixup:               hasFixup,
			Reader:                 ctx.meta,
		}
		r.methods = append(r.methods, m)
		if err := r.markEntryPoint(entryID, true); err != nil {
			return err
		}
	}
	return nil
}

// componentMetadata resolves the metadata reader for composite component i
// by looking up the manifest's i'th AssemblyRef simple name through the
// configured AssemblyResolver. Composite images carry no embedded metadata
// of their own per component - the component's managed assembly lives on
// disk - so this is best-effort: a missing resolver or lookup failure
// yields a nil reader (methods are still discovered with correct entrypoint
// ids; their names simply cannot be formatted without a reader).
func (r *Reader) componentMetadata(i int) (*ecma335.Reader, error) {
	if err := r.ensureManifest(); err != nil {
		return nil, err
	}
	if i >= len(r.manifestRefs) || r.resolver == nil {
		return nil, nil
	}
	reader, err := r.resolver.FindAssembly(r.manifestRefs[i].SimpleName, "")
	if err != nil {
		r.logger.Warnf("resolve component %d metadata: %v", i, err)
		return nil, nil
	}
	return reader, nil
}

// Methods returns the non-generic MethodDef entrypoints, in discovery
// order.
func (r *Reader) Methods() ([]Method, error) {
	if err := r.ensureMethods(); err != nil {
		return nil, err
	}
	return r.methods, nil
}

// InstanceMethods returns the generic-instantiation entrypoints, in
// discovery order, parallel to Methods.
func (r *Reader) InstanceMethods() ([]InstanceMethod, error) {
	if err := r.ensureMethods(); err != nil {
		return nil, err
	}
	return r.instanceMethods, nil
}

// IsEntryPoint reports whether runtime-function id is some method's entry
// id.
func (r *Reader) IsEntryPoint(id uint32) (bool, error) {
	if err := r.ensureMethods(); err != nil {
		return false, err
	}
	return r.isEntryPoint[id], nil
}
