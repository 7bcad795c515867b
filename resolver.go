// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/ecma335"

// AssemblyResolver locates sibling assemblies referenced by an R2R image's
// metadata but not embedded in it - most commonly System.Private.CoreLib,
// needed to resolve an InstanceMethod's module-override opcode (§4.8).
// Implementations are supplied by the caller (cmd/r2rdump ships
// FileSystemResolver); the core reader only ever calls through this
// interface.
type AssemblyResolver interface {
	// FindAssembly resolves a simple assembly name (e.g.
	// "System.Private.CoreLib") relative to referrerPath.
	FindAssembly(simpleName, referrerPath string) (*ecma335.Reader, error)
	// FindAssemblyRef resolves an AssemblyRef row of referrer's metadata to
	// its own metadata reader.
	FindAssemblyRef(referrer *ecma335.Reader, ref ecma335.AssemblyRefRow, referrerPath string) (*ecma335.Reader, error)
}

// resolveCoreLib resolves System.Private.CoreLib through the configured
// resolver, memoizing by a fixed cache key distinct from reference-assembly
// indices (-1, which refIdx never is).
const coreLibCacheKey = -1

func (r *Reader) resolveCoreLib(referrerPath string) (*ecma335.Reader, error) {
	r.resolverMu.Lock()
	if cached, ok := r.resolverCache[coreLibCacheKey]; ok {
		r.resolverMu.Unlock()
		return cached, nil
	}
	r.resolverMu.Unlock()

	if r.resolver == nil {
		return nil, newError(MissingReferenceAssembly, "System.Private.CoreLib", ErrMissingReferenceAssembly)
	}
	reader, err := r.resolver.FindAssembly("System.Private.CoreLib", referrerPath)
	if err != nil || reader == nil {
		return nil, newError(MissingReferenceAssembly, "System.Private.CoreLib", ErrMissingReferenceAssembly)
	}

	r.resolverMu.Lock()
	r.resolverCache[coreLibCacheKey] = reader
	r.resolverMu.Unlock()
	return reader, nil
}

// resolveReferenceAssembly resolves refIdx via GetAssemblyAt (§4.6) and then,
// on first demand, through the configured AssemblyResolver; results are
// memoized by refIdx regardless of success, per §5/§7 ("the resolver is
// called at most once per (reference-assembly index) and its result is
// memoized" / "cached even on success; failure on demand ... is not retried
// transparently").
func (r *Reader) resolveReferenceAssembly(refIdx int, referrerPath string) (*ecma335.Reader, error) {
	r.resolverMu.Lock()
	if cached, ok := r.resolverCache[refIdx]; ok {
		r.resolverMu.Unlock()
		if cached == nil {
			return nil, newError(MissingReferenceAssembly, "reference assembly", ErrMissingReferenceAssembly)
		}
		return cached, nil
	}
	r.resolverMu.Unlock()

	referrer, ref, err := r.GetAssemblyAt(refIdx)
	if err != nil {
		return nil, err
	}
	if r.resolver == nil {
		return nil, newError(MissingReferenceAssembly, ref.refName, ErrMissingReferenceAssembly)
	}
	row, err := referrer.AssemblyRefRow(ref.rid)
	if err != nil {
		return nil, newError(BadImage, "reference assembly row", err)
	}
	reader, err := r.resolver.FindAssemblyRef(referrer, row, referrerPath)
	if err != nil || reader == nil {
		r.resolverMu.Lock()
		r.resolverCache[refIdx] = nil
		r.resolverMu.Unlock()
		return nil, newError(MissingReferenceAssembly, ref.refName, ErrMissingReferenceAssembly)
	}

	r.resolverMu.Lock()
	r.resolverCache[refIdx] = reader
	r.resolverMu.Unlock()
	return reader, nil
}
