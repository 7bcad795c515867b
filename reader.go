// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package r2r parses ReadyToRun (R2R) images: ahead-of-time compiled native
// code containers embedded in a managed PE file. It walks the R2R section
// directory, the packed NativeArray/NativeHashtable index structures R2R
// uses for method lookup, and the runtime-function/unwind/GC-info tables,
// cross-referencing ECMA-335 metadata (via internal/ecma335) to name methods,
// types and assemblies.
//
// The generic PE reader (internal/pefile), the ECMA-335 metadata reader
// (internal/ecma335) and machine-specific unwind decoders (unwind) are
// external collaborators: this package only consumes their interfaces.
package r2r

import (
	"os"
	"sync"

	"github.com/readytorun/r2rdump/internal/ecma335"
	"github.com/readytorun/r2rdump/internal/pefile"
	"github.com/readytorun/r2rdump/log"
)

// Options configures Open/OpenBytes, in the teacher's Options-struct idiom.
type Options struct {
	Logger   log.Logger
	Resolver AssemblyResolver
}

// Reader is a parsed ReadyToRun image. All exported collections are
// produced eagerly during construction (header, classification, composite
// detection) or lazily on first access, one sync.Once per section, per
// Design Notes' "push every section behind a one-shot guard" recommendation.
type Reader struct {
	img    *pefile.File
	logger *log.Helper

	class      classification
	composite  bool
	header     R2RHeader
	components []ComponentAssembly

	primaryMeta *ecma335.Reader // nil when composite

	resolver      AssemblyResolver
	resolverCache map[int]*ecma335.Reader
	resolverMu    sync.Mutex

	manifestOnce sync.Once
	manifestErr  error
	manifestMeta *ecma335.Reader
	manifestRefs []ManifestReference

	methodsOnce     sync.Once
	methodsErr      error
	methods         []Method
	instanceMethods []InstanceMethod
	isEntryPoint    map[uint32]bool

	runtimeFuncsOnce  sync.Once
	runtimeFuncsErr   error
	runtimeFunctions  []RuntimeFunction
	methodFragments   map[uint32][]RuntimeFunction // keyed by method entry id

	importsOnce     sync.Once
	importsErr      error
	importSections  []ImportSection
	importCellNames map[uint32]string

	typesOnce      sync.Once
	typesErr       error
	availableTypes []string

	compilerOnce       sync.Once
	compilerErr        error
	compilerIdentifier string

	exceptionsOnce sync.Once
	exceptionsErr  error
	ehInfo         map[uint32]EHInfo

	debugOnce   sync.Once
	debugErr    error
	debugInfo   map[uint32]uint32
}

// Open memory-maps the named file and parses its ReadyToRun header.
func Open(name string, opts *Options) (*Reader, error) {
	img, err := pefile.Open(name, peOptions(opts))
	if err != nil {
		return nil, newError(IoError, "open image", err)
	}
	r, err := newReader(img, opts)
	if err != nil {
		img.Close()
		return nil, err
	}
	return r, nil
}

// OpenBytes wraps an in-memory PE image and parses its ReadyToRun header.
func OpenBytes(data []byte, opts *Options) (*Reader, error) {
	img, err := pefile.OpenBytes(data, peOptions(opts))
	if err != nil {
		return nil, newError(BadImage, "open image", err)
	}
	return newReader(img, opts)
}

func peOptions(opts *Options) *pefile.Options {
	if opts == nil || opts.Logger == nil {
		return nil
	}
	return &pefile.Options{Logger: opts.Logger}
}

func newLoggerHelper(opts *Options) *log.Helper {
	if opts != nil && opts.Logger != nil {
		return log.NewHelper(opts.Logger)
	}
	return log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError)))
}

func newReader(img *pefile.File, opts *Options) (*Reader, error) {
	r := &Reader{
		img:           img,
		logger:        newLoggerHelper(opts),
		resolverCache: make(map[int]*ecma335.Reader),
	}
	if opts != nil {
		r.resolver = opts.Resolver
	}

	class, err := classifyMachine(img.Machine())
	if err != nil {
		return nil, err
	}
	r.class = class

	headerOff, composite, err := locateHeader(img)
	if err != nil {
		return nil, err
	}
	r.composite = composite

	header, err := parseR2RHeader(img, headerOff)
	if err != nil {
		return nil, err
	}
	r.header = header

	if !composite {
		cor20 := img.COR20
		if cor20 == nil || cor20.Flags&pefile.ComImageFlagsILLibrary == 0 {
			return nil, newError(BadImage, "COR flags", ErrNotReadyToRun)
		}
		primary, err := ecma335.NewReader(img, cor20.MetaData.VirtualAddress, cor20.MetaData.Size)
		if err != nil {
			return nil, newError(BadImage, "primary metadata", err)
		}
		r.primaryMeta = primary
	} else {
		if sec, ok := header.Section(SectionComponentAssemblies); ok {
			comps, err := parseComponentAssemblies(img, sec)
			if err != nil {
				return nil, err
			}
			r.components = comps
		}
	}

	return r, nil
}

// locateHeader finds the R2RHeader's file offset, preferring the PE's COR20
// ManagedNativeHeader directory; if that is absent, it falls back to the
// RTR_HEADER export and marks the image composite.
func locateHeader(img *pefile.File) (offset uint32, composite bool, err error) {
	if cor20 := img.COR20; cor20 != nil && cor20.ManagedNativeHeader.VirtualAddress != 0 {
		off, err := img.RVAToOffset(cor20.ManagedNativeHeader.VirtualAddress)
		if err != nil {
			return 0, false, newError(BadImage, "managed-native header offset", err)
		}
		return off, false, nil
	}
	rva, ok := img.Export.Lookup("RTR_HEADER")
	if !ok {
		return 0, false, newError(BadImage, "locate R2R header", ErrRTRHeaderNotFound)
	}
	off, err := img.RVAToOffset(rva)
	if err != nil {
		return 0, false, newError(BadImage, "RTR_HEADER offset", err)
	}
	return off, true, nil
}

// Close releases the underlying PE image.
func (r *Reader) Close() error { return r.img.Close() }

// Machine returns the decoded (un-XORed) COFF machine constant.
func (r *Reader) Machine() uint16 { return r.class.machine }

// OperatingSystem returns the OS tag recovered from the machine-field XOR.
func (r *Reader) OperatingSystem() OperatingSystem { return r.class.os }

// Architecture returns the decoded architecture class.
func (r *Reader) Architecture() MachineClass { return r.class.class }

// Composite reports whether this is a multi-assembly composite image.
func (r *Reader) Composite() bool { return r.composite }

// ImageBase returns the PE optional header's preferred load address.
func (r *Reader) ImageBase() uint64 { return r.img.ImageBase() }

// ReadyToRunHeader returns the (owner, for composite images) R2R header.
func (r *Reader) ReadyToRunHeader() R2RHeader { return r.header }

// ComponentHeaders returns the per-component core headers of a composite
// image, or nil for a single-assembly image.
func (r *Reader) ComponentHeaders() []ComponentAssembly { return r.components }

// GlobalMetadataReader returns the single primary metadata reader, or nil
// for composite images (which have one reader per component instead).
func (r *Reader) GlobalMetadataReader() *ecma335.Reader { return r.primaryMeta }

// Image exposes the underlying PE adapter, for collaborators (unwind
// decoders, the CLI) that need raw RVA translation.
func (r *Reader) Image() *pefile.File { return r.img }
