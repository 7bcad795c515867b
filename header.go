// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/pefile"

// ReadyToRunSignature is the 'RTR\0' magic every R2R header begins with.
const ReadyToRunSignature = 0x00525452

// SectionType enumerates the R2R section directory's key space.
type SectionType uint32

// Recognized section types.
const (
	SectionCompilerIdentifier        SectionType = 100
	SectionImportSections            SectionType = 101
	SectionRuntimeFunctions          SectionType = 102
	SectionMethodDefEntryPoints      SectionType = 103
	SectionExceptionInfo             SectionType = 104
	SectionDebugInfo                 SectionType = 105
	SectionDelayLoadMethodCallThunks SectionType = 106
	SectionAvailableTypes            SectionType = 107
	SectionInstanceMethodEntryPoints SectionType = 108
	SectionInliningInfo              SectionType = 109
	SectionProfileDataInfo           SectionType = 110
	SectionManifestMetadata          SectionType = 111
	SectionAttributePresence         SectionType = 112
	SectionInliningInfo2             SectionType = 113
	SectionComponentAssemblies       SectionType = 114
	SectionOwnerCompositeExecutable  SectionType = 115
)

// Section is one entry of the R2R header's section directory.
type Section struct {
	RVA  uint32
	Size uint32
}

// R2RHeader is the top-level ReadyToRun header: signature, version, flags,
// and a directory mapping SectionType to Section.
type R2RHeader struct {
	Signature    uint32
	MajorVersion uint16
	MinorVersion uint16
	Flags        uint32
	Sections     map[SectionType]Section
}

// CoreHeader flags.
const (
	CorHeaderFlagsPlatformNeutralSource    = 0x00000001
	CorHeaderFlagsSkipTypeValidation       = 0x00000002
	CorHeaderFlagsPartial                  = 0x00000004
	CorHeaderFlagsNonSharedPInvokeStubs    = 0x00000008
	CorHeaderFlagsComponent                = 0x00000010
	CorHeaderFlagsMultiModuleVersionBubble = 0x00000020
	CorHeaderFlagsUnrelatedR2RCode         = 0x00000040
)

// parseR2RHeader reads a READYTORUN_HEADER at the given file offset: a
// DWORD signature, two WORD version fields, a DWORD flags field, a DWORD
// section count, then that many {SectionType, RVA, Size} triples.
func parseR2RHeader(img *pefile.File, off uint32) (R2RHeader, error) {
	var h R2RHeader
	c := newCursor(img, off)

	sig, err := c.u32()
	if err != nil {
		return h, err
	}
	if sig != ReadyToRunSignature {
		return h, newError(BadImage, "R2R header signature", ErrBadSignature)
	}
	h.Signature = sig
	if h.MajorVersion, err = c.u16(); err != nil {
		return h, err
	}
	if h.MinorVersion, err = c.u16(); err != nil {
		return h, err
	}
	if h.Flags, err = c.u32(); err != nil {
		return h, err
	}
	count, err := c.u32()
	if err != nil {
		return h, err
	}

	h.Sections = make(map[SectionType]Section, count)
	for i := uint32(0); i < count; i++ {
		typ, err := c.u32()
		if err != nil {
			return h, err
		}
		rva, err := c.u32()
		if err != nil {
			return h, err
		}
		size, err := c.u32()
		if err != nil {
			return h, err
		}
		st := SectionType(typ)
		if _, dup := h.Sections[st]; dup {
			return h, newError(BadImage, "section directory", ErrDuplicateSection)
		}
		h.Sections[st] = Section{RVA: rva, Size: size}
	}
	return h, nil
}

// Section looks up a section by type.
func (h *R2RHeader) Section(t SectionType) (Section, bool) {
	s, ok := h.Sections[t]
	return s, ok
}

// ComponentAssembly is one row of the COMPONENT_ASSEMBLIES section of a
// composite image: the component's own core header, whose Sections map
// holds the RVA/size of that component's private sections (its
// MethodDefEntryPoints and the like).
type ComponentAssembly struct {
	Header R2RHeader
}

// parseComponentAssemblies walks the COMPONENT_ASSEMBLIES section: a flat
// array of {HeaderRVA, HeaderSize} pairs, one per bundled assembly, each
// pointing at that component's own R2RHeader.
func parseComponentAssemblies(img *pefile.File, sec Section) ([]ComponentAssembly, error) {
	const rowSize = 8
	if sec.Size%rowSize != 0 {
		return nil, newError(BadImage, "component assemblies size", ErrOutOfRange)
	}
	n := sec.Size / rowSize
	baseOff, err := img.RVAToOffset(sec.RVA)
	if err != nil {
		return nil, newError(BadImage, "component assemblies offset", err)
	}
	out := make([]ComponentAssembly, 0, n)
	for i := uint32(0); i < n; i++ {
		c := newCursor(img, baseOff+i*rowSize)
		headerRVA, err := c.u32()
		if err != nil {
			return nil, err
		}
		if _, err := c.u32(); err != nil { // header size, unused: the header is self-describing
			return nil, err
		}
		hdrOff, err := img.RVAToOffset(headerRVA)
		if err != nil {
			return nil, newError(BadImage, "component header offset", err)
		}
		hdr, err := parseR2RHeader(img, hdrOff)
		if err != nil {
			return nil, err
		}
		out = append(out, ComponentAssembly{Header: hdr})
	}
	return out, nil
}
