// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package pefile implements the narrow slice of the PE/COFF format that a
// ReadyToRun reader needs: the DOS/NT/COFF headers, the section table, RVA
// translation, the COR20 ("CLR") header, and the export directory. Every
// other PE data directory (imports, resources, relocations, TLS, load
// config, security, rich header, bound/delay imports) is out of scope here;
// see DESIGN.md for the disposition of that code.
package pefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/readytorun/r2rdump/log"
)

// Image signatures.
const (
	ImageDOSSignature   = 0x5A4D // MZ
	ImageDOSZMSignature = 0x4D5A
	ImageNTSignature    = 0x00004550 // PE00

	ImageNTOptionalHdr32Magic = 0x10b
	ImageNTOptionalHdr64Magic = 0x20b
)

// Data directory indices relevant to this package. The remaining fourteen
// directories (import, resource, exception, security, ...) are parsed by
// nobody here; ImageNumberOfDirectoryEntries still reserves their slots so
// the DataDirectory array indexes the same way the Windows loader does.
const (
	ImageDirectoryEntryExport = 0
	ImageDirectoryEntryCLR    = 14

	ImageNumberOfDirectoryEntries = 16
)

// COFF machine constants. Mirrors the values used by the Windows loader and
// the CLR's own MachineType enum.
const (
	ImageFileMachineUnknown = 0x0
	ImageFileMachineI386    = 0x14c
	ImageFileMachineAMD64   = 0x8664
	ImageFileMachineARM     = 0x1c0
	ImageFileMachineThumb   = 0x1c2
	ImageFileMachineARMNT   = 0x1c4 // ARM Thumb-2 (ArmThumb2)
	ImageFileMachineARM64   = 0xaa64
)

// TinyPESize is the smallest PE executable possible on 32-bit Windows XP.
const TinyPESize = 97

// Errors.
var (
	ErrInvalidPESize       = errors.New("not a PE file, smaller than tiny PE")
	ErrDOSMagicNotFound    = errors.New("DOS header magic not found")
	ErrInvalidElfanew      = errors.New("invalid e_lfanew value, probably not a PE file")
	ErrNTSignatureNotFound = errors.New("image NT signature not found")
	ErrInvalidNTHeaderSize = errors.New("invalid NT header size")
	ErrOutsideBoundary     = errors.New("data is outside the image boundary")
	ErrInvalidSectionTable = errors.New("invalid section table")
)

// ImageDOSHeader is the MS-DOS stub every PE file begins with.
type ImageDOSHeader struct {
	Magic                 uint16
	BytesOnLastPageOfFile uint16
	PagesInFile           uint16
	Relocations           uint16
	SizeOfHeader          uint16
	_                     [18]byte // min/max extra paragraphs, initial SS/SP/checksum/IP/CS, reloc table addr, overlay no
	ReservedWords1        [4]uint16
	OEMIdentifier         uint16
	OEMInformation        uint16
	ReservedWords2        [10]uint16
	AddressOfNewEXEHeader uint32
}

// ImageFileHeader is the COFF file header.
type ImageFileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// ImageDataDirectory is one entry of the optional header's DataDirectory array.
type ImageDataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// ImageSectionHeader is one row of the section table.
type ImageSectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// ImageCOR20Header is the CLR ("COM+ 2.0") runtime header. ManagedNativeHeader
// is the directory entry a ReadyToRun header hides behind.
type ImageCOR20Header struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                ImageDataDirectory
	Flags                   uint32
	EntryPointTokenOrRVA    uint32
	Resources               ImageDataDirectory
	StrongNameSignature     ImageDataDirectory
	CodeManagerTable        ImageDataDirectory
	VTableFixups            ImageDataDirectory
	ExportAddressTableJumps ImageDataDirectory
	ManagedNativeHeader     ImageDataDirectory
}

// COR20 runtime flags.
const (
	ComImageFlagsILOnly    = 0x00000001
	ComImageFlagsILLibrary = 0x00000004
)

// Section wraps a section header with a resolved name.
type Section struct {
	Header ImageSectionHeader
	Name   string
}

// Contains reports whether rva falls within this section's mapped range.
func (s *Section) Contains(rva uint32) bool {
	size := s.Header.VirtualSize
	if size == 0 {
		size = s.Header.SizeOfRawData
	}
	return rva >= s.Header.VirtualAddress && rva < s.Header.VirtualAddress+size
}

// ExportTable is a minimal export directory: simple name-to-RVA lookup, used
// to locate the RTR_HEADER export of composite ReadyToRun images.
type ExportTable struct {
	Functions map[string]uint32
}

// Lookup resolves an exported symbol name to its RVA.
func (e *ExportTable) Lookup(name string) (uint32, bool) {
	if e == nil {
		return 0, false
	}
	rva, ok := e.Functions[name]
	return rva, ok
}

// Options configures parsing. Mirrors the shape of the options struct used
// throughout this codebase's PE-adjacent tooling.
type Options struct {
	// A custom logger; defaults to a stderr logger filtered at Error.
	Logger log.Logger
}

// File is an open PE image, mapped or held as an in-memory buffer.
type File struct {
	DOSHeader  ImageDOSHeader
	FileHeader ImageFileHeader
	Sections   []Section
	COR20      *ImageCOR20Header
	Export     *ExportTable

	is64        bool
	imageBase   uint64
	dataDirs    [ImageNumberOfDirectoryEntries]ImageDataDirectory
	data        []byte
	mapped      mmap.MMap
	f           *os.File
	size        uint32
	logger      *log.Helper
	ntHeaderOff uint32
}

func newLogger(opts *Options) *log.Helper {
	if opts != nil && opts.Logger != nil {
		return log.NewHelper(opts.Logger)
	}
	return log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelError)))
}

// Open memory-maps the named file read-only and parses its PE structure.
func Open(name string, opts *Options) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	file := &File{data: data, mapped: data, f: f, size: uint32(len(data)), logger: newLogger(opts)}
	if err := file.parse(); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// OpenBytes wraps an in-memory buffer and parses its PE structure, without
// touching the filesystem.
func OpenBytes(data []byte, opts *Options) (*File, error) {
	file := &File{data: data, size: uint32(len(data)), logger: newLogger(opts)}
	if err := file.parse(); err != nil {
		return nil, err
	}
	return file, nil
}

// Close releases any memory mapping and underlying file descriptor.
func (pe *File) Close() error {
	if pe.mapped != nil {
		_ = pe.mapped.Unmap()
	}
	if pe.f != nil {
		return pe.f.Close()
	}
	return nil
}

func (pe *File) parse() error {
	if pe.size < TinyPESize {
		return ErrInvalidPESize
	}
	if err := pe.parseDOSHeader(); err != nil {
		return err
	}
	if err := pe.parseNTHeader(); err != nil {
		return err
	}
	if err := pe.parseSectionTable(); err != nil {
		return err
	}
	if err := pe.parseCOR20(); err != nil {
		pe.logger.Debugf("no CLR header: %v", err)
	}
	if err := pe.parseExportDirectory(); err != nil {
		pe.logger.Debugf("no export directory: %v", err)
	}
	return nil
}

func (pe *File) parseDOSHeader() error {
	size := uint32(binary.Size(pe.DOSHeader))
	if err := pe.structUnpack(&pe.DOSHeader, 0, size); err != nil {
		return err
	}
	if pe.DOSHeader.Magic != ImageDOSSignature && pe.DOSHeader.Magic != ImageDOSZMSignature {
		return ErrDOSMagicNotFound
	}
	if pe.DOSHeader.AddressOfNewEXEHeader < 4 || pe.DOSHeader.AddressOfNewEXEHeader > pe.size {
		return ErrInvalidElfanew
	}
	return nil
}

func (pe *File) parseNTHeader() error {
	offset := pe.DOSHeader.AddressOfNewEXEHeader
	sig, err := pe.ReadUint32(offset)
	if err != nil {
		return err
	}
	if sig != ImageNTSignature {
		return ErrNTSignatureNotFound
	}
	pe.ntHeaderOff = offset
	fhOff := offset + 4
	fhSize := uint32(binary.Size(pe.FileHeader))
	if err := pe.structUnpack(&pe.FileHeader, fhOff, fhSize); err != nil {
		return err
	}

	ohOff := fhOff + fhSize
	magic, err := pe.ReadUint16(ohOff)
	if err != nil {
		return err
	}
	switch magic {
	case ImageNTOptionalHdr64Magic:
		pe.is64 = true
		var oh struct {
			Magic                       uint16
			MajorLinkerVersion          uint8
			MinorLinkerVersion          uint8
			SizeOfCode                  uint32
			SizeOfInitializedData       uint32
			SizeOfUninitializedData     uint32
			AddressOfEntryPoint         uint32
			BaseOfCode                  uint32
			ImageBase                   uint64
			SectionAlignment            uint32
			FileAlignment               uint32
			_                           [12]byte // OS/image/subsystem major/minor versions
			Win32VersionValue           uint32
			SizeOfImage                 uint32
			SizeOfHeaders               uint32
			CheckSum                    uint32
			Subsystem                   uint16
			DllCharacteristics          uint16
			SizeOfStackReserve          uint64
			SizeOfStackCommit           uint64
			SizeOfHeapReserve           uint64
			SizeOfHeapCommit            uint64
			LoaderFlags                 uint32
			NumberOfRvaAndSizes         uint32
			DataDirectory               [ImageNumberOfDirectoryEntries]ImageDataDirectory
		}
		if err := pe.structUnpack(&oh, ohOff, uint32(binary.Size(oh))); err != nil {
			return err
		}
		pe.imageBase = oh.ImageBase
		pe.dataDirs = oh.DataDirectory
	case ImageNTOptionalHdr32Magic:
		pe.is64 = false
		var oh struct {
			Magic                   uint16
			MajorLinkerVersion      uint8
			MinorLinkerVersion      uint8
			SizeOfCode              uint32
			SizeOfInitializedData   uint32
			SizeOfUninitializedData uint32
			AddressOfEntryPoint     uint32
			BaseOfCode              uint32
			BaseOfData              uint32
			ImageBase               uint32
			SectionAlignment        uint32
			FileAlignment           uint32
			_                       [12]byte
			Win32VersionValue       uint32
			SizeOfImage             uint32
			SizeOfHeaders           uint32
			CheckSum                uint32
			Subsystem               uint16
			DllCharacteristics      uint16
			SizeOfStackReserve      uint32
			SizeOfStackCommit       uint32
			SizeOfHeapReserve       uint32
			SizeOfHeapCommit        uint32
			LoaderFlags             uint32
			NumberOfRvaAndSizes     uint32
			DataDirectory            [ImageNumberOfDirectoryEntries]ImageDataDirectory
		}
		if err := pe.structUnpack(&oh, ohOff, uint32(binary.Size(oh))); err != nil {
			return err
		}
		pe.imageBase = uint64(oh.ImageBase)
		pe.dataDirs = oh.DataDirectory
	default:
		return ErrInvalidNTHeaderSize
	}
	return nil
}

func (pe *File) parseSectionTable() error {
	fhOff := pe.ntHeaderOff + 4
	fhSize := uint32(binary.Size(pe.FileHeader))
	secTableOff := fhOff + fhSize + uint32(pe.FileHeader.SizeOfOptionalHeader)
	pe.Sections = make([]Section, 0, pe.FileHeader.NumberOfSections)
	rowSize := uint32(binary.Size(ImageSectionHeader{}))
	for i := uint16(0); i < pe.FileHeader.NumberOfSections; i++ {
		var hdr ImageSectionHeader
		off := secTableOff + uint32(i)*rowSize
		if err := pe.structUnpack(&hdr, off, rowSize); err != nil {
			return ErrInvalidSectionTable
		}
		name := string(bytes.TrimRight(hdr.Name[:], "\x00"))
		pe.Sections = append(pe.Sections, Section{Header: hdr, Name: name})
	}
	return nil
}

func (pe *File) parseCOR20() error {
	dir := pe.dataDirs[ImageDirectoryEntryCLR]
	if dir.VirtualAddress == 0 {
		return errors.New("no CLR directory")
	}
	off, err := pe.RVAToOffset(dir.VirtualAddress)
	if err != nil {
		return err
	}
	var hdr ImageCOR20Header
	if err := pe.structUnpack(&hdr, off, uint32(binary.Size(hdr))); err != nil {
		return err
	}
	pe.COR20 = &hdr
	return nil
}

// parseExportDirectory reads just enough of the export directory to build a
// name->RVA map; ordinals, forwarders and the hint table are not modeled
// since nothing in this module needs them beyond RTR_HEADER lookup.
func (pe *File) parseExportDirectory() error {
	dir := pe.dataDirs[ImageDirectoryEntryExport]
	if dir.VirtualAddress == 0 {
		return errors.New("no export directory")
	}
	off, err := pe.RVAToOffset(dir.VirtualAddress)
	if err != nil {
		return err
	}
	var raw struct {
		_                    [8]byte // characteristics, timestamp
		_                    uint32  // major/minor version
		Name                 uint32
		Base                 uint32
		NumberOfFunctions    uint32
		NumberOfNames        uint32
		AddressOfFunctions   uint32
		AddressOfNames       uint32
		AddressOfNameOrdinals uint32
	}
	if err := pe.structUnpack(&raw, off, uint32(binary.Size(raw))); err != nil {
		return err
	}

	table := &ExportTable{Functions: make(map[string]uint32, raw.NumberOfNames)}
	namesOff, err := pe.RVAToOffset(raw.AddressOfNames)
	if err != nil {
		return err
	}
	ordOff, err := pe.RVAToOffset(raw.AddressOfNameOrdinals)
	if err != nil {
		return err
	}
	funcsOff, err := pe.RVAToOffset(raw.AddressOfFunctions)
	if err != nil {
		return err
	}
	for i := uint32(0); i < raw.NumberOfNames; i++ {
		nameRVA, err := pe.ReadUint32(namesOff + i*4)
		if err != nil {
			continue
		}
		ord, err := pe.ReadUint16(ordOff + i*2)
		if err != nil {
			continue
		}
		fnRVA, err := pe.ReadUint32(funcsOff + uint32(ord)*4)
		if err != nil {
			continue
		}
		nameOff, err := pe.RVAToOffset(nameRVA)
		if err != nil {
			continue
		}
		name, err := pe.readCString(nameOff, 512)
		if err != nil {
			continue
		}
		table.Functions[name] = fnRVA
	}
	pe.Export = table
	return nil
}

func (pe *File) readCString(offset, maxLen uint32) (string, error) {
	end := offset
	limit := offset + maxLen
	if limit > pe.size {
		limit = pe.size
	}
	for end < limit && pe.data[end] != 0 {
		end++
	}
	if end > pe.size {
		return "", ErrOutsideBoundary
	}
	return string(pe.data[offset:end]), nil
}

// getSectionByRVA returns the section containing rva, or nil.
func (pe *File) getSectionByRVA(rva uint32) *Section {
	for i := range pe.Sections {
		if pe.Sections[i].Contains(rva) {
			return &pe.Sections[i]
		}
	}
	return nil
}

// RVAToOffset translates a relative virtual address into a file offset.
func (pe *File) RVAToOffset(rva uint32) (uint32, error) {
	section := pe.getSectionByRVA(rva)
	if section == nil {
		if rva < pe.size {
			return rva, nil
		}
		return 0, ErrOutsideBoundary
	}
	return rva - section.Header.VirtualAddress + section.Header.PointerToRawData, nil
}

// Machine returns the raw COFF machine field.
func (pe *File) Machine() uint16 { return pe.FileHeader.Machine }

// ImageBase returns the optional header's preferred load address.
func (pe *File) ImageBase() uint64 { return pe.imageBase }

// Is64 reports whether this is a PE32+ image.
func (pe *File) Is64() bool { return pe.is64 }

// Size returns the total size of the mapped/wrapped image.
func (pe *File) Size() uint32 { return pe.size }

// Data returns the entire image as a contiguous, read-only byte slice.
func (pe *File) Data() []byte { return pe.data }

func (pe *File) structUnpack(iface interface{}, offset, size uint32) error {
	total := offset + size
	if (total > offset) != (size > 0) {
		return ErrOutsideBoundary
	}
	if offset >= pe.size || total > pe.size {
		return ErrOutsideBoundary
	}
	r := bytes.NewReader(pe.data[offset : offset+size])
	return binary.Read(r, binary.LittleEndian, iface)
}

// ReadUint64 reads a little-endian uint64 at offset.
func (pe *File) ReadUint64(offset uint32) (uint64, error) {
	if offset+8 > pe.size {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint64(pe.data[offset:]), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (pe *File) ReadUint32(offset uint32) (uint32, error) {
	if offset+4 > pe.size {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint32(pe.data[offset:]), nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (pe *File) ReadUint16(offset uint32) (uint16, error) {
	if offset+2 > pe.size {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint16(pe.data[offset:]), nil
}

// ReadUint8 reads a single byte at offset.
func (pe *File) ReadUint8(offset uint32) (uint8, error) {
	if offset+1 > pe.size {
		return 0, ErrOutsideBoundary
	}
	return pe.data[offset], nil
}

// ReadBytesAtOffset returns a size-byte slice of the image starting at offset.
func (pe *File) ReadBytesAtOffset(offset, size uint32) ([]byte, error) {
	total := offset + size
	if (total > offset) != (size > 0) {
		return nil, ErrOutsideBoundary
	}
	if offset >= pe.size || total > pe.size {
		return nil, ErrOutsideBoundary
	}
	return pe.data[offset : offset+size], nil
}
