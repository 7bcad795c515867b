// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

// buildMinimalPE returns a minimal, sectionless PE32+ image: just enough DOS
// and NT header for pefile.OpenBytes to accept it. With no section table,
// pefile.File.RVAToOffset treats any RVA smaller than the image size as
// identity, so tests can place payloads at a chosen byte offset and use that
// offset directly as an "RVA".
func buildMinimalPE(t *testing.T, machine uint16, totalSize uint32) []byte {
	t.Helper()
	var buf bytes.Buffer

	// DOS header (64 bytes): Magic, then padding up to AddressOfNewEXEHeader
	// at offset 0x3c, matching pefile.ImageDOSHeader's field layout.
	write(t, &buf, uint16(pefile.ImageDOSSignature)) // Magic
	write(t, &buf, uint16(0))                        // BytesOnLastPageOfFile
	write(t, &buf, uint16(0))                        // PagesInFile
	write(t, &buf, uint16(0))                        // Relocations
	write(t, &buf, uint16(0))                        // SizeOfHeader
	buf.Write(make([]byte, 18))                       // reserved block
	buf.Write(make([]byte, 8))                        // ReservedWords1 [4]uint16
	write(t, &buf, uint16(0))                         // OEMIdentifier
	write(t, &buf, uint16(0))                         // OEMInformation
	buf.Write(make([]byte, 20))                       // ReservedWords2 [10]uint16
	const elfanew = 64
	write(t, &buf, uint32(elfanew)) // AddressOfNewEXEHeader

	if buf.Len() != elfanew {
		t.Fatalf("DOS header size mismatch: got %d want %d", buf.Len(), elfanew)
	}

	write(t, &buf, uint32(pefile.ImageNTSignature))
	// COFF file header.
	write(t, &buf, machine)
	write(t, &buf, uint16(0)) // NumberOfSections
	write(t, &buf, uint32(0)) // TimeDateStamp
	write(t, &buf, uint32(0)) // PointerToSymbolTable
	write(t, &buf, uint32(0)) // NumberOfSymbols
	const optHeaderSize = 240
	write(t, &buf, uint16(optHeaderSize)) // SizeOfOptionalHeader
	write(t, &buf, uint16(0))             // Characteristics

	ohStart := buf.Len()
	write(t, &buf, uint16(pefile.ImageNTOptionalHdr64Magic))
	write(t, &buf, uint8(0)) // MajorLinkerVersion
	write(t, &buf, uint8(0)) // MinorLinkerVersion
	write(t, &buf, uint32(0)) // SizeOfCode
	write(t, &buf, uint32(0)) // SizeOfInitializedData
	write(t, &buf, uint32(0)) // SizeOfUninitializedData
	write(t, &buf, uint32(0)) // AddressOfEntryPoint
	write(t, &buf, uint32(0)) // BaseOfCode
	write(t, &buf, uint64(0x140000000)) // ImageBase
	write(t, &buf, uint32(0x1000))      // SectionAlignment
	write(t, &buf, uint32(0x200))       // FileAlignment
	buf.Write(make([]byte, 12))         // OS/image/subsystem versions
	write(t, &buf, uint32(0))           // Win32VersionValue
	write(t, &buf, uint32(totalSize))   // SizeOfImage
	write(t, &buf, uint32(uint32(ohStart))) // SizeOfHeaders (unused by reader)
	write(t, &buf, uint32(0))               // CheckSum
	write(t, &buf, uint16(3))               // Subsystem
	write(t, &buf, uint16(0))               // DllCharacteristics
	write(t, &buf, uint64(0x100000))        // SizeOfStackReserve
	write(t, &buf, uint64(0x1000))          // SizeOfStackCommit
	write(t, &buf, uint64(0x100000))        // SizeOfHeapReserve
	write(t, &buf, uint64(0x1000))          // SizeOfHeapCommit
	write(t, &buf, uint32(0))               // LoaderFlags
	write(t, &buf, uint32(pefile.ImageNumberOfDirectoryEntries))
	for i := 0; i < pefile.ImageNumberOfDirectoryEntries; i++ {
		write(t, &buf, uint32(0)) // VirtualAddress
		write(t, &buf, uint32(0)) // Size
	}

	if got := buf.Len() - ohStart; got != optHeaderSize {
		t.Fatalf("optional header size mismatch: got %d want %d", got, optHeaderSize)
	}

	if uint32(buf.Len()) > totalSize {
		t.Fatalf("header alone (%d) exceeds requested image size %d", buf.Len(), totalSize)
	}
	buf.Write(make([]byte, totalSize-uint32(buf.Len())))
	return buf.Bytes()
}

func write(t *testing.T, buf *bytes.Buffer, v interface{}) {
	t.Helper()
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}
}

// openTestImage builds a sectionless synthetic image at least minSize bytes
// long and opens it through pefile.OpenBytes.
func openTestImage(t *testing.T, machine uint16, minSize uint32) *pefile.File {
	t.Helper()
	if minSize < pefile.TinyPESize {
		minSize = pefile.TinyPESize
	}
	data := buildMinimalPE(t, machine, minSize)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	return img
}
