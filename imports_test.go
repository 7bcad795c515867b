// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

func TestResolveImportSignatureHelper(t *testing.T) {
	const base = 600
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+16)
	data[base] = fixupKindHelper
	data[base+1] = 9 << 1 // varint(9)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	r := &Reader{img: img}
	name, err := r.resolveImportSignature(base)
	if err != nil {
		t.Fatalf("resolveImportSignature: %v", err)
	}
	if name != "helper#9" {
		t.Errorf("name = %q, want %q", name, "helper#9")
	}
}

func TestResolveImportSignatureStringHandle(t *testing.T) {
	const base = 600
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+16)
	data[base] = fixupKindStringHandle
	data[base+1] = 4 << 1 // varint(4)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	r := &Reader{img: img}
	name, err := r.resolveImportSignature(base)
	if err != nil {
		t.Fatalf("resolveImportSignature: %v", err)
	}
	if name != "string#4" {
		t.Errorf("name = %q, want %q", name, "string#4")
	}
}

func TestResolveImportSignatureUnrecognized(t *testing.T) {
	const base = 600
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+16)
	data[base] = 0x55
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	r := &Reader{img: img}
	name, err := r.resolveImportSignature(base)
	if err != nil {
		t.Fatalf("resolveImportSignature: %v", err)
	}
	if name != "fixup(kind=0x55)" {
		t.Errorf("name = %q, want %q", name, "fixup(kind=0x55)")
	}
}

func TestReadImportSectionRecordEntrySizeByMachine(t *testing.T) {
	const base = 700
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+32)
	// RVA, Size, Flags(u16), Type(u8), EntrySize(u8)=0, SigTableRVA, AuxDataRVA
	rec := []byte{
		0, 0, 0, 0, // RVA
		0, 0, 0, 0, // Size
		0, 0, // Flags
		0,    // Type
		0,    // EntrySize (zero -> derive from machine class)
		0, 0, 0, 0, // SigTableRVA
		0, 0, 0, 0, // AuxDataRVA
	}
	copy(data[base:], rec)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	r := &Reader{img: img, class: classification{class: Arm64}}
	isec, err := r.readImportSectionRecord(base)
	if err != nil {
		t.Fatalf("readImportSectionRecord: %v", err)
	}
	if isec.EntrySize != 8 {
		t.Errorf("EntrySize = %d, want 8 for Arm64", isec.EntrySize)
	}

	r2 := &Reader{img: img, class: classification{class: X86}}
	isec2, err := r2.readImportSectionRecord(base)
	if err != nil {
		t.Fatalf("readImportSectionRecord: %v", err)
	}
	if isec2.EntrySize != 4 {
		t.Errorf("EntrySize = %d, want 4 for X86", isec2.EntrySize)
	}
}
