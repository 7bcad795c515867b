// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

func TestDecodeMethodEntrypointNoFixup(t *testing.T) {
	const base = 500
	// entryID=5, no fixup: id = 5<<1 = 10, 1-byte varint = 10<<1 = 0x14.
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+16)
	data[base] = 0x14
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	c := newCursor(img, base)
	entryID, fixupOff, hasFixup, err := decodeMethodEntrypoint(c)
	if err != nil {
		t.Fatalf("decodeMethodEntrypoint: %v", err)
	}
	if hasFixup {
		t.Errorf("hasFixup = true, want false")
	}
	if entryID != 5 {
		t.Errorf("entryID = %d, want 5", entryID)
	}
	if fixupOff != 0 {
		t.Errorf("fixupOffset = %d, want 0", fixupOff)
	}
}

func TestDecodeMethodEntrypointFixupNoExtraRead(t *testing.T) {
	const base = 500
	// runtimeFunctionID=3, fixup flagged, no extra read:
	// id = 3<<2 | 1 = 13, 1-byte varint = 13<<1 = 0x1A.
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+16)
	data[base] = 0x1A
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	c := newCursor(img, base)
	entryID, fixupOff, hasFixup, err := decodeMethodEntrypoint(c)
	if err != nil {
		t.Fatalf("decodeMethodEntrypoint: %v", err)
	}
	if !hasFixup {
		t.Fatal("hasFixup = false, want true")
	}
	if entryID != 3 {
		t.Errorf("entryID = %d, want 3", entryID)
	}
	if fixupOff != base+1 {
		t.Errorf("fixupOffset = %d, want %d (cursor position after the id byte)", fixupOff, base+1)
	}
}

func TestDecodeMethodEntrypointFixupWithExtraRead(t *testing.T) {
	const base = 500
	// runtimeFunctionID=7, fixup flagged, extra read:
	// id = 7<<2 | 3 = 31, 1-byte varint = 31<<1 = 0x3E.
	// delta = 4, 1-byte varint = 4<<1 = 0x08.
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+16)
	data[base] = 0x3E
	data[base+1] = 0x08
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	c := newCursor(img, base)
	entryID, fixupOff, hasFixup, err := decodeMethodEntrypoint(c)
	if err != nil {
		t.Fatalf("decodeMethodEntrypoint: %v", err)
	}
	if !hasFixup {
		t.Fatal("hasFixup = false, want true")
	}
	if entryID != 7 {
		t.Errorf("entryID = %d, want 7", entryID)
	}
	wantFixupOff := uint32(base + 2 - 4)
	if fixupOff != wantFixupOff {
		t.Errorf("fixupOffset = %d, want %d", fixupOff, wantFixupOff)
	}
	if c.off != base+2 {
		t.Errorf("cursor offset = %d, want %d", c.off, base+2)
	}
}

func TestRuntimeFunctionStride(t *testing.T) {
	r64 := &Reader{class: classification{class: X64}}
	if got := r64.runtimeFunctionStride(); got != 12 {
		t.Errorf("X64 stride = %d, want 12", got)
	}
	rOther := &Reader{class: classification{class: Arm64}}
	if got := rOther.runtimeFunctionStride(); got != 8 {
		t.Errorf("Arm64 stride = %d, want 8", got)
	}
}

func TestMarkEntryPointAsymmetry(t *testing.T) {
	r := &Reader{header: R2RHeader{Sections: map[SectionType]Section{
		SectionRuntimeFunctions: {RVA: 0, Size: 8 * 2}, // 2 entries on a non-X64 stride
	}}}
	r.class = classification{class: Arm64}

	// In range: recorded regardless of fatal.
	if err := r.markEntryPoint(1, true); err != nil {
		t.Fatalf("markEntryPoint(1, true): %v", err)
	}
	if !r.isEntryPoint[1] {
		t.Errorf("entry 1 should be marked")
	}

	// Out of range, non-fatal (InstanceMethod path): silently dropped.
	if err := r.markEntryPoint(99, false); err != nil {
		t.Errorf("markEntryPoint(99, false) = %v, want nil", err)
	}
	if r.isEntryPoint[99] {
		t.Errorf("out-of-range entry should not be recorded")
	}

	// Out of range, fatal (MethodDef path): returns an error.
	if err := r.markEntryPoint(99, true); err == nil {
		t.Errorf("markEntryPoint(99, true) = nil, want an error")
	}
}
