// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

func TestDebugInfoOffset(t *testing.T) {
	const base = 900
	// NativeArray: 8-bit entries (tag 0), count=3 -> header val=24, 1-byte
	// varint = 24<<1 = 0x30. Entries: index0 absent, index1 raw=1, index2 raw=2.
	payload := []byte{0x30, 0x00, 0x01, 0x02}
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+uint32(len(payload))+16)
	copy(data[base:], payload)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	r := &Reader{
		img: img,
		header: R2RHeader{Sections: map[SectionType]Section{
			SectionDebugInfo: {RVA: base, Size: uint32(len(payload))},
		}},
	}

	if _, ok, err := r.DebugInfoOffset(0); err != nil || ok {
		t.Errorf("DebugInfoOffset(0): ok=%v err=%v, want ok=false", ok, err)
	}

	off, ok, err := r.DebugInfoOffset(1)
	if err != nil {
		t.Fatalf("DebugInfoOffset(1): %v", err)
	}
	if !ok {
		t.Fatal("expected an entry for runtime-function id 1")
	}
	wantOff := base + 1 + 3 + 0
	if off != uint32(wantOff) {
		t.Errorf("DebugInfoOffset(1) = %d, want %d", off, wantOff)
	}

	off2, ok, err := r.DebugInfoOffset(2)
	if err != nil {
		t.Fatalf("DebugInfoOffset(2): %v", err)
	}
	if !ok {
		t.Fatal("expected an entry for runtime-function id 2")
	}
	wantOff2 := base + 1 + 3 + 1
	if off2 != uint32(wantOff2) {
		t.Errorf("DebugInfoOffset(2) = %d, want %d", off2, wantOff2)
	}
}
