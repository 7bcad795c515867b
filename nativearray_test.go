// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

func TestNativeArrayRoundTrip(t *testing.T) {
	const base = 300
	// Header: 8-bit entries (tag 0), count=3 -> val = 3<<3|0 = 24, 1-byte
	// NativeFormat encoding: b0 = 24<<1 = 0x30.
	entryTable := []byte{0x30, 0x00, 0x01, 0x02} // header, then 3 8-bit entries
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+uint32(len(entryTable))+16)
	copy(data[base:], entryTable)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	arr, err := NewNativeArray(img, base)
	if err != nil {
		t.Fatalf("NewNativeArray: %v", err)
	}
	if arr.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", arr.Count())
	}

	_, present, err := arr.TryGetAt(0)
	if err != nil {
		t.Fatalf("TryGetAt(0): %v", err)
	}
	if present {
		t.Errorf("index 0 should be absent (zero entry)")
	}

	off1, present, err := arr.TryGetAt(1)
	if err != nil {
		t.Fatalf("TryGetAt(1): %v", err)
	}
	if !present {
		t.Fatal("index 1 should be present")
	}
	wantOff1 := base + 1 + 3 + 0 // header(1) + entry table(3 bytes) + (raw-1)
	if off1 != uint32(wantOff1) {
		t.Errorf("TryGetAt(1) offset = %d, want %d", off1, wantOff1)
	}

	off2, present, err := arr.TryGetAt(2)
	if err != nil {
		t.Fatalf("TryGetAt(2): %v", err)
	}
	if !present {
		t.Fatal("index 2 should be present")
	}
	wantOff2 := base + 1 + 3 + 1
	if off2 != uint32(wantOff2) {
		t.Errorf("TryGetAt(2) offset = %d, want %d", off2, wantOff2)
	}

	if _, present, err := arr.TryGetAt(3); err != nil || present {
		t.Errorf("TryGetAt(3) out of range: present=%v err=%v", present, err)
	}
}

func TestNativeArrayFourBitWidth(t *testing.T) {
	const base = 320
	// Header: 4-bit entries (tag 4), count=5 -> val = 5<<3|4 = 44, 1-byte
	// NativeFormat encoding: b0 = 44<<1 = 0x58.
	// Entries (nibbles, low nibble first): 0, 1, 2, 0, 3.
	entryTable := []byte{0x58, 0x10, 0x02, 0x03}
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+uint32(len(entryTable))+16)
	copy(data[base:], entryTable)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	arr, err := NewNativeArray(img, base)
	if err != nil {
		t.Fatalf("NewNativeArray: %v", err)
	}
	if arr.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", arr.Count())
	}

	for _, idx := range []uint32{0, 3} {
		if _, present, err := arr.TryGetAt(idx); err != nil || present {
			t.Errorf("TryGetAt(%d): present=%v err=%v, want absent", idx, present, err)
		}
	}

	// header(1) + ceil(5*4/8)=3 bytes of packed entries.
	const entryTableSize = 1 + 3
	tests := []struct {
		index   uint32
		wantOff uint32
	}{
		{1, base + entryTableSize + 0},
		{2, base + entryTableSize + 1},
		{4, base + entryTableSize + 2},
	}
	for _, tt := range tests {
		off, present, err := arr.TryGetAt(tt.index)
		if err != nil {
			t.Fatalf("TryGetAt(%d): %v", tt.index, err)
		}
		if !present {
			t.Fatalf("TryGetAt(%d): want present", tt.index)
		}
		if off != tt.wantOff {
			t.Errorf("TryGetAt(%d) offset = %d, want %d", tt.index, off, tt.wantOff)
		}
	}
}
