// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

func TestCursorUnsigned(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
		want  uint32
	}{
		{"1 byte", []byte{0x02}, 1},                                       // 0x02>>1 = 1
		{"1 byte zero", []byte{0x00}, 0},
		{"2 byte", []byte{0x01, 0x01}, (1 >> 2) | (1 << 6)},               // low bit 1 set, bit1 clear => 2 byte
		{"5 byte (marker)", []byte{0x0f, 0x78, 0x56, 0x34, 0x12}, 0x12345678},
	}
	const base = 200
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+uint32(len(tt.bytes))+16)
			copy(data[base:], tt.bytes)
			img, err := pefile.OpenBytes(data, nil)
			if err != nil {
				t.Fatalf("OpenBytes: %v", err)
			}
			defer img.Close()

			c := newCursor(img, base)
			got, err := c.unsigned()
			if err != nil {
				t.Fatalf("unsigned: %v", err)
			}
			if got != tt.want {
				t.Errorf("unsigned() = %d, want %d", got, tt.want)
			}
			if c.off != base+uint32(len(tt.bytes)) {
				t.Errorf("cursor advanced to %d, want %d", c.off, base+uint32(len(tt.bytes)))
			}
		})
	}
}

func TestCursorFixedWidthReads(t *testing.T) {
	const base = 128
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+16)
	data[base] = 0xef
	data[base+1] = 0xbe
	data[base+2] = 0xad
	data[base+3] = 0xde
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	c := newCursor(img, base)
	v, err := c.u32()
	if err != nil {
		t.Fatalf("u32: %v", err)
	}
	if v != 0xdeadbeef {
		t.Errorf("u32() = 0x%x, want 0xdeadbeef", v)
	}
	if c.off != base+4 {
		t.Errorf("cursor offset = %d, want %d", c.off, base+4)
	}
}
