// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ecma335

import "testing"

func TestIndexSizeTableWidth(t *testing.T) {
	r := &Reader{}
	r.rowCounts[TypeDef] = 10
	r.rowCounts[TypeRef] = 10
	r.rowCounts[TypeSpec] = 10
	// idxTypeDefOrRef has 2 tag bits, so the small-encoding threshold is
	// 1<<(16-2) = 16384 rows; below that, a 2-byte index suffices.
	if got := r.indexSize(idxTypeDefOrRef); got != 2 {
		t.Errorf("indexSize() = %d, want 2 for small row counts", got)
	}

	r.rowCounts[TypeRef] = 1 << 15 // exceeds the 2-bit-tag threshold
	if got := r.indexSize(idxTypeDefOrRef); got != 4 {
		t.Errorf("indexSize() = %d, want 4 once a table exceeds the threshold", got)
	}
}

func TestIndexSizeHeap(t *testing.T) {
	r := &Reader{}
	if got := r.indexSize(idxString); got != 2 {
		t.Errorf("indexSize(#Strings) = %d, want 2 when the wide-heap flag is clear", got)
	}
	r.heapsFlags = 1 << heapString
	if got := r.indexSize(idxString); got != 4 {
		t.Errorf("indexSize(#Strings) = %d, want 4 when the wide-heap flag is set", got)
	}
}

func TestDecodeTypeDefOrRef(t *testing.T) {
	tests := []struct {
		value     uint32
		wantTable int
		wantRID   uint32
	}{
		{0<<2 | 0, TypeDef, 0},
		{5<<2 | 0, TypeDef, 5},
		{5<<2 | 1, TypeRef, 5},
		{5<<2 | 2, TypeSpec, 5},
		{5<<2 | 3, TypeSpec, 5},
	}
	for _, tt := range tests {
		table, rid := decodeTypeDefOrRef(tt.value)
		if table != tt.wantTable || rid != tt.wantRID {
			t.Errorf("decodeTypeDefOrRef(0x%x) = (%d, %d), want (%d, %d)", tt.value, table, rid, tt.wantTable, tt.wantRID)
		}
	}
}

func TestDecodeMethodDefOrRef(t *testing.T) {
	if table, rid := decodeMethodDefOrRef(10 << 1); table != MethodDef || rid != 10 {
		t.Errorf("decodeMethodDefOrRef(even) = (%d, %d), want (MethodDef, 10)", table, rid)
	}
	if table, rid := decodeMethodDefOrRef(10<<1 | 1); table != MemberRef || rid != 10 {
		t.Errorf("decodeMethodDefOrRef(odd) = (%d, %d), want (MemberRef, 10)", table, rid)
	}
}

func TestDecodeResolutionScope(t *testing.T) {
	tests := []struct {
		value     uint32
		wantTable int
	}{
		{3 << 2, Module},
		{3<<2 | 1, ModuleRef},
		{3<<2 | 2, AssemblyRef},
		{3<<2 | 3, TypeRef},
	}
	for _, tt := range tests {
		table, rid := decodeResolutionScope(tt.value)
		if table != tt.wantTable || rid != 3 {
			t.Errorf("decodeResolutionScope(0x%x) = (%d, %d), want (%d, 3)", tt.value, table, rid, tt.wantTable)
		}
	}
}
