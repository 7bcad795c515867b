// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ecma335

// Metadata table indices (ECMA-335 §II.22). Every table gets a name, whether
// or not this package decodes its rows, so coded-index tag values line up
// with the spec.
const (
	Module                 = 0x00
	TypeRef                = 0x01
	TypeDef                = 0x02
	FieldPtr               = 0x03
	Field                  = 0x04
	MethodPtr              = 0x05
	MethodDef              = 0x06
	ParamPtr               = 0x07
	Param                  = 0x08
	InterfaceImpl          = 0x09
	MemberRef              = 0x0A
	Constant               = 0x0B
	CustomAttribute        = 0x0C
	FieldMarshal           = 0x0D
	DeclSecurity           = 0x0E
	ClassLayout            = 0x0F
	FieldLayout            = 0x10
	StandAloneSig          = 0x11
	EventMap               = 0x12
	EventPtr               = 0x13
	Event                  = 0x14
	PropertyMap            = 0x15
	PropertyPtr            = 0x16
	Property               = 0x17
	MethodSemantics        = 0x18
	MethodImpl             = 0x19
	ModuleRef              = 0x1A
	TypeSpec               = 0x1B
	ImplMap                = 0x1C
	FieldRVA               = 0x1D
	ENCLog                 = 0x1E
	ENCMap                 = 0x1F
	Assembly               = 0x20
	AssemblyProcessor      = 0x21
	AssemblyOS             = 0x22
	AssemblyRef            = 0x23
	AssemblyRefProcessor   = 0x24
	AssemblyRefOS          = 0x25
	FileMD                 = 0x26
	ExportedType           = 0x27
	ManifestResource       = 0x28
	NestedClass            = 0x29
	GenericParam           = 0x2A
	MethodSpec             = 0x2B
	GenericParamConstraint = 0x2C

	maxTableIndex = GenericParamConstraint
)

// Heap stream tags, kept out of the table-index space (per dotnet_helper.go's
// own comment: "intentionally made so they do not collide").
const (
	stringHeapTag = iota + 100
	guidHeapTag
	blobHeapTag
)

// codedIndex describes one ECMA-335 "coded index": a tag occupying the low
// tagBits of the value, selecting which of tables the remaining bits index
// into.
type codedIndex struct {
	tagBits uint32
	tables  []int
}

var (
	idxTypeDefOrRef        = codedIndex{tagBits: 2, tables: []int{TypeDef, TypeRef, TypeSpec}}
	idxResolutionScope     = codedIndex{tagBits: 2, tables: []int{Module, ModuleRef, AssemblyRef, TypeRef}}
	idxMemberRefParent     = codedIndex{tagBits: 3, tables: []int{TypeDef, TypeRef, ModuleRef, MethodDef, TypeSpec}}
	idxHasCustomAttribute  = codedIndex{tagBits: 5, tables: []int{Field, MethodDef, Param, InterfaceImpl, MemberRef, Module, Property, Event, StandAloneSig, ModuleRef, TypeSpec, Assembly, AssemblyRef, FileMD, ExportedType, ManifestResource, GenericParam, GenericParamConstraint, MethodSpec, TypeDef}}
	idxImplementation      = codedIndex{tagBits: 2, tables: []int{FileMD, AssemblyRef, ExportedType}}
	idxMethodDefOrRef      = codedIndex{tagBits: 1, tables: []int{MethodDef, MemberRef}}
	idxTypeOrMethodDef     = codedIndex{tagBits: 1, tables: []int{TypeDef, MethodDef}}

	idxHasConstant         = codedIndex{tagBits: 2, tables: []int{Field, Param, Property}}
	idxCustomAttributeType = codedIndex{tagBits: 3, tables: []int{MethodDef, MemberRef}}
	idxHasFieldMarshal     = codedIndex{tagBits: 1, tables: []int{Field, Param}}
	idxHasDeclSecurity     = codedIndex{tagBits: 2, tables: []int{TypeDef, MethodDef, Assembly}}
	idxHasSemantics        = codedIndex{tagBits: 1, tables: []int{Event, Property}}
	idxMemberForwarded     = codedIndex{tagBits: 1, tables: []int{Field, MethodDef}}

	idxField     = codedIndex{tagBits: 0, tables: []int{Field}}
	idxMethodRow = codedIndex{tagBits: 0, tables: []int{MethodDef}}
	idxParam     = codedIndex{tagBits: 0, tables: []int{Param}}
	idxTypeDef   = codedIndex{tagBits: 0, tables: []int{TypeDef}}
	idxEvent     = codedIndex{tagBits: 0, tables: []int{Event}}
	idxProperty  = codedIndex{tagBits: 0, tables: []int{Property}}
	idxModuleRef = codedIndex{tagBits: 0, tables: []int{ModuleRef}}
	idxGenParam  = codedIndex{tagBits: 0, tables: []int{GenericParam}}

	idxString = codedIndex{tagBits: 0, tables: []int{stringHeapTag}}
	idxBlob   = codedIndex{tagBits: 0, tables: []int{blobHeapTag}}
	idxGUID   = codedIndex{tagBits: 0, tables: []int{guidHeapTag}}
)

// indexSize returns 2 or 4 depending on whether the widest participating
// table/heap needs a wide index, per ECMA-335 §II.24.2.6.
func (r *Reader) indexSize(ci codedIndex) uint32 {
	switch ci.tables[0] {
	case stringHeapTag:
		return r.heapIndexSize(heapString)
	case guidHeapTag:
		return r.heapIndexSize(heapGUID)
	case blobHeapTag:
		return r.heapIndexSize(heapBlob)
	}
	maxSmall := uint32(1) << (16 - ci.tagBits)
	var maxRows uint32
	for _, t := range ci.tables {
		if n := r.rowCounts[t]; n > maxRows {
			maxRows = n
		}
	}
	if maxRows >= maxSmall {
		return 4
	}
	return 2
}

// readCodedIndex reads a coded index at off and returns its raw encoded
// value plus the number of bytes consumed.
func (r *Reader) readCodedIndex(ci codedIndex, off uint32) (uint32, uint32, error) {
	size := r.indexSize(ci)
	if size == 2 {
		v, err := r.readUint16(off)
		return uint32(v), 2, err
	}
	v, err := r.readUint32(off)
	return v, 4, err
}

// decodeTypeDefOrRef splits a TypeDefOrRef coded-index value into its table
// index and row id.
func decodeTypeDefOrRef(value uint32) (table int, rid uint32) {
	tag := value & 0x3
	rid = value >> 2
	switch tag {
	case 0:
		return TypeDef, rid
	case 1:
		return TypeRef, rid
	default:
		return TypeSpec, rid
	}
}

// decodeMethodDefOrRef splits a MethodDefOrRef coded-index value.
func decodeMethodDefOrRef(value uint32) (table int, rid uint32) {
	if value&0x1 == 0 {
		return MethodDef, value >> 1
	}
	return MemberRef, value >> 1
}

// decodeResolutionScope splits a ResolutionScope coded-index value.
func decodeResolutionScope(value uint32) (table int, rid uint32) {
	rid = value >> 2
	switch value & 0x3 {
	case 0:
		return Module, rid
	case 1:
		return ModuleRef, rid
	case 2:
		return AssemblyRef, rid
	default:
		return TypeRef, rid
	}
}
