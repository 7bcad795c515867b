// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ecma335

// This file models the ECMA-335 §II.22 table rows. Only MethodDef, TypeDef,
// TypeRef, MemberRef, Assembly, AssemblyRef, ExportedType, TypeSpec and
// MethodSpec get full row-decode accessors, since those are the only tables
// a ReadyToRun image's method/type/assembly handles cross-reference. The
// remaining table kinds are still given row-size formulas (layoutTableOffsets
// needs every table's width to find where the next one starts) but no row
// struct and no decode method, since nothing in this module ever looks a
// Param, Field, Constant, etc. row up by rid.

// rowSize returns the byte width of a single row of the given table index,
// which depends on the width of #Strings/#GUID/#Blob indices and on which
// other tables are large enough to need a 4-byte coded index.
func (r *Reader) rowSize(table int) (uint32, error) {
	str := r.heapIndexSize(heapString)
	guid := r.heapIndexSize(heapGUID)
	blob := r.heapIndexSize(heapBlob)

	switch table {
	case Module:
		return 2 + str + guid*3, nil
	case TypeRef:
		return r.indexSize(idxResolutionScope) + str*2, nil
	case TypeDef:
		return 4 + str*2 + r.indexSize(idxTypeDefOrRef) + r.indexSize(idxField) + r.indexSize(idxMethodRow), nil
	case FieldPtr:
		return r.indexSize(idxField), nil
	case Field:
		return 2 + str + blob, nil
	case MethodPtr:
		return r.indexSize(idxMethodRow), nil
	case MethodDef:
		return 4 + 2 + 2 + str + blob + r.indexSize(idxParam), nil
	case ParamPtr:
		return r.indexSize(idxParam), nil
	case Param:
		return 2 + 2 + str, nil
	case InterfaceImpl:
		return r.indexSize(idxTypeDef) + r.indexSize(idxTypeDefOrRef), nil
	case MemberRef:
		return r.indexSize(idxMemberRefParent) + str + blob, nil
	case Constant:
		return 2 + r.indexSize(idxHasConstant) + blob, nil
	case CustomAttribute:
		return r.indexSize(idxHasCustomAttribute) + r.indexSize(idxCustomAttributeType) + blob, nil
	case FieldMarshal:
		return r.indexSize(idxHasFieldMarshal) + blob, nil
	case DeclSecurity:
		return 2 + r.indexSize(idxHasDeclSecurity) + blob, nil
	case ClassLayout:
		return 2 + 4 + r.indexSize(idxTypeDef), nil
	case FieldLayout:
		return 4 + r.indexSize(idxField), nil
	case StandAloneSig:
		return blob, nil
	case EventMap:
		return r.indexSize(idxTypeDef) + r.indexSize(idxEvent), nil
	case EventPtr:
		return r.indexSize(idxEvent), nil
	case Event:
		return 2 + str + r.indexSize(idxTypeDefOrRef), nil
	case PropertyMap:
		return r.indexSize(idxTypeDef) + r.indexSize(idxProperty), nil
	case PropertyPtr:
		return r.indexSize(idxProperty), nil
	case Property:
		return 2 + str + blob, nil
	case MethodSemantics:
		return 2 + r.indexSize(idxMethodRow) + r.indexSize(idxHasSemantics), nil
	case MethodImpl:
		return r.indexSize(idxTypeDef) + r.indexSize(idxMethodDefOrRef)*2, nil
	case ModuleRef:
		return str, nil
	case TypeSpec:
		return blob, nil
	case ImplMap:
		return 2 + r.indexSize(idxMemberForwarded) + str + r.indexSize(idxModuleRef), nil
	case FieldRVA:
		return 4 + r.indexSize(idxField), nil
	case ENCLog:
		return 8, nil
	case ENCMap:
		return 4, nil
	case Assembly:
		return 4 + 2*4 + 4 + blob + str*2, nil
	case AssemblyProcessor:
		return 4, nil
	case AssemblyOS:
		return 12, nil
	case AssemblyRef:
		return 2*4 + 4 + blob + str*2 + blob, nil
	case AssemblyRefProcessor:
		return 4 + r.indexSize(codedIndex{tagBits: 0, tables: []int{AssemblyRef}}), nil
	case AssemblyRefOS:
		return 12 + r.indexSize(codedIndex{tagBits: 0, tables: []int{AssemblyRef}}), nil
	case FileMD:
		return 4 + str + blob, nil
	case ExportedType:
		return 4 + 4 + str*2 + r.indexSize(idxImplementation), nil
	case ManifestResource:
		return 4 + 4 + str + r.indexSize(idxImplementation), nil
	case NestedClass:
		return r.indexSize(idxTypeDef) * 2, nil
	case GenericParam:
		return 2 + 2 + r.indexSize(idxTypeOrMethodDef) + str, nil
	case MethodSpec:
		return r.indexSize(idxMethodDefOrRef) + blob, nil
	case GenericParamConstraint:
		return r.indexSize(idxGenParam) + r.indexSize(idxTypeDefOrRef), nil
	default:
		return 0, nil
	}
}

func (r *Reader) rowOffset(table int, rid uint32) (uint32, error) {
	if rid == 0 || rid > r.rowCounts[table] {
		return 0, ErrOutsideBoundary
	}
	size, err := r.rowSize(table)
	if err != nil {
		return 0, err
	}
	return r.tableOffsets[table] + (rid-1)*size, nil
}

// TypeRefRow is ECMA-335 §II.22.38.
type TypeRefRow struct {
	ResolutionScope uint32
	TypeName        uint32
	TypeNamespace   uint32
}

// TypeRefRow decodes TypeRef row number rid (1-based).
func (r *Reader) TypeRefRow(rid uint32) (TypeRefRow, error) {
	var row TypeRefRow
	off, err := r.rowOffset(TypeRef, rid)
	if err != nil {
		return row, err
	}
	v, n, err := r.readCodedIndex(idxResolutionScope, off)
	if err != nil {
		return row, err
	}
	row.ResolutionScope = v
	off += n
	if row.TypeName, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	row.TypeNamespace, _, err = r.readCodedIndex(idxString, off)
	return row, err
}

// TypeDefRow is ECMA-335 §II.22.37.
type TypeDefRow struct {
	Flags         uint32
	TypeName      uint32
	TypeNamespace uint32
	Extends       uint32
	FieldList     uint32
	MethodList    uint32
}

// TypeDefRow decodes TypeDef row number rid (1-based).
func (r *Reader) TypeDefRow(rid uint32) (TypeDefRow, error) {
	var row TypeDefRow
	off, err := r.rowOffset(TypeDef, rid)
	if err != nil {
		return row, err
	}
	if row.Flags, err = r.readUint32(off); err != nil {
		return row, err
	}
	off += 4
	var n uint32
	if row.TypeName, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	if row.TypeNamespace, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	if row.Extends, n, err = r.readCodedIndex(idxTypeDefOrRef, off); err != nil {
		return row, err
	}
	off += n
	if row.FieldList, n, err = r.readCodedIndex(idxField, off); err != nil {
		return row, err
	}
	off += n
	row.MethodList, _, err = r.readCodedIndex(idxMethodRow, off)
	return row, err
}

// MethodDefRow is ECMA-335 §II.22.26.
type MethodDefRow struct {
	RVA       uint32
	ImplFlags uint16
	Flags     uint16
	Name      uint32
	Signature uint32
	ParamList uint32
}

// MethodDefRow decodes MethodDef row number rid (1-based).
func (r *Reader) MethodDefRow(rid uint32) (MethodDefRow, error) {
	var row MethodDefRow
	off, err := r.rowOffset(MethodDef, rid)
	if err != nil {
		return row, err
	}
	if row.RVA, err = r.readUint32(off); err != nil {
		return row, err
	}
	off += 4
	if row.ImplFlags, err = r.readUint16(off); err != nil {
		return row, err
	}
	off += 2
	if row.Flags, err = r.readUint16(off); err != nil {
		return row, err
	}
	off += 2
	var n uint32
	if row.Name, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	if row.Signature, n, err = r.readCodedIndex(idxBlob, off); err != nil {
		return row, err
	}
	off += n
	row.ParamList, _, err = r.readCodedIndex(idxParam, off)
	return row, err
}

// MemberRefRow is ECMA-335 §II.22.25.
type MemberRefRow struct {
	Class     uint32
	Name      uint32
	Signature uint32
}

// MemberRefRow decodes MemberRef row number rid (1-based).
func (r *Reader) MemberRefRow(rid uint32) (MemberRefRow, error) {
	var row MemberRefRow
	off, err := r.rowOffset(MemberRef, rid)
	if err != nil {
		return row, err
	}
	var n uint32
	if row.Class, n, err = r.readCodedIndex(idxMemberRefParent, off); err != nil {
		return row, err
	}
	off += n
	if row.Name, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	row.Signature, _, err = r.readCodedIndex(idxBlob, off)
	return row, err
}

// AssemblyRow is ECMA-335 §II.22.2.
type AssemblyRow struct {
	HashAlgID      uint32
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	RevisionNumber uint16
	Flags          uint32
	PublicKey      uint32
	Name           uint32
	Culture        uint32
}

// AssemblyRow decodes the (singular) Assembly table row. R2R primary
// metadata readers are always single-module, so there is at most one.
func (r *Reader) AssemblyRow() (AssemblyRow, bool, error) {
	var row AssemblyRow
	if r.rowCounts[Assembly] == 0 {
		return row, false, nil
	}
	off := r.tableOffsets[Assembly]
	var err error
	if row.HashAlgID, err = r.readUint32(off); err != nil {
		return row, false, err
	}
	off += 4
	if row.MajorVersion, err = r.readUint16(off); err != nil {
		return row, false, err
	}
	off += 2
	if row.MinorVersion, err = r.readUint16(off); err != nil {
		return row, false, err
	}
	off += 2
	if row.BuildNumber, err = r.readUint16(off); err != nil {
		return row, false, err
	}
	off += 2
	if row.RevisionNumber, err = r.readUint16(off); err != nil {
		return row, false, err
	}
	off += 2
	if row.Flags, err = r.readUint32(off); err != nil {
		return row, false, err
	}
	off += 4
	var n uint32
	if row.PublicKey, n, err = r.readCodedIndex(idxBlob, off); err != nil {
		return row, false, err
	}
	off += n
	if row.Name, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, false, err
	}
	off += n
	row.Culture, _, err = r.readCodedIndex(idxString, off)
	return row, true, err
}

// AssemblyRefRow is ECMA-335 §II.22.5.
type AssemblyRefRow struct {
	MajorVersion     uint16
	MinorVersion     uint16
	BuildNumber      uint16
	RevisionNumber   uint16
	Flags            uint32
	PublicKeyOrToken uint32
	Name             uint32
	Culture          uint32
	HashValue        uint32
}

// AssemblyRefCount returns the number of rows in the AssemblyRef table.
func (r *Reader) AssemblyRefCount() uint32 { return r.rowCounts[AssemblyRef] }

// AssemblyRefRow decodes AssemblyRef row number rid (1-based).
func (r *Reader) AssemblyRefRow(rid uint32) (AssemblyRefRow, error) {
	var row AssemblyRefRow
	off, err := r.rowOffset(AssemblyRef, rid)
	if err != nil {
		return row, err
	}
	if row.MajorVersion, err = r.readUint16(off); err != nil {
		return row, err
	}
	off += 2
	if row.MinorVersion, err = r.readUint16(off); err != nil {
		return row, err
	}
	off += 2
	if row.BuildNumber, err = r.readUint16(off); err != nil {
		return row, err
	}
	off += 2
	if row.RevisionNumber, err = r.readUint16(off); err != nil {
		return row, err
	}
	off += 2
	if row.Flags, err = r.readUint32(off); err != nil {
		return row, err
	}
	off += 4
	var n uint32
	if row.PublicKeyOrToken, n, err = r.readCodedIndex(idxBlob, off); err != nil {
		return row, err
	}
	off += n
	if row.Name, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	if row.Culture, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	row.HashValue, _, err = r.readCodedIndex(idxBlob, off)
	return row, err
}

// ExportedTypeRow is ECMA-335 §II.22.14.
type ExportedTypeRow struct {
	Flags          uint32
	TypeDefID      uint32
	TypeName       uint32
	TypeNamespace  uint32
	Implementation uint32
}

// ExportedTypeRow decodes ExportedType row number rid (1-based).
func (r *Reader) ExportedTypeRow(rid uint32) (ExportedTypeRow, error) {
	var row ExportedTypeRow
	off, err := r.rowOffset(ExportedType, rid)
	if err != nil {
		return row, err
	}
	if row.Flags, err = r.readUint32(off); err != nil {
		return row, err
	}
	off += 4
	if row.TypeDefID, err = r.readUint32(off); err != nil {
		return row, err
	}
	off += 4
	var n uint32
	if row.TypeName, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	if row.TypeNamespace, n, err = r.readCodedIndex(idxString, off); err != nil {
		return row, err
	}
	off += n
	row.Implementation, _, err = r.readCodedIndex(idxImplementation, off)
	return row, err
}

// TypeSpecRow is ECMA-335 §II.22.39.
type TypeSpecRow struct {
	Signature uint32
}

// TypeSpecRow decodes TypeSpec row number rid (1-based).
func (r *Reader) TypeSpecRow(rid uint32) (TypeSpecRow, error) {
	var row TypeSpecRow
	off, err := r.rowOffset(TypeSpec, rid)
	if err != nil {
		return row, err
	}
	row.Signature, _, err = r.readCodedIndex(idxBlob, off)
	return row, err
}

// MethodSpecRow is ECMA-335 §II.22.29.
type MethodSpecRow struct {
	Method        uint32
	Instantiation uint32
}

// MethodSpecRow decodes MethodSpec row number rid (1-based).
func (r *Reader) MethodSpecRow(rid uint32) (MethodSpecRow, error) {
	var row MethodSpecRow
	off, err := r.rowOffset(MethodSpec, rid)
	if err != nil {
		return row, err
	}
	var n uint32
	if row.Method, n, err = r.readCodedIndex(idxMethodDefOrRef, off); err != nil {
		return row, err
	}
	off += n
	row.Instantiation, _, err = r.readCodedIndex(idxBlob, off)
	return row, err
}
