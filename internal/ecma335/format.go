// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ecma335

import "fmt"

// MethodHandle names a MethodDef or MemberRef row, the two shapes a
// ReadyToRun method-entrypoint or signature can point at.
type MethodHandle struct {
	IsMemberRef bool
	RID         uint32
}

// FormatTypeDefOrRef resolves a TypeDefOrRef coded-index value to
// "Namespace.Name" (or "Namespace.Name[]" style nesting is not attempted -
// nested-type rendering is left to the caller via NestedClass lookups,
// which this package does not perform automatically).
func (r *Reader) FormatTypeDefOrRef(value uint32) (string, error) {
	table, rid := decodeTypeDefOrRef(value)
	switch table {
	case TypeDef:
		row, err := r.TypeDefRow(rid)
		if err != nil {
			return "", err
		}
		return r.joinNamespaceName(row.TypeNamespace, row.TypeName)
	case TypeRef:
		row, err := r.TypeRefRow(rid)
		if err != nil {
			return "", err
		}
		return r.joinNamespaceName(row.TypeNamespace, row.TypeName)
	case TypeSpec:
		// A TypeSpec's "name" is a signature blob, not a string; render a
		// placeholder rather than attempting full signature decoding (out
		// of scope - signature blobs are handled by the caller when they
		// need type-argument strings).
		return fmt.Sprintf("TypeSpec[%d]", rid), nil
	default:
		return "", fmt.Errorf("ecma335: unexpected TypeDefOrRef table %d", table)
	}
}

func (r *Reader) joinNamespaceName(ns, name uint32) (string, error) {
	namespace, err := r.String(ns)
	if err != nil {
		return "", err
	}
	n, err := r.String(name)
	if err != nil {
		return "", err
	}
	if namespace == "" {
		return n, nil
	}
	return namespace + "." + n, nil
}

// FormatMethodHandle resolves a MethodDef or MemberRef handle to
// "Owner::Method".
func (r *Reader) FormatMethodHandle(h MethodHandle) (string, error) {
	if h.IsMemberRef {
		row, err := r.MemberRefRow(h.RID)
		if err != nil {
			return "", err
		}
		name, err := r.String(row.Name)
		if err != nil {
			return "", err
		}
		owner := "?"
		if o, err := r.formatMemberRefParent(row.Class); err == nil {
			owner = o
		}
		return owner + "::" + name, nil
	}
	row, err := r.MethodDefRow(h.RID)
	if err != nil {
		return "", err
	}
	name, err := r.String(row.Name)
	if err != nil {
		return "", err
	}
	owner := "?"
	if o, err := r.ownerOfMethodDef(h.RID); err == nil {
		owner = o
	}
	return owner + "::" + name, nil
}

// formatMemberRefParent resolves a MemberRefParent coded index (TypeDef,
// TypeRef, ModuleRef, MethodDef or TypeSpec) to a display name.
func (r *Reader) formatMemberRefParent(value uint32) (string, error) {
	rid := value >> 3
	switch value & 0x7 {
	case 0:
		row, err := r.TypeDefRow(rid)
		if err != nil {
			return "", err
		}
		return r.joinNamespaceName(row.TypeNamespace, row.TypeName)
	case 1:
		row, err := r.TypeRefRow(rid)
		if err != nil {
			return "", err
		}
		return r.joinNamespaceName(row.TypeNamespace, row.TypeName)
	default:
		return fmt.Sprintf("0x%x", value), nil
	}
}

// ownerOfMethodDef finds the TypeDef row whose MethodList range contains
// rid, by linear scan - acceptable since this is only used for display
// formatting, never on a hot path.
func (r *Reader) ownerOfMethodDef(rid uint32) (string, error) {
	total := r.RowCount(TypeDef)
	for t := uint32(1); t <= total; t++ {
		row, err := r.TypeDefRow(t)
		if err != nil {
			return "", err
		}
		var next uint32
		if t < total {
			nextRow, err := r.TypeDefRow(t + 1)
			if err != nil {
				return "", err
			}
			next = nextRow.MethodList
		} else {
			next = r.RowCount(MethodDef) + 1
		}
		if rid >= row.MethodList && rid < next {
			return r.joinNamespaceName(row.TypeNamespace, row.TypeName)
		}
	}
	return "", fmt.Errorf("ecma335: no owning TypeDef for MethodDef %d", rid)
}
