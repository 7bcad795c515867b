// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"github.com/readytorun/r2rdump/internal/ecma335"
	"github.com/readytorun/r2rdump/unwind"
)

// Method is a non-generic MethodDef entrypoint.
type Method struct {
	Handle                 ecma335.MethodHandle
	EntryRuntimeFunctionID uint32
	FixupOffset            uint32
	HasFixup               bool
	Reader                 *ecma335.Reader
}

// InstanceMethod augments Method with the generic-instantiation shape a
// NativeHashtable entry of INSTANCE_METHOD_ENTRYPOINTS decodes to.
type InstanceMethod struct {
	Method
	OwningType         string
	HasOwningType      bool
	TypeArgs           []string
	ConstrainedType    string
	HasConstrainedType bool
	Bucket             uint8
}

// RuntimeFunction is one entry of the runtime-function table: a code range
// with its associated unwind (and, at a method's entry id, GC) info.
type RuntimeFunction struct {
	ID         uint32
	StartRVA   uint32
	EndRVA     uint32 // only meaningful on X64
	HasEndRVA  bool
	UnwindRVA  uint32
	CodeOffset uint32 // offset from the owning method's start; sizes come from EndRVA, so off X64 it stays 0
	Unwind     unwind.Info
	GcInfo     []byte
	HasGcInfo  bool
}

// ImportCell is one entry of an ImportSection: a machine-word indirection
// cell with a symbolic name resolved from its signature.
type ImportCell struct {
	Index     uint32
	Offset    uint32 // byte offset within the section
	RVA       uint32 // absolute RVA of the cell
	Value     int64  // raw machine-word cell value
	SigRVA    uint32
	Name      string
}

// ImportSection is one entry of the IMPORT_SECTIONS directory.
type ImportSection struct {
	RVA         uint32
	Size        uint32
	Flags       uint16
	Type        uint8
	EntrySize   uint8
	SigTableRVA uint32
	AuxDataRVA  uint32
	HasAuxData  bool
	Entries     []ImportCell
}

// Import section type tags.
const (
	ImportSectionTypeUnknown      = 0
	ImportSectionTypeStubDispatch = 1
	ImportSectionTypeStringHandle = 2
	ImportSectionTypeILBodyFixups = 3
)

// Import section flags.
const (
	ImportSectionFlagsEager = 0x0001
)

// EHInfo describes one EXCEPTION_INFO entry: a method's exception-handling
// clause table.
type EHInfo struct {
	EhInfoRVA   uint32
	FileOffset  uint32
	ClauseCount uint32
}

// exceptionClauseSize is the fixed 24-byte size of one CorILMethod EH
// clause record the EXCEPTION_INFO clause-count arithmetic is derived from.
const exceptionClauseSize = 24
