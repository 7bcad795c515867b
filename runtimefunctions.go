// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/unwind"

// toUnwindMachine maps this package's MachineClass to the unwind package's
// own (intentionally separate, so unwind has no dependency on this
// package's data model).
func (r *Reader) toUnwindMachine() unwind.MachineClass {
	switch r.class.class {
	case X86:
		return unwind.X86
	case Arm32:
		return unwind.Arm32
	case Arm64:
		return unwind.Arm64
	default:
		return unwind.X64
	}
}

func (r *Reader) ensureRuntimeFunctions() error {
	r.runtimeFuncsOnce.Do(func() {
		if err := r.ensureMethods(); err != nil {
			r.runtimeFuncsErr = err
			return
		}
		sec, ok := r.header.Section(SectionRuntimeFunctions)
		if !ok {
			return
		}
		base, err := r.img.RVAToOffset(sec.RVA)
		if err != nil {
			r.runtimeFuncsErr = newError(BadImage, "RuntimeFunctions offset", err)
			return
		}
		stride := r.runtimeFunctionStride()
		total := sec.Size / stride
		decoder := unwind.ForMachine(r.toUnwindMachine())

		r.runtimeFunctions = make([]RuntimeFunction, 0, total)
		r.methodFragments = make(map[uint32][]RuntimeFunction)

		allMethods := make([]Method, 0, len(r.methods)+len(r.instanceMethods))
		allMethods = append(allMethods, r.methods...)
		for _, im := range r.instanceMethods {
			allMethods = append(allMethods, im.Method)
		}

		for _, m := range allMethods {
			if m.EntryRuntimeFunctionID >= total {
				continue // already flagged (fatally, for MethodDef) during entrypoint parsing
			}
			frags, err := r.walkRuntimeFunctionRun(base, stride, total, m.EntryRuntimeFunctionID, decoder)
			if err != nil {
				r.runtimeFuncsErr = err
				return
			}
			r.methodFragments[m.EntryRuntimeFunctionID] = frags
			r.runtimeFunctions = append(r.runtimeFunctions, frags...)
		}
	})
	return r.runtimeFuncsErr
}

// walkRuntimeFunctionRun implements spec.md §4.9: starting at entryID, reads
// fixed-stride runtime-function records until the next id is past the table
// end or marks a different method's entrypoint.
func (r *Reader) walkRuntimeFunctionRun(base, stride, total, entryID uint32, decoder unwind.Decoder) ([]RuntimeFunction, error) {
	var frags []RuntimeFunction
	codeOffset := uint32(0)
	id := entryID
	for id < total {
		if id != entryID && r.isEntryPoint[id] {
			break
		}
		recOff := base + id*stride
		rf, size, err := r.readRuntimeFunctionRecord(recOff, id, codeOffset, decoder, id == entryID)
		if err != nil {
			return nil, err
		}
		frags = append(frags, rf)
		codeOffset += size
		id++
	}
	return frags, nil
}

func (r *Reader) readRuntimeFunctionRecord(off, id, codeOffset uint32, decoder unwind.Decoder, isEntry bool) (RuntimeFunction, uint32, error) {
	var rf RuntimeFunction
	c := newCursor(r.img, off)

	startRVA, err := c.u32()
	if err != nil {
		return rf, 0, newError(BadImage, "runtime function start RVA", err)
	}
	rf.ID = id
	rf.StartRVA = startRVA
	rf.CodeOffset = codeOffset

	if r.class.class == X64 {
		endRVA, err := c.u32()
		if err != nil {
			return rf, 0, newError(BadImage, "runtime function end RVA", err)
		}
		rf.EndRVA = endRVA
		rf.HasEndRVA = true
	}

	unwindRVA, err := c.u32()
	if err != nil {
		return rf, 0, newError(BadImage, "runtime function unwind RVA", err)
	}
	rf.UnwindRVA = unwindRVA

	unwindOff, err := r.img.RVAToOffset(unwindRVA)
	if err != nil {
		return rf, 0, newError(BadImage, "unwind RVA translation", err)
	}
	info, err := decoder.ReadUnwind(r.img, unwindOff)
	if err != nil {
		return rf, 0, newError(BadImage, "unwind info decode", err)
	}
	rf.Unwind = info

	if isEntry {
		rf.HasGcInfo = true
		// On X86 GcInfo begins at the unwind record itself; everywhere else
		// it begins immediately after the decoded UNWIND_INFO, per §4.9.
		gcOff := unwindOff
		if r.class.class != X86 {
			gcOff = unwindOff + unwindInfoByteSize(info)
		}
		rf.GcInfo = gcInfoStart(r.img, gcOff)
	}

	var size uint32
	if rf.HasEndRVA {
		size = rf.EndRVA - rf.StartRVA
	}
	return rf, size, nil
}

// unwindInfoByteSize computes how many bytes the decoded UNWIND_INFO
// structure occupied, so GcInfo (on non-X86 architectures) can be located
// immediately after it.
func unwindInfoByteSize(info unwind.Info) uint32 {
	codes := uint32(info.CountOfCodes)
	if codes%2 == 1 {
		codes++ // odd counts are padded to a 2-byte boundary
	}
	size := 4 + codes*2
	if info.Flags&unwind.UnwFlagChainInfo != 0 {
		size += 12
	} else if info.Flags&(unwind.UnwFlagEHandler|unwind.UnwFlagUHandler) != 0 {
		size += 4
	}
	return size
}

// gcInfoStart returns a bounded view of the image starting at off; GcInfo's
// own variable-length encoding is out of this module's scope (spec.md §1's
// "deliberately out of scope" disassembly/GC decoders), so only the
// starting byte span is exposed.
func gcInfoStart(img interface {
	ReadBytesAtOffset(offset, size uint32) ([]byte, error)
}, off uint32) []byte {
	const preview = 32
	b, err := img.ReadBytesAtOffset(off, preview)
	if err != nil {
		return nil
	}
	return b
}

// RuntimeFunctions returns every runtime-function fragment across every
// method, in discovery order.
func (r *Reader) RuntimeFunctions() ([]RuntimeFunction, error) {
	if err := r.ensureRuntimeFunctions(); err != nil {
		return nil, err
	}
	return r.runtimeFunctions, nil
}

// MethodFragments returns the contiguous runtime-function run owned by the
// method whose entry id is entryID.
func (r *Reader) MethodFragments(entryID uint32) ([]RuntimeFunction, error) {
	if err := r.ensureRuntimeFunctions(); err != nil {
		return nil, err
	}
	return r.methodFragments[entryID], nil
}

// TotalRuntimeFunctions returns the row count of the RUNTIME_FUNCTIONS
// table.
func (r *Reader) TotalRuntimeFunctions() uint32 {
	return r.totalRuntimeFunctions()
}
