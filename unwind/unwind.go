// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package unwind decodes the machine-specific unwind/GC-info records a
// ReadyToRun runtime function points at. It models the capability set
// called for by the format's design notes: a small per-architecture
// Decoder interface, with one concrete implementation (Amd64) adapted from
// this codebase's own PE exception-directory unwind-code decoder, since the
// x64 UNWIND_INFO/UNWIND_CODE shape is identical whether it is reached from
// an ordinary PE .pdata exception directory or from a ReadyToRun runtime
// function.
package unwind

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// MachineClass identifies the target architecture of a runtime-function
// record, mirroring the classification the core R2R header performs.
type MachineClass uint8

// Machine classes.
const (
	X86 MachineClass = iota
	X64
	Arm32
	Arm64
)

// Image is the minimal byte-access surface a Decoder needs: random access
// into the image buffer by RVA, already translated to file offsets by the
// caller.
type Image interface {
	ReadUint8(offset uint32) (uint8, error)
	ReadUint16(offset uint32) (uint16, error)
	ReadUint32(offset uint32) (uint32, error)
	ReadBytesAtOffset(offset, size uint32) ([]byte, error)
}

// ErrOutOfRange is returned when a decode would read past the image.
var ErrOutOfRange = errors.New("unwind: offset out of range")

// UwOp is an UNWIND_CODE opcode, per the Windows x64 ABI.
type UwOp uint8

// Unwind opcodes (Windows x64 ABI, AMD64_UNWIND_OP_CODES).
const (
	UwOpPushNonVol UwOp = iota
	UwOpAllocLarge
	UwOpAllocSmall
	UwOpSetFpReg
	UwOpSaveNonVol
	UwOpSaveNonVolFar
	UwOpEpilog
	UwOpSpareCode
	UwOpSaveXmm128
	UwOpSaveXmm128Far
	UwOpPushMachFrame
	UwOpSetFpRegLarge
)

// Unwind-info flags.
const (
	UnwFlagNHandler  = uint8(0x0)
	UnwFlagEHandler  = uint8(0x1)
	UnwFlagUHandler  = uint8(0x2)
	UnwFlagChainInfo = uint8(0x4)
)

var opInfoRegisters = map[uint8]string{
	0: "RAX", 1: "RCX", 2: "RDX", 3: "RBX", 4: "RSP", 5: "RBP", 6: "RSI", 7: "RDI",
	8: "R8", 9: "R9", 10: "R10", 11: "R11", 12: "R12", 13: "R13", 14: "R14", 15: "R15",
}

// Code is one decoded UNWIND_CODE slot.
type Code struct {
	CodeOffset uint8
	Op         UwOp
	OpInfo     uint8
	Operand    string
	FrameOffset uint16
}

// ChainedFunction mirrors IMAGE_RUNTIME_FUNCTION_ENTRY, used when
// UNW_FLAG_CHAININFO points this record at its primary.
type ChainedFunction struct {
	BeginAddress      uint32
	EndAddress        uint32
	UnwindInfoAddress uint32
}

// Info is a decoded UNWIND_INFO structure.
type Info struct {
	Version          uint8
	Flags            uint8
	SizeOfProlog     uint8
	CountOfCodes     uint8
	FrameRegister    uint8
	FrameOffset      uint8
	Codes            []Code
	ExceptionHandler uint32
	ChainedEntry     ChainedFunction
}

// Decoder is the swappable per-machine capability the core reader dispatches
// to; concrete implementations never become part of the R2R core itself.
type Decoder interface {
	ReadUnwind(img Image, unwindRVA uint32) (Info, error)
}

// ForMachine returns the decoder this module ships for the given class.
// ArmThumb2/Arm64 alias the Amd64 decoder per the format's own (unverified)
// claim that they share the x64 UNWIND_INFO shape - see DESIGN.md.
func ForMachine(m MachineClass) Decoder {
	switch m {
	case X86:
		return X86Decoder{}
	default:
		return Amd64Decoder{}
	}
}

// Amd64Decoder decodes the Windows x64 ABI UNWIND_INFO/UNWIND_CODE format.
type Amd64Decoder struct{}

// ReadUnwind decodes the UNWIND_INFO structure at the (already-translated)
// file offset unwindRVA.
func (Amd64Decoder) ReadUnwind(img Image, off uint32) (Info, error) {
	var info Info
	v, err := img.ReadUint32(off)
	if err != nil {
		return info, err
	}
	info.Version = uint8(v & 0x7)
	info.Flags = uint8(v & 0xf8 >> 3)
	info.SizeOfProlog = uint8(v & 0xff00 >> 8)
	info.CountOfCodes = uint8(v & 0xff0000 >> 16)
	info.FrameRegister = uint8(v & 0xf00000 >> 24)
	info.FrameOffset = uint8(v&0xf0000000>>28) * 6

	cursor := off + 4
	i := 0
	for i < int(info.CountOfCodes) {
		codeOff := cursor + 2*uint32(i)
		code, advance, err := decodeCode(img, codeOff, info.Version)
		if err != nil || advance == 0 {
			break
		}
		info.Codes = append(info.Codes, code)
		i += advance
	}
	if info.CountOfCodes&1 == 1 {
		cursor += 2
	}
	tailOff := cursor + 2*uint32(i)

	if (info.Flags&UnwFlagEHandler != 0 || info.Flags&UnwFlagUHandler != 0) &&
		info.Flags&UnwFlagChainInfo == 0 {
		if h, err := img.ReadUint32(tailOff); err == nil {
			info.ExceptionHandler = h
		}
	}
	if info.Flags&UnwFlagChainInfo != 0 {
		raw, err := img.ReadBytesAtOffset(tailOff, 12)
		if err == nil {
			info.ChainedEntry = ChainedFunction{
				BeginAddress:      binary.LittleEndian.Uint32(raw[0:4]),
				EndAddress:        binary.LittleEndian.Uint32(raw[4:8]),
				UnwindInfoAddress: binary.LittleEndian.Uint32(raw[8:12]),
			}
		}
	}
	return info, nil
}

func decodeCode(img Image, offset uint32, version uint8) (Code, int, error) {
	var code Code
	raw, err := img.ReadUint16(offset)
	if err != nil {
		return code, 0, err
	}
	code.CodeOffset = uint8(raw & 0xff)
	code.Op = UwOp(raw & 0xf00 >> 8)
	code.OpInfo = uint8(raw & 0xf000 >> 12)

	switch code.Op {
	case UwOpAllocSmall:
		code.Operand = "Size=" + strconv.Itoa(int(code.OpInfo)*8+8)
		return code, 1, nil
	case UwOpAllocLarge:
		if code.OpInfo == 0 {
			v, err := img.ReadUint16(offset + 2)
			if err != nil {
				return code, 0, err
			}
			code.Operand = "Size=" + strconv.Itoa(int(v)*8)
			return code, 2, nil
		}
		v, err := img.ReadUint32(offset + 2)
		if err != nil {
			return code, 0, err
		}
		code.Operand = "Size=" + strconv.Itoa(int(v) << 16)
		return code, 3, nil
	case UwOpSetFpReg, UwOpPushNonVol:
		code.Operand = "Register=" + opInfoRegisters[code.OpInfo]
		return code, 1, nil
	case UwOpSaveNonVol:
		v, err := img.ReadUint16(offset + 2)
		if err != nil {
			return code, 0, err
		}
		code.FrameOffset = v * 8
		code.Operand = "Register=" + opInfoRegisters[code.OpInfo] + ", Offset=" + strconv.Itoa(int(code.FrameOffset))
		return code, 2, nil
	case UwOpSaveNonVolFar:
		v, err := img.ReadUint32(offset + 2)
		if err != nil {
			return code, 0, err
		}
		code.FrameOffset = uint16(v * 8)
		code.Operand = "Register=" + opInfoRegisters[code.OpInfo] + ", Offset=" + strconv.Itoa(int(code.FrameOffset))
		return code, 3, nil
	case UwOpSaveXmm128:
		v, err := img.ReadUint16(offset + 2)
		if err != nil {
			return code, 0, err
		}
		code.FrameOffset = v * 16
		code.Operand = "Register=XMM" + strconv.Itoa(int(code.OpInfo)) + ", Offset=" + strconv.Itoa(int(code.FrameOffset))
		return code, 2, nil
	case UwOpSaveXmm128Far:
		v, err := img.ReadUint32(offset + 2)
		if err != nil {
			return code, 0, err
		}
		code.FrameOffset = uint16(v)
		code.Operand = "Register=XMM" + strconv.Itoa(int(code.OpInfo)) + ", Offset=" + strconv.Itoa(int(code.FrameOffset))
		return code, 3, nil
	case UwOpSetFpRegLarge:
		code.Operand = "Register=" + opInfoRegisters[code.OpInfo]
		return code, 2, nil
	case UwOpPushMachFrame:
		return code, 1, nil
	case UwOpEpilog:
		if version == 2 {
			code.Operand = "Flags=" + strconv.Itoa(int(code.OpInfo)) + ", Size=" + strconv.Itoa(int(code.CodeOffset))
		}
		return code, 2, nil
	case UwOpSpareCode:
		return code, 3, nil
	default:
		return code, 1, nil
	}
}

// X86Decoder is a stand-in for the X86 architecture, where GcInfo begins
// right at the unwind record itself rather than after a Windows-style
// UNWIND_INFO; there is no x86 prolog-unwind-code format to decode here, so
// this always returns an empty Info (the caller treats the unwind RVA as
// the GcInfo start for X86, per the format's own design notes).
type X86Decoder struct{}

// ReadUnwind returns an empty Info; X86 has no UNWIND_INFO structure.
func (X86Decoder) ReadUnwind(Image, uint32) (Info, error) {
	return Info{}, nil
}
