// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package unwind

import (
	"encoding/binary"
	"testing"
)

// fakeImage is a minimal in-memory Image backed by a flat byte slice, since
// unwind decoding only ever needs random little-endian reads.
type fakeImage []byte

func (f fakeImage) ReadUint8(off uint32) (uint8, error) {
	if int(off) >= len(f) {
		return 0, ErrOutOfRange
	}
	return f[off], nil
}

func (f fakeImage) ReadUint16(off uint32) (uint16, error) {
	if int(off)+2 > len(f) {
		return 0, ErrOutOfRange
	}
	return binary.LittleEndian.Uint16(f[off:]), nil
}

func (f fakeImage) ReadUint32(off uint32) (uint32, error) {
	if int(off)+4 > len(f) {
		return 0, ErrOutOfRange
	}
	return binary.LittleEndian.Uint32(f[off:]), nil
}

func (f fakeImage) ReadBytesAtOffset(off, size uint32) ([]byte, error) {
	if int(off)+int(size) > len(f) {
		return nil, ErrOutOfRange
	}
	return f[off : off+size], nil
}

func TestAmd64DecoderReadUnwindPushNonVol(t *testing.T) {
	// Header: Version=1, Flags=0, SizeOfProlog=4, CountOfCodes=1,
	// FrameRegister=0, FrameOffset nibble=0.
	header := uint32(1) | uint32(4)<<8 | uint32(1)<<16
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], header)
	// One UWOP_PUSH_NONVOL code: CodeOffset=2, Op=0 (PushNonVol), OpInfo=5 (RBP).
	code := uint16(2) | uint16(5)<<12
	binary.LittleEndian.PutUint16(buf[4:6], code)
	// buf[6:8] left zero: padding for the odd CountOfCodes.

	info, err := Amd64Decoder{}.ReadUnwind(fakeImage(buf), 0)
	if err != nil {
		t.Fatalf("ReadUnwind: %v", err)
	}
	if info.Version != 1 {
		t.Errorf("Version = %d, want 1", info.Version)
	}
	if info.SizeOfProlog != 4 {
		t.Errorf("SizeOfProlog = %d, want 4", info.SizeOfProlog)
	}
	if info.CountOfCodes != 1 {
		t.Errorf("CountOfCodes = %d, want 1", info.CountOfCodes)
	}
	if len(info.Codes) != 1 {
		t.Fatalf("got %d codes, want 1", len(info.Codes))
	}
	got := info.Codes[0]
	if got.Op != UwOpPushNonVol {
		t.Errorf("Op = %v, want UwOpPushNonVol", got.Op)
	}
	if got.Operand != "Register=RBP" {
		t.Errorf("Operand = %q, want %q", got.Operand, "Register=RBP")
	}
}

func TestAmd64DecoderReadUnwindExceptionHandler(t *testing.T) {
	// Header: Version=1, Flags=UnwFlagEHandler, SizeOfProlog=0, CountOfCodes=0.
	header := uint32(1) | uint32(UnwFlagEHandler)<<3
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], header)
	// CountOfCodes=0 is even, so no padding; the exception handler RVA
	// follows immediately.
	binary.LittleEndian.PutUint32(buf[4:8], 0xdeadbeef)

	info, err := Amd64Decoder{}.ReadUnwind(fakeImage(buf), 0)
	if err != nil {
		t.Fatalf("ReadUnwind: %v", err)
	}
	if info.ExceptionHandler != 0xdeadbeef {
		t.Errorf("ExceptionHandler = 0x%x, want 0xdeadbeef", info.ExceptionHandler)
	}
}

func TestX86DecoderReadUnwindIsEmpty(t *testing.T) {
	info, err := X86Decoder{}.ReadUnwind(fakeImage{}, 0)
	if err != nil {
		t.Fatalf("ReadUnwind: %v", err)
	}
	if info.Version != 0 || info.CountOfCodes != 0 || len(info.Codes) != 0 {
		t.Errorf("X86Decoder.ReadUnwind returned non-empty Info: %+v", info)
	}
}

func TestForMachine(t *testing.T) {
	if _, ok := ForMachine(X86).(X86Decoder); !ok {
		t.Errorf("ForMachine(X86) did not return an X86Decoder")
	}
	for _, m := range []MachineClass{X64, Arm32, Arm64} {
		if _, ok := ForMachine(m).(Amd64Decoder); !ok {
			t.Errorf("ForMachine(%v) did not return an Amd64Decoder", m)
		}
	}
}
