// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/pefile"

// OperatingSystem is the OS tag recovered from the COFF machine field's
// XOR-encoding.
type OperatingSystem uint8

// Recognized operating systems.
const (
	Windows OperatingSystem = iota
	Apple
	FreeBSD
	Linux
	NetBSD
)

func (os OperatingSystem) String() string {
	switch os {
	case Windows:
		return "Windows"
	case Apple:
		return "Apple"
	case FreeBSD:
		return "FreeBSD"
	case Linux:
		return "Linux"
	case NetBSD:
		return "NetBSD"
	default:
		return "Unknown"
	}
}

// osTags lists the XOR mask Crossgen2 applies to the COFF machine field to tag
// non-Windows targets; Windows itself is the identity (XOR 0).
var osTags = []struct {
	os  OperatingSystem
	tag uint16
}{
	{Windows, 0x0000},
	{Apple, 0x4644},
	{FreeBSD, 0xADC4},
	{Linux, 0x7B79},
	{NetBSD, 0x1993},
}

// MachineClass is the decoded target architecture.
type MachineClass uint8

// Architecture classes.
const (
	X86 MachineClass = iota
	X64
	Arm32
	Arm64
)

func (m MachineClass) String() string {
	switch m {
	case X86:
		return "X86"
	case X64:
		return "X64"
	case Arm32:
		return "Arm32"
	case Arm64:
		return "Arm64"
	default:
		return "Unknown"
	}
}

// classification is the result of decoding the COFF machine field.
type classification struct {
	os      OperatingSystem
	machine uint16
	class   MachineClass
}

// recognizedMachines maps the plain (un-XORed) COFF machine constant to its
// architecture class.
var recognizedMachines = map[uint16]MachineClass{
	pefile.ImageFileMachineI386:  X86,
	pefile.ImageFileMachineAMD64: X64,
	pefile.ImageFileMachineARM:   Arm32,
	pefile.ImageFileMachineThumb: Arm32,
	pefile.ImageFileMachineARMNT: Arm32,
	pefile.ImageFileMachineARM64: Arm64,
}

// classifyMachine recovers (OS, machine, architecture) from a COFF machine
// field by trying every known OS XOR tag in enumeration order and taking the
// first one that decodes to a recognized machine constant. If two tags ever
// collide for the same input, the first in osTags wins - Design Notes flags
// this as worth revisiting if it is ever observed in practice.
func classifyMachine(coffMachine uint16) (classification, error) {
	for _, ot := range osTags {
		candidate := coffMachine ^ ot.tag
		if class, ok := recognizedMachines[candidate]; ok {
			return classification{os: ot.os, machine: candidate, class: class}, nil
		}
	}
	return classification{}, newError(BadImage, "classify machine", ErrInvalidMachine)
}
