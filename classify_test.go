// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"errors"
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

func TestClassifyMachine(t *testing.T) {
	tests := []struct {
		name        string
		coffMachine uint16
		wantOS      OperatingSystem
		wantClass   MachineClass
	}{
		{"windows x64", pefile.ImageFileMachineAMD64, Windows, X64},
		{"windows x86", pefile.ImageFileMachineI386, Windows, X86},
		{"windows arm64", pefile.ImageFileMachineARM64, Windows, Arm64},
		{"linux x64", pefile.ImageFileMachineAMD64 ^ 0x7B79, Linux, X64},
		{"apple arm64", pefile.ImageFileMachineARM64 ^ 0x4644, Apple, Arm64},
		{"freebsd x64", pefile.ImageFileMachineAMD64 ^ 0xADC4, FreeBSD, X64},
		{"netbsd x64", pefile.ImageFileMachineAMD64 ^ 0x1993, NetBSD, X64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classifyMachine(tt.coffMachine)
			if err != nil {
				t.Fatalf("classifyMachine: %v", err)
			}
			if got.os != tt.wantOS {
				t.Errorf("os = %v, want %v", got.os, tt.wantOS)
			}
			if got.class != tt.wantClass {
				t.Errorf("class = %v, want %v", got.class, tt.wantClass)
			}
		})
	}
}

func TestClassifyMachineUnrecognized(t *testing.T) {
	_, err := classifyMachine(0xffff)
	if err == nil {
		t.Fatal("expected an error for an unrecognized machine value")
	}
	if !errors.Is(err, ErrInvalidMachine) {
		t.Errorf("error = %v, want wrapping ErrInvalidMachine", err)
	}
}
