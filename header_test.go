// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"bytes"
	"errors"
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

func encodeR2RHeader(t *testing.T, sections map[SectionType]Section) []byte {
	t.Helper()
	var buf bytes.Buffer
	write(t, &buf, uint32(ReadyToRunSignature))
	write(t, &buf, uint16(8))  // MajorVersion
	write(t, &buf, uint16(1))  // MinorVersion
	write(t, &buf, uint32(0))  // Flags
	write(t, &buf, uint32(len(sections)))
	// Map iteration order, so the entries come out in no fixed order; the
	// reader does not depend on section order.
	for t2, s := range sections {
		write(t, &buf, uint32(t2))
		write(t, &buf, s.RVA)
		write(t, &buf, s.Size)
	}
	return buf.Bytes()
}

func TestParseR2RHeader(t *testing.T) {
	sections := map[SectionType]Section{
		SectionCompilerIdentifier: {RVA: 0x100, Size: 0x20},
		SectionRuntimeFunctions:   {RVA: 0x200, Size: 0x40},
	}
	const base = 256
	payload := encodeR2RHeader(t, sections)
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+uint32(len(payload))+16)
	copy(data[base:], payload)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	hdr, err := parseR2RHeader(img, base)
	if err != nil {
		t.Fatalf("parseR2RHeader: %v", err)
	}
	if hdr.Signature != ReadyToRunSignature {
		t.Errorf("signature = 0x%x, want 0x%x", hdr.Signature, ReadyToRunSignature)
	}
	if len(hdr.Sections) != len(sections) {
		t.Fatalf("got %d sections, want %d", len(hdr.Sections), len(sections))
	}
	for typ, want := range sections {
		got, ok := hdr.Section(typ)
		if !ok {
			t.Errorf("missing section type %d", typ)
			continue
		}
		if got != want {
			t.Errorf("section %d = %+v, want %+v", typ, got, want)
		}
	}
}

func TestParseR2RHeaderDuplicateSection(t *testing.T) {
	const base = 256
	var buf bytes.Buffer
	write(t, &buf, uint32(ReadyToRunSignature))
	write(t, &buf, uint16(8))
	write(t, &buf, uint16(1))
	write(t, &buf, uint32(0))
	write(t, &buf, uint32(2))
	write(t, &buf, uint32(SectionCompilerIdentifier))
	write(t, &buf, uint32(0x10))
	write(t, &buf, uint32(0x20))
	write(t, &buf, uint32(SectionCompilerIdentifier)) // duplicate
	write(t, &buf, uint32(0x30))
	write(t, &buf, uint32(0x40))

	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+uint32(buf.Len())+16)
	copy(data[base:], buf.Bytes())
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	_, err = parseR2RHeader(img, base)
	if err == nil {
		t.Fatal("expected an error for a duplicate section type")
	}
	if !errors.Is(err, ErrDuplicateSection) {
		t.Errorf("error = %v, want wrapping ErrDuplicateSection", err)
	}
}
