// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import (
	"testing"

	"github.com/readytorun/r2rdump/internal/pefile"
)

func TestNativeHashtableRoundTrip(t *testing.T) {
	const base = 400
	// Header: shift=0 -> 1 bucket.
	// Bucket offset table: 2 uint32 entries (bucketCount+1), relative to
	// entriesBase: bucket0 runs [0,4).
	// Entries: (lowHash=0x05, payload=10), (lowHash=0x07, payload=20).
	var payload []byte
	payload = append(payload, 0x00)                         // header: shift=0
	payload = append(payload, 0, 0, 0, 0)                   // bucket0 start = 0
	payload = append(payload, 4, 0, 0, 0)                   // bucket0 end = 4
	payload = append(payload, 0x05, 10<<1)                   // entry 1: lowHash, payload varint(10)
	payload = append(payload, 0x07, 20<<1)                   // entry 2: lowHash, payload varint(20)

	size := uint32(len(payload))
	data := buildMinimalPE(t, pefile.ImageFileMachineAMD64, base+size+16)
	copy(data[base:], payload)
	img, err := pefile.OpenBytes(data, nil)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	ht, err := NewNativeHashtable(img, base, size)
	if err != nil {
		t.Fatalf("NewNativeHashtable: %v", err)
	}

	var all []HashEntry
	if err := ht.EnumerateAll(func(e HashEntry) error {
		all = append(all, e)
		return nil
	}); err != nil {
		t.Fatalf("EnumerateAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2", len(all))
	}
	if all[0].LowHash != 0x05 || all[0].PayloadOffset != 10 {
		t.Errorf("entry 0 = %+v, want {LowHash:5 PayloadOffset:10}", all[0])
	}
	if all[1].LowHash != 0x07 || all[1].PayloadOffset != 20 {
		t.Errorf("entry 1 = %+v, want {LowHash:7 PayloadOffset:20}", all[1])
	}

	var looked []HashEntry
	if err := ht.Lookup(0x05, func(e HashEntry) error {
		looked = append(looked, e)
		return nil
	}); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(looked) != 1 || looked[0].PayloadOffset != 10 {
		t.Errorf("Lookup(0x05) = %+v, want single entry with payload 10", looked)
	}

	looked = nil
	if err := ht.Lookup(0x99, func(e HashEntry) error {
		looked = append(looked, e)
		return nil
	}); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(looked) != 0 {
		t.Errorf("Lookup(0x99) = %+v, want no entries (low-hash mismatch)", looked)
	}
}
