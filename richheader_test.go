// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"testing"
)

// encodeRichHeader returns the serialized Rich header for key and
// compIDs; the caller places it in the file.
func encodeRichHeader(key uint32, compIDs []CompID) []byte {
	rh := RichHeader{XORKey: key, CompIDs: compIDs}
	return rh.Serialize()
}

func TestRichHeaderDecode(t *testing.T) {
	key := uint32(0x12345678)
	compIDs := []CompID{
		{MinorCV: 0x11, ProdID: 0xEF, Count: 0x15, Unmasked: uint32(0xEF)<<16 | 0x11},
		{MinorCV: 0xDE6A, ProdID: 0xAB03, Count: 0x57FF, Unmasked: uint32(0xAB03)<<16 | 0xDE6A},
	}
	encoded := encodeRichHeader(key, compIDs)

	// A custom layout: DanS at 0x80, e_lfanew past the Rich header. The
	// synthetic builder pins e_lfanew at 0x80, so build the file by hand
	// around the standard fixture instead.
	data := buildTestImage(testImageConfig{})

	lfanew := 0x80 + ((len(encoded)+15)/16)*16
	grown := make([]byte, len(data)+lfanew-0x80)
	copy(grown, data[:0x40])
	copy(grown[0x80:], encoded)
	copy(grown[lfanew:], data[testELfanew:])
	// Patch e_lfanew and the section header's PointerToRawData, since
	// everything from the NT headers on shifted by lfanew-0x80.
	grown[0x3C] = byte(lfanew)
	grown[0x3D] = byte(lfanew >> 8)

	// The section's raw pointer moved by the same shift.
	sectionHdrOff := lfanew + 4 + 20 + 0xE0
	rawPtrOff := sectionHdrOff + 20
	newRawPtr := uint32(testSectionRawOff + lfanew - testELfanew)
	grown[rawPtrOff] = byte(newRawPtr)
	grown[rawPtrOff+1] = byte(newRawPtr >> 8)
	grown[rawPtrOff+2] = byte(newRawPtr >> 16)
	grown[rawPtrOff+3] = byte(newRawPtr >> 24)

	img, err := LoadBytes(grown, &Options{AllowVirtualData: true})
	if err != nil {
		t.Fatalf("LoadBytes() failed: %v", err)
	}

	if !img.Info.HasRichHdr {
		t.Fatal("Rich header was not detected")
	}
	rh := img.RichHeader
	if rh.XORKey != key {
		t.Errorf("XORKey = %#x, want %#x", rh.XORKey, key)
	}
	if rh.DansOffset != 0x80 {
		t.Errorf("DansOffset = %#x, want 0x80", rh.DansOffset)
	}
	if len(rh.CompIDs) != 2 {
		t.Fatalf("len(CompIDs) = %d, want 2", len(rh.CompIDs))
	}
	if rh.CompIDs[0].MinorCV != 0x11 || rh.CompIDs[0].ProdID != 0xEF || rh.CompIDs[0].Count != 0x15 {
		t.Errorf("CompIDs[0] = %+v, want {0x11, 0xEF, 0x15}", rh.CompIDs[0])
	}
	if rh.CompIDs[1].MinorCV != 0xDE6A || rh.CompIDs[1].ProdID != 0xAB03 || rh.CompIDs[1].Count != 0x57FF {
		t.Errorf("CompIDs[1] = %+v, want {0xDE6A, 0xAB03, 0x57FF}", rh.CompIDs[1])
	}
}

func TestRichHeaderRoundTrip(t *testing.T) {
	key := uint32(0xDEADBEEF)
	compIDs := []CompID{
		{MinorCV: 0x5E97, ProdID: 0x0104, Count: 9, Unmasked: uint32(0x0104)<<16 | 0x5E97},
		{MinorCV: 0x5E97, ProdID: 0x0103, Count: 2, Unmasked: uint32(0x0103)<<16 | 0x5E97},
	}
	rh := RichHeader{XORKey: key, CompIDs: compIDs}

	encoded := rh.Serialize()
	reencoded := (&RichHeader{XORKey: key, CompIDs: compIDs}).Serialize()
	if !bytes.Equal(encoded, reencoded) {
		t.Error("re-encoding the same header should be deterministic")
	}

	// DanS ^ key leads, "Rich" + key trail.
	wantLen := 4 + 12 + 8*len(compIDs) + 8
	if len(encoded) != wantLen {
		t.Fatalf("encoded length = %d, want %d", len(encoded), wantLen)
	}
	if !bytes.Equal(encoded[len(encoded)-8:len(encoded)-4], []byte(RichSignature)) {
		t.Error("encoded header must end with the Rich tag and key")
	}
}
