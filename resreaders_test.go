// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"testing"

	"github.com/binaryscan/pecore/errlist"
)

func accelRecord(modifier, key, cmd uint16) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b, modifier)
	binary.LittleEndian.PutUint16(b[2:], key)
	binary.LittleEndian.PutUint16(b[4:], cmd)
	return b
}

func TestAcceleratorTable(t *testing.T) {
	var data []byte
	data = append(data, accelRecord(AccelFlagVirtKey, 0x70, 100)...)                     // F1
	data = append(data, accelRecord(AccelFlagVirtKey|AccelFlagControl, 0x71, 101)...)    // Ctrl+F2
	data = append(data, accelRecord(AccelFlagVirtKey|accelFlagEndOfTable, 0x72, 102)...) // F3, final

	table := ParseAcceleratorTable(data, 0x1000)
	if len(table.Accelerators) != 3 {
		t.Fatalf("len(Accelerators) = %d, want 3", len(table.Accelerators))
	}
	if table.HasErrors() {
		t.Errorf("unexpected errors: %+v", table.GetErrors())
	}
	if table.Accelerators[1].KeyCode != 0x71 || table.Accelerators[1].Message != 101 {
		t.Errorf("accelerator[1] = %+v, want key 0x71 message 101", table.Accelerators[1])
	}
	if table.Accelerators[2].Modifier&accelFlagEndOfTable == 0 {
		t.Error("final record must carry the end-of-table bit")
	}
}

func TestAcceleratorTableCap(t *testing.T) {
	var data []byte
	data = append(data, accelRecord(AccelFlagVirtKey, 0x70, 100)...)
	data = append(data, accelRecord(AccelFlagVirtKey, 0x71, 101)...)
	data = append(data, accelRecord(AccelFlagVirtKey|accelFlagEndOfTable, 0x72, 102)...)

	table := ParseAcceleratorTable(data, 1)
	if len(table.Accelerators) != 1 {
		t.Fatalf("len(Accelerators) = %d, want 1", len(table.Accelerators))
	}
	if !table.HasError(AnoTooManyAccelerators) {
		t.Error("exceeding the cap should be diagnosed")
	}
}

func TestAcceleratorsFromImage(t *testing.T) {
	var payload []byte
	payload = append(payload, accelRecord(AccelFlagVirtKey, 0x70, 100)...)
	payload = append(payload, accelRecord(AccelFlagVirtKey|accelFlagEndOfTable, 0x71, 101)...)

	img := resourceImage(t, uint32(RTAccelerator), payload, nil)
	table, err := img.Accelerators()
	if err != nil {
		t.Fatalf("Accelerators() failed: %v", err)
	}
	if len(table.Accelerators) != 2 {
		t.Fatalf("len(Accelerators) = %d, want 2", len(table.Accelerators))
	}
}

func utf16Bytes(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), byte(uint16(r)>>8))
	}
	return out
}

func TestStringTable(t *testing.T) {
	var data []byte
	// Slot 0 empty, slot 1 "hello", slot 2 "world", rest empty.
	data = append(data, 0, 0)
	data = append(data, 5, 0)
	data = append(data, utf16Bytes("hello")...)
	data = append(data, 5, 0)
	data = append(data, utf16Bytes("world")...)
	for i := 3; i < stringTableBundleSize; i++ {
		data = append(data, 0, 0)
	}

	table := ParseStringTable(data)
	if table.HasErrors() {
		t.Fatalf("unexpected errors: %+v", table.GetErrors())
	}
	if table.Strings[1] != "hello" || table.Strings[2] != "world" {
		t.Errorf("strings = %q, want hello/world in slots 1 and 2", table.Strings)
	}
	if table.Strings[0] != "" || table.Strings[15] != "" {
		t.Error("empty slots must decode as empty strings")
	}
}

func TestStringTableTruncated(t *testing.T) {
	table := ParseStringTable([]byte{5, 0, 'h', 0})
	if !table.HasAnyError(AnoStringTableTruncated) {
		t.Error("truncated bundle should be diagnosed")
	}
}

func buildMessageTable(blocks []MessageBlock, texts map[uint32]string) []byte {
	data := make([]byte, 4+len(blocks)*12)
	binary.LittleEndian.PutUint32(data, uint32(len(blocks)))
	for i, b := range blocks {
		off := 4 + i*12
		binary.LittleEndian.PutUint32(data[off:], b.LowID)
		binary.LittleEndian.PutUint32(data[off+4:], b.HighID)
		binary.LittleEndian.PutUint32(data[off+8:], uint32(len(data)))
		for id := b.LowID; id <= b.HighID; id++ {
			text := texts[id]
			length := 4 + len(text) + 1
			if rem := length % 4; rem != 0 {
				length += 4 - rem
			}
			entry := make([]byte, length)
			binary.LittleEndian.PutUint16(entry, uint16(length))
			copy(entry[4:], text)
			data = append(data, entry...)
		}
	}
	return data
}

func TestMessageTable(t *testing.T) {
	data := buildMessageTable(
		[]MessageBlock{{LowID: 1, HighID: 2}, {LowID: 10, HighID: 10}},
		map[uint32]string{1: "first", 2: "second", 10: "tenth"},
	)

	table := ParseMessageTable(data, 0x1000)
	if table.HasErrors() {
		t.Fatalf("unexpected errors: %+v", table.GetErrors())
	}
	if len(table.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(table.Messages))
	}
	if table.Messages[0].ID != 1 || table.Messages[0].Text != "first" {
		t.Errorf("message 0 = %+v, want ID 1 text first", table.Messages[0])
	}
	if table.Messages[2].ID != 10 || table.Messages[2].Text != "tenth" {
		t.Errorf("message 2 = %+v, want ID 10 text tenth", table.Messages[2])
	}
}

func TestMessageTableOverlappingIDs(t *testing.T) {
	data := buildMessageTable(
		[]MessageBlock{{LowID: 1, HighID: 5}, {LowID: 4, HighID: 6}},
		map[uint32]string{},
	)

	table := ParseMessageTable(data, 0x1000)
	if !table.HasErrorContext(AnoOverlappingMessageIDs, errlist.IndexContext(1)) {
		t.Error("overlapping block ID ranges should be diagnosed with the block index")
	}
}

func TestParseBitmap(t *testing.T) {
	// A 2x2 8bpp DIB: 40-byte info header plus a 256-entry color table.
	dib := make([]byte, 40+256*4+8)
	binary.LittleEndian.PutUint32(dib, 40)              // biSize
	binary.LittleEndian.PutUint32(dib[4:], 2)           // width
	binary.LittleEndian.PutUint32(dib[8:], 2)           // height
	binary.LittleEndian.PutUint16(dib[12:], 1)          // planes
	binary.LittleEndian.PutUint16(dib[14:], 8)          // bit count

	bmp := ParseBitmap(dib)
	if bmp.HasErrors() {
		t.Fatalf("unexpected errors: %+v", bmp.GetErrors())
	}
	if bmp.Width != 2 || bmp.Height != 2 || bmp.BitCount != 8 {
		t.Errorf("dimensions = %dx%d@%d, want 2x2@8", bmp.Width, bmp.Height, bmp.BitCount)
	}
	if bmp.File[0] != 'B' || bmp.File[1] != 'M' {
		t.Error("synthesized file must start with the BM magic")
	}
	wantOffBits := uint32(14 + 40 + 256*4)
	if got := binary.LittleEndian.Uint32(bmp.File[10:]); got != wantOffBits {
		t.Errorf("bfOffBits = %d, want %d", got, wantOffBits)
	}
	if got := binary.LittleEndian.Uint32(bmp.File[2:]); got != uint32(len(dib)+14) {
		t.Errorf("bfSize = %d, want %d", got, len(dib)+14)
	}
}
