// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"testing"

	"github.com/binaryscan/pecore/buffer"
)

func roundTripOptions() *Options {
	return &Options{
		AllowVirtualData:        true,
		CopyMemory:              true,
		WriteVirtualPart:        true,
		FillFullHeadersDataGaps: true,
	}
}

func TestSerializeRoundTrip32(t *testing.T) {
	sb := newSectionBuilder()
	sb.putString(0, "section content marker")
	original := buildTestImage(testImageConfig{sectionData: sb.data})

	img, err := LoadBytes(original, roundTripOptions())
	if err != nil {
		t.Fatalf("LoadBytes() failed: %v", err)
	}

	out := buffer.NewMemory()
	if err := img.Serialize(out); err != nil {
		t.Fatalf("Serialize() failed: %v", err)
	}

	got := out.Bytes()
	if len(got) != len(original) {
		t.Fatalf("serialized length = %d, want %d", len(got), len(original))
	}
	if !bytes.Equal(got, original) {
		for i := range got {
			if got[i] != original[i] {
				t.Fatalf("round trip diverges at offset %#x: got %#x want %#x", i, got[i], original[i])
			}
		}
	}
}

func TestSerializeRoundTrip64(t *testing.T) {
	sb := newSectionBuilder()
	sb.putString(0x100, "pe32+ content")
	original := buildTestImage(testImageConfig{is64: true, sectionData: sb.data})

	img, err := LoadBytes(original, roundTripOptions())
	if err != nil {
		t.Fatalf("LoadBytes() failed: %v", err)
	}

	out := buffer.NewMemory()
	if err := img.Serialize(out); err != nil {
		t.Fatalf("Serialize() failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), original) {
		t.Error("PE32+ round trip should be byte-identical")
	}
}

func TestSerializeRoundTripWithOverlay(t *testing.T) {
	overlay := []byte("trailing installer payload")
	original := buildTestImage(testImageConfig{overlay: overlay})

	img, err := LoadBytes(original, roundTripOptions())
	if err != nil {
		t.Fatalf("LoadBytes() failed: %v", err)
	}
	if !img.Info.HasOverlay {
		t.Fatal("overlay was not detected")
	}

	out := buffer.NewMemory()
	if err := img.Serialize(out); err != nil {
		t.Fatalf("Serialize() failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), original) {
		t.Error("round trip with overlay should be byte-identical")
	}
}

func TestSerializeInconsistentSectionData(t *testing.T) {
	img := loadTestImage(t, testImageConfig{}, roundTripOptions())

	// Shrink the declared raw size out from under the captured data.
	img.Sections[0].Header.Get().SizeOfRawData = 0x100

	out := buffer.NewMemory()
	if err := img.Serialize(out); err != ErrInconsistentSectionHeadersAndData {
		t.Fatalf("Serialize() error = %v, want ErrInconsistentSectionHeadersAndData", err)
	}
}

func TestSerializeRebasedImageDiffers(t *testing.T) {
	original := buildTestImage(rebaseFixture())
	img, err := LoadBytes(original, roundTripOptions())
	if err != nil {
		t.Fatalf("LoadBytes() failed: %v", err)
	}
	if err := img.Rebase(0x0000000180000000, true); err != nil {
		t.Fatalf("Rebase() failed: %v", err)
	}

	out := buffer.NewMemory()
	if err := img.Serialize(out); err != nil {
		t.Fatalf("Serialize() failed: %v", err)
	}
	if bytes.Equal(out.Bytes(), original) {
		t.Error("a rebased image must serialize differently from its source")
	}
}
