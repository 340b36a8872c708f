// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"testing"
)

func TestLoadBytesPE32(t *testing.T) {
	img := loadTestImage(t, testImageConfig{}, nil)

	if !img.Info.HasDOSHdr || !img.Info.HasNTHdr || !img.Info.HasSections {
		t.Errorf("info flags = %+v, want DOS/NT/sections set", img.Info)
	}
	if !img.Info.Is32 || img.Info.Is64 {
		t.Error("image should classify as PE32")
	}
	if img.OptionalHeader.Magic() != ImageNtOptionalHeader32Magic {
		t.Errorf("magic = %#x, want PE32", img.OptionalHeader.Magic())
	}
	if img.OptionalHeader.ImageBase() != testImageBase32 {
		t.Errorf("image base = %#x, want %#x", img.OptionalHeader.ImageBase(), testImageBase32)
	}
	if len(img.Sections) != 1 || img.Sections[0].String() != ".text" {
		t.Fatalf("sections = %+v, want one .text", img.Sections)
	}
	if img.DataDirectories.Size() != int(NumberOfDirectoryEntries) {
		t.Errorf("data directories = %d, want %d", img.DataDirectories.Size(), NumberOfDirectoryEntries)
	}
}

func TestLoadBytesPE32Plus(t *testing.T) {
	img := loadTestImage(t, testImageConfig{is64: true}, nil)

	if !img.Info.Is64 || img.Info.Is32 {
		t.Error("image should classify as PE32+")
	}
	if img.OptionalHeader.ImageBase() != testImageBase64 {
		t.Errorf("image base = %#x, want %#x", img.OptionalHeader.ImageBase(), testImageBase64)
	}
}

func TestLoadBytesTooSmall(t *testing.T) {
	if _, err := LoadBytes(make([]byte, 32), nil); err != ErrInvalidPESize {
		t.Fatalf("LoadBytes() error = %v, want ErrInvalidPESize", err)
	}
}

func TestLoadBytesBadDOSMagic(t *testing.T) {
	data := buildTestImage(testImageConfig{})
	data[0], data[1] = 'X', 'Y'
	if _, err := LoadBytes(data, nil); err != ErrDOSMagicNotFound {
		t.Fatalf("LoadBytes() error = %v, want ErrDOSMagicNotFound", err)
	}
}

func TestLoadBytesBadNTSignature(t *testing.T) {
	data := buildTestImage(testImageConfig{})
	data[testELfanew] = 'X'
	if _, err := LoadBytes(data, &Options{AllowVirtualData: true}); err != ErrImageNtSignatureNotFound {
		t.Fatalf("LoadBytes() error = %v, want ErrImageNtSignatureNotFound", err)
	}
}

func TestOverlayCapture(t *testing.T) {
	overlay := []byte("self-extracting archive payload")
	img := loadTestImage(t, testImageConfig{overlay: overlay}, nil)

	got, err := img.OverlayBytes()
	if err != nil {
		t.Fatalf("OverlayBytes() failed: %v", err)
	}
	if !bytes.Equal(got, overlay) {
		t.Errorf("overlay = %q, want %q", got, overlay)
	}
	if img.OverlayLength() != int64(len(overlay)) {
		t.Errorf("OverlayLength() = %d, want %d", img.OverlayLength(), len(overlay))
	}
}

func TestNoOverlay(t *testing.T) {
	img := loadTestImage(t, testImageConfig{}, nil)
	if _, err := img.OverlayBytes(); err != ErrNoOverlayFound {
		t.Fatalf("OverlayBytes() error = %v, want ErrNoOverlayFound", err)
	}
}

func TestSectionEntropy(t *testing.T) {
	// All-zero data has zero entropy.
	img := loadTestImage(t, testImageConfig{}, &Options{AllowVirtualData: true, SectionEntropy: true})
	if e := img.Sections[0].Entropy; e != 0 {
		t.Errorf("all-zero section entropy = %v, want 0", e)
	}

	// A uniform byte distribution approaches 8 bits.
	sb := newSectionBuilder()
	for i := range sb.data {
		sb.data[i] = byte(i)
	}
	img = loadTestImage(t, testImageConfig{sectionData: sb.data},
		&Options{AllowVirtualData: true, SectionEntropy: true})
	if e := img.Sections[0].Entropy; e < 7.9 || e > 8.0 {
		t.Errorf("uniform section entropy = %v, want ~8", e)
	}
}

func TestFastModeSkipsDirectories(t *testing.T) {
	sb := newSectionBuilder()
	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryExport: {VirtualAddress: testSectionRVA, Size: 0x100},
		},
	}, &Options{AllowVirtualData: true, Fast: true})

	if img.Export != nil {
		t.Error("Fast mode must not parse data directories")
	}
}

func TestParseIATDirectory(t *testing.T) {
	sb := buildImportSection()
	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryImport: {VirtualAddress: testSectionRVA + 0x100, Size: 40},
			DirectoryIAT:    {VirtualAddress: testSectionRVA + 0x440, Size: 12},
		},
	}, nil)

	if len(img.IAT) != 3 {
		t.Fatalf("len(IAT) = %d, want 3 slots", len(img.IAT))
	}
	if img.IAT[1].Meaning != "user32.dll!abcdef" {
		t.Errorf("IAT[1] meaning = %q, want user32.dll!abcdef", img.IAT[1].Meaning)
	}
}

func TestParseBoundImportDirectory(t *testing.T) {
	sb := newSectionBuilder()
	// Descriptor at RVA 0x1000: name at directory-relative offset 0x20.
	sb.putUint32(0, 0x5E000000)
	sb.putUint16(4, 0x20)
	sb.putString(0x20, "kernel32.dll")

	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryBoundImport: {VirtualAddress: testSectionRVA, Size: 0x30},
		},
	}, nil)

	if len(img.BoundImports) != 1 {
		t.Fatalf("len(BoundImports) = %d, want 1", len(img.BoundImports))
	}
	if img.BoundImports[0].Name != "kernel32.dll" {
		t.Errorf("bound import name = %q, want kernel32.dll", img.BoundImports[0].Name)
	}
}

func TestErrorListOnDirectoriesIsDeduplicated(t *testing.T) {
	exp := &ExportDirectory{}
	exp.AddError(AnoExportUnsortedNames)
	exp.AddError(AnoExportUnsortedNames)
	if got := len(exp.GetErrors()); got != 1 {
		t.Errorf("duplicate error recorded %d times, want 1", got)
	}
}
