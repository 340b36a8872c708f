// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

func TestExportEditor(t *testing.T) {
	exp := &ExportDirectory{Name: "lib"}

	exp.AddByOrdinal(0, 0x123)
	exp.AddNamed(3, "name2", 0x456)
	exp.AddForwarder(2, "name3", "fwd_name3")

	if got := exp.SymbolByName("name2"); got == nil || got.FunctionRVA != 0x456 {
		t.Fatalf("SymbolByName(name2) = %+v, want FunctionRVA 0x456", got)
	}
	if got := exp.SymbolByName("name3"); got == nil || got.Forwarder != "fwd_name3" {
		t.Fatalf("SymbolByName(name3) = %+v, want forwarder fwd_name3", got)
	}

	free, err := exp.FirstFreeOrdinal()
	if err != nil {
		t.Fatalf("FirstFreeOrdinal() failed: %v", err)
	}
	if free != 1 {
		t.Errorf("FirstFreeOrdinal() = %d, want 1", free)
	}
	if got := exp.LastFreeOrdinal(); got != 4 {
		t.Errorf("LastFreeOrdinal() = %d, want 4", got)
	}

	// Functions must stay sorted by ordinal after out-of-order inserts.
	for i := 1; i < len(exp.Functions); i++ {
		if exp.Functions[i-1].Ordinal >= exp.Functions[i].Ordinal {
			t.Fatalf("functions not sorted by ordinal: %+v", exp.Functions)
		}
	}
}

func TestExportFirstFreeOrdinalExhausted(t *testing.T) {
	exp := &ExportDirectory{}
	exp.Functions = make([]ExportFunction, 0, 0x10000)
	for ord := uint32(0); ord <= 0xFFFF; ord++ {
		exp.Functions = append(exp.Functions, ExportFunction{Ordinal: ord})
	}
	if _, err := exp.FirstFreeOrdinal(); err != ErrExportOrdinalsExhausted {
		t.Fatalf("FirstFreeOrdinal() error = %v, want ErrExportOrdinalsExhausted", err)
	}
}

func TestParseExportDirectory(t *testing.T) {
	// Export directory at section start (RVA 0x1000): two functions, one
	// named, one a forwarder into the directory's own range.
	sb := newSectionBuilder()

	// IMAGE_EXPORT_DIRECTORY at offset 0.
	sb.putUint32(12, 0x1040)  // Name -> "mylib.dll"
	sb.putUint32(16, 1)       // Base
	sb.putUint32(20, 2)       // NumberOfFunctions
	sb.putUint32(24, 1)       // NumberOfNames
	sb.putUint32(28, 0x1050)  // AddressOfFunctions
	sb.putUint32(32, 0x1060)  // AddressOfNames
	sb.putUint32(36, 0x1070)  // AddressOfNameOrdinals

	sb.putString(0x40, "mylib.dll")
	sb.putUint32(0x50, 0x1300) // function 0: plain code RVA
	sb.putUint32(0x54, 0x1080) // function 1: forwarder (inside directory)
	sb.putUint32(0x60, 0x1090) // name 0 RVA
	sb.putUint16(0x70, 0)      // name 0 -> function index 0
	sb.putString(0x80, "other.dup_name")
	sb.putString(0x90, "func_a")

	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryExport: {VirtualAddress: testSectionRVA, Size: 0x100},
		},
	}, nil)

	exp := img.Export
	if exp == nil {
		t.Fatal("export directory was not parsed")
	}
	if exp.Name != "mylib.dll" {
		t.Errorf("library name = %q, want mylib.dll", exp.Name)
	}
	if len(exp.Functions) != 2 {
		t.Fatalf("len(Functions) = %d, want 2", len(exp.Functions))
	}

	named := exp.SymbolByName("func_a")
	if named == nil || named.Ordinal != 1 || named.FunctionRVA != 0x1300 {
		t.Errorf("SymbolByName(func_a) = %+v, want ordinal 1, RVA 0x1300", named)
	}

	fwd := exp.SymbolByOrdinal(2)
	if fwd == nil || fwd.Forwarder != "other.dup_name" {
		t.Errorf("forwarder = %+v, want other.dup_name", fwd)
	}
}

func TestParseExportUnsortedNames(t *testing.T) {
	sb := newSectionBuilder()
	sb.putUint32(12, 0x1040)
	sb.putUint32(16, 1)      // Base
	sb.putUint32(20, 2)      // NumberOfFunctions
	sb.putUint32(24, 2)      // NumberOfNames
	sb.putUint32(28, 0x1050) // AddressOfFunctions
	sb.putUint32(32, 0x1060) // AddressOfNames
	sb.putUint32(36, 0x1070) // AddressOfNameOrdinals

	sb.putString(0x40, "lib")
	sb.putUint32(0x50, 0x1300)
	sb.putUint32(0x54, 0x1310)
	sb.putUint32(0x60, 0x1080) // name "zeta"
	sb.putUint32(0x64, 0x1090) // name "alpha" - inversion
	sb.putUint16(0x70, 0)
	sb.putUint16(0x72, 1)
	sb.putString(0x80, "zeta")
	sb.putString(0x90, "alpha")

	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryExport: {VirtualAddress: testSectionRVA, Size: 0x100},
		},
	}, nil)

	if img.Export == nil {
		t.Fatal("export directory was not parsed")
	}
	if !img.Export.HasError(AnoExportUnsortedNames) {
		t.Error("unsorted name table should be diagnosed")
	}
}
