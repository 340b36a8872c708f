// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"

	"github.com/binaryscan/pecore/errlist"
)

// Thunk tables at RVA 0x1400: an ordinal import and a hint/name import
// whose hint/name block sits at RVA 0x1500, per the PE32 layout.
func buildImportSection() *sectionBuilder {
	sb := newSectionBuilder()

	// Import descriptor array at RVA 0x1100.
	descOff := 0x100
	sb.putUint32(descOff, 0x1400)    // OriginalFirstThunk (ILT)
	sb.putUint32(descOff+12, 0x1480) // Name -> "user32.dll"
	sb.putUint32(descOff+16, 0x1440) // FirstThunk (IAT)
	// Terminator descriptor is all zeros already.

	// ILT at RVA 0x1400.
	sb.putUint32(0x400, 0x800000AB) // import by ordinal 0xAB
	sb.putUint32(0x404, 0x00001500) // import by name
	// IAT at RVA 0x1440, identical on disk.
	sb.putUint32(0x440, 0x800000AB)
	sb.putUint32(0x444, 0x00001500)

	sb.putString(0x480, "user32.dll")

	// Hint/name block at RVA 0x1500.
	sb.putUint16(0x500, 0x1234)
	sb.putString(0x502, "abcdef")
	return sb
}

func TestImportThunkClassification(t *testing.T) {
	img := loadTestImage(t, testImageConfig{
		sectionData: buildImportSection().data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryImport: {VirtualAddress: testSectionRVA + 0x100, Size: 40},
		},
	}, nil)

	if len(img.Imports) != 1 {
		t.Fatalf("len(Imports) = %d, want 1", len(img.Imports))
	}
	imp := img.Imports[0]
	if imp.Name != "user32.dll" {
		t.Errorf("library name = %q, want user32.dll", imp.Name)
	}
	if len(imp.Functions) != 2 {
		t.Fatalf("len(Functions) = %d, want 2", len(imp.Functions))
	}

	byOrd := imp.Functions[0]
	if !byOrd.ByOrdinal || byOrd.Ordinal != 0xAB {
		t.Errorf("thunk 0x800000AB = %+v, want ordinal 0xAB", byOrd)
	}

	byName := imp.Functions[1]
	if byName.ByOrdinal {
		t.Error("thunk 0x00001500 should not classify as ordinal")
	}
	if byName.Hint != 0x1234 {
		t.Errorf("hint = %#x, want 0x1234", byName.Hint)
	}
	if byName.Name != "abcdef" {
		t.Errorf("name = %q, want abcdef", byName.Name)
	}
}

func TestImportThunkCap(t *testing.T) {
	img := loadTestImage(t, testImageConfig{
		sectionData: buildImportSection().data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryImport: {VirtualAddress: testSectionRVA + 0x100, Size: 40},
		},
	}, &Options{AllowVirtualData: true, MaxImportedSymbolsCount: 1})

	if len(img.Imports) != 1 {
		t.Fatalf("len(Imports) = %d, want 1", len(img.Imports))
	}
	if got := len(img.Imports[0].Functions); got != 1 {
		t.Errorf("len(Functions) = %d, want 1 (truncated at the cap)", got)
	}
	if !img.Anomalies.HasError(AnoImportTooManyThunks) {
		t.Error("truncating the thunk walk should be diagnosed")
	}
}

func TestImportZeroIAT(t *testing.T) {
	sb := newSectionBuilder()
	descOff := 0x100
	sb.putUint32(descOff, 0x1400)    // ILT present
	sb.putUint32(descOff+12, 0x1480) // Name
	// FirstThunk left zero.
	sb.putString(0x480, "user32.dll")

	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryImport: {VirtualAddress: testSectionRVA + 0x100, Size: 40},
		},
	}, nil)

	if len(img.Imports) != 1 {
		t.Fatalf("len(Imports) = %d, want 1", len(img.Imports))
	}
	if !img.Imports[0].HasError(AnoImportZeroIAT) {
		t.Error("zero IAT should be diagnosed on the descriptor")
	}
}

func TestImportThunksDiffer(t *testing.T) {
	sb := buildImportSection()
	// Diverge one IAT slot from its ILT counterpart; the image is neither
	// bound nor loaded from memory, so the tables must agree.
	sb.putUint32(0x444, 0x00001508)

	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryImport: {VirtualAddress: testSectionRVA + 0x100, Size: 40},
		},
	}, nil)

	if len(img.Imports) != 1 {
		t.Fatalf("len(Imports) = %d, want 1", len(img.Imports))
	}
	if !img.Imports[0].HasErrorContext(AnoImportThunksDiffer, errlist.IndexContext(1)) {
		t.Error("diverging ILT/IAT thunks should be diagnosed with the entry index")
	}
}
