// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

// resourceSection lays a three-level .rsrc tree into a section builder:
// root -> type dir -> name dir -> language leaf, with the leaf's data
// entry pointing at payload bytes at section-relative offset 0x300.
//
// Layout (section-relative):
//
//	0x000 root directory (1 ID entry: the type)
//	0x018 type subdirectory (1 ID entry: name/ID 1)
//	0x030 name subdirectory (1 ID entry: language 0x409)
//	0x048 data entry
//	0x300 payload
func resourceSection(typeID uint32, payload []byte) *sectionBuilder {
	sb := newSectionBuilder()

	const subdirBit = 0x80000000

	// Root: one ID entry selecting the resource type.
	sb.putUint16(12, 0) // named entries
	sb.putUint16(14, 1) // id entries
	sb.putUint32(16, typeID)
	sb.putUint32(20, subdirBit|0x18)

	// Type level: resource name/ID 1.
	sb.putUint16(0x18+12, 0)
	sb.putUint16(0x18+14, 1)
	sb.putUint32(0x18+16, 1)
	sb.putUint32(0x18+20, subdirBit|0x30)

	// Name level: language entry pointing at the leaf data entry.
	sb.putUint16(0x30+12, 0)
	sb.putUint16(0x30+14, 1)
	sb.putUint32(0x30+16, 0x409)
	sb.putUint32(0x30+20, 0x48)

	// Leaf data entry.
	sb.putUint32(0x48, testSectionRVA+0x300) // OffsetToData (RVA)
	sb.putUint32(0x48+4, uint32(len(payload)))

	sb.putBytes(0x300, payload)
	return sb
}

func resourceImage(t *testing.T, typeID uint32, payload []byte, opts *Options) *Image {
	t.Helper()
	return loadTestImage(t, testImageConfig{
		sectionName: ".rsrc",
		sectionChar: ImageScnCntInitializedData | ImageScnMemRead,
		sectionData: resourceSection(typeID, payload).data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryResource: {VirtualAddress: testSectionRVA, Size: 0x400},
		},
	}, opts)
}

func TestParseResourceTree(t *testing.T) {
	img := resourceImage(t, uint32(RTRCData), []byte{0xDE, 0xAD, 0xBE, 0xEF}, nil)

	root := img.Resources
	if root == nil {
		t.Fatal("resource directory was not parsed")
	}
	if len(root.Entries) != 1 {
		t.Fatalf("root entries = %d, want 1", len(root.Entries))
	}

	typeEntry := root.Entries[0]
	if typeEntry.ID != uint32(RTRCData) || !typeEntry.IsResourceDir {
		t.Fatalf("type entry = %+v, want RCData subdirectory", typeEntry)
	}

	nameEntry := typeEntry.Directory.Entries[0]
	if nameEntry.ID != 1 || nameEntry.Directory == nil {
		t.Fatalf("name entry = %+v, want ID 1 subdirectory", nameEntry)
	}

	langEntry := nameEntry.Directory.Entries[0]
	if langEntry.Data == nil {
		t.Fatal("language entry should carry a leaf data entry")
	}
	if langEntry.Data.Lang != 0x409&0x3ff {
		t.Errorf("language = %#x, want %#x", langEntry.Data.Lang, 0x409&0x3ff)
	}
	if langEntry.Data.Struct.Size != 4 {
		t.Errorf("leaf size = %d, want 4", langEntry.Data.Struct.Size)
	}
}

func TestResourceCycleTerminates(t *testing.T) {
	sb := newSectionBuilder()
	const subdirBit = 0x80000000

	// Root with a single subdirectory entry pointing back at the root.
	sb.putUint16(14, 1)
	sb.putUint32(16, 1)
	sb.putUint32(20, subdirBit|0)

	img := loadTestImage(t, testImageConfig{
		sectionName: ".rsrc",
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryResource: {VirtualAddress: testSectionRVA, Size: 0x100},
		},
	}, nil)

	root := img.Resources
	if root == nil {
		t.Fatal("resource directory was not parsed")
	}
	if len(root.Entries) != 1 {
		t.Fatalf("root entries = %d, want 1", len(root.Entries))
	}
	if root.Entries[0].BackReferenceRVA != testSectionRVA {
		t.Errorf("back reference = %#x, want %#x", root.Entries[0].BackReferenceRVA, testSectionRVA)
	}
	if root.Entries[0].Directory != nil {
		t.Error("cyclic entry must not recurse into a directory")
	}
	if !img.Anomalies.HasError(ErrResourceCycle) {
		t.Error("cycle should be diagnosed")
	}
}
