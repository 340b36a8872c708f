// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

func TestParseCOR20Directory(t *testing.T) {
	sb := newSectionBuilder()

	// IMAGE_COR20_HEADER at RVA 0x1000.
	sb.putUint32(0, 72)     // Cb
	sb.putUint16(4, 2)      // MajorRuntimeVersion
	sb.putUint16(6, 5)      // MinorRuntimeVersion
	sb.putUint32(8, 0x1100) // MetaData.VirtualAddress
	sb.putUint32(12, 0x100) // MetaData.Size
	sb.putUint32(16, uint32(COMImageFlagsILOnly))

	// Metadata root at RVA 0x1100: "BSJB", v1.1, version string "v4.0.30319"
	// padded to 12 bytes, then 2 stream headers.
	sb.putUint32(0x100, 0x424A5342) // BSJB
	sb.putUint16(0x104, 1)
	sb.putUint16(0x106, 1)
	sb.putUint32(0x10C, 12) // VersionLength
	sb.putString(0x110, "v4.0.30319")
	sb.putUint16(0x11E, 2) // Streams (flags u8 + pad at 0x11C)

	// Stream headers follow at 0x120.
	sb.putUint32(0x120, 0x40) // #~ offset
	sb.putUint32(0x124, 0x10) // #~ size
	sb.putString(0x128, "#~")
	sb.putUint32(0x12C, 0x50) // #Strings offset
	sb.putUint32(0x130, 0x20)
	sb.putString(0x134, "#Strings")

	// Stream contents, relative to the metadata root.
	sb.putString(0x140, "table-heap-bytes")
	sb.putString(0x150, "\x00hello\x00world\x00")

	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryCOMDescriptor: {VirtualAddress: testSectionRVA, Size: 72},
		},
	}, nil)

	clr := img.CLR
	if clr == nil {
		t.Fatal("COR20 header was not parsed")
	}
	if !img.Info.HasCOM {
		t.Error("HasCOM should be set")
	}
	if clr.Struct.MajorRuntimeVersion != 2 {
		t.Errorf("runtime version = %d, want 2", clr.Struct.MajorRuntimeVersion)
	}
	if clr.MetadataHeader.Signature != 0x424A5342 {
		t.Errorf("metadata signature = %#x, want BSJB", clr.MetadataHeader.Signature)
	}
	if clr.MetadataHeader.Version != "v4.0.30319" {
		t.Errorf("metadata version = %q, want v4.0.30319", clr.MetadataHeader.Version)
	}
	if len(clr.StreamHeaders) != 2 {
		t.Fatalf("stream headers = %+v, want 2", clr.StreamHeaders)
	}
	if clr.StreamHeaders[0].Name != "#~" || clr.StreamHeaders[1].Name != "#Strings" {
		t.Errorf("stream names = %q/%q, want #~ and #Strings",
			clr.StreamHeaders[0].Name, clr.StreamHeaders[1].Name)
	}
	if got := clr.MetadataStreams["#~"]; len(got) != 0x10 {
		t.Errorf("#~ stream size = %d, want 0x10", len(got))
	}
}
