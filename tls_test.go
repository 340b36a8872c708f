// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"testing"
)

func TestParseTLSDirectory32(t *testing.T) {
	sb := newSectionBuilder()

	// IMAGE_TLS_DIRECTORY32 at RVA 0x1000.
	base := uint32(testImageBase32)
	sb.putUint32(0, base+testSectionRVA+0x100) // StartAddressOfRawData
	sb.putUint32(4, base+testSectionRVA+0x108) // EndAddressOfRawData
	sb.putUint32(8, base+testSectionRVA+0x200) // AddressOfIndex
	sb.putUint32(12, base+testSectionRVA+0x300) // AddressOfCallBacks

	sb.putBytes(0x100, []byte{1, 2, 3, 4, 5, 6, 7, 8}) // raw data template

	// Callback table: two VAs then the zero terminator.
	sb.putUint32(0x300, base+testSectionRVA+0x400)
	sb.putUint32(0x304, base+testSectionRVA+0x410)

	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryTLS: {VirtualAddress: testSectionRVA, Size: 24},
		},
	}, nil)

	tls := img.TLS
	if tls == nil || tls.Struct32 == nil {
		t.Fatal("TLS directory was not parsed as 32-bit")
	}
	if len(tls.Callbacks) != 2 {
		t.Fatalf("len(Callbacks) = %d, want 2", len(tls.Callbacks))
	}
	if tls.Callbacks[0] != uint64(base+testSectionRVA+0x400) {
		t.Errorf("callback 0 = %#x, want %#x", tls.Callbacks[0], base+testSectionRVA+0x400)
	}
	if !bytes.Equal(tls.RawData, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("raw data = % x, want 01..08", tls.RawData)
	}
	if tls.HasErrors() {
		t.Errorf("unexpected errors: %+v", tls.GetErrors())
	}
}

func TestParseTLSInvalidCallbackVA(t *testing.T) {
	sb := newSectionBuilder()
	// AddressOfCallBacks below the image base cannot be translated.
	sb.putUint32(12, 0x1000)

	img := loadTestImage(t, testImageConfig{
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryTLS: {VirtualAddress: testSectionRVA, Size: 24},
		},
	}, nil)

	if img.TLS == nil {
		t.Fatal("TLS directory should still be decoded")
	}
	if !img.TLS.HasError(AnoInvalidCallbackVA) {
		t.Error("an untranslatable callback VA should be diagnosed")
	}
}
