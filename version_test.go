// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"testing"
)

// versionNode assembles one (Length, ValueLength, Type, szKey, value,
// children) block with the wire format's 4-byte alignment rules.
func versionNode(key string, valueLen, blockType uint16, value []byte, children ...[]byte) []byte {
	var body []byte
	body = append(body, 0, 0, 0, 0, 0, 0) // header placeholder
	body = append(body, utf16Bytes(key)...)
	body = append(body, 0, 0) // key terminator
	for len(body)%4 != 0 {
		body = append(body, 0)
	}
	body = append(body, value...)
	for len(body)%4 != 0 {
		body = append(body, 0)
	}
	for _, child := range children {
		body = append(body, child...)
		for len(body)%4 != 0 {
			body = append(body, 0)
		}
	}
	binary.LittleEndian.PutUint16(body, uint16(len(body)))
	binary.LittleEndian.PutUint16(body[2:], valueLen)
	binary.LittleEndian.PutUint16(body[4:], blockType)
	return body
}

func TestParseVersionResource(t *testing.T) {
	fixed := make([]byte, 52)
	binary.LittleEndian.PutUint32(fixed, vsFixedFileInfoSignature)
	binary.LittleEndian.PutUint32(fixed[8:], 0x00020001)  // FileVersionMS 2.1
	binary.LittleEndian.PutUint32(fixed[12:], 0x00040003) // FileVersionLS 3.4

	productName := versionNode("ProductName", 5, 1, append(utf16Bytes("acme"), 0, 0))
	companyName := versionNode("CompanyName", 8, 1, append(utf16Bytes("contoso"), 0, 0))
	stringTable := versionNode("040904B0", 0, 1, nil, productName, companyName)
	stringFileInfo := versionNode("StringFileInfo", 0, 1, nil, stringTable)

	translation := make([]byte, 4)
	binary.LittleEndian.PutUint32(translation, 0x04B00409)
	varBlock := versionNode("Translation", 4, 0, translation)
	varFileInfo := versionNode("VarFileInfo", 0, 1, nil, varBlock)

	root := versionNode("VS_VERSION_INFO", 52, 0, fixed, stringFileInfo, varFileInfo)

	vi := ParseVersionResource(root)
	if vi.HasErrors() {
		t.Fatalf("unexpected errors: %+v", vi.GetErrors())
	}
	if vi.Fixed == nil {
		t.Fatal("fixed file info was not decoded")
	}
	if vi.Fixed.FileVersionMS != 0x00020001 || vi.Fixed.FileVersionLS != 0x00040003 {
		t.Errorf("file version = %#x.%#x, want 0x00020001.0x00040003",
			vi.Fixed.FileVersionMS, vi.Fixed.FileVersionLS)
	}
	if vi.Strings["ProductName"] != "acme" {
		t.Errorf("ProductName = %q, want acme", vi.Strings["ProductName"])
	}
	if vi.Strings["CompanyName"] != "contoso" {
		t.Errorf("CompanyName = %q, want contoso", vi.Strings["CompanyName"])
	}
	if len(vi.Translations) != 1 || vi.Translations[0] != 0x04B00409 {
		t.Errorf("translations = %#x, want [0x04B00409]", vi.Translations)
	}
}

func TestParseVersionResourceBadSignature(t *testing.T) {
	fixed := make([]byte, 52) // zero signature
	root := versionNode("VS_VERSION_INFO", 52, 0, fixed)

	vi := ParseVersionResource(root)
	if !vi.HasError(AnoVersionBadFixedFileInfo) {
		t.Error("a zero fixed-info signature should be diagnosed")
	}
}

func TestParseVersionResourceGarbage(t *testing.T) {
	vi := ParseVersionResource([]byte{1, 2, 3})
	if !vi.HasError(AnoVersionResourceTruncated) {
		t.Error("garbage input should be diagnosed, not crash")
	}
}
