// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

// trustletSection builds a .tPolicy section whose export directory
// publishes s_IumPolicyMetadata pointing at a policy block.
//
// Layout (section-relative): export directory at 0, policy metadata at
// 0x200, strings at 0x400.
func trustletSection() *sectionBuilder {
	sb := newSectionBuilder()

	// Export directory: one named export, s_IumPolicyMetadata -> 0x1200.
	sb.putUint32(12, 0x1040) // Name
	sb.putUint32(16, 1)      // Base
	sb.putUint32(20, 1)      // NumberOfFunctions
	sb.putUint32(24, 1)      // NumberOfNames
	sb.putUint32(28, 0x1050) // AddressOfFunctions
	sb.putUint32(32, 0x1060) // AddressOfNames
	sb.putUint32(36, 0x1070) // AddressOfNameOrdinals

	sb.putString(0x40, "trustlet.dll")
	sb.putUint32(0x50, 0x1200) // function 0 -> metadata
	sb.putUint32(0x60, 0x1080) // name RVA
	sb.putUint16(0x70, 0)      // ordinal index
	sb.putString(0x80, "s_IumPolicyMetadata")

	// Policy metadata block at 0x200: version 1, application ID, then a
	// bool entry, an ANSI-string entry, and the all-zero terminator.
	sb.putBytes(0x200, []byte{1}) // version
	sb.putUint64(0x208, 0x1122334455667788)

	sb.putUint32(0x210, uint32(TrustletPolicyBool))
	sb.putUint32(0x214, 7) // policy id
	sb.putUint64(0x218, 1)

	sb.putUint32(0x220, uint32(TrustletPolicyAnsiString))
	sb.putUint32(0x224, 9)
	sb.putUint64(0x228, testImageBase32+testSectionRVA+0x400)

	sb.putString(0x400, "policy-value")
	return sb
}

func TestParseTrustletPolicy(t *testing.T) {
	img := loadTestImage(t, testImageConfig{
		sectionName: trustletSectionName,
		sectionChar: trustletSectionCharacteristics,
		sectionData: trustletSection().data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryExport: {VirtualAddress: testSectionRVA, Size: 0x100},
		},
	}, nil)

	policy := img.Trustlet
	if policy == nil {
		t.Fatal("trustlet policy was not parsed")
	}
	if !img.Info.HasTrustlet {
		t.Error("HasTrustlet should be set")
	}
	if policy.Version != 1 {
		t.Errorf("version = %d, want 1", policy.Version)
	}
	if policy.ApplicationID != 0x1122334455667788 {
		t.Errorf("application ID = %#x, want 0x1122334455667788", policy.ApplicationID)
	}
	if len(policy.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(policy.Entries))
	}
	if policy.Entries[0].Type != TrustletPolicyBool || policy.Entries[0].Value != 1 {
		t.Errorf("entry 0 = %+v, want bool true", policy.Entries[0])
	}
	if policy.Entries[1].Text != "policy-value" {
		t.Errorf("entry 1 text = %q, want policy-value", policy.Entries[1].Text)
	}
	if policy.HasError(AnoTrustletBadSection) {
		t.Errorf("conforming section should not be diagnosed: %+v", policy.GetErrors())
	}
}

func TestParseTrustletBadSection(t *testing.T) {
	img := loadTestImage(t, testImageConfig{
		// Wrong name and characteristics for a policy section.
		sectionName: ".data",
		sectionChar: ImageScnCntInitializedData | ImageScnMemRead | ImageScnMemWrite,
		sectionData: trustletSection().data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryExport: {VirtualAddress: testSectionRVA, Size: 0x100},
		},
	}, nil)

	if img.Trustlet == nil {
		t.Fatal("trustlet policy should still be decoded")
	}
	if !img.Trustlet.HasError(AnoTrustletBadSection) {
		t.Error("non-conforming section should be diagnosed")
	}
}

func TestNoTrustletWithoutSymbol(t *testing.T) {
	img := loadTestImage(t, testImageConfig{}, nil)
	if img.Trustlet != nil {
		t.Error("images without the policy export must not grow a trustlet")
	}
}
