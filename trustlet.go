// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binaryscan/pecore/errlist"
)

// trustletSectionName is the section a trustlet's policy metadata must
// live in.
const trustletSectionName = ".tPolicy"

// trustletSectionCharacteristics is the exact characteristics mask the
// policy section must carry.
const trustletSectionCharacteristics = ImageScnMemRead | ImageScnCntInitializedData

// Exported symbol names that point at the policy metadata block.
var trustletPolicySymbols = []string{"s_IumPolicyMetadata", "__ImagePolicyMetadata"}

// TrustletPolicyEntryType selects how a policy entry's 64-bit value is
// interpreted.
type TrustletPolicyEntryType uint32

const (
	TrustletPolicyNone TrustletPolicyEntryType = iota
	TrustletPolicyBool
	TrustletPolicyInt8
	TrustletPolicyUInt8
	TrustletPolicyInt16
	TrustletPolicyUInt16
	TrustletPolicyInt32
	TrustletPolicyUInt32
	TrustletPolicyInt64
	TrustletPolicyUInt64
	TrustletPolicyAnsiString
	TrustletPolicyUnicodeString
	TrustletPolicyOverriden
)

// String names a trustlet policy value type.
func (t TrustletPolicyEntryType) String() string {
	names := map[TrustletPolicyEntryType]string{
		TrustletPolicyNone:          "None",
		TrustletPolicyBool:          "Bool",
		TrustletPolicyInt8:          "Int8",
		TrustletPolicyUInt8:         "UInt8",
		TrustletPolicyInt16:         "Int16",
		TrustletPolicyUInt16:        "UInt16",
		TrustletPolicyInt32:         "Int32",
		TrustletPolicyUInt32:        "UInt32",
		TrustletPolicyInt64:         "Int64",
		TrustletPolicyUInt64:        "UInt64",
		TrustletPolicyAnsiString:    "AnsiString",
		TrustletPolicyUnicodeString: "UnicodeString",
		TrustletPolicyOverriden:     "Overriden",
	}
	if s, ok := names[t]; ok {
		return s
	}
	return "?"
}

// TrustletPolicyEntry is one (type, policy id, value) record of the
// metadata block. For string-typed entries, Text carries the resolved
// string the value VA points at.
type TrustletPolicyEntry struct {
	Type     TrustletPolicyEntryType `json:"type"`
	PolicyID uint32                  `json:"policy_id"`
	Value    uint64                  `json:"value"`
	Text     string                  `json:"text,omitempty"`
}

// TrustletPolicy is the decoded IUM trustlet policy metadata: the version
// and application ID header plus the zero-terminated entry list.
type TrustletPolicy struct {
	errlist.List

	Version       uint8                 `json:"version"`
	ApplicationID uint64                `json:"application_id"`
	Entries       []TrustletPolicyEntry `json:"entries,omitempty"`
}

// Trustlet diagnostics.
var (
	// AnoTrustletBadSection is recorded when the policy symbol points
	// outside a section named .tPolicy with exactly readable initialized
	// data characteristics.
	AnoTrustletBadSection = errlist.Code{
		Category: catTrustlet, Value: 1,
		Message: "policy metadata is not in a conforming .tPolicy section",
	}

	// AnoTrustletBadVersion is recorded when the metadata block's version
	// byte is not 1.
	AnoTrustletBadVersion = errlist.Code{
		Category: catTrustlet, Value: 2,
		Message: "policy metadata version is not 1",
	}

	// AnoTrustletValueUnreadable is recorded, with the entry index, when a
	// string-typed entry's value VA cannot be resolved.
	AnoTrustletValueUnreadable = errlist.Code{
		Category: catTrustlet, Value: 3,
		Message: "policy entry string VA is not resolvable",
	}

	// AnoTrustletUnterminated is recorded when the entry list runs out of
	// section data before its all-zero terminator.
	AnoTrustletUnterminated = errlist.Code{
		Category: catTrustlet, Value: 4,
		Message: "policy entry list has no terminator",
	}
)

// parseTrustletPolicy looks for the IUM policy metadata export and, when
// present, decodes the block it points at. Absence of the export is the
// normal case and records nothing.
func (img *Image) parseTrustletPolicy(ctx *loadContext) {
	if img.Export == nil {
		return
	}

	var metaRVA uint32
	for _, name := range trustletPolicySymbols {
		if fn := img.Export.SymbolByName(name); fn != nil && fn.FunctionRVA != 0 {
			metaRVA = fn.FunctionRVA
			break
		}
	}
	if metaRVA == 0 {
		return
	}

	policy := &TrustletPolicy{}

	sec := img.sectionByRVA(metaRVA)
	if sec == nil || sec.String() != trustletSectionName ||
		sec.Header.Get().Characteristics != trustletSectionCharacteristics {
		policy.AddError(AnoTrustletBadSection)
	}

	head, err := img.DataAtRVA(metaRVA, 16)
	if err != nil || len(head) < 16 {
		policy.AddError(AnoTrustletUnterminated)
		img.Trustlet = policy
		return
	}
	policy.Version = head[0]
	policy.ApplicationID = binary.LittleEndian.Uint64(head[8:])
	if policy.Version != 1 {
		policy.AddError(AnoTrustletBadVersion)
	}

	imageBase := img.OptionalHeader.ImageBase()
	const maxPolicyEntries = 0x100
	cur := metaRVA + 16
	terminated := false
	for i := 0; i < maxPolicyEntries; i++ {
		raw, err := img.DataAtRVA(cur, 16)
		if err != nil || len(raw) < 16 {
			break
		}
		entry := TrustletPolicyEntry{
			Type:     TrustletPolicyEntryType(binary.LittleEndian.Uint32(raw)),
			PolicyID: binary.LittleEndian.Uint32(raw[4:]),
			Value:    binary.LittleEndian.Uint64(raw[8:]),
		}
		if entry.Type == 0 && entry.PolicyID == 0 && entry.Value == 0 {
			terminated = true
			break
		}

		switch entry.Type {
		case TrustletPolicyAnsiString, TrustletPolicyUnicodeString:
			if entry.Value < imageBase {
				policy.AddErrorIndex(AnoTrustletValueUnreadable, i)
				break
			}
			strRVA := uint32(entry.Value - imageBase)
			if entry.Type == TrustletPolicyAnsiString {
				entry.Text = img.StringAtRVA(strRVA, maxDllNameLength)
			} else {
				data, err := img.DataAtRVA(strRVA, maxDllNameLength)
				if err == nil {
					entry.Text = decodeUTF16String(data)
				}
			}
			if entry.Text == "" {
				policy.AddErrorIndex(AnoTrustletValueUnreadable, i)
			}
		}

		policy.Entries = append(policy.Entries, entry)
		cur += 16
	}
	if !terminated {
		policy.AddError(AnoTrustletUnterminated)
	}

	img.Trustlet = policy
	img.Info.HasTrustlet = true
}
