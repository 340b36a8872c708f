// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binaryscan/pecore/errlist"
)

// vsFixedFileInfoSignature identifies a valid VS_FIXEDFILEINFO block.
const vsFixedFileInfoSignature = 0xFEEF04BD

// VsFixedFileInfo is VS_FIXEDFILEINFO, the language-independent version
// numbers of an RT_VERSION resource.
type VsFixedFileInfo struct {
	Signature        uint32 `json:"signature"`
	StrucVersion     uint32 `json:"struc_version"`
	FileVersionMS    uint32 `json:"file_version_ms"`
	FileVersionLS    uint32 `json:"file_version_ls"`
	ProductVersionMS uint32 `json:"product_version_ms"`
	ProductVersionLS uint32 `json:"product_version_ls"`
	FileFlagsMask    uint32 `json:"file_flags_mask"`
	FileFlags        uint32 `json:"file_flags"`
	FileOS           uint32 `json:"file_os"`
	FileType         uint32 `json:"file_type"`
	FileSubType      uint32 `json:"file_subtype"`
	FileDateMS       uint32 `json:"file_date_ms"`
	FileDateLS       uint32 `json:"file_date_ls"`
}

// VersionInfo is a decoded RT_VERSION resource: the fixed version record
// plus the key/value pairs of every StringTable child and the
// VarFileInfo translation list.
type VersionInfo struct {
	errlist.List

	Fixed        *VsFixedFileInfo  `json:"fixed,omitempty"`
	Strings      map[string]string `json:"strings,omitempty"`
	Translations []uint32          `json:"translations,omitempty"`
}

// Version-resource diagnostics.
var (
	// AnoVersionResourceTruncated is recorded when a version block's
	// declared length runs past the end of the resource.
	AnoVersionResourceTruncated = errlist.Code{
		Category: catResourceReader, Value: 2,
		Message: "version resource block is truncated",
	}

	// AnoVersionBadFixedFileInfo is recorded when the VS_FIXEDFILEINFO
	// value does not carry the expected signature.
	AnoVersionBadFixedFileInfo = errlist.Code{
		Category: catResourceReader, Value: 3,
		Message: "fixed file info signature mismatch",
	}
)

// versionBlock is the common (Length, ValueLength, Type, szKey) prefix
// every node of a VS_VERSIONINFO tree starts with.
type versionBlock struct {
	start       int
	length      int
	valueLength int
	blockType   uint16
	key         string
	// dataOff is the 4-byte-aligned absolute offset of the block's value
	// (or first child).
	dataOff int
}

// end is the absolute offset one past the block's last byte, clipped to
// the resource data.
func (b versionBlock) end(data []byte) int {
	e := b.start + b.length
	if e > len(data) {
		e = len(data)
	}
	return e
}

func align4(n int) int { return (n + 3) &^ 3 }

// parseVersionBlock reads the block header at data[pos:] and returns it
// with ok=false when the header or its key string is malformed.
func parseVersionBlock(data []byte, pos int) (versionBlock, bool) {
	if pos+6 > len(data) {
		return versionBlock{}, false
	}
	b := versionBlock{
		start:       pos,
		length:      int(binary.LittleEndian.Uint16(data[pos:])),
		valueLength: int(binary.LittleEndian.Uint16(data[pos+2:])),
		blockType:   binary.LittleEndian.Uint16(data[pos+4:]),
	}
	if b.length == 0 || pos+b.length > len(data) {
		return versionBlock{}, false
	}

	keyStart := pos + 6
	keyEnd := keyStart
	for keyEnd+1 < pos+b.length {
		if data[keyEnd] == 0 && data[keyEnd+1] == 0 {
			break
		}
		keyEnd += 2
	}
	b.key = decodeUTF16String(data[keyStart:keyEnd])
	b.dataOff = align4(keyEnd+2-pos) + pos
	return b, true
}

// ParseVersionResource decodes an RT_VERSION leaf: the VS_VERSIONINFO
// root, its VS_FIXEDFILEINFO value, and the StringFileInfo/VarFileInfo
// children.
func ParseVersionResource(data []byte) *VersionInfo {
	vi := &VersionInfo{Strings: map[string]string{}}

	root, ok := parseVersionBlock(data, 0)
	if !ok || root.key != "VS_VERSION_INFO" {
		vi.AddError(AnoVersionResourceTruncated)
		return vi
	}

	pos := root.dataOff
	if root.valueLength >= 52 && pos+52 <= len(data) {
		fixed := &VsFixedFileInfo{}
		fields := []*uint32{
			&fixed.Signature, &fixed.StrucVersion,
			&fixed.FileVersionMS, &fixed.FileVersionLS,
			&fixed.ProductVersionMS, &fixed.ProductVersionLS,
			&fixed.FileFlagsMask, &fixed.FileFlags,
			&fixed.FileOS, &fixed.FileType, &fixed.FileSubType,
			&fixed.FileDateMS, &fixed.FileDateLS,
		}
		for i, f := range fields {
			*f = binary.LittleEndian.Uint32(data[pos+i*4:])
		}
		if fixed.Signature != vsFixedFileInfoSignature {
			vi.AddError(AnoVersionBadFixedFileInfo)
		}
		vi.Fixed = fixed
	}
	pos = align4(pos + root.valueLength)

	for pos < root.end(data) {
		child, ok := parseVersionBlock(data, pos)
		if !ok {
			vi.AddError(AnoVersionResourceTruncated)
			break
		}
		switch child.key {
		case "StringFileInfo":
			vi.parseStringFileInfo(data, child)
		case "VarFileInfo":
			vi.parseVarFileInfo(data, child)
		}
		pos = align4(pos + child.length)
	}
	return vi
}

// parseStringFileInfo walks the language-keyed StringTable children and
// collects each one's key/value strings.
func (vi *VersionInfo) parseStringFileInfo(data []byte, info versionBlock) {
	pos := info.dataOff
	end := info.end(data)
	for pos < end {
		table, ok := parseVersionBlock(data, pos)
		if !ok {
			vi.AddError(AnoVersionResourceTruncated)
			return
		}

		sPos := table.dataOff
		sEnd := table.end(data)
		for sPos < sEnd {
			str, ok := parseVersionBlock(data, sPos)
			if !ok {
				vi.AddError(AnoVersionResourceTruncated)
				return
			}
			// String values are UTF-16 with ValueLength in characters.
			valStart := str.dataOff
			valEnd := valStart + str.valueLength*2
			if valEnd > sPos+str.length {
				valEnd = sPos + str.length
			}
			if valStart <= valEnd && valEnd <= len(data) {
				vi.Strings[str.key] = decodeUTF16String(data[valStart:valEnd])
			}
			sPos = align4(sPos + str.length)
		}
		pos = align4(pos + table.length)
	}
}

// parseVarFileInfo reads the Translation variable's language/codepage
// pairs.
func (vi *VersionInfo) parseVarFileInfo(data []byte, info versionBlock) {
	pos := info.dataOff
	end := info.end(data)
	for pos < end {
		v, ok := parseVersionBlock(data, pos)
		if !ok {
			vi.AddError(AnoVersionResourceTruncated)
			return
		}
		if v.key == "Translation" {
			for off := v.dataOff; off+4 <= v.dataOff+v.valueLength && off+4 <= len(data); off += 4 {
				vi.Translations = append(vi.Translations, binary.LittleEndian.Uint32(data[off:]))
			}
		}
		pos = align4(pos + v.length)
	}
}

// VersionInfo decodes the image's first RT_VERSION resource.
func (img *Image) VersionInfo() (*VersionInfo, error) {
	leaf, err := img.firstResourceLeaf(RTVersion)
	if err != nil {
		return nil, err
	}
	data, err := img.resourceLeafData(leaf)
	if err != nil {
		return nil, err
	}
	return ParseVersionResource(data), nil
}
