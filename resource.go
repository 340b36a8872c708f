// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// maxResourceEntries bounds the number of entries read out of a single
// resource directory table, independent of the tree-depth bound.
const maxResourceEntries = 0x1000

// ImageResourceDirectory is IMAGE_RESOURCE_DIRECTORY.
type ImageResourceDirectory struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIDEntries    uint16
}

// ImageResourceDirectoryEntry is IMAGE_RESOURCE_DIRECTORY_ENTRY.
type ImageResourceDirectoryEntry struct {
	Name         uint32
	OffsetToData uint32
}

// ImageResourceDataEntry is IMAGE_RESOURCE_DATA_ENTRY.
type ImageResourceDataEntry struct {
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
	Reserved     uint32
}

// ResourceDataEntry is a leaf resource: the raw data entry plus the
// language/sub-language pair packed into its directory entry's Name.
type ResourceDataEntry struct {
	Struct  ImageResourceDataEntry `json:"struct"`
	Lang    uint32                 `json:"lang"`
	SubLang uint32                 `json:"sub_lang"`
}

// ResourceDirectoryEntry is one entry of a resource directory table:
// either a named or numeric ID identifying either a nested
// ResourceDirectory or a leaf ResourceDataEntry.
type ResourceDirectoryEntry struct {
	Struct        ImageResourceDirectoryEntry `json:"struct"`
	Name          string                      `json:"name,omitempty"`
	ID            uint32                      `json:"id"`
	IsResourceDir bool                        `json:"is_resource_dir"`
	Directory     *ResourceDirectory          `json:"directory,omitempty"`
	Data          *ResourceDataEntry          `json:"data,omitempty"`

	// BackReferenceRVA is set instead of Directory when the subdirectory
	// offset points at a node already on the walk path; the tree stays a
	// tree and the cycle is recorded as the bare RVA.
	BackReferenceRVA uint32 `json:"back_reference_rva,omitempty"`
}

// ResourceDirectory is a decoded resource directory table (type,
// name, or language level of the three-level .rsrc tree) plus its
// entries.
type ResourceDirectory struct {
	Struct  ImageResourceDirectory    `json:"struct"`
	Entries []ResourceDirectoryEntry  `json:"entries"`
}

// ErrResourceCycle is recorded on Image.Anomalies when the resource
// directory tree self-references, either directly or by exceeding
// Options.MaxResourceDepth.
var ErrResourceCycle = errlist.Code{
	Category: catResourceReader, Value: 1,
	Message: "resource directory tree exceeds the maximum depth or self-references",
}

// parseResourceDirectory decodes the three-level .rsrc tree (type, name,
// language) rooted at rva, guarding against cyclic self-references and
// excessive depth via ctx.opts.MaxResourceDepth.
func (img *Image) parseResourceDirectory(ctx *loadContext, rva, size uint32) error {
	visited := map[uint32]bool{}
	dir, err := img.doParseResourceDirectory(ctx, rva, rva, 0, visited)
	if err != nil {
		return err
	}
	img.Resources = dir
	img.Info.HasResource = true
	return nil
}

func (img *Image) doParseResourceDirectory(ctx *loadContext, rva, baseRVA uint32, depth uint32, visited map[uint32]bool) (*ResourceDirectory, error) {
	if depth > ctx.opts.MaxResourceDepth {
		img.Anomalies.AddError(ErrResourceCycle)
		return nil, nil
	}
	if visited[rva] {
		img.Anomalies.AddError(ErrResourceCycle)
		return nil, nil
	}
	visited[rva] = true

	offset := int64(img.RVAToOffset(rva))
	var hdr packed.Struct[ImageResourceDirectory]
	if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
		return nil, err
	}
	resDir := *hdr.Get()
	dirSize := uint32(packed.SizeOf[ImageResourceDirectory]())
	entryRVA := rva + dirSize

	count := int(resDir.NumberOfNamedEntries) + int(resDir.NumberOfIDEntries)
	if count > maxResourceEntries {
		return &ResourceDirectory{Struct: resDir}, nil
	}

	entrySize := uint32(packed.SizeOf[ImageResourceDirectoryEntry]())
	var entries []ResourceDirectoryEntry
	for i := 0; i < count; i++ {
		eOffset := int64(img.RVAToOffset(entryRVA))
		var eHdr packed.Struct[ImageResourceDirectoryEntry]
		if err := eHdr.Deserialize(ctx.buf, eOffset, packed.LittleEndian, true); err != nil {
			break
		}
		res := *eHdr.Get()
		entryRVA += entrySize

		nameIsString := res.Name&0x80000000 != 0
		var entryName string
		var entryID uint32
		if !nameIsString {
			entryID = res.Name
		} else {
			nameOffset := res.Name & 0x7FFFFFFF
			lenData, err := img.DataAtRVA(baseRVA+nameOffset, 2)
			if err != nil || len(lenData) < 2 {
				break
			}
			strLen := binary.LittleEndian.Uint16(lenData)
			strData, err := img.DataAtRVA(baseRVA+nameOffset+2, uint32(strLen)*2)
			if err == nil {
				entryName = decodeUTF16String(strData)
			}
		}

		dataIsDirectory := res.OffsetToData&0x80000000 != 0
		offsetToDirectory := res.OffsetToData & 0x7FFFFFFF

		entry := ResourceDirectoryEntry{
			Struct: res,
			Name:   entryName,
			ID:     entryID,
		}

		if dataIsDirectory {
			entry.IsResourceDir = true
			subRVA := baseRVA + offsetToDirectory
			if visited[subRVA] {
				entry.BackReferenceRVA = subRVA
				img.Anomalies.AddError(ErrResourceCycle)
				entries = append(entries, entry)
				continue
			}
			sub, err := img.doParseResourceDirectory(ctx, subRVA, baseRVA, depth+1, visited)
			if err != nil {
				break
			}
			entry.Directory = sub
		} else {
			dataEntry, err := img.parseResourceDataEntry(ctx, baseRVA+offsetToDirectory)
			if err != nil {
				break
			}
			entry.Data = &ResourceDataEntry{
				Struct:  dataEntry,
				Lang:    res.Name & 0x3ff,
				SubLang: res.Name >> 10,
			}
		}
		entries = append(entries, entry)
	}

	return &ResourceDirectory{Struct: resDir, Entries: entries}, nil
}

func (img *Image) parseResourceDataEntry(ctx *loadContext, rva uint32) (ImageResourceDataEntry, error) {
	offset := int64(img.RVAToOffset(rva))
	var hdr packed.Struct[ImageResourceDataEntry]
	if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
		return ImageResourceDataEntry{}, err
	}
	return *hdr.Get(), nil
}

// decodeUTF16String decodes a NUL-terminated (or full-length) little
// endian UTF-16 byte string.
func decodeUTF16String(b []byte) string {
	n := len(b)
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			n = i
			break
		}
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(b[:n])
	if err != nil {
		return ""
	}
	return string(s)
}
