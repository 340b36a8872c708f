// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"

	"github.com/binaryscan/pecore/buffer"
	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// ErrInvalidBaseRelocVA is returned when a relocation block's VirtualAddress
// lies outside the image.
var ErrInvalidBaseRelocVA = errors.New("pe: base relocation VirtualAddress is outside of the image")

// ErrInvalidRelocSizeOfBlock is returned when a relocation block's
// SizeOfBlock exceeds the size of the image.
var ErrInvalidRelocSizeOfBlock = errors.New("pe: base relocation SizeOfBlock too large")

// AnoTooManyRelocEntries is recorded when a relocation block's entry count
// exceeds Options.MaxRelocEntriesCount.
var AnoTooManyRelocEntries = errlist.Code{
	Category: catRelocLoader, Value: 1,
	Message: "relocation block entry count exceeds the configured cap",
}

// RelocationEntryType is the 4-bit IMAGE_REL_BASED_* type of a relocation
// record.
type RelocationEntryType uint8

const (
	RelBasedAbsolute      RelocationEntryType = 0
	RelBasedHigh          RelocationEntryType = 1
	RelBasedLow           RelocationEntryType = 2
	RelBasedHighLow       RelocationEntryType = 3
	RelBasedHighAdj       RelocationEntryType = 4
	RelBasedMIPSJmpAddr   RelocationEntryType = 5
	RelBasedReserved      RelocationEntryType = 6
	RelBasedThumbMov32    RelocationEntryType = 7
	RelBasedMIPSJmpAddr16 RelocationEntryType = 9
	RelBasedDir64         RelocationEntryType = 10
)

// ImageBaseRelocation is IMAGE_BASE_RELOCATION, the fixed 8-byte header of
// one relocation block (one per 4KiB page touched by fixups).
type ImageBaseRelocation struct {
	VirtualAddress uint32
	SizeOfBlock    uint32
}

// RelocationEntry is one 2-byte WORD of a relocation block: a 12-bit
// page-relative offset plus a 4-bit type.
type RelocationEntry struct {
	Data   uint16              `json:"data"`
	Offset uint16              `json:"offset"`
	Type   RelocationEntryType `json:"type"`

	// Param carries the paired WORD that follows a HIGHADJ entry, the
	// high 16 bits the rebase algebra adds the delta onto.
	Param uint16 `json:"param"`
}

// RelocationBlock is one parsed IMAGE_BASE_RELOCATION block plus its
// entries.
type RelocationBlock struct {
	Header  ImageBaseRelocation `json:"header"`
	Entries []RelocationEntry   `json:"entries"`
}

// parseRelocDirectory walks the sequence of relocation blocks, each
// SizeOfBlock bytes, until rva reaches the end of the directory.
func (img *Image) parseRelocDirectory(ctx *loadContext, rva, size uint32) error {
	sizeOfImage := img.OptionalHeader.SizeOfImage()
	blockHdrSize := uint32(packed.SizeOf[ImageBaseRelocation]())
	end := rva + size

	for rva < end {
		offset := int64(img.RVAToOffset(rva))
		var hdr packed.Struct[ImageBaseRelocation]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
			return err
		}
		block := *hdr.Get()

		if block.VirtualAddress > sizeOfImage {
			return ErrInvalidBaseRelocVA
		}
		if block.SizeOfBlock > sizeOfImage {
			return ErrInvalidRelocSizeOfBlock
		}
		if block.SizeOfBlock == 0 {
			break
		}

		entries := img.parseRelocEntries(ctx, offset+int64(blockHdrSize), block.SizeOfBlock-blockHdrSize)

		img.Relocations = append(img.Relocations, &RelocationBlock{
			Header:  block,
			Entries: entries,
		})

		rva += block.SizeOfBlock
	}

	if len(img.Relocations) > 0 {
		img.Info.HasReloc = true
	}
	return nil
}

// parseRelocEntries decodes the WORD array following a relocation block
// header. A HIGHADJ entry consumes the immediately following WORD as its
// Param, per the published format.
func (img *Image) parseRelocEntries(ctx *loadContext, offset int64, byteCount uint32) []RelocationEntry {
	count := byteCount / 2
	if count > img.opts.MaxRelocEntriesCount {
		img.Anomalies.AddError(AnoTooManyRelocEntries)
		count = img.opts.MaxRelocEntriesCount
	}

	entries := make([]RelocationEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		raw, _, err := buffer.ReadFull(ctx.buf, offset+int64(i)*2, 2, true)
		if err != nil || len(raw) < 2 {
			break
		}
		data := uint16(raw[0]) | uint16(raw[1])<<8

		entry := RelocationEntry{
			Data:   data,
			Offset: data & 0x0fff,
			Type:   RelocationEntryType(data >> 12),
		}

		if entry.Type == RelBasedHighAdj && i+1 < count {
			i++
			paramRaw, _, err := buffer.ReadFull(ctx.buf, offset+int64(i)*2, 2, true)
			if err == nil && len(paramRaw) == 2 {
				entry.Param = uint16(paramRaw[0]) | uint16(paramRaw[1])<<8
			}
		}

		entries = append(entries, entry)
	}
	return entries
}

// ErrUnsupportedRelocationType is returned by ApplyTo (and by the rebase
// validation pass) for types that are recognized structurally but have no
// defined apply algebra on this implementation.
var ErrUnsupportedRelocationType = errors.New("pe: relocation type cannot be applied")

// AffectedSize returns how many bytes of image data an entry of type t
// rewrites: 0 for the ABSOLUTE filler, 2 for the half-word types, 4 for
// HIGHLOW, 8 for DIR64. Types with no defined apply algebra return
// ErrUnsupportedRelocationType.
func (t RelocationEntryType) AffectedSize() (uint32, error) {
	switch t {
	case RelBasedAbsolute:
		return 0, nil
	case RelBasedHigh, RelBasedLow, RelBasedHighAdj:
		return 2, nil
	case RelBasedHighLow:
		return 4, nil
	case RelBasedDir64:
		return 8, nil
	default:
		return 0, ErrUnsupportedRelocationType
	}
}

// ApplyTo computes the fixed-up value for this entry given the original
// value at its target and the rebase delta (new base minus old base), per
// the type's algebra in the published PE format.
func (e RelocationEntry) ApplyTo(value, delta uint64) (uint64, error) {
	switch e.Type {
	case RelBasedAbsolute:
		return value, nil
	case RelBasedHigh:
		return uint64(uint16((uint32(value)<<16 + uint32(delta)) >> 16)), nil
	case RelBasedLow:
		return uint64(uint16(uint32(value) + uint32(delta))), nil
	case RelBasedHighLow:
		return uint64(uint32(value + delta)), nil
	case RelBasedHighAdj:
		combined := uint64(uint32(value)<<16) + uint64(e.Param)
		return uint64(uint16((combined + delta + 0x8000) >> 16)), nil
	case RelBasedDir64:
		return value + delta, nil
	default:
		return 0, ErrUnsupportedRelocationType
	}
}

// String returns the human-readable name of a relocation entry type.
func (t RelocationEntryType) String() string {
	names := map[RelocationEntryType]string{
		RelBasedAbsolute:      "Absolute",
		RelBasedHigh:          "High",
		RelBasedLow:           "Low",
		RelBasedHighLow:       "HighLow",
		RelBasedHighAdj:       "HighAdj",
		RelBasedReserved:      "Reserved",
		RelBasedThumbMov32:    "ThumbMov32",
		RelBasedMIPSJmpAddr16: "MIPSJmpAddr16",
		RelBasedDir64:         "Dir64",
	}
	if v, ok := names[t]; ok {
		return v
	}
	return "?"
}
