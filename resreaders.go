// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"errors"

	"github.com/binaryscan/pecore/errlist"
)

// ResourceType is a well-known resource directory type ID, the first level
// of the .rsrc tree.
type ResourceType uint32

// Predefined resource types.
const (
	RTCursor       ResourceType = 1
	RTBitmap       ResourceType = 2
	RTIcon         ResourceType = 3
	RTMenu         ResourceType = 4
	RTDialog       ResourceType = 5
	RTString       ResourceType = 6
	RTFontDir      ResourceType = 7
	RTFont         ResourceType = 8
	RTAccelerator  ResourceType = 9
	RTRCData       ResourceType = 10
	RTMessageTable ResourceType = 11
	RTGroupCursor  ResourceType = 12
	RTGroupIcon    ResourceType = 14
	RTVersion      ResourceType = 16
	RTManifest     ResourceType = 24
)

// String names a predefined resource type.
func (rt ResourceType) String() string {
	names := map[ResourceType]string{
		RTCursor:       "Cursor",
		RTBitmap:       "Bitmap",
		RTIcon:         "Icon",
		RTMenu:         "Menu",
		RTDialog:       "Dialog",
		RTString:       "String",
		RTFontDir:      "FontDir",
		RTFont:         "Font",
		RTAccelerator:  "Accelerator",
		RTRCData:       "RCData",
		RTMessageTable: "MessageTable",
		RTGroupCursor:  "GroupCursor",
		RTGroupIcon:    "GroupIcon",
		RTVersion:      "Version",
		RTManifest:     "Manifest",
	}
	if s, ok := names[rt]; ok {
		return s
	}
	return "?"
}

// ErrResourceNotFound is returned when the image carries no leaf of the
// requested resource type.
var ErrResourceNotFound = errors.New("pe: resource not found")

// accelFlagEndOfTable is the modifier bit that marks the final record of
// an accelerator table.
const accelFlagEndOfTable = 0x80

// Accelerator modifier flags.
const (
	AccelFlagVirtKey = 0x01
	AccelFlagNoInval = 0x02
	AccelFlagShift   = 0x04
	AccelFlagControl = 0x08
	AccelFlagAlt     = 0x10
)

// Accelerator is one 8-byte keyboard accelerator record.
type Accelerator struct {
	Modifier uint16 `json:"modifier"`
	KeyCode  uint16 `json:"key_code"`
	Message  uint16 `json:"message"`
}

// AcceleratorTable is a decoded RT_ACCELERATOR resource leaf.
type AcceleratorTable struct {
	errlist.List

	Accelerators []Accelerator `json:"accelerators"`
}

// AnoTooManyAccelerators is recorded when the table holds more records
// than Options.MaxAcceleratorCount; the tail is dropped.
var AnoTooManyAccelerators = errlist.Code{
	Category: catAccelerator, Value: 1,
	Message: "accelerator count exceeds the configured cap",
}

// AnoAcceleratorNoTerminator is recorded when the data runs out before a
// record with the end-of-table modifier bit.
var AnoAcceleratorNoTerminator = errlist.Code{
	Category: catAccelerator, Value: 2,
	Message: "accelerator table has no end-of-table record",
}

// ParseAcceleratorTable decodes an RT_ACCELERATOR leaf: 8-byte records
// until one carries the end-of-table modifier bit, capped at max records.
func ParseAcceleratorTable(data []byte, max uint32) *AcceleratorTable {
	table := &AcceleratorTable{}
	terminated := false

	for pos := 0; pos+8 <= len(data); pos += 8 {
		if uint32(len(table.Accelerators)) >= max {
			table.AddError(AnoTooManyAccelerators)
			return table
		}
		acc := Accelerator{
			Modifier: binary.LittleEndian.Uint16(data[pos:]),
			KeyCode:  binary.LittleEndian.Uint16(data[pos+2:]),
			Message:  binary.LittleEndian.Uint16(data[pos+4:]),
		}
		table.Accelerators = append(table.Accelerators, acc)
		if acc.Modifier&accelFlagEndOfTable != 0 {
			terminated = true
			break
		}
	}
	if !terminated {
		table.AddError(AnoAcceleratorNoTerminator)
	}
	return table
}

// stringTableBundleSize is the fixed number of strings in one RT_STRING
// bundle; string IDs are (bundleID-1)*16 + index.
const stringTableBundleSize = 16

// ResourceStringTable is one decoded RT_STRING bundle of sixteen UTF-16
// Pascal strings, absent entries empty.
type ResourceStringTable struct {
	errlist.List

	Strings [stringTableBundleSize]string `json:"strings"`
}

// AnoStringTableTruncated is recorded, with the slot index, when a bundle
// ends before all sixteen length-prefixed strings were read.
var AnoStringTableTruncated = errlist.Code{
	Category: catStringTable, Value: 1,
	Message: "string table bundle is truncated",
}

// ParseStringTable decodes an RT_STRING leaf: exactly sixteen strings,
// each a 16-bit character count followed by that many UTF-16LE units.
func ParseStringTable(data []byte) *ResourceStringTable {
	table := &ResourceStringTable{}
	pos := 0
	for i := 0; i < stringTableBundleSize; i++ {
		if pos+2 > len(data) {
			table.AddErrorIndex(AnoStringTableTruncated, i)
			break
		}
		charCount := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if charCount == 0 {
			continue
		}
		if pos+charCount*2 > len(data) {
			table.AddErrorIndex(AnoStringTableTruncated, i)
			break
		}
		table.Strings[i] = decodeUTF16String(data[pos : pos+charCount*2])
		pos += charCount * 2
	}
	return table
}

// Message text encodings selected by an entry's flags word.
const (
	MessageEncodingANSI    = 0x0000
	MessageEncodingUnicode = 0x0001
	MessageEncodingUTF8    = 0x0002
)

// Message is one decoded message table entry.
type Message struct {
	ID    uint32 `json:"id"`
	Flags uint16 `json:"flags"`
	Text  string `json:"text"`
}

// MessageBlock is one (low ID, high ID, entries offset) triple of an
// RT_MESSAGETABLE resource.
type MessageBlock struct {
	LowID           uint32 `json:"low_id"`
	HighID          uint32 `json:"high_id"`
	OffsetToEntries uint32 `json:"offset_to_entries"`
}

// MessageTable is a decoded RT_MESSAGETABLE leaf.
type MessageTable struct {
	errlist.List

	Blocks   []MessageBlock `json:"blocks"`
	Messages []Message      `json:"messages"`
}

// AnoTooManyMessages is recorded when the total message count exceeds
// Options.MaxMessageCount; the rest is dropped.
var AnoTooManyMessages = errlist.Code{
	Category: catMessageTable, Value: 1,
	Message: "message count exceeds the configured cap",
}

// AnoOverlappingMessageIDs is recorded, with the block index, when a
// block's ID range overlaps an earlier block's.
var AnoOverlappingMessageIDs = errlist.Code{
	Category: catMessageTable, Value: 2,
	Message: "message blocks declare overlapping ID ranges",
}

// AnoMessageTableTruncated is recorded when a block header or entry region
// runs past the end of the data.
var AnoMessageTableTruncated = errlist.Code{
	Category: catMessageTable, Value: 3,
	Message: "message table is truncated",
}

// ParseMessageTable decodes an RT_MESSAGETABLE leaf: the block directory
// followed by each block's packed (length, flags, text) entries.
func ParseMessageTable(data []byte, max uint32) *MessageTable {
	table := &MessageTable{}
	if len(data) < 4 {
		table.AddError(AnoMessageTableTruncated)
		return table
	}
	numBlocks := binary.LittleEndian.Uint32(data)

	for i := uint32(0); i < numBlocks; i++ {
		hdrOff := 4 + int(i)*12
		if hdrOff+12 > len(data) {
			table.AddError(AnoMessageTableTruncated)
			break
		}
		block := MessageBlock{
			LowID:           binary.LittleEndian.Uint32(data[hdrOff:]),
			HighID:          binary.LittleEndian.Uint32(data[hdrOff+4:]),
			OffsetToEntries: binary.LittleEndian.Uint32(data[hdrOff+8:]),
		}
		for _, prev := range table.Blocks {
			if block.LowID <= prev.HighID && prev.LowID <= block.HighID {
				table.AddErrorIndex(AnoOverlappingMessageIDs, int(i))
				break
			}
		}
		table.Blocks = append(table.Blocks, block)

		pos := int(block.OffsetToEntries)
		for id := block.LowID; id <= block.HighID; id++ {
			if uint32(len(table.Messages)) >= max {
				table.AddError(AnoTooManyMessages)
				return table
			}
			if pos+4 > len(data) {
				table.AddError(AnoMessageTableTruncated)
				return table
			}
			length := int(binary.LittleEndian.Uint16(data[pos:]))
			flags := binary.LittleEndian.Uint16(data[pos+2:])
			if length < 4 || pos+length > len(data) {
				table.AddError(AnoMessageTableTruncated)
				return table
			}
			body := data[pos+4 : pos+length]

			var text string
			switch flags {
			case MessageEncodingUnicode:
				text = decodeUTF16String(body)
			default:
				// ANSI and UTF-8 both decode byte-wise up to the first NUL.
				end := len(body)
				for j, b := range body {
					if b == 0 {
						end = j
						break
					}
				}
				text = string(body[:end])
			}

			table.Messages = append(table.Messages, Message{ID: id, Flags: flags, Text: text})
			pos += length
		}
	}
	return table
}

// bitmapFileHeaderSize is the size of the BITMAPFILEHEADER a .bmp file
// carries but a resource leaf omits.
const bitmapFileHeaderSize = 14

// BitmapResource is a decoded RT_BITMAP leaf: the DIB bytes from the
// resource plus a synthesized file header making File a loadable .bmp.
type BitmapResource struct {
	errlist.List

	Width    int32  `json:"width"`
	Height   int32  `json:"height"`
	BitCount uint16 `json:"bit_count"`
	File     []byte `json:"file"`
}

// AnoBitmapTruncated is recorded when the leaf is too small to hold a
// BITMAPINFOHEADER.
var AnoBitmapTruncated = errlist.Code{
	Category: catBitmap, Value: 1,
	Message: "bitmap resource is smaller than its info header",
}

// ParseBitmap decodes an RT_BITMAP leaf. A bitmap resource is a .bmp file
// with the BITMAPFILEHEADER stripped; the reader synthesizes one, deriving
// the pixel-data offset from the info header size and the color table the
// info header implies.
func ParseBitmap(data []byte) *BitmapResource {
	bmp := &BitmapResource{}
	if len(data) < 40 {
		bmp.AddError(AnoBitmapTruncated)
		return bmp
	}

	headerSize := binary.LittleEndian.Uint32(data)
	bmp.Width = int32(binary.LittleEndian.Uint32(data[4:]))
	bmp.Height = int32(binary.LittleEndian.Uint32(data[8:]))
	bmp.BitCount = binary.LittleEndian.Uint16(data[14:])
	clrUsed := binary.LittleEndian.Uint32(data[32:])

	// Color table size: explicit count wins; otherwise implied by depth.
	colors := clrUsed
	if colors == 0 && bmp.BitCount <= 8 {
		colors = 1 << bmp.BitCount
	}
	offBits := uint32(bitmapFileHeaderSize) + headerSize + colors*4

	fileSize := uint32(bitmapFileHeaderSize + len(data))
	file := make([]byte, bitmapFileHeaderSize+len(data))
	file[0] = 'B'
	file[1] = 'M'
	binary.LittleEndian.PutUint32(file[2:], fileSize)
	binary.LittleEndian.PutUint32(file[10:], offBits)
	copy(file[bitmapFileHeaderSize:], data)
	bmp.File = file
	return bmp
}

// resourceLeafData reads the raw bytes of a resource leaf entry.
func (img *Image) resourceLeafData(data *ResourceDataEntry) ([]byte, error) {
	raw, err := img.DataAtRVA(data.Struct.OffsetToData, data.Struct.Size)
	if err != nil {
		return nil, err
	}
	if uint32(len(raw)) > data.Struct.Size {
		raw = raw[:data.Struct.Size]
	}
	return raw, nil
}

// firstResourceLeaf walks the three-level tree to the first leaf under the
// given type ID.
func (img *Image) firstResourceLeaf(rt ResourceType) (*ResourceDataEntry, error) {
	if img.Resources == nil {
		return nil, ErrResourceNotFound
	}
	for _, typeEntry := range img.Resources.Entries {
		if typeEntry.ID != uint32(rt) || typeEntry.Directory == nil {
			continue
		}
		for _, nameEntry := range typeEntry.Directory.Entries {
			if nameEntry.Directory == nil {
				if nameEntry.Data != nil {
					return nameEntry.Data, nil
				}
				continue
			}
			for _, langEntry := range nameEntry.Directory.Entries {
				if langEntry.Data != nil {
					return langEntry.Data, nil
				}
			}
		}
	}
	return nil, ErrResourceNotFound
}

// Accelerators decodes the image's first RT_ACCELERATOR resource.
func (img *Image) Accelerators() (*AcceleratorTable, error) {
	leaf, err := img.firstResourceLeaf(RTAccelerator)
	if err != nil {
		return nil, err
	}
	data, err := img.resourceLeafData(leaf)
	if err != nil {
		return nil, err
	}
	return ParseAcceleratorTable(data, img.opts.MaxAcceleratorCount), nil
}

// StringTable decodes the image's first RT_STRING bundle.
func (img *Image) StringTable() (*ResourceStringTable, error) {
	leaf, err := img.firstResourceLeaf(RTString)
	if err != nil {
		return nil, err
	}
	data, err := img.resourceLeafData(leaf)
	if err != nil {
		return nil, err
	}
	return ParseStringTable(data), nil
}

// MessageTable decodes the image's first RT_MESSAGETABLE resource.
func (img *Image) MessageTable() (*MessageTable, error) {
	leaf, err := img.firstResourceLeaf(RTMessageTable)
	if err != nil {
		return nil, err
	}
	data, err := img.resourceLeafData(leaf)
	if err != nil {
		return nil, err
	}
	return ParseMessageTable(data, img.opts.MaxMessageCount), nil
}

// Bitmap decodes the image's first RT_BITMAP resource into a loadable
// .bmp byte blob.
func (img *Image) Bitmap() (*BitmapResource, error) {
	leaf, err := img.firstResourceLeaf(RTBitmap)
	if err != nil {
		return nil, err
	}
	data, err := img.resourceLeafData(leaf)
	if err != nil {
		return nil, err
	}
	return ParseBitmap(data), nil
}
