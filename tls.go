// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// AnoInvalidCallbackVA is recorded when a TLS callback entry is a VA that
// cannot be translated to a readable RVA.
var AnoInvalidCallbackVA = errlist.Code{
	Category: catTLSLoader, Value: 1,
	Message: "TLS callback table entry is not a resolvable VA",
}

// TLSDirectoryCharacteristicsType is the alignment nibble of a TLS
// directory's Characteristics field.
type TLSDirectoryCharacteristicsType uint32

// Section alignment values packed into a TLS directory's Characteristics
// field, IMAGE_SCN_ALIGN_*_BYTES shifted into bits [23:20].
const (
	ImageSectionAlign1Bytes    TLSDirectoryCharacteristicsType = 0x00100000
	ImageSectionAlign2Bytes    TLSDirectoryCharacteristicsType = 0x00200000
	ImageSectionAlign4Bytes    TLSDirectoryCharacteristicsType = 0x00300000
	ImageSectionAlign8Bytes    TLSDirectoryCharacteristicsType = 0x00400000
	ImageSectionAlign16Bytes   TLSDirectoryCharacteristicsType = 0x00500000
	ImageSectionAlign32Bytes   TLSDirectoryCharacteristicsType = 0x00600000
	ImageSectionAlign64Bytes   TLSDirectoryCharacteristicsType = 0x00700000
	ImageSectionAlign128Bytes  TLSDirectoryCharacteristicsType = 0x00800000
	ImageSectionAlign256Bytes  TLSDirectoryCharacteristicsType = 0x00900000
	ImageSectionAlign512Bytes  TLSDirectoryCharacteristicsType = 0x00A00000
	ImageSectionAlign1024Bytes TLSDirectoryCharacteristicsType = 0x00B00000
	ImageSectionAlign2048Bytes TLSDirectoryCharacteristicsType = 0x00C00000
	ImageSectionAlign4096Bytes TLSDirectoryCharacteristicsType = 0x00D00000
	ImageSectionAlign8192Bytes TLSDirectoryCharacteristicsType = 0x00E00000
)

// ImageTLSDirectory32 is IMAGE_TLS_DIRECTORY32.
type ImageTLSDirectory32 struct {
	StartAddressOfRawData uint32
	EndAddressOfRawData   uint32
	AddressOfIndex        uint32
	AddressOfCallBacks    uint32
	SizeOfZeroFill        uint32
	Characteristics       TLSDirectoryCharacteristicsType
}

// ImageTLSDirectory64 is IMAGE_TLS_DIRECTORY64.
type ImageTLSDirectory64 struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       TLSDirectoryCharacteristicsType
}

// TLSDirectory is the decoded thread-local-storage directory: the
// bitness-appropriate descriptor plus the callback VA table walked to its
// zero terminator.
type TLSDirectory struct {
	errlist.List

	Struct32  *ImageTLSDirectory32 `json:"struct32,omitempty"`
	Struct64  *ImageTLSDirectory64 `json:"struct64,omitempty"`
	Callbacks []uint64             `json:"callbacks,omitempty"`

	// RawData is the template slab [StartAddressOfRawData,
	// EndAddressOfRawData) each new thread's TLS block is initialized
	// from, when the VAs resolve.
	RawData []byte `json:"raw_data,omitempty"`
}

// AnoInvalidTLSRawDataRange is recorded when the raw-data start/end VAs do
// not describe a readable, correctly ordered range.
var AnoInvalidTLSRawDataRange = errlist.Code{
	Category: catTLSLoader, Value: 2,
	Message: "TLS raw data range is not resolvable",
}

// maxTLSRawDataSize bounds how much of the raw-data template is captured.
const maxTLSRawDataSize = 0x100000

// parseTLSDirectory decodes the 32- or 64-bit TLS descriptor by image
// bitness, then walks AddressOfCallBacks as a zero-terminated VA array.
func (img *Image) parseTLSDirectory(ctx *loadContext, rva, size uint32) error {
	offset := int64(img.RVAToOffset(rva))
	tls := TLSDirectory{}

	var callbacksVA, rawStartVA, rawEndVA uint64
	if img.OptionalHeader.Is64 {
		var hdr packed.Struct[ImageTLSDirectory64]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
			return err
		}
		d := *hdr.Get()
		tls.Struct64 = &d
		callbacksVA = d.AddressOfCallBacks
		rawStartVA = d.StartAddressOfRawData
		rawEndVA = d.EndAddressOfRawData
	} else {
		var hdr packed.Struct[ImageTLSDirectory32]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
			return err
		}
		d := *hdr.Get()
		tls.Struct32 = &d
		callbacksVA = uint64(d.AddressOfCallBacks)
		rawStartVA = uint64(d.StartAddressOfRawData)
		rawEndVA = uint64(d.EndAddressOfRawData)
	}

	if rawStartVA != 0 || rawEndVA != 0 {
		imageBase := img.OptionalHeader.ImageBase()
		if rawStartVA < imageBase || rawEndVA < rawStartVA ||
			rawEndVA-rawStartVA > maxTLSRawDataSize {
			tls.AddError(AnoInvalidTLSRawDataRange)
		} else if rawEndVA > rawStartVA {
			data, err := img.DataAtRVA(uint32(rawStartVA-imageBase), uint32(rawEndVA-rawStartVA))
			if err != nil {
				tls.AddError(AnoInvalidTLSRawDataRange)
			} else {
				tls.RawData = data
			}
		}
	}

	if callbacksVA != 0 {
		imageBase := img.OptionalHeader.ImageBase()
		if callbacksVA < imageBase {
			tls.AddError(AnoInvalidCallbackVA)
		} else {
			rva := uint32(callbacksVA - imageBase)
			entrySize := uint32(4)
			if img.OptionalHeader.Is64 {
				entrySize = 8
			}
			for {
				data, err := img.DataAtRVA(rva, entrySize)
				if err != nil || uint32(len(data)) < entrySize {
					tls.AddError(AnoInvalidCallbackVA)
					break
				}
				var c uint64
				if entrySize == 8 {
					c = binary.LittleEndian.Uint64(data)
				} else {
					c = uint64(binary.LittleEndian.Uint32(data))
				}
				if c == 0 {
					break
				}
				tls.Callbacks = append(tls.Callbacks, c)
				rva += entrySize
			}
		}
	}

	img.TLS = &tls
	img.Info.HasTLS = true
	return nil
}

// String returns the human-readable alignment name of a TLS directory's
// Characteristics field.
func (c TLSDirectoryCharacteristicsType) String() string {
	m := map[TLSDirectoryCharacteristicsType]string{
		ImageSectionAlign1Bytes:    "Align 1-Byte",
		ImageSectionAlign2Bytes:    "Align 2-Bytes",
		ImageSectionAlign4Bytes:    "Align 4-Bytes",
		ImageSectionAlign8Bytes:    "Align 8-Bytes",
		ImageSectionAlign16Bytes:   "Align 16-Bytes",
		ImageSectionAlign32Bytes:   "Align 32-Bytes",
		ImageSectionAlign64Bytes:   "Align 64-Bytes",
		ImageSectionAlign128Bytes:  "Align 128-Bytes",
		ImageSectionAlign256Bytes:  "Align 256-Bytes",
		ImageSectionAlign512Bytes:  "Align 512-Bytes",
		ImageSectionAlign1024Bytes: "Align 1024-Bytes",
		ImageSectionAlign2048Bytes: "Align 2048-Bytes",
		ImageSectionAlign4096Bytes: "Align 4096-Bytes",
		ImageSectionAlign8192Bytes: "Align 8192-Bytes",
	}
	if v, ok := m[c]; ok {
		return v
	}
	return "?"
}
