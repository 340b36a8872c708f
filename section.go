// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"math"
	"sort"
	"strings"

	"github.com/binaryscan/pecore/buffer"
	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// Section characteristics flags, IMAGE_SCN_*.
const (
	ImageScnTypeNoPad            = 0x00000008
	ImageScnCntCode               = 0x00000020
	ImageScnCntInitializedData   = 0x00000040
	ImageScnCntUninitializedData = 0x00000080
	ImageScnLnkInfo              = 0x00000200
	ImageScnLnkRemove            = 0x00000800
	ImageScnLnkComdat            = 0x00001000
	ImageScnGpRel                = 0x00008000
	ImageScnMemDiscardable       = 0x02000000
	ImageScnMemNotCached         = 0x04000000
	ImageScnMemNotPaged          = 0x08000000
	ImageScnMemShared            = 0x10000000
	ImageScnMemExecute           = 0x20000000
	ImageScnMemRead              = 0x40000000
	ImageScnMemWrite             = 0x80000000
)

// AnoNullSectionContents is recorded when a section header row is entirely
// zero-valued.
var AnoNullSectionContents = errlist.Code{
	Category: catImageLoader, Value: 6,
	Message: "section contents are null bytes",
}

// AnoSizeOfRawDataTooLarge is recorded when PointerToRawData+SizeOfRawData
// exceeds the file's size.
var AnoSizeOfRawDataTooLarge = errlist.Code{
	Category: catImageLoader, Value: 7,
	Message: "size of raw data is larger than the file",
}

// AnoPointerToRawDataBeyondFile is recorded when a section's raw data
// pointer, after alignment, points past the end of the file.
var AnoPointerToRawDataBeyondFile = errlist.Code{
	Category: catImageLoader, Value: 8,
	Message: "pointer to raw data points beyond the end of the file",
}

// AnoVirtualSizeTooLarge is recorded when a section's VirtualSize exceeds
// 256 MiB, an implausible value for a legitimate section.
var AnoVirtualSizeTooLarge = errlist.Code{
	Category: catImageLoader, Value: 9,
	Message: "virtual size is extremely large (> 256MiB)",
}

// AnoVirtualAddressBeyondLimit is recorded when a section's aligned virtual
// address exceeds 0x10000000.
var AnoVirtualAddressBeyondLimit = errlist.Code{
	Category: catImageLoader, Value: 10,
	Message: "virtual address is beyond 0x10000000",
}

// AnoRawDataNotAligned is recorded when PointerToRawData is not a multiple
// of FileAlignment.
var AnoRawDataNotAligned = errlist.Code{
	Category: catImageLoader, Value: 11,
	Message: "pointer to raw data is not a multiple of file alignment",
}

// ImageSectionHeader is IMAGE_SECTION_HEADER, one 40-byte row of the section
// table that immediately follows the optional header and data directories.
type ImageSectionHeader struct {
	Name                 [8]uint8
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// Section is a decoded section table row plus its raw data (as a
// buffer.Ref into the image's backing storage) and, optionally, entropy.
type Section struct {
	Header  packed.Struct[ImageSectionHeader]
	Raw     buffer.Ref
	Entropy float64
}

// String is the section's name with any padding NUL bytes trimmed.
func (s *Section) String() string {
	return strings.Replace(string(s.Header.Get().Name[:]), "\x00", "", -1)
}

// parseSectionHeaders decodes the section table and sorts it by virtual
// address, then attaches each section's raw data as a buffer.Ref.
func (img *Image) parseSectionHeaders(ctx *loadContext) error {
	fileHeaderSize := packed.SizeOf[ImageFileHeader]()
	optHeaderOffset := int64(img.DOSHeader.Get().AddressOfNewEXEHeader) + 4 + fileHeaderSize
	offset := optHeaderOffset + int64(img.FileHeader.Get().SizeOfOptionalHeader)

	secHeaderSize := packed.SizeOf[ImageSectionHeader]()
	numberOfSections := img.FileHeader.Get().NumberOfSections

	const maxAnomalies = 3

	for i := uint16(0); i < numberOfSections; i++ {
		var hdr packed.Struct[ImageSectionHeader]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
			return err
		}

		sec := &Section{Header: hdr}
		h := hdr.Get()
		countErr := 0

		if *h == (ImageSectionHeader{}) {
			img.Anomalies.AddErrorContext(AnoNullSectionContents, sec.String())
			countErr++
		}
		if h.SizeOfRawData+h.PointerToRawData > uint32(img.size) {
			img.Anomalies.AddErrorContext(AnoSizeOfRawDataTooLarge, sec.String())
			countErr++
		}
		if img.adjustFileAlignment(h.PointerToRawData) > uint32(img.size) {
			img.Anomalies.AddErrorContext(AnoPointerToRawDataBeyondFile, sec.String())
			countErr++
		}
		if h.VirtualSize > 0x10000000 {
			img.Anomalies.AddErrorContext(AnoVirtualSizeTooLarge, sec.String())
			countErr++
		}
		if img.adjustSectionAlignment(h.VirtualAddress) > 0x10000000 {
			img.Anomalies.AddErrorContext(AnoVirtualAddressBeyondLimit, sec.String())
			countErr++
		}
		fileAlignment := img.OptionalHeader.FileAlignment()
		if fileAlignment != 0 && h.PointerToRawData%fileAlignment != 0 {
			img.Anomalies.AddErrorContext(AnoRawDataNotAligned, sec.String())
			countErr++
		}
		if countErr >= maxAnomalies {
			break
		}

		region := buffer.NewReduced(ctx.buf, int64(h.PointerToRawData), int64(h.SizeOfRawData))
		sec.Raw.Deserialize(region, ctx.opts.CopyMemory)

		img.Sections = append(img.Sections, sec)
		offset += secHeaderSize
	}

	sort.Slice(img.Sections, func(i, j int) bool {
		return img.Sections[i].Header.Get().VirtualAddress < img.Sections[j].Header.Get().VirtualAddress
	})

	if numberOfSections > 0 && len(img.Sections) > 0 {
		offset += secHeaderSize * int64(numberOfSections)
	}

	var lowest uint32 = ^uint32(0)
	for _, sec := range img.Sections {
		if ptr := sec.Header.Get().PointerToRawData; ptr > 0 {
			if adj := img.adjustFileAlignment(ptr); adj < lowest {
				lowest = adj
			}
		}
	}
	if lowest == ^uint32(0) {
		lowest = 0
	}

	headerEnd := offset
	if lowest != 0 && lowest >= uint32(offset) {
		headerEnd = int64(lowest)
	}
	if headerEnd > ctx.buf.Size() {
		headerEnd = ctx.buf.Size()
	}
	headerRegion := buffer.NewReduced(ctx.buf, 0, headerEnd)
	img.FullHeadersBuffer.Deserialize(headerRegion, ctx.opts.CopyMemory)

	if ctx.opts.SectionEntropy {
		for _, sec := range img.Sections {
			sec.Entropy = sec.CalculateEntropy()
		}
	}

	img.Info.HasSections = true
	return nil
}

// nextHeaderAddr returns the virtual address of the section immediately
// after s in virtual-address order, or 0 if s is the last one.
func (s *Section) nextHeaderAddr(img *Image) uint32 {
	for i, cur := range img.Sections {
		if cur == s {
			if i == len(img.Sections)-1 {
				return 0
			}
			return img.Sections[i+1].Header.Get().VirtualAddress
		}
	}
	return 0
}

// Contains reports whether rva falls within s's virtual address range,
// clipped to not overlap the next section in virtual-address order.
func (s *Section) Contains(rva uint32, img *Image) bool {
	h := s.Header.Get()

	var size uint32
	adjustedPointer := img.adjustFileAlignment(h.PointerToRawData)
	if uint32(img.size)-adjustedPointer < h.SizeOfRawData {
		size = h.VirtualSize
	} else {
		size = h.SizeOfRawData
		if h.VirtualSize > size {
			size = h.VirtualSize
		}
	}
	vaAdj := img.adjustSectionAlignment(h.VirtualAddress)

	if next := s.nextHeaderAddr(img); next != 0 && next > h.VirtualAddress && vaAdj+size > next {
		size = next - vaAdj
	}

	return vaAdj <= rva && rva < vaAdj+size
}

// Data returns a data chunk from a section given an RVA and length; length
// 0 means "the rest of the section's raw data".
func (s *Section) Data(rva, length uint32, img *Image) []byte {
	h := s.Header.Get()
	pointerToRawDataAdj := img.adjustFileAlignment(h.PointerToRawData)
	virtualAddressAdj := img.adjustSectionAlignment(h.VirtualAddress)

	var offset uint32
	if rva == 0 {
		offset = pointerToRawDataAdj
	} else {
		offset = (rva - virtualAddressAdj) + pointerToRawDataAdj
	}
	if offset > uint32(img.size) {
		return nil
	}

	var end uint32
	if length != 0 {
		end = offset + length
	} else {
		end = offset + h.SizeOfRawData
	}
	if end > h.PointerToRawData+h.SizeOfRawData && h.PointerToRawData+h.SizeOfRawData > offset {
		end = h.PointerToRawData + h.SizeOfRawData
	}
	if end > uint32(img.size) {
		end = uint32(img.size)
	}
	if end < offset {
		return nil
	}

	data, _, _ := buffer.ReadFull(img.backing, int64(offset), int(end-offset), true)
	return data
}

// CalculateEntropy computes the Shannon entropy, in bits, of the section's
// raw data.
func (s *Section) CalculateEntropy() float64 {
	data := s.Raw.CopiedData()
	if data == nil {
		data = make([]byte, s.Raw.PhysicalSize())
		s.Raw.Data().Read(0, len(data), data)
	}
	if len(data) == 0 {
		return 0.0
	}

	var freq [256]uint64
	for _, b := range data {
		freq[b]++
	}

	size := float64(len(data))
	var entropy float64
	for _, c := range freq {
		if c > 0 {
			p := float64(c) / size
			entropy += p * math.Log2(p)
		}
	}
	return -entropy
}
