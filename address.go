// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"

	"github.com/binaryscan/pecore/buffer"
	"github.com/binaryscan/pecore/errlist"
)

// FileAlignmentHardcodedValue is the value PointerToRawData is rounded
// against; values below it are rounded down to zero, per the documented
// historical loader quirk.
const FileAlignmentHardcodedValue = 0x200

// ErrOutsideBoundary is returned when an accessor is asked for data beyond
// the image's boundaries.
var ErrOutsideBoundary = errors.New("pe: reading data outside image boundary")

// ErrInvalidFileAlignment is recorded when FileAlignment exceeds the
// hardcoded minimum but isn't a power of two.
var ErrInvalidFileAlignment = errlist.Code{
	Category: catImageLoader, Value: 4,
	Message: "file alignment is not a power of two",
}

// ErrInvalidSectionAlignment is recorded when SectionAlignment doesn't
// agree with FileAlignment below the page size.
var ErrInvalidSectionAlignment = errlist.Code{
	Category: catImageLoader, Value: 5,
	Message: "section alignment disagrees with file alignment",
}

func (img *Image) adjustFileAlignment(va uint32) uint32 {
	fileAlignment := img.OptionalHeader.FileAlignment()

	if fileAlignment > FileAlignmentHardcodedValue && fileAlignment&(fileAlignment-1) != 0 {
		img.Anomalies.AddError(ErrInvalidFileAlignment)
	}
	if fileAlignment < FileAlignmentHardcodedValue {
		return va
	}
	return (va / 0x200) * 0x200
}

func (img *Image) adjustSectionAlignment(va uint32) uint32 {
	fileAlignment := img.OptionalHeader.FileAlignment()
	sectionAlignment := img.OptionalHeader.SectionAlignment()

	if fileAlignment < FileAlignmentHardcodedValue && fileAlignment != sectionAlignment {
		img.Anomalies.AddError(ErrInvalidSectionAlignment)
	}
	if sectionAlignment < 0x1000 {
		sectionAlignment = fileAlignment
	}
	if sectionAlignment != 0 && va%sectionAlignment != 0 {
		return sectionAlignment * (va / sectionAlignment)
	}
	return va
}

// sectionByRVA returns the section containing rva, or nil if none does.
func (img *Image) sectionByRVA(rva uint32) *Section {
	for _, s := range img.Sections {
		if s.Contains(rva, img) {
			return s
		}
	}
	return nil
}

// sectionByOffset returns the section containing the file offset, or nil.
func (img *Image) sectionByOffset(offset uint32) *Section {
	for _, s := range img.Sections {
		h := s.Header.Get()
		if h.PointerToRawData == 0 {
			continue
		}
		adj := img.adjustFileAlignment(h.PointerToRawData)
		if adj <= offset && offset < adj+h.SizeOfRawData {
			return s
		}
	}
	return nil
}

// RVAToOffset converts an RVA into a file offset, resolving through the
// section whose address range contains it. For an image captured from
// memory the two layouts coincide.
func (img *Image) RVAToOffset(rva uint32) uint32 {
	if img.Info.LoadedToMemory {
		return rva
	}
	s := img.sectionByRVA(rva)
	if s == nil {
		if rva < uint32(img.size) {
			return rva
		}
		return ^uint32(0)
	}
	h := s.Header.Get()
	sectionAlignment := img.adjustSectionAlignment(h.VirtualAddress)
	fileAlignment := img.adjustFileAlignment(h.PointerToRawData)
	return rva - sectionAlignment + fileAlignment
}

// OffsetToRVA converts a file offset into an RVA, resolving through the
// section whose file range contains it.
func (img *Image) OffsetToRVA(offset uint32) uint32 {
	s := img.sectionByOffset(offset)
	if s == nil {
		if len(img.Sections) == 0 {
			return offset
		}
		minAddr := ^uint32(0)
		for _, s := range img.Sections {
			vaddr := img.adjustSectionAlignment(s.Header.Get().VirtualAddress)
			if vaddr < minAddr {
				minAddr = vaddr
			}
		}
		if offset < minAddr {
			return offset
		}
		img.logger.Warn("data at offset can't be resolved to an RVA, corrupt header?")
		return ^uint32(0)
	}
	h := s.Header.Get()
	sectionAlignment := img.adjustSectionAlignment(h.VirtualAddress)
	fileAlignment := img.adjustFileAlignment(h.PointerToRawData)
	return offset - fileAlignment + sectionAlignment
}

// VAToRVA translates an absolute virtual address into an RVA relative to
// the image base. For a PE32 image the result must fit the 32-bit RVA
// range.
func (img *Image) VAToRVA(va uint64) (uint32, error) {
	imageBase := img.OptionalHeader.ImageBase()
	if va < imageBase {
		return 0, ErrOutsideBoundary
	}
	rva := va - imageBase
	if rva > 0xFFFFFFFF {
		return 0, ErrOutsideBoundary
	}
	return uint32(rva), nil
}

// sectionByName returns the first section whose trimmed name matches.
func (img *Image) sectionByName(name string) *Section {
	for _, s := range img.Sections {
		if s.String() == name {
			return s
		}
	}
	return nil
}

// DataAtRVA returns up to length bytes of data located at rva, regardless
// of which section (if any) it falls inside, mirroring the teacher's
// GetData's fallback onto the raw header/file bytes when no section
// claims the address. length == 0 means "to the end of whatever region
// claims the address".
func (img *Image) DataAtRVA(rva, length uint32) ([]byte, error) {
	s := img.sectionByRVA(rva)
	if s == nil {
		if rva < uint32(img.backing.Size()) {
			end := int64(rva) + int64(length)
			if length == 0 || end > img.backing.Size() {
				end = img.backing.Size()
			}
			data, _, err := buffer.ReadFull(img.backing, int64(rva), int(end-int64(rva)), true)
			return data, err
		}
		return nil, ErrOutsideBoundary
	}
	return s.Data(rva, length, img), nil
}

// StringAtRVA returns the NUL-terminated ASCII string located at rva,
// bounded to maxLen bytes, resolving through whichever section (if any)
// contains the address.
func (img *Image) StringAtRVA(rva, maxLen uint32) string {
	if rva == 0 {
		return ""
	}
	data, err := img.DataAtRVA(rva, maxLen)
	if err != nil || data == nil {
		return ""
	}
	end := 0
	for end < len(data) && data[end] != 0 {
		end++
	}
	return string(data[:end])
}
