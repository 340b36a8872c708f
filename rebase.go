// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"errors"

	"github.com/binaryscan/pecore/errlist"
)

// ErrUnableToRebaseInexistentData is returned when a relocation targets a
// byte range that lies in the virtual tail and ignoreVirtualData is false.
var ErrUnableToRebaseInexistentData = errors.New("pe: relocation target is virtual-only data")

// AnoRebaseEntryOutOfBounds is recorded when a relocation entry's target
// RVA falls outside the image.
var AnoRebaseEntryOutOfBounds = errlist.Code{
	Category: catRebase, Value: 1,
	Message: "relocation target RVA falls outside of the image",
}

// AnoUnsupportedRelocType is recorded, with the index block*0x10000+entry,
// when a relocation entry carries a type the rebaser cannot apply.
var AnoUnsupportedRelocType = errlist.Code{
	Category: catRelocEntry, Value: 1,
	Message: "unsupported relocation type",
}

// Rebase rewrites every relocated value in the image's sections as if the
// image were loaded at newBase instead of its current ImageBase, then
// records newBase in the optional header.
//
// Two passes: the first validates that every entry's type has a defined
// apply algebra, so a single exotic entry cannot leave the image half
// rebased; the second reads, fixes up, and writes back each target. With
// ignoreVirtualData true, a target that straddles the physical edge of its
// section has only its physically present bytes rewritten; with it false
// the same entry fails with ErrUnableToRebaseInexistentData.
func (img *Image) Rebase(newBase uint64, ignoreVirtualData bool) error {
	oldBase := img.OptionalHeader.ImageBase()
	delta := newBase - oldBase

	for bi, block := range img.Relocations {
		for ei, entry := range block.Entries {
			if _, err := entry.Type.AffectedSize(); err != nil {
				img.Anomalies.AddErrorIndex(AnoUnsupportedRelocType, bi*0x10000+ei)
				return err
			}
		}
	}

	for _, block := range img.Relocations {
		for _, entry := range block.Entries {
			rva := block.Header.VirtualAddress + uint32(entry.Offset)
			if err := img.applyRelocation(rva, entry, delta, ignoreVirtualData); err != nil {
				return err
			}
		}
	}

	if img.OptionalHeader.Is64 {
		img.OptionalHeader.OH64.Get().ImageBase = newBase
	} else {
		img.OptionalHeader.OH32.Get().ImageBase = uint32(newBase)
	}
	return nil
}

// applyRelocation applies one relocation entry's delta to the bytes at rva.
func (img *Image) applyRelocation(rva uint32, entry RelocationEntry, delta uint64, ignoreVirtualData bool) error {
	size, err := entry.Type.AffectedSize()
	if err != nil || size == 0 {
		return err
	}

	value, err := img.readRelocValue(rva, size, ignoreVirtualData)
	if err != nil {
		return err
	}
	newValue, err := entry.ApplyTo(value, delta)
	if err != nil {
		return err
	}

	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, newValue)
	return img.writeAtRVA(rva, out[:size], ignoreVirtualData)
}

// readRelocValue reads a size-byte little-endian value at rva, through
// the owning section's Raw ref so a value already rewritten by an earlier
// rebase pass is read back, not the pristine backing bytes. A target whose
// tail lies beyond the physical data is read as its physical prefix
// zero-extended when allowShort is true, and rejected otherwise.
func (img *Image) readRelocValue(rva, size uint32, allowShort bool) (uint64, error) {
	s := img.sectionByRVA(rva)
	if s == nil {
		img.Anomalies.AddError(AnoRebaseEntryOutOfBounds)
		return 0, ErrUnableToRebaseInexistentData
	}
	relOffset := int64(rva - img.adjustSectionAlignment(s.Header.Get().VirtualAddress))

	data := make([]byte, size)
	n := s.Raw.Data().Read(relOffset, int(size), data)
	if uint32(n) < size && !allowShort {
		return 0, ErrUnableToRebaseInexistentData
	}
	var v uint64
	for i := int(size) - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v, nil
}

// writeAtRVA locates the section owning rva and overwrites its raw data in
// place, truncating to whatever physical bytes are actually present.
func (img *Image) writeAtRVA(rva uint32, value []byte, ignoreVirtualData bool) error {
	s := img.sectionByRVA(rva)
	if s == nil {
		return ErrOutsideBoundary
	}
	h := s.Header.Get()
	virtualAddressAdj := img.adjustSectionAlignment(h.VirtualAddress)
	relOffset := int64(rva - virtualAddressAdj)

	physical := s.Raw.PhysicalSize()
	writable := len(value)
	if relOffset+int64(writable) > physical {
		writable = int(physical - relOffset)
		if writable < 0 {
			writable = 0
		}
		if writable < len(value) && !ignoreVirtualData {
			return ErrUnableToRebaseInexistentData
		}
	}
	if writable == 0 {
		return nil
	}

	if !s.Raw.IsCopied() {
		s.Raw.CopyReferencedBuffer()
	}
	_, err := s.Raw.WriteAt(relOffset, value[:writable])
	return err
}
