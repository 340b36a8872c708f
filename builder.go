// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"errors"

	"github.com/binaryscan/pecore/buffer"
	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// Image-builder failures; each one means the model cannot be laid back out
// at the offsets the headers declare.
var (
	// ErrInconsistentSectionHeadersAndData is returned when a section's
	// header and its captured raw data disagree about the section's size.
	ErrInconsistentSectionHeadersAndData = errors.New("pe: section headers and section data are inconsistent")

	// ErrInvalidSectionTableOffset is returned when the computed section
	// table offset falls outside the 32-bit file offset range.
	ErrInvalidSectionTableOffset = errors.New("pe: section table offset is invalid")
)

// AnoBuilderHeaderGap is recorded when a gap between header structures
// could not be filled from the captured header bytes and was zero-filled
// instead.
var AnoBuilderHeaderGap = errlist.Code{
	Category: catImageBuilder, Value: 1,
	Message: "header gap zero-filled, captured header bytes unavailable",
}

// Serialize lays the image model back out into out at the offsets the
// source image declared: DOS header, stub, NT headers, data directories,
// section table, then each section's raw bytes at its PointerToRawData and
// the overlay after the last section.
//
// With Options.WriteVirtualPart set, virtual tails are emitted as zeros
// instead of being skipped; with Options.FillFullHeadersDataGaps set, the
// gaps between header structures are filled from the captured
// full-headers buffer so an unmodified image round-trips byte for byte.
func (img *Image) Serialize(out buffer.Output) error {
	writeVirtual := img.opts.WriteVirtualPart
	fillGaps := img.opts.FillFullHeadersDataGaps

	out.SetWpos(0)
	out.Write(img.DOSHeader.Serialize(writeVirtual))

	if img.DOSStub.Size() > 0 {
		img.DOSStub.Serialize(out, writeVirtual)
	}

	// Pad (or seek) up to e_lfanew; a DOS stub shorter than the declared
	// header offset leaves a gap the source file may have filled with
	// arbitrary bytes.
	eLfanew := int64(img.DOSHeader.Get().AddressOfNewEXEHeader)
	if out.Wpos() < eLfanew {
		img.fillHeaderGap(out, eLfanew, fillGaps)
	}
	out.SetWpos(eLfanew)

	sig := make([]byte, 4)
	binary.LittleEndian.PutUint32(sig, img.Signature)
	out.Write(sig)

	out.Write(img.FileHeader.Serialize(writeVirtual))

	// The optional header is written at exactly SizeOfOptionalHeader
	// bytes: the bitness-specific fixed fields followed by the declared
	// data directory entries, short or long as the file header says.
	optSize := int64(img.FileHeader.Get().SizeOfOptionalHeader)
	optStart := out.Wpos()
	if img.OptionalHeader.Is64 {
		out.Write(img.OptionalHeader.OH64.SerializeUntilSize(optSize, writeVirtual))
	} else {
		out.Write(img.OptionalHeader.OH32.SerializeUntilSize(optSize, writeVirtual))
	}
	out.Write(img.DataDirectories.Serialize(writeVirtual))
	if out.Wpos() > optStart+optSize && optSize > 0 {
		// Never spill past the declared optional header size.
		out.SetWpos(optStart + optSize)
	}

	if len(img.Sections) > 0 {
		if err := img.serializeSectionTable(out, eLfanew, optSize, fillGaps, writeVirtual); err != nil {
			return err
		}
	}

	for _, s := range img.Sections {
		h := s.Header.Get()
		if h.PointerToRawData == 0 || h.SizeOfRawData == 0 {
			continue
		}
		if s.Raw.Size() != int64(h.SizeOfRawData) {
			return ErrInconsistentSectionHeadersAndData
		}
		out.SetWpos(int64(h.PointerToRawData))
		s.Raw.Serialize(out, writeVirtual)
	}

	if img.Overlay.Size() > 0 && img.OverlayOffset > 0 {
		out.SetWpos(img.OverlayOffset)
		img.Overlay.Serialize(out, writeVirtual)
	}
	return nil
}

// serializeSectionTable seeks to the canonical section table position and
// writes every section header, optionally filling the gaps before and
// after from the captured header bytes up to SizeOfHeaders.
func (img *Image) serializeSectionTable(out buffer.Output, eLfanew, optSize int64, fillGaps, writeVirtual bool) error {
	tableOffset := eLfanew + 4 + packed.SizeOf[ImageFileHeader]() + optSize
	if tableOffset < 0 || tableOffset > int64(^uint32(0)) {
		return ErrInvalidSectionTableOffset
	}

	if out.Wpos() < tableOffset {
		img.fillHeaderGap(out, tableOffset, fillGaps)
	}
	out.SetWpos(tableOffset)

	for _, s := range img.Sections {
		out.Write(s.Header.Serialize(writeVirtual))
	}

	headersEnd := int64(img.OptionalHeader.SizeOfHeaders())
	if fillGaps && out.Wpos() < headersEnd {
		img.fillHeaderGap(out, headersEnd, true)
	}
	return nil
}

// fillHeaderGap advances the write position to target, copying the bytes
// from the captured full-headers buffer when asked to (and able to), and
// zero-filling otherwise.
func (img *Image) fillHeaderGap(out buffer.Output, target int64, fromCapture bool) {
	gap := target - out.Wpos()
	if gap <= 0 {
		return
	}
	if fromCapture && img.FullHeadersBuffer.Size() >= target {
		img.FullHeadersBuffer.SerializeUntil(out, out.Wpos(), gap, true)
		return
	}
	if fromCapture {
		img.Anomalies.AddError(AnoBuilderHeaderGap)
	}
	out.Write(make([]byte, gap))
}
