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

// Errors returned by ParseDOSHeader; these are fatal because nothing
// downstream can be decoded without a valid DOS header.
var (
	// ErrDOSMagicNotFound is returned when the file is potentially a ZM
	// executable or otherwise does not start with a recognized signature.
	ErrDOSMagicNotFound = errors.New("pe: DOS header magic not found")

	// ErrInvalidElfanewValue is returned when e_lfanew is below 4 or larger
	// than the file. Values inside the DOS header are accepted and flagged
	// with AnoPEHeaderOverlapDOSHeader.
	ErrInvalidElfanewValue = errors.New("pe: invalid e_lfanew value, probably not a PE file")
)

// AnoPEHeaderOverlapDOSHeader is recorded when e_lfanew is small enough
// that the NT headers overlap the DOS header, a tiny-PE trick.
var AnoPEHeaderOverlapDOSHeader = errlist.Code{
	Category: catImageLoader, Value: 1,
	Message: "NT headers overlap the DOS header (tiny PE)",
}

// ImageDOSHeader is the 64-byte MS-DOS stub header every PE file begins
// with, IMAGE_DOS_HEADER.
type ImageDOSHeader struct {
	Magic                    uint16
	BytesOnLastPageOfFile    uint16
	PagesInFile              uint16
	Relocations              uint16
	SizeOfHeader             uint16
	MinExtraParagraphsNeeded uint16
	MaxExtraParagraphsNeeded uint16
	InitialSS                uint16
	InitialSP                uint16
	Checksum                 uint16
	InitialIP                uint16
	InitialCS                uint16
	AddressOfRelocationTable uint16
	OverlayNumber            uint16
	ReservedWords1           [4]uint16
	OEMIdentifier            uint16
	OEMInformation           uint16
	ReservedWords2           [10]uint16
	AddressOfNewEXEHeader    uint32
}

// parseDOSHeader decodes the DOS header stub at offset 0. Every PE file
// begins with a small MS-DOS stub: the need for this arose in the early
// days of Windows, before a significant number of consumers were running
// it. When executed on a machine without Windows, the program could at
// least print out a message saying Windows was required.
func (img *Image) parseDOSHeader(ctx *loadContext) error {
	var hdr packed.Struct[ImageDOSHeader]
	if err := hdr.Deserialize(ctx.buf, 0, packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
		return err
	}
	img.DOSHeader = hdr

	magic := hdr.Get().Magic
	if magic != ImageDOSSignature && magic != ImageDOSZMSignature {
		return ErrDOSMagicNotFound
	}

	lfanew := hdr.Get().AddressOfNewEXEHeader
	if lfanew < 4 || int64(lfanew) > ctx.buf.Size() {
		return ErrInvalidElfanewValue
	}
	if lfanew <= 0x3c {
		img.Anomalies.AddError(AnoPEHeaderOverlapDOSHeader)
	}

	// The stub program (and, when present, the Rich header) lives between
	// the DOS header and e_lfanew.
	dosHeaderSize := packed.SizeOf[ImageDOSHeader]()
	if int64(lfanew) > dosHeaderSize {
		region := buffer.NewReduced(ctx.buf, dosHeaderSize, int64(lfanew)-dosHeaderSize)
		img.DOSStub.Deserialize(region, ctx.opts.CopyMemory)
	}

	img.Info.HasDOSHdr = true
	return nil
}
