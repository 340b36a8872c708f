// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// ImageBoundImportDescriptor is IMAGE_BOUND_IMPORT_DESCRIPTOR.
type ImageBoundImportDescriptor struct {
	TimeDateStamp               uint32
	OffsetModuleName            uint16
	NumberOfModuleForwarderRefs uint16
}

// ImageBoundForwardedRef is IMAGE_BOUND_FORWARDER_REF.
type ImageBoundForwardedRef struct {
	TimeDateStamp    uint32
	OffsetModuleName uint16
	Reserved         uint16
}

// BoundForwardedRef is one forwarded-module reference within a bound
// import descriptor.
type BoundForwardedRef struct {
	Struct ImageBoundForwardedRef `json:"struct"`
	Name   string                 `json:"name"`
}

// BoundImportDescriptor is one DLL this image was bound against at build
// time, plus any module it forwards exports to.
type BoundImportDescriptor struct {
	Struct        ImageBoundImportDescriptor `json:"struct"`
	Name          string                     `json:"name"`
	ForwardedRefs []BoundForwardedRef        `json:"forwarded_refs"`
}

// AnoBoundImportNameUnreadable is recorded when a bound-import entry's
// module name offset does not resolve to a printable, reasonably sized
// string.
var AnoBoundImportNameUnreadable = errlist.Code{
	Category: catBoundImport, Value: 1,
	Message: "bound import module name is unreadable or implausibly long",
}

// AnoBoundImportTooManyForwarders is recorded when a descriptor declares
// more forwarder refs than Options.MaxBoundImportForwarders; the tail is
// dropped.
var AnoBoundImportTooManyForwarders = errlist.Code{
	Category: catBoundImport, Value: 2,
	Message: "bound import forwarder ref count exceeds the configured cap",
}

// parseBoundImportDirectory walks the array of bound import descriptors
// at rva until the all-zero terminator. Each descriptor's and forwarded
// ref's module name is an offset counted from the start of the
// directory itself, not an RVA.
func (img *Image) parseBoundImportDirectory(ctx *loadContext, rva, size uint32) error {
	start := rva
	cur := rva

	for {
		offset := int64(img.RVAToOffset(cur))
		var hdr packed.Struct[ImageBoundImportDescriptor]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
			return err
		}
		desc := *hdr.Get()
		if desc == (ImageBoundImportDescriptor{}) {
			break
		}
		cur += uint32(packed.SizeOf[ImageBoundImportDescriptor]())

		var refs []BoundForwardedRef
		refCount := uint32(desc.NumberOfModuleForwarderRefs)
		if refCount > ctx.opts.MaxBoundImportForwarders {
			img.Anomalies.AddError(AnoBoundImportTooManyForwarders)
			refCount = ctx.opts.MaxBoundImportForwarders
		}
		for i := uint32(0); i < refCount; i++ {
			refOffset := int64(img.RVAToOffset(cur))
			var refHdr packed.Struct[ImageBoundForwardedRef]
			if err := refHdr.Deserialize(ctx.buf, refOffset, packed.LittleEndian, true); err != nil {
				break
			}
			ref := *refHdr.Get()
			cur += uint32(packed.SizeOf[ImageBoundForwardedRef]())

			name := img.StringAtRVA(start+uint32(ref.OffsetModuleName), maxDllNameLength)
			if name != "" && (len(name) > 256 || !isValidDosFilename(name)) {
				img.Anomalies.AddError(AnoBoundImportNameUnreadable)
				break
			}
			refs = append(refs, BoundForwardedRef{Struct: ref, Name: name})
		}

		name := img.StringAtRVA(start+uint32(desc.OffsetModuleName), maxDllNameLength)
		if name != "" && (len(name) > 256 || !isValidDosFilename(name)) {
			img.Anomalies.AddError(AnoBoundImportNameUnreadable)
			break
		}

		img.BoundImports = append(img.BoundImports, &BoundImportDescriptor{
			Struct:        desc,
			Name:          name,
			ForwardedRefs: refs,
		})
	}

	if len(img.BoundImports) > 0 {
		img.Info.HasBoundImp = true
	}
	return nil
}
