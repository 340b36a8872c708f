// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// AnoDelayImportUnloadThunkDiffers is recorded on an entry whose unload
// information table slot disagrees with the matching IAT slot; the unload
// table is defined as a verbatim copy of the original IAT.
var AnoDelayImportUnloadThunkDiffers = errlist.Code{
	Category: catDelayImport, Value: 1,
	Message: "address and unload table thunks differ",
}

// ImageDelayImportDescriptor is the delay-load import descriptor,
// ImgDelayDescr. Unlike the regular import descriptor, its fields were
// originally virtual addresses (Attributes == 0) before being switched to
// RVAs; both forms are still encountered in the wild.
type ImageDelayImportDescriptor struct {
	Attributes                 uint32
	Name                       uint32
	ModuleHandleRVA            uint32
	ImportAddressTableRVA      uint32
	ImportNameTableRVA         uint32
	BoundImportAddressTableRVA uint32
	UnloadInformationTableRVA  uint32
	TimeDateStamp              uint32
}

// DelayImport is one delay-loaded DLL: its name and every function the
// image resolves from it lazily, on first use.
type DelayImport struct {
	errlist.List

	Offset     uint32                     `json:"offset"`
	Name       string                     `json:"name"`
	Functions  []ImportFunction           `json:"functions"`
	Descriptor ImageDelayImportDescriptor `json:"descriptor"`
	Bound      bool                       `json:"bound"`
}

// parseDelayImportDirectory walks the array of delay-import descriptors at
// rva, terminated by an all-zero entry, the same way parseImportDirectory
// walks the regular import table.
func (img *Image) parseDelayImportDirectory(ctx *loadContext, rva, size uint32) error {
	count := uint32(0)
	for {
		if count >= maxImportDescriptors {
			img.Anomalies.AddError(AnoImportTooManyDescriptors)
			break
		}
		count++

		offset := int64(img.RVAToOffset(rva))
		var hdr packed.Struct[ImageDelayImportDescriptor]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
			return err
		}
		desc := *hdr.Get()
		if desc == (ImageDelayImportDescriptor{}) {
			break
		}

		descSize := uint32(packed.SizeOf[ImageDelayImportDescriptor]())
		rva += descSize

		// all_attributes: Attributes == 0 means the VC6-era
		// virtual-address scheme is in play rather than RVAs.
		isOldDelayImport := desc.Attributes == 0

		maxLen := uint32(img.backing.Size()) - uint32(offset)
		if rva > desc.ImportNameTableRVA || rva > desc.ImportAddressTableRVA {
			switch {
			case rva < desc.ImportNameTableRVA:
				maxLen = rva - desc.ImportAddressTableRVA
			case rva < desc.ImportAddressTableRVA:
				maxLen = rva - desc.ImportNameTableRVA
			default:
				maxLen = maxUint32(rva-desc.ImportNameTableRVA, rva-desc.ImportAddressTableRVA)
			}
		}

		di := &DelayImport{
			Offset:     uint32(offset),
			Descriptor: desc,
			Bound:      desc.TimeDateStamp == boundImportStamp,
		}

		if desc.ImportAddressTableRVA == 0 {
			if desc.ImportNameTableRVA == 0 {
				di.AddError(AnoImportZeroIATAndILT)
			} else {
				di.AddError(AnoImportZeroIAT)
			}
			img.DelayImports = append(img.DelayImports, di)
			continue
		}

		functions, err := img.resolveThunkTables(desc.ImportNameTableRVA, desc.ImportAddressTableRVA, maxLen, isOldDelayImport, di.Bound, &di.List)
		if err != nil {
			continue
		}

		// The unload information table, when present, mirrors the IAT
		// entry for entry; walk it in lockstep and flag divergence.
		if desc.UnloadInformationTableRVA != 0 {
			unload, err := img.readThunkTable(desc.UnloadInformationTableRVA, maxLen, isOldDelayImport)
			if err == nil {
				iat, _ := img.readThunkTable(desc.ImportAddressTableRVA, maxLen, isOldDelayImport)
				for i := 0; i < len(unload) && i < len(iat); i++ {
					if unload[i].addressOfData != iat[i].addressOfData {
						di.AddErrorIndex(AnoDelayImportUnloadThunkDiffers, i)
					}
				}
			}
		}

		nameRVA := desc.Name
		if isOldDelayImport {
			nameRVA -= uint32(img.OptionalHeader.ImageBase())
		}
		dllName := img.StringAtRVA(nameRVA, maxDllNameLength)
		if desc.Name != 0 && dllName == "" {
			di.AddError(AnoImportEmptyLibraryName)
		}
		if !isValidDosFilename(dllName) && !di.HasError(AnoImportEmptyLibraryName) {
			dllName = "*invalid*"
			continue
		}

		di.Name = dllName
		di.Functions = functions
		img.DelayImports = append(img.DelayImports, di)
	}

	if len(img.DelayImports) > 0 {
		img.Info.HasDelayImp = true
	}
	return nil
}
