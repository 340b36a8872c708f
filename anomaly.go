// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"time"

	"github.com/binaryscan/pecore/buffer"
	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// Anomalies in the file/optional header that don't prevent the Windows
// loader from loading the file, but are useful signal for malware
// analysis.
var (
	AnoNumberOfSections10Plus = errlist.Code{Category: catImageLoader, Value: 20,
		Message: "number of sections is 10+"}
	AnoPETimeStampNull = errlist.Code{Category: catImageLoader, Value: 21,
		Message: "file header timestamp is 0"}
	AnoPETimeStampFuture = errlist.Code{Category: catImageLoader, Value: 22,
		Message: "file header timestamp is more than a day in the future"}
	AnoNumberOfSectionsNull = errlist.Code{Category: catImageLoader, Value: 23,
		Message: "number of sections is 0"}
	AnoSizeOfOptionalHeaderNull = errlist.Code{Category: catImageLoader, Value: 24,
		Message: "size of optional header is 0"}
	AnoUncommonSizeOfOptionalHeader32 = errlist.Code{Category: catImageLoader, Value: 25,
		Message: "size of optional header is larger than 0xE0 (PE32)"}
	AnoUncommonSizeOfOptionalHeader64 = errlist.Code{Category: catImageLoader, Value: 26,
		Message: "size of optional header is larger than 0xF0 (PE32+)"}
	AnoAddressOfEntryPointNull = errlist.Code{Category: catImageLoader, Value: 27,
		Message: "address of entry point is 0"}
	AnoAddressOfEPLessSizeOfHeaders = errlist.Code{Category: catImageLoader, Value: 28,
		Message: "address of entry point is smaller than size of headers, the file cannot run under Windows 8+"}
	AnoImageBaseNull = errlist.Code{Category: catImageLoader, Value: 29,
		Message: "image base is 0"}
	AnoInvalidSizeOfImage = errlist.Code{Category: catImageLoader, Value: 30,
		Message: "size of image is not a multiple of section alignment"}
	AnoMajorSubsystemVersion = errlist.Code{Category: catImageLoader, Value: 31,
		Message: "major subsystem version is outside the 3-6 boundary"}
	AnonWin32VersionValue = errlist.Code{Category: catImageLoader, Value: 32,
		Message: "win32VersionValue is a reserved field, must be set to zero"}
	AnoInvalidPEChecksum = errlist.Code{Category: catImageLoader, Value: 33,
		Message: "optional header checksum does not match the computed checksum"}
	AnoNumberOfRvaAndSizes = errlist.Code{Category: catImageLoader, Value: 34,
		Message: "optional header NumberOfRvaAndSizes is not 16"}
)

// checkHeaderAnomalies runs a battery of file/optional header sanity
// checks that the Windows loader tolerates but are nonetheless uncommon
// in benign binaries.
func (img *Image) checkHeaderAnomalies() {
	fh := img.FileHeader.Get()

	if fh.NumberOfSections >= 10 {
		img.Anomalies.AddError(AnoNumberOfSections10Plus)
	}
	if fh.NumberOfSections == 0 {
		img.Anomalies.AddError(AnoNumberOfSectionsNull)
	}
	if fh.TimeDateStamp == 0 {
		img.Anomalies.AddError(AnoPETimeStampNull)
	} else {
		future := uint32(time.Now().Add(24 * time.Hour).Unix())
		if fh.TimeDateStamp > future {
			img.Anomalies.AddError(AnoPETimeStampFuture)
		}
	}
	if fh.SizeOfOptionalHeader == 0 {
		img.Anomalies.AddError(AnoSizeOfOptionalHeaderNull)
	}

	oh := &img.OptionalHeader
	if oh.Is64 {
		if fh.SizeOfOptionalHeader > uint16(packed.SizeOf[ImageOptionalHeader64]()+int64(NumberOfDirectoryEntries)*packed.SizeOf[DataDirectory]()) {
			img.Anomalies.AddError(AnoUncommonSizeOfOptionalHeader64)
		}
	} else {
		if fh.SizeOfOptionalHeader > uint16(packed.SizeOf[ImageOptionalHeader32]()+int64(NumberOfDirectoryEntries)*packed.SizeOf[DataDirectory]()) {
			img.Anomalies.AddError(AnoUncommonSizeOfOptionalHeader32)
		}
	}

	aep := oh.AddressOfEntryPoint()
	sizeOfHeaders := oh.SizeOfHeaders()
	if aep != 0 && aep < sizeOfHeaders {
		img.Anomalies.AddError(AnoAddressOfEPLessSizeOfHeaders)
	}
	if aep == 0 {
		img.Anomalies.AddError(AnoAddressOfEntryPointNull)
	}
	if oh.ImageBase() == 0 {
		img.Anomalies.AddError(AnoImageBaseNull)
	}

	sectionAlignment := oh.SectionAlignment()
	if sectionAlignment != 0 && oh.SizeOfImage()%sectionAlignment != 0 {
		img.Anomalies.AddError(AnoInvalidSizeOfImage)
	}

	var majorSubsystemVersion uint16
	var win32VersionValue uint32
	var checkSum uint32
	if oh.Is64 {
		v := oh.OH64.Get()
		majorSubsystemVersion = v.MajorSubsystemVersion
		win32VersionValue = v.Win32VersionValue
		checkSum = v.CheckSum
	} else {
		v := oh.OH32.Get()
		majorSubsystemVersion = v.MajorSubsystemVersion
		win32VersionValue = v.Win32VersionValue
		checkSum = v.CheckSum
	}

	if majorSubsystemVersion < 3 || majorSubsystemVersion > 6 {
		img.Anomalies.AddError(AnoMajorSubsystemVersion)
	}
	if win32VersionValue != 0 {
		img.Anomalies.AddError(AnonWin32VersionValue)
	}
	if checkSum != 0 {
		if computed, err := img.Checksum(); err == nil && computed != checkSum {
			img.Anomalies.AddError(AnoInvalidPEChecksum)
		}
	}
	if oh.NumberOfRvaAndSizes() != 16 {
		img.Anomalies.AddError(AnoNumberOfRvaAndSizes)
	}
}

// Checksum recomputes the PE checksum the way CheckSumMappedFile does: a
// running sum of every DWORD in the file, skipping the checksum field
// itself, folded down to 16 bits and added to the file's length.
func (img *Image) Checksum() (uint32, error) {
	size := img.backing.Size()
	data, _, err := buffer.ReadFull(img.backing, 0, int(size), true)
	if err != nil {
		return 0, err
	}

	checksumOffset := int64(img.DOSHeader.Get().AddressOfNewEXEHeader) + 4 +
		packed.SizeOf[ImageFileHeader]() + 64

	if rem := len(data) % 4; rem != 0 {
		data = append(data, make([]byte, 4-rem)...)
	}

	var checksum uint64
	const max uint64 = 0x100000000
	for i := 0; i+4 <= len(data); i += 4 {
		if int64(i) == checksumOffset {
			continue
		}
		checksum = (checksum & 0xffffffff) + uint64(binary.LittleEndian.Uint32(data[i:])) + (checksum >> 32)
		if checksum > max {
			checksum = (checksum & 0xffffffff) + (checksum >> 32)
		}
	}

	checksum = (checksum & 0xffff) + (checksum >> 16)
	checksum = checksum + (checksum >> 16)
	checksum = checksum & 0xffff
	checksum += uint64(size)

	return uint32(checksum), nil
}
