// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binaryscan/pecore/errlist"
)

// AnoInvalidGlobalPtrReg is reported when the global pointer register
// offset is outside the image.
var AnoInvalidGlobalPtrReg = errlist.Code{
	Category: catImageLoader, Value: 13,
	Message: "global pointer register offset outside of PE image",
}

// parseGlobalPtrDirectory reads the RVA of the value to be stored in the
// global pointer register. The directory's own Size field is always 0;
// the value lives directly at rva. Architectures without a global
// pointer concept (x86, amd64) zero this directory entirely.
func (img *Image) parseGlobalPtrDirectory(ctx *loadContext, rva, size uint32) error {
	data, err := img.DataAtRVA(rva, 4)
	if err != nil || len(data) < 4 {
		img.Anomalies.AddError(AnoInvalidGlobalPtrReg)
		return nil
	}
	img.GlobalPtr = binary.LittleEndian.Uint32(data)
	img.Info.HasGlobalPtr = true
	return nil
}
