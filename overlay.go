// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "errors"

// ErrNoOverlayFound is returned when an image has no trailing data past
// the last section.
var ErrNoOverlayFound = errors.New("pe: image does not have overlay data")

// OverlayBytes returns a copy of the image's overlay: any data appended
// past the end of the last section, not described by any PE structure.
// Installers and self-extracting archives commonly carry their payload
// here.
func (img *Image) OverlayBytes() ([]byte, error) {
	if img.Overlay.Size() == 0 {
		return nil, ErrNoOverlayFound
	}
	if !img.Overlay.IsCopied() {
		img.Overlay.CopyReferencedBuffer()
	}
	return img.Overlay.CopiedData(), nil
}

// OverlayLength returns the size in bytes of the image's overlay.
func (img *Image) OverlayLength() int64 {
	return img.Overlay.Size()
}
