// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

// FuzzLoadBytes drives the whole decoder with arbitrary inputs; any input
// may fail to parse, but none may panic or hang.
func FuzzLoadBytes(f *testing.F) {
	f.Add(buildTestImage(testImageConfig{}))
	f.Add(buildTestImage(testImageConfig{is64: true}))
	f.Add(buildTestImage(rebaseFixture()))
	f.Add([]byte("MZ"))
	f.Add(make([]byte, TinyPESize))

	f.Fuzz(func(t *testing.T, data []byte) {
		img, err := LoadBytes(data, &Options{AllowVirtualData: true})
		if err != nil {
			return
		}
		defer img.Close()
		_, _ = img.OverlayBytes()
		_, _ = img.Checksum()
	})
}
