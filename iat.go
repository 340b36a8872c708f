// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// IATEntry represents an entry inside the IAT.
type IATEntry struct {
	Index   uint32      `json:"index"`
	Rva     uint32      `json:"rva"`
	Value   interface{} `json:"value,omitempty"`
	Meaning string      `json:"meaning"`
}

// The structure and content of the import address table are identical to
// those of the import lookup table, until the file is bound. During
// binding, the entries in the import address table are overwritten with
// the 32-bit (for PE32) or 64-bit (for PE32+) addresses of the symbols
// being imported.
//
// parseIATDirectory walks the raw IAT slots and annotates each one with
// the DLL!Function it corresponds to, by matching thunk RVAs already
// resolved in img.Imports.
func (img *Image) parseIATDirectory(ctx *loadContext, rva, size uint32) error {
	meaning := make(map[uint32]string)
	for _, imp := range img.Imports {
		for _, fn := range imp.Functions {
			if fn.ThunkRVA != 0 {
				meaning[fn.ThunkRVA] = imp.Name + "!" + fn.Name
			}
		}
	}

	entrySize := uint32(4)
	if img.OptionalHeader.Is64 {
		entrySize = 8
	}

	var entries []IATEntry
	cur := rva
	var index uint32
	for cur+entrySize <= rva+size {
		data, err := img.DataAtRVA(cur, entrySize)
		if err != nil || uint32(len(data)) < entrySize {
			break
		}
		ie := IATEntry{Index: index, Rva: cur}
		if entrySize == 8 {
			ie.Value = binary.LittleEndian.Uint64(data)
		} else {
			ie.Value = binary.LittleEndian.Uint32(data)
		}
		ie.Meaning = meaning[cur]
		entries = append(entries, ie)
		cur += entrySize
		index++
	}

	img.IAT = entries
	img.Info.HasIAT = true
	return nil
}
