// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"github.com/binaryscan/pecore/buffer"
	"github.com/binaryscan/pecore/packed"
)

// DataDirectories is the optional header's trailing array of RVA/size
// pairs. The array is allowed to hold fewer than the standard sixteen
// entries (NumberOfRvaAndSizes governs), and the final entry is allowed to
// be cut short by the end of the optional header; the short tail is
// tracked as virtual data on that entry.
type DataDirectories struct {
	entries []packed.Struct[DataDirectory]
}

// Deserialize reads count directory entries of 8 bytes each starting at
// pos. When the underlying data runs out mid-entry and allowVirtual is
// true, the trailing entry is kept with its unread fields zeroed and its
// provenance marking the missing bytes as virtual; with allowVirtual false
// the short entry fails with ErrBufferOverrun.
func (d *DataDirectories) Deserialize(in buffer.Input, pos int64, count uint32, allowVirtual bool) error {
	if count > uint32(NumberOfDirectoryEntries) {
		count = uint32(NumberOfDirectoryEntries)
	}
	entrySize := packed.SizeOf[DataDirectory]()
	d.entries = make([]packed.Struct[DataDirectory], 0, count)
	for i := uint32(0); i < count; i++ {
		var e packed.Struct[DataDirectory]
		if err := e.Deserialize(in, pos+int64(i)*entrySize, packed.LittleEndian, allowVirtual); err != nil {
			return err
		}
		d.entries = append(d.entries, e)
	}
	return nil
}

// Size returns how many directory entries the image declared.
func (d *DataDirectories) Size() int { return len(d.entries) }

// Has reports whether the image declares an entry for t at all, regardless
// of whether that entry points anywhere.
func (d *DataDirectories) Has(t DirectoryType) bool {
	return int(t) < len(d.entries)
}

// HasNonEmpty reports whether the entry for t is declared and actually
// points at data (both VirtualAddress and Size non-zero).
func (d *DataDirectories) HasNonEmpty(t DirectoryType) bool {
	if !d.Has(t) {
		return false
	}
	e := d.entries[t].Get()
	return e.VirtualAddress != 0 && e.Size != 0
}

// Get returns the entry for t, or a zero DataDirectory when the image does
// not declare one.
func (d *DataDirectories) Get(t DirectoryType) DataDirectory {
	if !d.Has(t) {
		return DataDirectory{}
	}
	return *d.entries[t].Get()
}

// Entry returns the packed wrapper for t so callers can reach its
// provenance, or nil when absent.
func (d *DataDirectories) Entry(t DirectoryType) *packed.Struct[DataDirectory] {
	if !d.Has(t) {
		return nil
	}
	return &d.entries[t]
}

// Put overwrites (or appends up to) the entry for t, growing the declared
// array as needed.
func (d *DataDirectories) Put(t DirectoryType, e DataDirectory) {
	for int(t) >= len(d.entries) {
		d.entries = append(d.entries, packed.NewStruct(DataDirectory{}))
	}
	d.entries[t].Set(e)
}

// Serialize emits the declared entries back to back. With writeVirtualPart
// false a short-read trailing entry is emitted at its physical length
// only, reproducing the truncated source; with writeVirtualPart true every
// entry is written in full, the virtual tail as zeros.
func (d *DataDirectories) Serialize(writeVirtualPart bool) []byte {
	var out []byte
	for i := range d.entries {
		out = append(out, d.entries[i].Serialize(writeVirtualPart)...)
	}
	return out
}
