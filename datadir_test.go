// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"testing"

	"github.com/binaryscan/pecore/buffer"
)

// Five entries, 40 logical bytes, with the last entry's size field cut
// three bytes short by the end of the data.
var dataDirFixture = []byte{
	0x10, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00,
	0x20, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00,
	0x30, 0x00, 0x00, 0x00, 0x07, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x00, 0x00,
	0x50, 0x00, 0x00, 0x00, 0x09,
}

func TestDataDirectoriesDeserialize(t *testing.T) {
	in := buffer.NewBytes(dataDirFixture)

	var dirs DataDirectories
	if err := dirs.Deserialize(in, 0, 5, true); err != nil {
		t.Fatalf("Deserialize() failed: %v", err)
	}

	if dirs.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", dirs.Size())
	}
	if !dirs.HasNonEmpty(DirectoryExport) {
		t.Error("export directory should be non-empty")
	}
	if !dirs.HasNonEmpty(DirectorySecurity) {
		t.Error("security directory should be non-empty")
	}
	if !dirs.Has(DirectoryException) {
		t.Error("exception directory entry should be declared")
	}
	if dirs.HasNonEmpty(DirectoryException) {
		t.Error("exception directory should be empty (zero VirtualAddress)")
	}
	if got := dirs.Get(DirectorySecurity).Size; got != 9 {
		t.Errorf("security directory size = %d, want 9", got)
	}
	if !dirs.Has(DirectorySecurity) || dirs.Has(DirectoryBaseReloc) {
		t.Error("declared entry count should be exactly 5")
	}

	// The truncated last entry carries a virtual tail.
	if e := dirs.Entry(DirectorySecurity); !e.IsVirtual() {
		t.Error("truncated security entry should be virtual")
	}
	if e := dirs.Entry(DirectoryExport); e.IsVirtual() {
		t.Error("fully read export entry should not be virtual")
	}
}

func TestDataDirectoriesDeserializeNoVirtual(t *testing.T) {
	in := buffer.NewBytes(dataDirFixture)
	var dirs DataDirectories
	if err := dirs.Deserialize(in, 0, 5, false); err != buffer.ErrBufferOverrun {
		t.Fatalf("Deserialize() error = %v, want ErrBufferOverrun", err)
	}
}

func TestDataDirectoriesSerialize(t *testing.T) {
	in := buffer.NewBytes(dataDirFixture)
	var dirs DataDirectories
	if err := dirs.Deserialize(in, 0, 5, true); err != nil {
		t.Fatalf("Deserialize() failed: %v", err)
	}

	physical := dirs.Serialize(false)
	if !bytes.Equal(physical, dataDirFixture) {
		t.Errorf("Serialize(false) = % x, want the original 37 bytes", physical)
	}

	full := dirs.Serialize(true)
	if len(full) != 40 {
		t.Fatalf("Serialize(true) length = %d, want 40", len(full))
	}
	if !bytes.Equal(full[:37], dataDirFixture) {
		t.Error("Serialize(true) prefix should match the original bytes")
	}
	if !bytes.Equal(full[37:], []byte{0, 0, 0}) {
		t.Errorf("Serialize(true) virtual tail = % x, want zeros", full[37:])
	}
}
