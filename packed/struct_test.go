// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package packed

import (
	"bytes"
	"testing"

	"github.com/binaryscan/pecore/buffer"
)

type versionedRecord struct {
	Size     uint32
	Flags    uint16
	Reserved uint16
	Extended uint64
}

func TestFieldEnd(t *testing.T) {
	tests := []struct {
		field string
		want  int64
		ok    bool
	}{
		{"Size", 4, true},
		{"Flags", 6, true},
		{"Reserved", 8, true},
		{"Extended", 16, true},
		{"Missing", 0, false},
	}
	for _, tt := range tests {
		got, ok := FieldEnd[versionedRecord](tt.field)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FieldEnd(%q) = (%d, %v), want (%d, %v)", tt.field, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDeserializeUntilField(t *testing.T) {
	data := []byte{
		0x10, 0x00, 0x00, 0x00, // Size
		0x34, 0x12, // Flags
		0xFF, 0xFF, // Reserved (must not be read)
		0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, // Extended (must not be read)
	}
	in := buffer.NewBytes(data)

	var s Struct[versionedRecord]
	if err := s.DeserializeUntilField(in, 0, "Flags", LittleEndian, false); err != nil {
		t.Fatalf("DeserializeUntilField() failed: %v", err)
	}

	v := s.Get()
	if v.Size != 0x10 || v.Flags != 0x1234 {
		t.Errorf("prefix = %+v, want Size 0x10, Flags 0x1234", v)
	}
	if v.Reserved != 0 || v.Extended != 0 {
		t.Errorf("fields past the target must stay zero: %+v", v)
	}
	if s.PhysicalSize() != 6 {
		t.Errorf("PhysicalSize() = %d, want 6", s.PhysicalSize())
	}
	if !s.IsVirtual() {
		t.Error("a prefix read leaves the tail virtual")
	}
}

func TestSerializeUntilField(t *testing.T) {
	s := NewStruct(versionedRecord{Size: 0x10, Flags: 0x1234, Extended: 0xEE})

	out, err := s.SerializeUntilField("Flags", true)
	if err != nil {
		t.Fatalf("SerializeUntilField() failed: %v", err)
	}
	want := []byte{0x10, 0x00, 0x00, 0x00, 0x34, 0x12}
	if !bytes.Equal(out, want) {
		t.Errorf("SerializeUntilField() = % x, want % x", out, want)
	}

	if _, err := s.SerializeUntilField("Nope", true); err != ErrUnknownField {
		t.Errorf("unknown field error = %v, want ErrUnknownField", err)
	}
}
