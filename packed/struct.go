// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package packed

import (
	"errors"

	"github.com/binaryscan/pecore/buffer"
)

// ErrUnknownField is returned by the until-field forms when the named
// field does not exist on T.
var ErrUnknownField = errors.New("packed: no such field")

// Struct carries a fixed-size standard-layout record of type T along with
// its provenance. It is the packed equivalent of a plain struct value: the
// wire layout is exactly SizeOf[T]() bytes in declaration order.
type Struct[T any] struct {
	Provenance
	value  T
	endian Endian
}

// NewStruct wraps a value with no provenance, as if it had just been
// constructed by an editor rather than decoded from a buffer.
func NewStruct[T any](value T) Struct[T] {
	size := SizeOf[T]()
	return Struct[T]{value: value, Provenance: Provenance{physicalSize: size, dataSize: size}}
}

// Get returns the wrapped value.
func (s *Struct[T]) Get() *T { return &s.value }

// Set replaces the wrapped value, leaving provenance untouched.
func (s *Struct[T]) Set(v T) { s.value = v }

// PackedSize returns SizeOf[T](), the full logical size of the record.
func (s *Struct[T]) PackedSize() int64 { return SizeOf[T]() }

// Deserialize reads the full packed size of T from in starting at pos. If
// fewer bytes are physically available and allowVirtual is false, it
// returns ErrBufferOverrun; otherwise the unread tail of the value is
// zero-valued and IsVirtual() becomes true.
func (s *Struct[T]) Deserialize(in buffer.Input, pos int64, endian Endian, allowVirtual bool) error {
	return s.DeserializeUntilSize(in, pos, SizeOf[T](), endian, allowVirtual)
}

// DeserializeUntilSize reads up to min(size, SizeOf[T]()) bytes of T from
// in starting at pos, padding any unfilled tail of the value with zeros.
// This is how PE's version-gated structures are read: a consumer decodes
// the prefix its schema defines and records how many bytes actually
// existed via PhysicalSize/IsVirtual.
func (s *Struct[T]) DeserializeUntilSize(in buffer.Input, pos int64, size int64, endian Endian, allowVirtual bool) error {
	full := SizeOf[T]()
	if size > full {
		size = full
	}
	s.dataSize = full
	s.setOffsets(in, pos)
	s.endian = endian

	data, physical, err := buffer.ReadFull(in, pos, int(size), allowVirtual)
	if err != nil {
		return err
	}
	s.physicalSize = int64(physical)
	padded := make([]byte, full)
	copy(padded, data)
	Deserialize(padded, &s.value, endian)
	return nil
}

// DeserializeUntilField reads T's prefix up to and including the named
// field, zero-padding everything declared after it. PE structures evolve
// by appending fields, so a consumer can bound a read by the last field
// its schema version defines.
func (s *Struct[T]) DeserializeUntilField(in buffer.Input, pos int64, field string, endian Endian, allowVirtual bool) error {
	end, ok := FieldEnd[T](field)
	if !ok {
		return ErrUnknownField
	}
	return s.DeserializeUntilSize(in, pos, end, endian, allowVirtual)
}

// SerializeUntilField returns the serialized prefix up to and including
// the named field.
func (s *Struct[T]) SerializeUntilField(field string, writeVirtualPart bool) ([]byte, error) {
	end, ok := FieldEnd[T](field)
	if !ok {
		return nil, ErrUnknownField
	}
	return s.SerializeUntilSize(end, writeVirtualPart), nil
}

// Serialize returns the full SizeOf[T]() bytes of the value when
// writeVirtualPart is true, or only the physically-present prefix
// otherwise.
func (s *Struct[T]) Serialize(writeVirtualPart bool) []byte {
	full := Serialize(&s.value, s.endian)
	if writeVirtualPart || s.physicalSize >= int64(len(full)) {
		return full
	}
	if s.physicalSize < 0 {
		return nil
	}
	return full[:s.physicalSize]
}

// SerializeUntilSize returns up to min(size, packed size) bytes of the
// serialized value.
func (s *Struct[T]) SerializeUntilSize(size int64, writeVirtualPart bool) []byte {
	full := s.Serialize(writeVirtualPart)
	if size < int64(len(full)) {
		return full[:size]
	}
	return full
}
