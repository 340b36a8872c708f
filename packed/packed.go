// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package packed implements endian-aware (de)serialization of fixed-layout
// "packed" records: structs with no padding, walked in declaration order,
// the way the PE format's on-disk structures are laid out. It also carries
// provenance (absolute/relative offsets, buffer position, physical vs
// logical size) on every decoded value, and supports reading/writing only a
// size-bounded prefix of a record so callers can consume the fields their
// schema knows about from a structure version they've never seen.
package packed

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/binaryscan/pecore/buffer"
)

// Endian selects the byte order used to (de)serialize primitive fields.
// PE is little-endian in practice; big-endian is supported structurally.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) order() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// SizeOf returns the packed size in bytes of a value's type, computed as
// the sum of the packed sizes of its fields in declaration order. Nested
// structs and fixed-size arrays recurse; it panics on types that have no
// fixed packed layout (pointers, slices, maps, interfaces).
func SizeOf[T any]() int64 {
	var zero T
	return sizeOfType(reflect.TypeOf(zero))
}

func sizeOfType(t reflect.Type) int64 {
	switch t.Kind() {
	case reflect.Uint8, reflect.Int8:
		return 1
	case reflect.Uint16, reflect.Int16:
		return 2
	case reflect.Uint32, reflect.Int32:
		return 4
	case reflect.Uint64, reflect.Int64:
		return 8
	case reflect.Array:
		return int64(t.Len()) * sizeOfType(t.Elem())
	case reflect.Struct:
		var total int64
		for i := 0; i < t.NumField(); i++ {
			total += sizeOfType(t.Field(i).Type)
		}
		return total
	default:
		panic(fmt.Sprintf("packed: type %s has no fixed packed layout", t))
	}
}

// FieldEnd returns the packed offset one past the named field of T, i.e.
// the prefix size a reader consuming "up to and including field" needs.
// The second result is false when T has no such field.
func FieldEnd[T any](field string) (int64, bool) {
	var zero T
	t := reflect.TypeOf(zero)
	if t.Kind() != reflect.Struct {
		return 0, false
	}
	var off int64
	for i := 0; i < t.NumField(); i++ {
		size := sizeOfType(t.Field(i).Type)
		off += size
		if t.Field(i).Name == field {
			return off, true
		}
	}
	return 0, false
}

// Serialize writes v's fields, in declaration order, into a freshly
// allocated buffer sized to SizeOf[T](), using the given byte order.
func Serialize[T any](v *T, endian Endian) []byte {
	size := SizeOf[T]()
	out := make([]byte, size)
	var pos int64
	writeValue(out, &pos, reflect.ValueOf(v).Elem(), endian.order())
	return out
}

// SerializeUntilSize writes only the prefix of v's fields whose cumulative
// offset is less than n, then truncates the result to min(n, SizeOf[T]()).
// This mirrors a consumer reading/writing the prefix of a structure that
// its schema understands while a newer/older version may differ in tail
// layout.
func SerializeUntilSize[T any](v *T, n int64, endian Endian) []byte {
	full := Serialize(v, endian)
	if n < 0 {
		n = 0
	}
	if n > int64(len(full)) {
		n = int64(len(full))
	}
	return full[:n]
}

// Deserialize fills v's fields, in declaration order, from data using the
// given byte order. If data is shorter than SizeOf[T](), the unfilled tail
// of v is left at its zero value.
func Deserialize[T any](data []byte, v *T, endian Endian) {
	var pos int64
	readValue(data, &pos, reflect.ValueOf(v).Elem(), endian.order())
}

func writeValue(out []byte, pos *int64, v reflect.Value, order binary.ByteOrder) {
	switch v.Kind() {
	case reflect.Uint8:
		out[*pos] = byte(v.Uint())
		*pos++
	case reflect.Int8:
		out[*pos] = byte(v.Int())
		*pos++
	case reflect.Uint16:
		order.PutUint16(out[*pos:], uint16(v.Uint()))
		*pos += 2
	case reflect.Int16:
		order.PutUint16(out[*pos:], uint16(v.Int()))
		*pos += 2
	case reflect.Uint32:
		order.PutUint32(out[*pos:], uint32(v.Uint()))
		*pos += 4
	case reflect.Int32:
		order.PutUint32(out[*pos:], uint32(v.Int()))
		*pos += 4
	case reflect.Uint64:
		order.PutUint64(out[*pos:], v.Uint())
		*pos += 8
	case reflect.Int64:
		order.PutUint64(out[*pos:], uint64(v.Int()))
		*pos += 8
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			writeValue(out, pos, v.Index(i), order)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			writeValue(out, pos, v.Field(i), order)
		}
	default:
		panic(fmt.Sprintf("packed: cannot serialize field of kind %s", v.Kind()))
	}
}

func readValue(data []byte, pos *int64, v reflect.Value, order binary.ByteOrder) {
	remaining := int64(len(data)) - *pos
	need := sizeOfType(v.Type())
	if remaining <= 0 {
		*pos += need
		return
	}
	switch v.Kind() {
	case reflect.Uint8:
		v.SetUint(uint64(data[*pos]))
		*pos++
	case reflect.Int8:
		v.SetInt(int64(int8(data[*pos])))
		*pos++
	case reflect.Uint16:
		if remaining >= 2 {
			v.SetUint(uint64(order.Uint16(data[*pos:])))
		}
		*pos += 2
	case reflect.Int16:
		if remaining >= 2 {
			v.SetInt(int64(int16(order.Uint16(data[*pos:]))))
		}
		*pos += 2
	case reflect.Uint32:
		if remaining >= 4 {
			v.SetUint(uint64(order.Uint32(data[*pos:])))
		}
		*pos += 4
	case reflect.Int32:
		if remaining >= 4 {
			v.SetInt(int64(int32(order.Uint32(data[*pos:]))))
		}
		*pos += 4
	case reflect.Uint64:
		if remaining >= 8 {
			v.SetUint(order.Uint64(data[*pos:]))
		}
		*pos += 8
	case reflect.Int64:
		if remaining >= 8 {
			v.SetInt(int64(order.Uint64(data[*pos:])))
		}
		*pos += 8
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			readValue(data, pos, v.Index(i), order)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			readValue(data, pos, v.Field(i), order)
		}
	default:
		panic(fmt.Sprintf("packed: cannot deserialize field of kind %s", v.Kind()))
	}
}

// Provenance is embedded by every packed wrapper to record where a decoded
// value came from: the absolute file offset, the offset relative to its
// containing logical region, the position within the immediate buffer it
// was read from, and how many of its bytes were physically present versus
// implied by the virtual tail.
type Provenance struct {
	absoluteOffset int64
	relativeOffset int64
	bufferPos      int64
	physicalSize   int64
	dataSize       int64
}

// AbsoluteOffset is the byte offset from the start of the underlying source.
func (p Provenance) AbsoluteOffset() int64 { return p.absoluteOffset }

// RelativeOffset is the byte offset from the start of the containing
// logical region (e.g. a section).
func (p Provenance) RelativeOffset() int64 { return p.relativeOffset }

// BufferPos is the read position within the immediate buffer.
func (p Provenance) BufferPos() int64 { return p.bufferPos }

// PhysicalSize is the number of bytes actually read from physical storage.
func (p Provenance) PhysicalSize() int64 { return p.physicalSize }

// DataSize is the total logical size, including any virtual tail.
func (p Provenance) DataSize() int64 { return p.dataSize }

// IsVirtual reports whether any of this value's bytes lie in the virtual
// tail, i.e. physical_size < data_size.
func (p Provenance) IsVirtual() bool { return p.physicalSize < p.dataSize }

func (p *Provenance) setOffsets(in buffer.Input, pos int64) {
	p.bufferPos = pos
	p.absoluteOffset = in.AbsoluteOffset() + pos
	p.relativeOffset = in.RelativeOffset() + pos
}

// CopyMetadataFrom imports the four offsets from another provenance holder
// and clamps this value's physical_size to its own data_size.
func (p *Provenance) CopyMetadataFrom(other Provenance) {
	p.bufferPos = other.bufferPos
	p.absoluteOffset = other.absoluteOffset
	p.relativeOffset = other.relativeOffset
	p.physicalSize = other.physicalSize
	if p.physicalSize > p.dataSize {
		p.physicalSize = p.dataSize
	}
}
