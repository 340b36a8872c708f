// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package packed

import (
	"github.com/binaryscan/pecore/buffer"
)

// ByteArray holds up to Capacity bytes with an explicit logical size that
// may be less than Capacity, used for fixed-capacity fields such as
// reserved padding or short tag arrays whose effective length is
// determined by context rather than by the array's declared maximum.
type ByteArray struct {
	Provenance
	Capacity int64
	data     []byte
}

// NewByteArray returns an empty ByteArray with the given maximum capacity.
func NewByteArray(capacity int64) ByteArray {
	return ByteArray{Capacity: capacity}
}

// Deserialize reads size bytes (size must be <= Capacity) from in at pos.
func (b *ByteArray) Deserialize(in buffer.Input, pos int64, size int64, allowVirtual bool) error {
	if size > b.Capacity {
		size = b.Capacity
	}
	b.setOffsets(in, pos)
	data, physical, err := buffer.ReadFull(in, pos, int(size), allowVirtual)
	if err != nil {
		return err
	}
	b.data = data[:physical]
	b.dataSize = size
	b.physicalSize = int64(physical)
	return nil
}

// Bytes returns the physically-present bytes.
func (b *ByteArray) Bytes() []byte { return b.data }

// Serialize returns the bytes, zero-padded to the logical size when
// writeVirtualPart is true.
func (b *ByteArray) Serialize(writeVirtualPart bool) []byte {
	if !writeVirtualPart {
		return b.data
	}
	out := make([]byte, b.dataSize)
	copy(out, b.data)
	return out
}

// ByteVector is a variable-size byte block whose virtual_size may exceed
// its physical_size, used for directory payloads read with an
// attacker/linker-controlled declared length.
type ByteVector struct {
	Provenance
	data []byte
}

// Deserialize reads up to size bytes from in at pos.
func (b *ByteVector) Deserialize(in buffer.Input, pos int64, size int64, allowVirtual bool) error {
	b.setOffsets(in, pos)
	data, physical, err := buffer.ReadFull(in, pos, int(size), allowVirtual)
	if err != nil {
		return err
	}
	b.data = data[:physical]
	b.dataSize = size
	b.physicalSize = int64(physical)
	return nil
}

// Bytes returns the physically-present bytes.
func (b *ByteVector) Bytes() []byte { return b.data }

// Serialize returns the bytes, zero-padded to the logical size when
// writeVirtualPart is true.
func (b *ByteVector) Serialize(writeVirtualPart bool) []byte {
	if !writeVirtualPart {
		return b.data
	}
	out := make([]byte, b.dataSize)
	copy(out, b.data)
	return out
}
