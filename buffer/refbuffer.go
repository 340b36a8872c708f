// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package buffer

import "errors"

// ErrRefNotOwned is returned by WriteAt when the Ref has not been
// materialized into an owned copy via CopyReferencedBuffer (or
// Deserialize with copyMemory=true); mutating a shared reference in place
// would corrupt whatever buffer it references.
var ErrRefNotOwned = errors.New("buffer: Ref is not an owned copy, cannot write in place")

// Ref is either a shared reference to another Input, or an owning copy of
// bytes materialized from one. Copying a Ref in the shared state is free
// (no bytes are duplicated); CopyReferencedBuffer promotes it to an owning
// copy, after which mutation of the owner is independent of the source.
type Ref struct {
	shared Input
	owned  []byte
	isOwned bool
	size    int64
	virtual int64
	offsets
}

// NewRef builds a Ref that shares src without copying its bytes.
func NewRef(src Input) *Ref {
	r := &Ref{shared: src, size: src.Size(), virtual: src.VirtualSize()}
	r.SetAbsoluteOffset(src.AbsoluteOffset())
	r.SetRelativeOffset(src.RelativeOffset())
	return r
}

// Deserialize reads the referenced data. When copyMemory is true the bytes
// are materialized immediately (an owning copy); otherwise the Ref stays a
// thin reference into src and bytes are only read on demand.
func (r *Ref) Deserialize(src Input, copyMemory bool) {
	r.shared = src
	r.size = src.Size()
	r.virtual = src.VirtualSize()
	r.SetAbsoluteOffset(src.AbsoluteOffset())
	r.SetRelativeOffset(src.RelativeOffset())
	r.isOwned = false
	r.owned = nil
	if copyMemory {
		r.CopyReferencedBuffer()
	}
}

// IsCopied reports whether this Ref owns a private copy of its bytes.
func (r *Ref) IsCopied() bool { return r.isOwned }

// Size returns the logical (including virtual) size of the referenced data.
func (r *Ref) Size() int64 { return r.size }

// VirtualSize returns the number of trailing bytes that are not physically
// present.
func (r *Ref) VirtualSize() int64 { return r.virtual }

// PhysicalSize returns the number of bytes that are physically present.
func (r *Ref) PhysicalSize() int64 { return r.size - r.virtual }

// CopyReferencedBuffer materializes the shared bytes into an owned copy.
// After this call, the Ref's data is independent of whatever it referenced.
func (r *Ref) CopyReferencedBuffer() {
	if r.isOwned {
		return
	}
	physical := r.PhysicalSize()
	buf := make([]byte, physical)
	if r.shared != nil && physical > 0 {
		r.shared.Read(0, int(physical), buf)
	}
	r.owned = buf
	r.isOwned = true
}

// Data returns an Input view of this Ref's bytes, whichever state it is in.
func (r *Ref) Data() Input {
	if r.isOwned {
		v := NewVirtual(r.owned, r.size)
		v.SetAbsoluteOffset(r.AbsoluteOffset())
		v.SetRelativeOffset(r.RelativeOffset())
		return v
	}
	return r.shared
}

// CopiedData returns the owned byte slice, panicking-free empty slice if the
// Ref has not been copied yet.
func (r *Ref) CopiedData() []byte { return r.owned }

// WriteAt overwrites the owned bytes starting at pos with data, truncating
// the write to the owned slice's length. It requires the Ref to already be
// an owned copy (see IsCopied); a shared Ref has nothing it is safe to
// mutate in place.
func (r *Ref) WriteAt(pos int64, data []byte) (int, error) {
	if !r.isOwned {
		return 0, ErrRefNotOwned
	}
	if pos < 0 || pos >= int64(len(r.owned)) {
		return 0, nil
	}
	n := copy(r.owned[pos:], data)
	return n, nil
}

// Serialize writes the full (virtual-tail-aware) contents of the Ref.
func (r *Ref) Serialize(out Output, writeVirtualData bool) {
	r.SerializeUntil(out, 0, r.size, writeVirtualData)
}

// SerializeUntil writes up to size bytes starting at offset within the
// Ref's logical data, returning the number of bytes actually written. When
// writeVirtualData is false, bytes beyond the physical end are skipped
// rather than zero-filled.
func (r *Ref) SerializeUntil(out Output, offset, size int64, writeVirtualData bool) int64 {
	if offset >= r.size {
		return 0
	}
	if size < 0 || offset+size > r.size {
		size = r.size - offset
	}
	physical := r.PhysicalSize()
	physicalEnd := physical
	if offset > physicalEnd {
		physicalEnd = offset
	}
	writable := size
	if !writeVirtualData {
		if offset+size > physical {
			writable = physical - offset
			if writable < 0 {
				writable = 0
			}
		}
	}
	if writable > 0 {
		chunk := make([]byte, writable)
		if r.isOwned {
			copy(chunk, r.owned[offset:offset+writable])
		} else if r.shared != nil {
			r.shared.Read(offset, int(writable), chunk)
		}
		out.Write(chunk)
	}
	if writeVirtualData && size > writable {
		out.Write(make([]byte, size-writable))
	}
	if !writeVirtualData {
		return writable
	}
	return size
}
