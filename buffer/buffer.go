// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package buffer implements the random-access byte sources and sinks that
// every decoder and encoder in pecore is built on. A buffer never panics on
// a short read: reading fewer bytes than requested is how the rest of the
// stack learns that a structure extends into the image's "virtual" tail.
package buffer

import "errors"

// ErrBufferOverrun is returned by a deserializer when a read came back
// short and the caller did not opt into virtual-tail tolerance.
var ErrBufferOverrun = errors.New("buffer: read beyond physical end of data")

// Input is a random-access byte source. Implementations must accept any
// pos/count combination and return the number of bytes actually copied into
// data, never erroring on a short read; short reads signal virtual data.
type Input interface {
	// Size returns the logical size of the buffer, which may exceed the
	// number of physically present bytes (see VirtualSize).
	Size() int64

	// VirtualSize returns how many of the trailing bytes of this buffer do
	// not physically exist and would read as zero.
	VirtualSize() int64

	// Read copies up to count bytes starting at pos into data and returns
	// the number of bytes copied. It never returns an error; a short copy
	// means the requested range overruns the physically present data.
	Read(pos int64, count int, data []byte) int

	// AbsoluteOffset is the offset of this buffer's position 0 from the
	// start of the ultimate underlying source (typically the PE file).
	AbsoluteOffset() int64

	// RelativeOffset is the offset of this buffer's position 0 from the
	// start of the logical region it represents (e.g. a section's RVA).
	RelativeOffset() int64
}

// offsets is embedded by buffer implementations to carry absolute/relative
// provenance without repeating the accessor boilerplate everywhere.
type offsets struct {
	absolute int64
	relative int64
}

// AbsoluteOffset implements Input.
func (o *offsets) AbsoluteOffset() int64 { return o.absolute }

// RelativeOffset implements Input.
func (o *offsets) RelativeOffset() int64 { return o.relative }

// SetAbsoluteOffset overrides the absolute offset, used when a buffer is
// sliced out of a larger region and needs to carry the region's base.
func (o *offsets) SetAbsoluteOffset(v int64) { o.absolute = v }

// SetRelativeOffset overrides the relative offset.
func (o *offsets) SetRelativeOffset(v int64) { o.relative = v }

// Bytes is the simplest Input: a plain in-memory slice, fully physical.
type Bytes struct {
	offsets
	data []byte
}

// NewBytes wraps data as a fully physical Input buffer.
func NewBytes(data []byte) *Bytes {
	return &Bytes{data: data}
}

// Size implements Input.
func (b *Bytes) Size() int64 { return int64(len(b.data)) }

// VirtualSize implements Input; a Bytes buffer has no virtual tail.
func (b *Bytes) VirtualSize() int64 { return 0 }

// Read implements Input.
func (b *Bytes) Read(pos int64, count int, data []byte) int {
	if pos < 0 || pos >= int64(len(b.data)) || count <= 0 {
		return 0
	}
	end := pos + int64(count)
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	n := copy(data, b.data[pos:end])
	return n
}

// Raw returns the underlying slice; callers must not mutate it unless they
// own the Bytes exclusively.
func (b *Bytes) Raw() []byte { return b.data }

// Virtual is an Input whose declared size extends past its physical bytes.
// Reads into the virtual tail return fewer bytes than requested; readers
// that pass allow_virtual_data=false will then see ErrBufferOverrun.
type Virtual struct {
	offsets
	physical []byte
	size     int64
}

// NewVirtual builds a buffer whose first len(physical) bytes are real and
// whose remaining (size - len(physical)) bytes are implicitly zero.
func NewVirtual(physical []byte, size int64) *Virtual {
	if size < int64(len(physical)) {
		size = int64(len(physical))
	}
	return &Virtual{physical: physical, size: size}
}

// Size implements Input.
func (v *Virtual) Size() int64 { return v.size }

// VirtualSize implements Input.
func (v *Virtual) VirtualSize() int64 { return v.size - int64(len(v.physical)) }

// Read implements Input. Bytes at or beyond len(physical) are not copied,
// so the caller observes a short read rather than zero-filled bytes; it is
// the caller's responsibility to zero-fill when virtual reads are allowed.
func (v *Virtual) Read(pos int64, count int, data []byte) int {
	if pos < 0 || pos >= v.size || count <= 0 {
		return 0
	}
	if pos >= int64(len(v.physical)) {
		return 0
	}
	end := pos + int64(count)
	if end > int64(len(v.physical)) {
		end = int64(len(v.physical))
	}
	return copy(data, v.physical[pos:end])
}

// Reduced is a view over [start, start+length) of another Input, adjusting
// both absolute and relative offsets so provenance still points back to the
// ultimate source.
type Reduced struct {
	offsets
	base   Input
	start  int64
	length int64
}

// NewReduced returns a view of base restricted to [start, start+length).
func NewReduced(base Input, start, length int64) *Reduced {
	r := &Reduced{base: base, start: start, length: length}
	r.SetAbsoluteOffset(base.AbsoluteOffset() + start)
	r.SetRelativeOffset(base.RelativeOffset() + start)
	return r
}

// Size implements Input.
func (r *Reduced) Size() int64 { return r.length }

// VirtualSize implements Input.
func (r *Reduced) VirtualSize() int64 {
	physicalBase := r.base.Size() - r.base.VirtualSize()
	if r.start >= physicalBase {
		return r.length
	}
	physicalInView := physicalBase - r.start
	if physicalInView >= r.length {
		return 0
	}
	return r.length - physicalInView
}

// Read implements Input.
func (r *Reduced) Read(pos int64, count int, data []byte) int {
	if pos < 0 || pos >= r.length || count <= 0 {
		return 0
	}
	if int64(count) > r.length-pos {
		count = int(r.length - pos)
	}
	return r.base.Read(r.start+pos, count, data)
}

// ReadFull reads exactly count bytes starting at pos. If allowVirtual is
// false, a short physical read is promoted to ErrBufferOverrun; otherwise
// the unread tail of data is left zeroed and the actual byte count read is
// returned alongside a nil error.
func ReadFull(in Input, pos int64, count int, allowVirtual bool) (data []byte, physicalSize int, err error) {
	data = make([]byte, count)
	n := in.Read(pos, count, data)
	if n < count && !allowVirtual {
		return nil, 0, ErrBufferOverrun
	}
	return data, n, nil
}

// Stateful wraps an Input with a read cursor, mirroring the C++ source's
// stateful buffer adaptor: callers advance rpos as they consume fields
// instead of tracking positions by hand.
type Stateful struct {
	Input
	rpos int64
}

// NewStateful wraps in with a cursor starting at position 0.
func NewStateful(in Input) *Stateful {
	return &Stateful{Input: in}
}

// Rpos returns the current read cursor.
func (s *Stateful) Rpos() int64 { return s.rpos }

// SetRpos moves the read cursor to an arbitrary position; it may point past
// the end of the buffer, which subsequent reads will simply report as 0
// bytes read.
func (s *Stateful) SetRpos(pos int64) { s.rpos = pos }

// AdvanceRpos moves the cursor by a signed delta.
func (s *Stateful) AdvanceRpos(delta int64) { s.rpos += delta }

// ReadAt reads count bytes from the current cursor and advances it by the
// number of bytes actually read.
func (s *Stateful) ReadAt(count int, data []byte) int {
	n := s.Input.Read(s.rpos, count, data)
	s.rpos += int64(n)
	return n
}
