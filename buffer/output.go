// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package buffer

// Output is a growable byte sink with an explicit write cursor. Image
// builders use it to re-serialize an Image at the exact offsets the source
// image declared.
type Output interface {
	Wpos() int64
	SetWpos(pos int64)
	AdvanceWpos(delta int64)
	Write(data []byte)
}

// Memory is an Output backed by a growable in-memory slice, analogous to the
// source's output_memory_buffer.
type Memory struct {
	data []byte
	wpos int64
}

// NewMemory returns an empty growable output buffer.
func NewMemory() *Memory {
	return &Memory{}
}

// Wpos implements Output.
func (m *Memory) Wpos() int64 { return m.wpos }

// SetWpos implements Output. Moving past the current length does not write
// zeros immediately; the gap is filled lazily on the next Write.
func (m *Memory) SetWpos(pos int64) { m.wpos = pos }

// AdvanceWpos implements Output.
func (m *Memory) AdvanceWpos(delta int64) { m.wpos += delta }

// Write implements Output, zero-filling any gap between the current length
// and Wpos before appending data.
func (m *Memory) Write(data []byte) {
	end := m.wpos + int64(len(data))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.wpos:end], data)
	m.wpos = end
}

// Bytes returns the accumulated output.
func (m *Memory) Bytes() []byte { return m.data }
