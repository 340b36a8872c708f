// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package packed

import (
	"github.com/binaryscan/pecore/buffer"
)

const maxCStringProbe = 1 << 20

// CString is a NUL-terminated byte string with provenance. When the
// terminator itself is not physically present (the buffer ran out first),
// VirtualNulbyte reports true and the string is the longest physical prefix
// found.
type CString struct {
	Provenance
	value          string
	virtualNulbyte bool
}

// Value returns the decoded string, excluding the terminator.
func (c *CString) Value() string { return c.value }

// VirtualNulbyte reports whether the buffer ended before the terminating
// NUL byte was physically present.
func (c *CString) VirtualNulbyte() bool { return c.virtualNulbyte }

// Deserialize scans for a NUL terminator starting at pos in in, up to
// maxLen bytes. allowVirtual controls whether running off the end of the
// buffer without finding a terminator is tolerated (producing a virtual
// nulbyte) or reported as an error.
func (c *CString) Deserialize(in buffer.Input, pos int64, maxLen int64, allowVirtual bool) error {
	c.setOffsets(in, pos)
	if maxLen <= 0 || maxLen > maxCStringProbe {
		maxLen = maxCStringProbe
	}

	var raw []byte
	chunk := make([]byte, 256)
	found := false
	var scanned int64
	for scanned < maxLen {
		want := len(chunk)
		if int64(want) > maxLen-scanned {
			want = int(maxLen - scanned)
		}
		n := in.Read(pos+scanned, want, chunk[:want])
		for i := 0; i < n; i++ {
			if chunk[i] == 0 {
				raw = append(raw, chunk[:i]...)
				found = true
				scanned += int64(i) + 1
				break
			}
		}
		if found {
			break
		}
		raw = append(raw, chunk[:n]...)
		scanned += int64(n)
		if n < want {
			// hit the physical end of the source without a terminator.
			break
		}
	}

	c.value = string(raw)
	c.dataSize = int64(len(raw)) + 1
	if found {
		c.physicalSize = c.dataSize
		c.virtualNulbyte = false
	} else {
		c.physicalSize = int64(len(raw))
		c.virtualNulbyte = true
		if !allowVirtual {
			return buffer.ErrBufferOverrun
		}
	}
	return nil
}

// Serialize returns the string's bytes plus a terminating NUL when
// writeVirtualPart is true or the terminator was physically present;
// otherwise it omits the (virtual) terminator.
func (c *CString) Serialize(writeVirtualPart bool) []byte {
	out := []byte(c.value)
	if writeVirtualPart || !c.virtualNulbyte {
		out = append(out, 0)
	}
	return out
}

// Utf16CString is a NUL-terminated UTF-16LE string with provenance.
type Utf16CString struct {
	Provenance
	value          string
	virtualNulbyte bool
}

// Value returns the decoded string.
func (c *Utf16CString) Value() string { return c.value }

// VirtualNulbyte reports whether the terminator was not physically present.
func (c *Utf16CString) VirtualNulbyte() bool { return c.virtualNulbyte }

// Deserialize scans 2-byte little-endian UTF-16 code units starting at pos
// until a zero unit is found or maxUnits is exhausted.
func (c *Utf16CString) Deserialize(in buffer.Input, pos int64, maxUnits int64, allowVirtual bool) error {
	c.setOffsets(in, pos)
	if maxUnits <= 0 || maxUnits > maxCStringProbe {
		maxUnits = maxCStringProbe
	}

	var units []uint16
	found := false
	pair := make([]byte, 2)
	var i int64
	for ; i < maxUnits; i++ {
		n := in.Read(pos+i*2, 2, pair)
		if n < 2 {
			break
		}
		u := uint16(pair[0]) | uint16(pair[1])<<8
		if u == 0 {
			found = true
			i++
			break
		}
		units = append(units, u)
	}

	c.value = decodeUTF16(units)
	c.dataSize = int64(len(units))*2 + 2
	if found {
		c.physicalSize = c.dataSize
		c.virtualNulbyte = false
	} else {
		c.physicalSize = int64(len(units)) * 2
		c.virtualNulbyte = true
		if !allowVirtual {
			return buffer.ErrBufferOverrun
		}
	}
	return nil
}

func decodeUTF16(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		r := rune(units[i])
		if r >= 0xD800 && r <= 0xDBFF && i+1 < len(units) {
			r2 := rune(units[i+1])
			if r2 >= 0xDC00 && r2 <= 0xDFFF {
				runes = append(runes, ((r-0xD800)<<10)+(r2-0xDC00)+0x10000)
				i++
				continue
			}
		}
		runes = append(runes, r)
	}
	return string(runes)
}

// Serialize returns the UTF-16LE encoding of the string plus a terminating
// zero unit when writeVirtualPart is true or the terminator was physically
// present.
func (c *Utf16CString) Serialize(writeVirtualPart bool) []byte {
	var out []byte
	for _, r := range c.value {
		if r <= 0xFFFF {
			out = append(out, byte(r), byte(r>>8))
			continue
		}
		r -= 0x10000
		hi := 0xD800 + (r >> 10)
		lo := 0xDC00 + (r & 0x3FF)
		out = append(out, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
	}
	if writeVirtualPart || !c.virtualNulbyte {
		out = append(out, 0, 0)
	}
	return out
}
