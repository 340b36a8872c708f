// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package buffer

import "testing"

func TestBytesRead(t *testing.T) {
	b := NewBytes([]byte{1, 2, 3, 4, 5})
	out := make([]byte, 3)
	if n := b.Read(1, 3, out); n != 3 {
		t.Fatalf("got %d bytes, want 3", n)
	}
	if out[0] != 2 || out[2] != 4 {
		t.Fatalf("unexpected bytes: %v", out)
	}
}

func TestVirtualShortRead(t *testing.T) {
	v := NewVirtual([]byte{1, 2, 3}, 8)
	if v.VirtualSize() != 5 {
		t.Fatalf("virtual size = %d, want 5", v.VirtualSize())
	}
	out := make([]byte, 4)
	n := v.Read(1, 4, out)
	if n != 2 {
		t.Fatalf("physical read = %d, want 2", n)
	}
}

func TestReadFullRejectsShortRead(t *testing.T) {
	v := NewVirtual([]byte{1, 2}, 4)
	if _, _, err := ReadFull(v, 0, 4, false); err != ErrBufferOverrun {
		t.Fatalf("expected ErrBufferOverrun, got %v", err)
	}
	data, physical, err := ReadFull(v, 0, 4, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if physical != 2 || len(data) != 4 {
		t.Fatalf("physical=%d len(data)=%d", physical, len(data))
	}
}

func TestReducedOffsets(t *testing.T) {
	b := NewBytes(make([]byte, 100))
	b.SetAbsoluteOffset(0x1000)
	b.SetRelativeOffset(0)
	r := NewReduced(b, 10, 20)
	if r.AbsoluteOffset() != 0x1000+10 {
		t.Fatalf("absolute offset = %d", r.AbsoluteOffset())
	}
	if r.Size() != 20 {
		t.Fatalf("size = %d", r.Size())
	}
}

func TestRefCopyReferencedBuffer(t *testing.T) {
	b := NewBytes([]byte{9, 8, 7})
	r := NewRef(b)
	if r.IsCopied() {
		t.Fatal("fresh ref should not be copied")
	}
	r.CopyReferencedBuffer()
	if !r.IsCopied() {
		t.Fatal("expected ref to be copied")
	}
	if got := r.CopiedData(); len(got) != 3 || got[0] != 9 {
		t.Fatalf("unexpected copied data: %v", got)
	}
}

func TestRefSerializeRoundTrip(t *testing.T) {
	src := NewBytes([]byte{1, 2, 3, 4})
	r := NewRef(src)
	out := NewMemory()
	r.Serialize(out, true)
	if got := out.Bytes(); len(got) != 4 || got[3] != 4 {
		t.Fatalf("unexpected serialize output: %v", got)
	}
}

func TestMemoryOutputGapFill(t *testing.T) {
	out := NewMemory()
	out.SetWpos(4)
	out.Write([]byte{0xAA})
	got := out.Bytes()
	if len(got) != 5 || got[4] != 0xAA {
		t.Fatalf("unexpected bytes: %v", got)
	}
	for i := 0; i < 4; i++ {
		if got[i] != 0 {
			t.Fatalf("expected zero gap fill at %d, got %v", i, got)
		}
	}
}
