// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

// x64 fixture: one runtime function at RVA 0x1300 whose unwind info at
// RVA 0x1100 declares two prolog operations and an exception handler with
// one scope record.
func x64ExceptionSection() *sectionBuilder {
	sb := newSectionBuilder()

	// Runtime function entry at RVA 0x1000.
	sb.putUint32(0, 0x1300)   // BeginAddress
	sb.putUint32(4, 0x1350)   // EndAddress
	sb.putUint32(8, 0x1100)   // UnwindInfoAddress

	// UNWIND_INFO at RVA 0x1100 (section offset 0x100).
	sb.putBytes(0x100, []byte{
		0x01 | UnwFlagEHandler<<3, // version 1, EHANDLER
		0x08,                      // SizeOfProlog
		0x02,                      // CountOfCodes
		0x00,                      // no frame register
	})
	// Slot 0: ALLOC_SMALL (op 2), info 3 -> 32 bytes, offset 8.
	sb.putUint16(0x104, 0x08|uint16(UwOpAllocSmall)<<8|3<<12)
	// Slot 1: PUSH_NONVOL RBP (op 0, info 5), offset 2.
	sb.putUint16(0x106, 0x02|uint16(UwOpPushNonVol)<<8|5<<12)
	// Handler RVA follows the (already even) code array.
	sb.putUint32(0x108, 0x1340)
	// Scope table: one record.
	sb.putUint32(0x10C, 1)
	sb.putUint32(0x110, 0x1300)
	sb.putUint32(0x114, 0x1320)
	sb.putUint32(0x118, 0x1340)
	sb.putUint32(0x11C, 0x1330)
	return sb
}

func TestParseExceptionX64(t *testing.T) {
	img := loadTestImage(t, testImageConfig{
		is64:        true,
		sectionData: x64ExceptionSection().data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryException: {VirtualAddress: testSectionRVA, Size: 12},
		},
	}, nil)

	dir := img.Exceptions
	if dir == nil || len(dir.Entries) != 1 {
		t.Fatalf("exception entries = %+v, want exactly 1", dir)
	}

	entry := dir.Entries[0]
	if entry.RuntimeFunction.BeginAddress != 0x1300 {
		t.Errorf("BeginAddress = %#x, want 0x1300", entry.RuntimeFunction.BeginAddress)
	}
	ui := entry.UnwindInfo
	if ui.Version != 1 || ui.Flags != UnwFlagEHandler {
		t.Errorf("unwind header = v%d flags %#x, want v1 EHANDLER", ui.Version, ui.Flags)
	}
	if len(ui.UnwindCodes) != 2 {
		t.Fatalf("len(UnwindCodes) = %d, want 2", len(ui.UnwindCodes))
	}
	if ui.UnwindCodes[0].UnwindOp != UwOpAllocSmall {
		t.Errorf("code 0 = %v, want ALLOC_SMALL", ui.UnwindCodes[0].UnwindOp)
	}
	if ui.UnwindCodes[1].UnwindOp != UwOpPushNonVol || ui.UnwindCodes[1].Operand != "Register=RBP" {
		t.Errorf("code 1 = %+v, want PUSH_NONVOL RBP", ui.UnwindCodes[1])
	}
	if ui.ExceptionHandler != 0x1340 {
		t.Errorf("handler = %#x, want 0x1340", ui.ExceptionHandler)
	}
	if ui.ScopeTable == nil || ui.ScopeTable.Count != 1 {
		t.Fatalf("scope table = %+v, want one record", ui.ScopeTable)
	}
	if ui.ScopeTable.ScopeRecords[0].JumpTarget != 0x1330 {
		t.Errorf("scope jump target = %#x, want 0x1330", ui.ScopeTable.ScopeRecords[0].JumpTarget)
	}
	if entry.HasErrors() {
		t.Errorf("unexpected entry errors: %+v", entry.GetErrors())
	}
}

func TestParseExceptionPushNonVolOutOfOrder(t *testing.T) {
	sb := newSectionBuilder()
	sb.putUint32(0, 0x1300)
	sb.putUint32(4, 0x1350)
	sb.putUint32(8, 0x1100)

	// PUSH_NONVOL first in the array, then ALLOC_SMALL after it: the
	// array is reverse prolog order, so this ordering is illegal.
	sb.putBytes(0x100, []byte{0x01, 0x08, 0x02, 0x00})
	sb.putUint16(0x104, 0x02|uint16(UwOpPushNonVol)<<8|5<<12)
	sb.putUint16(0x106, 0x08|uint16(UwOpAllocSmall)<<8|3<<12)

	img := loadTestImage(t, testImageConfig{
		is64:        true,
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryException: {VirtualAddress: testSectionRVA, Size: 12},
		},
	}, nil)

	if len(img.Exceptions.Entries) != 1 {
		t.Fatal("expected one exception entry")
	}
	if !img.Exceptions.Entries[0].HasAnyError(AnoExceptionPushNonVolOutOfOrder) {
		t.Error("PUSH_NONVOL followed by another op should be diagnosed")
	}
}

func TestParseExceptionUnmatchedDirectorySize(t *testing.T) {
	img := loadTestImage(t, testImageConfig{
		is64:        true,
		sectionData: x64ExceptionSection().data,
		dirs: map[DirectoryType]DataDirectory{
			// 12-byte entries cannot tile 14 bytes.
			DirectoryException: {VirtualAddress: testSectionRVA, Size: 14},
		},
	}, nil)

	if !img.Exceptions.HasError(AnoExceptionUnmatchedDirectorySize) {
		t.Error("leftover directory bytes should be diagnosed")
	}
}

func TestParseExceptionARM64Packed(t *testing.T) {
	sb := newSectionBuilder()
	// Packed .pdata entry: flag=1, function length 0x20 words, frame
	// size nibble set.
	packedWord := uint32(1) | uint32(0x20)<<2 | uint32(2)<<23
	sb.putUint32(0, 0x1300)
	sb.putUint32(4, packedWord)

	img := loadTestImage(t, testImageConfig{
		is64:        true,
		machine:     ImageFileMachineARM64,
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryException: {VirtualAddress: testSectionRVA, Size: 8},
		},
	}, nil)

	dir := img.Exceptions
	if dir == nil || len(dir.ARMEntries) != 1 {
		t.Fatalf("ARM entries = %+v, want exactly 1", dir)
	}
	entry := dir.ARMEntries[0]
	if entry.Packed == nil {
		t.Fatal("flagged entry should decode as packed unwind data")
	}
	if entry.Packed.Flag != 1 || entry.Packed.FunctionLength != 0x20 || entry.Packed.FrameSize != 2 {
		t.Errorf("packed = %+v, want flag 1, length 0x20, frame size 2", entry.Packed)
	}
	if entry.Extended != nil {
		t.Error("packed entry must not carry an extended record")
	}
}

func TestParseExceptionARM64Extended(t *testing.T) {
	sb := newSectionBuilder()
	sb.putUint32(0, 0x1300)
	sb.putUint32(4, 0x1100) // .xdata RVA, flag bits clear

	// .xdata at section offset 0x100: function length 0x40, one epilog
	// scope, one code word, handler bit set.
	xdata := uint32(0x40) | uint32(1)<<20 | uint32(1)<<22 | uint32(1)<<27
	sb.putUint32(0x100, xdata)
	sb.putUint32(0x104, 0x10) // epilog scope: start offset 0x10
	// Code word: alloc_s (0x08), end (0xE4), padding.
	sb.putBytes(0x108, []byte{0x08, 0xE4, 0x00, 0x00})
	sb.putUint32(0x10C, 0x1340) // handler RVA

	img := loadTestImage(t, testImageConfig{
		is64:        true,
		machine:     ImageFileMachineARM64,
		sectionData: sb.data,
		dirs: map[DirectoryType]DataDirectory{
			DirectoryException: {VirtualAddress: testSectionRVA, Size: 8},
		},
	}, nil)

	if len(img.Exceptions.ARMEntries) != 1 {
		t.Fatal("expected one ARM entry")
	}
	rec := img.Exceptions.ARMEntries[0].Extended
	if rec == nil {
		t.Fatal("unflagged entry should decode as an extended record")
	}
	if rec.FunctionLength != 0x40 || !rec.HasHandler {
		t.Errorf("record = %+v, want length 0x40 with handler", rec)
	}
	if len(rec.EpilogScopes) != 1 || rec.EpilogScopes[0].StartOffset != 0x10 {
		t.Errorf("epilog scopes = %+v, want one at 0x10", rec.EpilogScopes)
	}
	if len(rec.UnwindCodes) != 2 {
		t.Errorf("unwind codes = %+v, want alloc_s and end", rec.UnwindCodes)
	}
	if rec.ExceptionHandler != 0x1340 {
		t.Errorf("handler = %#x, want 0x1340", rec.ExceptionHandler)
	}
}
