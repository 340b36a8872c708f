// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"strconv"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// Unwind information flags.
const (
	// UnwFlagNHandler - the function has no handler.
	UnwFlagNHandler = uint8(0x0)

	// UnwFlagEHandler - the function has an exception handler that should
	// be called when looking for functions that need to examine exceptions.
	UnwFlagEHandler = uint8(0x1)

	// UnwFlagUHandler - the function has a termination handler that should
	// be called when unwinding an exception.
	UnwFlagUHandler = uint8(0x2)

	// UnwFlagChainInfo - this unwind info structure is not the primary one
	// for the procedure; the chained entry is the contents of a previous
	// RUNTIME_FUNCTION entry. Mutually exclusive with the handler flags.
	UnwFlagChainInfo = uint8(0x4)
)

// OpInfoRegisters maps the operation-info register encoding to names.
var OpInfoRegisters = map[uint8]string{
	0: "RAX", 1: "RCX", 2: "RDX", 3: "RBX",
	4: "RSP", 5: "RBP", 6: "RSI", 7: "RDI",
	8: "R8", 9: "R9", 10: "R10", 11: "R11",
	12: "R12", 13: "R13", 14: "R14", 15: "R15",
}

// UnwindOpType is the 4-bit operation code of an x64 unwind slot.
type UnwindOpType uint8

// _UNWIND_OP_CODES. The SAVE_XMM/SAVE_XMM_FAR slots were retired and
// recycled as EPILOG/SPARE_CODE in version 2 of the structure.
const (
	UwOpPushNonVol    = UnwindOpType(0)
	UwOpAllocLarge    = UnwindOpType(1)
	UwOpAllocSmall    = UnwindOpType(2)
	UwOpSetFpReg      = UnwindOpType(3)
	UwOpSaveNonVol    = UnwindOpType(4)
	UwOpSaveNonVolFar = UnwindOpType(5)
	UwOpEpilog        = UnwindOpType(6)
	UwOpSpareCode     = UnwindOpType(7)
	UwOpSaveXmm128    = UnwindOpType(8)
	UwOpSaveXmm128Far = UnwindOpType(9)
	UwOpPushMachFrame = UnwindOpType(10)
	UwOpSetFpRegLarge = UnwindOpType(11)
)

// Exception-loader diagnostics.
var (
	// AnoExceptionUnmatchedDirectorySize is recorded on the directory when
	// its byte size is not a whole multiple of the runtime-function entry
	// size; the leftover tail is ignored.
	AnoExceptionUnmatchedDirectorySize = errlist.Code{
		Category: catException, Value: 1,
		Message: "exception directory size is not a multiple of the entry size",
	}

	// AnoExceptionUnwindInfoUnreadable is recorded on an entry whose
	// UnwindInfoAddress cannot be resolved to readable data.
	AnoExceptionUnwindInfoUnreadable = errlist.Code{
		Category: catException, Value: 2,
		Message: "unwind info address does not resolve inside the image",
	}

	// AnoExceptionInvalidUnwindVersion is recorded on an entry whose unwind
	// info declares a version other than 1 or 2.
	AnoExceptionInvalidUnwindVersion = errlist.Code{
		Category: catException, Value: 3,
		Message: "unwind info version is neither 1 nor 2",
	}

	// AnoExceptionPushNonVolOutOfOrder is recorded when a PUSH_NONVOL slot
	// is followed (in array order, i.e. preceded in prolog order) by an
	// operation other than PUSH_NONVOL or PUSH_MACHFRAME.
	AnoExceptionPushNonVolOutOfOrder = errlist.Code{
		Category: catException, Value: 4,
		Message: "PUSH_NONVOL unwind code out of order",
	}

	// AnoExceptionBothFpRegOps is recorded when a prolog establishes the
	// frame pointer with both SET_FPREG and SET_FPREG_LARGE.
	AnoExceptionBothFpRegOps = errlist.Code{
		Category: catException, Value: 5,
		Message: "SET_FPREG and SET_FPREG_LARGE are mutually exclusive",
	}

	// AnoExceptionHandlerAndChainInfo is recorded when an unwind info sets
	// CHAININFO together with EHANDLER or UHANDLER.
	AnoExceptionHandlerAndChainInfo = errlist.Code{
		Category: catException, Value: 6,
		Message: "handler flags and CHAININFO are mutually exclusive",
	}

	// AnoExceptionUnknownUnwindOp is recorded, with the slot index, when an
	// unwind code carries an undefined operation; decoding of that entry's
	// code array stops there.
	AnoExceptionUnknownUnwindOp = errlist.Code{
		Category: catException, Value: 7,
		Message: "undefined unwind operation code",
	}

	// AnoExceptionUnorderedEpilogScopes is recorded on an ARM entry whose
	// epilog scope start offsets are not monotonically non-decreasing.
	AnoExceptionUnorderedEpilogScopes = errlist.Code{
		Category: catException, Value: 8,
		Message: "epilog scope start offsets are not sorted",
	}
)

// ImageRuntimeFunctionEntry is IMAGE_RUNTIME_FUNCTION_ENTRY, one entry of
// the x64 function table. Table-based exception handling requires an entry
// for every function that allocates stack space or calls another function.
type ImageRuntimeFunctionEntry struct {
	BeginAddress      uint32
	EndAddress        uint32
	UnwindInfoAddress uint32
}

// ImageARMRuntimeFunctionEntry is the two-word .pdata entry shared by the
// ARM and ARM64 function tables: a function start RVA and a second word
// that is either an RVA to an extended .xdata record (low two bits zero)
// or a packed unwind description.
type ImageARMRuntimeFunctionEntry struct {
	BeginAddress uint32
	UnwindData   uint32
}

// UnwindCode is one decoded slot (or slot group) of the x64 unwind code
// array, recording the prolog operation and its decoded operand.
type UnwindCode struct {
	CodeOffset  uint8        `json:"code_offset"`
	UnwindOp    UnwindOpType `json:"unwind_op"`
	OpInfo      uint8        `json:"op_info"`
	Operand     string       `json:"operand"`
	FrameOffset uint32       `json:"frame_offset"`
}

// ScopeRecord describes one __try/__except block within a function.
type ScopeRecord struct {
	BeginAddress   uint32 `json:"begin_address"`
	EndAddress     uint32 `json:"end_address"`
	HandlerAddress uint32 `json:"handler_address"`
	JumpTarget     uint32 `json:"jump_target"`
}

// ScopeTable is the language-specific handler data that follows an
// exception handler RVA: a count and that many scope records.
type ScopeTable struct {
	Count        uint32        `json:"count"`
	ScopeRecords []ScopeRecord `json:"scope_records"`
}

// UnwindInfo is the decoded _UNWIND_INFO record an x64 runtime function
// points at: the prolog description, the unwind code array, and either a
// language-specific handler or a chained parent function.
type UnwindInfo struct {
	Version          uint8                      `json:"version"`
	Flags            uint8                      `json:"flags"`
	SizeOfProlog     uint8                      `json:"size_of_prolog"`
	CountOfCodes     uint8                      `json:"count_of_codes"`
	FrameRegister    uint8                      `json:"frame_register"`
	FrameOffset      uint8                      `json:"frame_offset"`
	UnwindCodes      []UnwindCode               `json:"unwind_codes"`
	ExceptionHandler uint32                     `json:"exception_handler"`
	ScopeTable       *ScopeTable                `json:"scope_table,omitempty"`
	FunctionEntry    *ImageRuntimeFunctionEntry `json:"function_entry,omitempty"`
}

// Exception is one x64 function table entry plus its decoded unwind info.
// Per-entry diagnostics accumulate on the embedded error list.
type Exception struct {
	errlist.List

	RuntimeFunction ImageRuntimeFunctionEntry `json:"runtime_function"`
	UnwindInfo      UnwindInfo                `json:"unwind_info"`
}

// ARMEpilogScope is one entry of an extended ARM unwind record's epilog
// scope list.
type ARMEpilogScope struct {
	StartOffset uint32 `json:"start_offset"`
	Condition   uint8  `json:"condition"`
	StartIndex  uint16 `json:"start_index"`
}

// ARMUnwindCode is one opcode of the ARM-common unwind byte sequence: the
// family-determining first byte plus the operand bytes its length covers.
type ARMUnwindCode struct {
	Bytes []byte `json:"bytes"`
}

// ARMPackedUnwindData is the canonical-form packed description carried
// directly in a .pdata second word when its flag bits are non-zero.
type ARMPackedUnwindData struct {
	Raw            uint32 `json:"raw"`
	Flag           uint8  `json:"flag"`
	FunctionLength uint32 `json:"function_length"`
	RegF           uint8  `json:"reg_f"`
	RegI           uint8  `json:"reg_i"`
	HomesParams    bool   `json:"homes_params"`
	CR             uint8  `json:"cr"`
	FrameSize      uint32 `json:"frame_size"`
}

// ARMExtendedUnwindRecord is the variable-length .xdata record: the main
// header, the extension header when the packed counts overflow, the epilog
// scope list, the unwind code bytes, and an optional handler RVA.
type ARMExtendedUnwindRecord struct {
	FunctionLength   uint32           `json:"function_length"`
	Version          uint8            `json:"version"`
	HasHandler       bool             `json:"has_handler"`
	PackedEpilogs    bool             `json:"packed_epilogs"`
	EpilogCount      uint32           `json:"epilog_count"`
	CodeWords        uint32           `json:"code_words"`
	EpilogScopes     []ARMEpilogScope `json:"epilog_scopes,omitempty"`
	UnwindCodes      []ARMUnwindCode  `json:"unwind_codes,omitempty"`
	ExceptionHandler uint32           `json:"exception_handler"`
}

// ARMException is one ARM/ARM64 function table entry: exactly one of
// Packed or Extended is populated, keyed on the .pdata flag bits.
type ARMException struct {
	errlist.List

	RuntimeFunction ImageARMRuntimeFunctionEntry `json:"runtime_function"`
	Packed          *ARMPackedUnwindData         `json:"packed,omitempty"`
	Extended        *ARMExtendedUnwindRecord     `json:"extended,omitempty"`
}

// ExceptionDirectory is the decoded exception (.pdata) directory. The
// machine type selects which entry family is populated; images for
// machines with no table-based unwind metadata leave both empty.
type ExceptionDirectory struct {
	errlist.List

	Entries    []Exception    `json:"entries,omitempty"`
	ARMEntries []ARMException `json:"arm_entries,omitempty"`
}

// parseExceptionDirectory dispatches on the file header's machine type:
// x64-family machines carry 12-byte runtime function entries, the ARM
// family 8-byte ones. Leftover bytes that do not fill a whole entry are
// flagged and ignored.
func (img *Image) parseExceptionDirectory(ctx *loadContext, rva, size uint32) error {
	dir := &ExceptionDirectory{}

	switch img.FileHeader.Get().Machine {
	case ImageFileMachineAMD64, ImageFileMachineIA64:
		img.parseExceptionsX64(ctx, dir, rva, size)
	case ImageFileMachineARM, ImageFileMachineARMNT, ImageFileMachineARM64:
		img.parseExceptionsARM(ctx, dir, rva, size)
	default:
		return nil
	}

	img.Exceptions = dir
	img.Info.HasException = true
	return nil
}

func (img *Image) parseExceptionsX64(ctx *loadContext, dir *ExceptionDirectory, rva, size uint32) {
	entrySize := uint32(packed.SizeOf[ImageRuntimeFunctionEntry]())
	if size%entrySize != 0 {
		dir.AddError(AnoExceptionUnmatchedDirectorySize)
	}
	count := size / entrySize

	for i := uint32(0); i < count; i++ {
		offset := int64(img.RVAToOffset(rva + i*entrySize))
		var hdr packed.Struct[ImageRuntimeFunctionEntry]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
			break
		}

		entry := Exception{RuntimeFunction: *hdr.Get()}
		if entry.RuntimeFunction.UnwindInfoAddress != 0 {
			img.parseUnwindInfo(&entry, entry.RuntimeFunction.UnwindInfoAddress)
		}
		dir.Entries = append(dir.Entries, entry)
	}
}

// parseUnwindInfo decodes the variable-length _UNWIND_INFO record at rva
// into entry. A CHAININFO tail is kept as the nested runtime function
// entry; its own unwind record is reachable through the directory like any
// other.
func (img *Image) parseUnwindInfo(entry *Exception, rva uint32) {
	head, err := img.DataAtRVA(rva, 4)
	if err != nil || len(head) < 4 {
		entry.AddError(AnoExceptionUnwindInfoUnreadable)
		return
	}

	ui := &entry.UnwindInfo
	ui.Version = head[0] & 0x7
	ui.Flags = head[0] >> 3
	ui.SizeOfProlog = head[1]
	ui.CountOfCodes = head[2]
	ui.FrameRegister = head[3] & 0xf
	ui.FrameOffset = head[3] >> 4

	if ui.Version != 1 && ui.Version != 2 {
		entry.AddError(AnoExceptionInvalidUnwindVersion)
		return
	}
	if ui.Flags&UnwFlagChainInfo != 0 && ui.Flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 {
		entry.AddError(AnoExceptionHandlerAndChainInfo)
	}

	codeBytes, err := img.DataAtRVA(rva+4, uint32(ui.CountOfCodes)*2)
	if err != nil {
		entry.AddError(AnoExceptionUnwindInfoUnreadable)
		return
	}

	sawPushNonVol := false
	sawSetFpReg := false
	sawSetFpRegLarge := false
	i := 0
	for i < int(ui.CountOfCodes) {
		code, consumed := decodeUnwindCode(codeBytes, i, ui.Version)
		if consumed == 0 {
			entry.AddErrorIndex(AnoExceptionUnknownUnwindOp, i)
			break
		}

		// The code array stores prolog operations in reverse order, so
		// PUSH_NONVOL (first in the prolog) must come last: once one is
		// seen, only further pushes may follow.
		switch code.UnwindOp {
		case UwOpPushNonVol:
			sawPushNonVol = true
		case UwOpPushMachFrame:
		default:
			if sawPushNonVol {
				entry.AddErrorIndex(AnoExceptionPushNonVolOutOfOrder, i)
			}
		}
		if code.UnwindOp == UwOpSetFpReg {
			sawSetFpReg = true
		}
		if code.UnwindOp == UwOpSetFpRegLarge {
			sawSetFpRegLarge = true
		}

		ui.UnwindCodes = append(ui.UnwindCodes, code)
		i += consumed
	}
	if sawSetFpReg && sawSetFpRegLarge {
		entry.AddError(AnoExceptionBothFpRegOps)
	}

	// The code array is padded to an even slot count before the trailing
	// handler or chain pointer.
	slots := uint32(ui.CountOfCodes)
	if slots&1 == 1 {
		slots++
	}
	tail := rva + 4 + slots*2

	if ui.Flags&UnwFlagChainInfo != 0 {
		chainBytes, err := img.DataAtRVA(tail, 12)
		if err != nil || len(chainBytes) < 12 {
			entry.AddError(AnoExceptionUnwindInfoUnreadable)
			return
		}
		fe := &ImageRuntimeFunctionEntry{
			BeginAddress:      binary.LittleEndian.Uint32(chainBytes),
			EndAddress:        binary.LittleEndian.Uint32(chainBytes[4:]),
			UnwindInfoAddress: binary.LittleEndian.Uint32(chainBytes[8:]),
		}
		ui.FunctionEntry = fe
		return
	}

	if ui.Flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 {
		handlerBytes, err := img.DataAtRVA(tail, 4)
		if err != nil || len(handlerBytes) < 4 {
			entry.AddError(AnoExceptionUnwindInfoUnreadable)
			return
		}
		ui.ExceptionHandler = binary.LittleEndian.Uint32(handlerBytes)
		ui.ScopeTable = img.parseScopeTable(tail + 4)
	}
}

// parseScopeTable reads the C_SCOPE_TABLE handler data at rva, or nil when
// the count is implausible or unreadable.
func (img *Image) parseScopeTable(rva uint32) *ScopeTable {
	countBytes, err := img.DataAtRVA(rva, 4)
	if err != nil || len(countBytes) < 4 {
		return nil
	}
	count := binary.LittleEndian.Uint32(countBytes)
	const maxScopeRecords = 0x1000
	if count == 0 || count > maxScopeRecords {
		return nil
	}

	st := &ScopeTable{Count: count}
	for i := uint32(0); i < count; i++ {
		rec, err := img.DataAtRVA(rva+4+i*16, 16)
		if err != nil || len(rec) < 16 {
			break
		}
		st.ScopeRecords = append(st.ScopeRecords, ScopeRecord{
			BeginAddress:   binary.LittleEndian.Uint32(rec),
			EndAddress:     binary.LittleEndian.Uint32(rec[4:]),
			HandlerAddress: binary.LittleEndian.Uint32(rec[8:]),
			JumpTarget:     binary.LittleEndian.Uint32(rec[12:]),
		})
	}
	return st
}

// decodeUnwindCode decodes the slot group starting at slot index i of the
// 2-byte-slot array. It returns the decoded code and how many slots the
// operation consumed, 0 when the opcode is undefined.
func decodeUnwindCode(data []byte, i int, version uint8) (UnwindCode, int) {
	uc := UnwindCode{}
	off := i * 2
	if off+2 > len(data) {
		return uc, 0
	}
	raw := binary.LittleEndian.Uint16(data[off:])
	uc.CodeOffset = uint8(raw & 0xff)
	uc.UnwindOp = UnwindOpType(raw & 0xf00 >> 8)
	uc.OpInfo = uint8(raw >> 12)

	next16 := func() uint16 {
		if off+4 > len(data) {
			return 0
		}
		return binary.LittleEndian.Uint16(data[off+2:])
	}
	next32 := func() uint32 {
		if off+6 > len(data) {
			return 0
		}
		return binary.LittleEndian.Uint32(data[off+2:])
	}

	switch uc.UnwindOp {
	case UwOpPushNonVol:
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo]
		return uc, 1
	case UwOpAllocSmall:
		size := int(uc.OpInfo)*8 + 8
		uc.Operand = "Size=" + strconv.Itoa(size)
		return uc, 1
	case UwOpAllocLarge:
		if uc.OpInfo == 0 {
			size := uint32(next16()) * 8
			uc.FrameOffset = size
			uc.Operand = "Size=" + strconv.Itoa(int(size))
			return uc, 2
		}
		size := next32()
		uc.FrameOffset = size
		uc.Operand = "Size=" + strconv.Itoa(int(size))
		return uc, 3
	case UwOpSetFpReg:
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo]
		return uc, 1
	case UwOpSaveNonVol:
		uc.FrameOffset = uint32(next16()) * 8
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo] +
			", Offset=" + strconv.Itoa(int(uc.FrameOffset))
		return uc, 2
	case UwOpSaveNonVolFar:
		uc.FrameOffset = next32()
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo] +
			", Offset=" + strconv.Itoa(int(uc.FrameOffset))
		return uc, 3
	case UwOpSaveXmm128:
		uc.FrameOffset = uint32(next16()) * 16
		uc.Operand = "Register=XMM" + strconv.Itoa(int(uc.OpInfo)) +
			", Offset=" + strconv.Itoa(int(uc.FrameOffset))
		return uc, 2
	case UwOpSaveXmm128Far:
		uc.FrameOffset = next32()
		uc.Operand = "Register=XMM" + strconv.Itoa(int(uc.OpInfo)) +
			", Offset=" + strconv.Itoa(int(uc.FrameOffset))
		return uc, 3
	case UwOpPushMachFrame:
		uc.Operand = "ErrorCode=" + strconv.Itoa(int(uc.OpInfo))
		return uc, 1
	case UwOpSetFpRegLarge:
		uc.FrameOffset = next32() * 16
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo]
		return uc, 3
	case UwOpEpilog:
		// Version 1 called this SAVE_XMM; both forms occupy two slots.
		if version == 2 {
			uc.Operand = "Flags=" + strconv.Itoa(int(uc.OpInfo)) +
				", Size=" + strconv.Itoa(int(uc.CodeOffset))
		}
		return uc, 2
	case UwOpSpareCode:
		return uc, 3
	default:
		return uc, 0
	}
}

// parseExceptionsARM walks the two-word ARM-common .pdata entries,
// decoding each one as either a packed description or an extended .xdata
// record.
func (img *Image) parseExceptionsARM(ctx *loadContext, dir *ExceptionDirectory, rva, size uint32) {
	entrySize := uint32(packed.SizeOf[ImageARMRuntimeFunctionEntry]())
	if size%entrySize != 0 {
		dir.AddError(AnoExceptionUnmatchedDirectorySize)
	}
	count := size / entrySize

	for i := uint32(0); i < count; i++ {
		offset := int64(img.RVAToOffset(rva + i*entrySize))
		var hdr packed.Struct[ImageARMRuntimeFunctionEntry]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
			break
		}

		entry := ARMException{RuntimeFunction: *hdr.Get()}
		word := entry.RuntimeFunction.UnwindData
		if word&0x3 != 0 {
			entry.Packed = decodeARMPackedUnwind(word)
		} else {
			entry.Extended = img.parseARMExtendedUnwind(&entry, word)
		}
		dir.ARMEntries = append(dir.ARMEntries, entry)
	}
}

// decodeARMPackedUnwind unpacks the canonical-form bit fields of a packed
// .pdata second word.
func decodeARMPackedUnwind(word uint32) *ARMPackedUnwindData {
	return &ARMPackedUnwindData{
		Raw:            word,
		Flag:           uint8(word & 0x3),
		FunctionLength: (word >> 2) & 0x7ff,
		RegF:           uint8((word >> 13) & 0x7),
		RegI:           uint8((word >> 16) & 0xf),
		HomesParams:    (word>>20)&0x1 != 0,
		CR:             uint8((word >> 21) & 0x3),
		FrameSize:      (word >> 23) & 0x1ff,
	}
}

// parseARMExtendedUnwind decodes the .xdata record at rva: main header,
// extension header when the packed counts are zero, epilog scope list,
// unwind code words, and handler RVA. A record that parses partially is
// returned as far as it got, with the failure attached to the entry.
func (img *Image) parseARMExtendedUnwind(entry *ARMException, rva uint32) *ARMExtendedUnwindRecord {
	head, err := img.DataAtRVA(rva, 4)
	if err != nil || len(head) < 4 {
		entry.AddError(AnoExceptionUnwindInfoUnreadable)
		return nil
	}
	word := binary.LittleEndian.Uint32(head)

	rec := &ARMExtendedUnwindRecord{
		FunctionLength: word & 0x3ffff,
		Version:        uint8((word >> 18) & 0x3),
		HasHandler:     (word>>20)&0x1 != 0,
		PackedEpilogs:  (word>>21)&0x1 != 0,
		EpilogCount:    (word >> 22) & 0x1f,
		CodeWords:      (word >> 27) & 0x1f,
	}
	cursor := rva + 4

	// When both counts are zero they overflowed into an extension word.
	if rec.EpilogCount == 0 && rec.CodeWords == 0 {
		ext, err := img.DataAtRVA(cursor, 4)
		if err != nil || len(ext) < 4 {
			entry.AddError(AnoExceptionUnwindInfoUnreadable)
			return rec
		}
		extWord := binary.LittleEndian.Uint32(ext)
		rec.EpilogCount = extWord & 0xffff
		rec.CodeWords = (extWord >> 16) & 0xff
		cursor += 4
	}

	if !rec.PackedEpilogs {
		prevStart := uint32(0)
		for i := uint32(0); i < rec.EpilogCount; i++ {
			raw, err := img.DataAtRVA(cursor, 4)
			if err != nil || len(raw) < 4 {
				entry.AddError(AnoExceptionUnwindInfoUnreadable)
				return rec
			}
			scopeWord := binary.LittleEndian.Uint32(raw)
			scope := ARMEpilogScope{
				StartOffset: scopeWord & 0x3ffff,
				Condition:   uint8((scopeWord >> 20) & 0xf),
				StartIndex:  uint16(scopeWord >> 22),
			}
			if scope.StartOffset < prevStart {
				entry.AddError(AnoExceptionUnorderedEpilogScopes)
			}
			prevStart = scope.StartOffset
			rec.EpilogScopes = append(rec.EpilogScopes, scope)
			cursor += 4
		}
	}

	codeBytes, err := img.DataAtRVA(cursor, rec.CodeWords*4)
	if err != nil {
		entry.AddError(AnoExceptionUnwindInfoUnreadable)
		return rec
	}
	pos := 0
	for pos < len(codeBytes) {
		b := codeBytes[pos]
		if b == 0 {
			break
		}
		length := armUnwindCodeLength(b)
		if pos+length > len(codeBytes) {
			entry.AddErrorIndex(AnoExceptionUnknownUnwindOp, pos)
			break
		}
		rec.UnwindCodes = append(rec.UnwindCodes, ARMUnwindCode{
			Bytes: codeBytes[pos : pos+length],
		})
		pos += length
	}
	cursor += rec.CodeWords * 4

	if rec.HasHandler {
		handlerBytes, err := img.DataAtRVA(cursor, 4)
		if err != nil || len(handlerBytes) < 4 {
			entry.AddError(AnoExceptionUnwindInfoUnreadable)
			return rec
		}
		rec.ExceptionHandler = binary.LittleEndian.Uint32(handlerBytes)
	}
	return rec
}

// armUnwindCodeLength returns the declared byte length, 1 to 4, of the
// unwind opcode whose first byte is b; the top bits select the family.
func armUnwindCodeLength(b uint8) int {
	switch {
	case b < 0x80: // alloc_s, save_r19r20_x, save_fplr
		return 1
	case b < 0xc0: // alloc_m
		return 2
	case b < 0xe0: // save_regp .. save_freg_x pairs
		return 2
	case b == 0xe0: // alloc_l
		return 4
	case b == 0xe2: // add_fp
		return 2
	case b <= 0xe6: // set_fp, nop, end, end_c, save_next
		return 1
	case b == 0xe7: // reserved two-byte form
		return 2
	case b < 0xf0: // MSFT-reserved custom frames
		return 1
	case b < 0xf8: // reserved, pacibsp family
		return 1
	case b == 0xf8 || b == 0xfa: // alloc_z forms, 3 bytes
		return 3
	case b == 0xf9 || b == 0xfb: // alloc_z wide forms
		return 4
	default:
		return 1
	}
}

// PrettyUnwindInfoHandlerFlags returns the string representation of the
// flags field of the unwind info structure.
func PrettyUnwindInfoHandlerFlags(flags uint8) []string {
	var values []string

	unwFlagHandlerMap := map[uint8]string{
		UnwFlagEHandler:  "Exception",
		UnwFlagUHandler:  "Termination",
		UnwFlagChainInfo: "Chain",
	}

	for k, s := range unwFlagHandlerMap {
		if k&flags != 0 {
			values = append(values, s)
		}
	}
	if len(values) == 0 {
		values = append(values, "No Handler")
	}
	return values
}

// String returns the string representation of an unwind opcode.
func (uo UnwindOpType) String() string {
	unOpToString := map[UnwindOpType]string{
		UwOpPushNonVol:    "UWOP_PUSH_NONVOL",
		UwOpAllocLarge:    "UWOP_ALLOC_LARGE",
		UwOpAllocSmall:    "UWOP_ALLOC_SMALL",
		UwOpSetFpReg:      "UWOP_SET_FPREG",
		UwOpSaveNonVol:    "UWOP_SAVE_NONVOL",
		UwOpSaveNonVolFar: "UWOP_SAVE_NONVOL_FAR",
		UwOpEpilog:        "UWOP_EPILOG",
		UwOpSpareCode:     "UWOP_SPARE_CODE",
		UwOpSaveXmm128:    "UWOP_SAVE_XMM128",
		UwOpSaveXmm128Far: "UWOP_SAVE_XMM128_FAR",
		UwOpPushMachFrame: "UWOP_PUSH_MACHFRAME",
		UwOpSetFpRegLarge: "UWOP_SET_FPREG_LARGE",
	}

	if val, ok := unOpToString[uo]; ok {
		return val
	}
	return "?"
}
