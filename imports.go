// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"strconv"
	"strings"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

const (
	imageOrdinalFlag32   = uint64(0x80000000)
	imageOrdinalFlag64   = uint64(0x8000000000000000)
	addressMask32        = uint64(0x7fffffff)
	addressMask64        = uint64(0x7fffffffffffffff)
	maxRepeatedAddresses = 0xF
	maxAddressSpread     = uint64(0x8000000)
	maxDllNameLength     = 0x200
	maxImportNameLength  = 0x200
	maxInvalidImports    = 1000
)

// ErrDamagedImportTable is returned when both the ILT and IAT for an
// import descriptor are empty.
var ErrDamagedImportTable = errors.New("pe: damaged import table, ILT and IAT both empty")

// AnoManyRepeatedImportEntries is recorded when an import table repeats
// the same thunk address implausibly often, a sign of a bogus table.
var AnoManyRepeatedImportEntries = errlist.Code{
	Category: catImportLoader, Value: 1,
	Message: "import table contains many repeated thunk addresses",
}

// AnoImportAddressSpread is recorded when the spread between the lowest
// and highest AddressOfData seen in a thunk table is implausibly large.
var AnoImportAddressSpread = errlist.Code{
	Category: catImportLoader, Value: 2,
	Message: "import thunk AddressOfData values are spread implausibly far apart",
}

// AnoImportNoNameNoOrdinal is recorded when an import entry has neither
// an ordinal flag nor a resolvable name.
var AnoImportNoNameNoOrdinal = errlist.Code{
	Category: catImportLoader, Value: 3,
	Message: "import entry has neither a name nor an ordinal",
}

// AnoImportZeroIAT is recorded on a descriptor whose FirstThunk is zero;
// the loader has nowhere to write resolved addresses, so the library is
// skipped.
var AnoImportZeroIAT = errlist.Code{
	Category: catImportLoader, Value: 4,
	Message: "import descriptor has a zero import address table",
}

// AnoImportZeroIATAndILT is recorded on a descriptor with neither a lookup
// table nor an address table.
var AnoImportZeroIATAndILT = errlist.Code{
	Category: catImportLoader, Value: 5,
	Message: "import descriptor has neither a lookup nor an address table",
}

// AnoImportThunksDiffer is recorded on an entry whose ILT and IAT values
// disagree while the image is neither bound nor loaded from memory; on
// disk the two tables are expected to be identical.
var AnoImportThunksDiffer = errlist.Code{
	Category: catImportLoader, Value: 6,
	Message: "lookup and address table thunks differ",
}

// AnoImportEmptyLibraryName is recorded on a descriptor whose Name RVA
// resolves to an empty string.
var AnoImportEmptyLibraryName = errlist.Code{
	Category: catImportLoader, Value: 7,
	Message: "imported library name is empty",
}

// AnoImportTooManyThunks is recorded when a descriptor's thunk table
// holds more entries than Options.MaxImportedSymbolsCount; the walk stops
// at the cap.
var AnoImportTooManyThunks = errlist.Code{
	Category: catImportLoader, Value: 8,
	Message: "import thunk count exceeds the configured cap",
}

// AnoImportTooManyDescriptors is recorded when the descriptor array keeps
// going past maxImportDescriptors without hitting its all-zero
// terminator; the walk stops there.
var AnoImportTooManyDescriptors = errlist.Code{
	Category: catImportLoader, Value: 9,
	Message: "import descriptor walk exceeds the maximum descriptor count",
}

// maxImportDescriptors bounds the descriptor arrays of the import and
// delay-import directories; a benign image declares a few dozen
// libraries, not thousands.
const maxImportDescriptors = 0x1000

// boundImportStamp marks a descriptor whose IAT was pre-resolved by the
// binder; its IAT entries are VAs rather than thunks.
const boundImportStamp = 0xFFFFFFFF

// ImageImportDescriptor is IMAGE_IMPORT_DESCRIPTOR, one entry of the array
// that the import data directory points at; the array is terminated by an
// all-zero entry.
type ImageImportDescriptor struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

// ImportFunction is one resolved entry of an imported DLL's thunk table,
// by name or by ordinal. For a bound library, ImportedVA carries the
// binder-resolved address found in the IAT slot.
type ImportFunction struct {
	Name               string `json:"name"`
	Hint               uint16 `json:"hint"`
	ByOrdinal          bool   `json:"by_ordinal"`
	Ordinal            uint32 `json:"ordinal"`
	OriginalThunkValue uint64 `json:"original_thunk_value"`
	ThunkValue         uint64 `json:"thunk_value"`
	ThunkRVA           uint32 `json:"thunk_rva"`
	OriginalThunkRVA   uint32 `json:"original_thunk_rva"`
	ImportedVA         uint64 `json:"imported_va,omitempty"`
}

// ImportDescriptor is one imported DLL: its name and every function (or
// ordinal) the image pulls from it. Per-library diagnostics accumulate on
// the embedded error list, entry-scoped ones with an index context.
type ImportDescriptor struct {
	errlist.List

	Offset     uint32                `json:"offset"`
	Name       string                `json:"name"`
	Functions  []ImportFunction      `json:"functions"`
	Descriptor ImageImportDescriptor `json:"descriptor"`
	Bound      bool                  `json:"bound"`
}

type thunkEntry struct {
	addressOfData uint64
	rva           uint32
}

// parseImportDirectory walks the array of import descriptors at rva until
// it hits the all-zero terminator, resolving each DLL's ILT/IAT thunk
// tables in turn.
func (img *Image) parseImportDirectory(ctx *loadContext, rva, size uint32) error {
	count := uint32(0)
	for {
		if count >= maxImportDescriptors {
			img.Anomalies.AddError(AnoImportTooManyDescriptors)
			break
		}
		count++

		offset := int64(img.RVAToOffset(rva))
		var hdr packed.Struct[ImageImportDescriptor]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
			return err
		}
		desc := *hdr.Get()
		if desc == (ImageImportDescriptor{}) {
			break
		}

		descSize := uint32(packed.SizeOf[ImageImportDescriptor]())
		rva += descSize

		imp := &ImportDescriptor{
			Offset:     uint32(offset),
			Descriptor: desc,
			Bound:      desc.TimeDateStamp == boundImportStamp,
		}

		if desc.FirstThunk == 0 {
			if desc.OriginalFirstThunk == 0 {
				imp.AddError(AnoImportZeroIATAndILT)
			} else {
				imp.AddError(AnoImportZeroIAT)
			}
			img.Imports = append(img.Imports, imp)
			continue
		}

		maxLen := uint32(img.backing.Size()) - uint32(offset)
		if rva > desc.OriginalFirstThunk || rva > desc.FirstThunk {
			switch {
			case rva < desc.OriginalFirstThunk:
				maxLen = rva - desc.FirstThunk
			case rva < desc.FirstThunk:
				maxLen = rva - desc.OriginalFirstThunk
			default:
				maxLen = maxUint32(rva-desc.OriginalFirstThunk, rva-desc.FirstThunk)
			}
		}

		functions, err := img.resolveThunkTables(desc.OriginalFirstThunk, desc.FirstThunk, maxLen, false, imp.Bound, &imp.List)
		if err != nil {
			continue
		}

		dllName := img.StringAtRVA(desc.Name, maxDllNameLength)
		if desc.Name != 0 && dllName == "" {
			imp.AddError(AnoImportEmptyLibraryName)
		}
		if !isValidDosFilename(dllName) && !imp.HasError(AnoImportEmptyLibraryName) {
			dllName = "*invalid*"
			continue
		}

		imp.Name = dllName
		imp.Functions = functions
		img.Imports = append(img.Imports, imp)
	}

	if len(img.Imports) > 0 {
		img.Info.HasImport = true
	}
	return nil
}

// resolveThunkTables reads both the ILT (name/ordinal lookup table) and
// IAT (address table) for one module and fuses them into resolved
// ImportFunction entries. isOldDelayImport switches the pre-RVA delay-load
// address scheme used by Visual C++ 6.0-era delay imports. For a bound
// library the IAT carries binder-resolved VAs; otherwise a mismatch
// between the two tables is recorded on list with the entry's index.
func (img *Image) resolveThunkTables(originalFirstThunk, firstThunk, maxLen uint32, isOldDelayImport, bound bool, list *errlist.List) ([]ImportFunction, error) {
	ilt, err := img.readThunkTable(originalFirstThunk, maxLen, isOldDelayImport)
	if err != nil {
		return nil, err
	}
	iat, err := img.readThunkTable(firstThunk, maxLen, isOldDelayImport)
	if err != nil {
		return nil, err
	}
	if len(ilt) == 0 && len(iat) == 0 {
		return nil, ErrDamagedImportTable
	}

	table := ilt
	if len(table) == 0 {
		table = iat
	}

	is64 := img.OptionalHeader.Is64
	ordFlag := imageOrdinalFlag32
	mask := addressMask32
	if is64 {
		ordFlag = imageOrdinalFlag64
		mask = addressMask64
	}

	functions := make([]ImportFunction, 0, len(table))
	numInvalid := 0
	for idx, entry := range table {
		imp := ImportFunction{}
		if entry.addressOfData == 0 {
			continue
		}

		if entry.addressOfData&ordFlag != 0 {
			imp.ByOrdinal = true
			imp.Ordinal = uint32(entry.addressOfData & 0xffff)
			if idx < len(ilt) {
				imp.OriginalThunkValue = ilt[idx].addressOfData
				imp.OriginalThunkRVA = ilt[idx].rva
			}
			if idx < len(iat) {
				imp.ThunkValue = iat[idx].addressOfData
				imp.ThunkRVA = iat[idx].rva
			}
			imp.Name = "#" + strconv.Itoa(int(imp.Ordinal))
		} else {
			addr := entry.addressOfData
			if isOldDelayImport {
				addr -= uint64(img.OptionalHeader.ImageBase())
			}
			if idx < len(ilt) {
				imp.OriginalThunkValue = ilt[idx].addressOfData & mask
				imp.OriginalThunkRVA = ilt[idx].rva
			}
			if idx < len(iat) {
				imp.ThunkValue = iat[idx].addressOfData & mask
				imp.ThunkRVA = iat[idx].rva
			}

			hintNameRVA := uint32(addr & mask)
			hintBytes, err := img.DataAtRVA(hintNameRVA, 2)
			if err == nil && len(hintBytes) == 2 {
				imp.Hint = uint16(hintBytes[0]) | uint16(hintBytes[1])<<8
			} else {
				imp.Hint = ^uint16(0)
			}
			imp.Name = img.StringAtRVA(hintNameRVA+2, maxImportNameLength)
			if !isValidFunctionName(imp.Name) {
				imp.Name = "*invalid*"
			}
		}

		if imp.Ordinal == 0 && imp.Name == "" {
			list.AddErrorIndex(AnoImportNoNameNoOrdinal, idx)
		}

		if idx < len(ilt) && idx < len(iat) && ilt[idx].addressOfData != iat[idx].addressOfData {
			if bound {
				imp.ImportedVA = iat[idx].addressOfData
			} else if !img.Info.LoadedToMemory {
				list.AddErrorIndex(AnoImportThunksDiffer, idx)
			}
		}

		if imp.Name == "*invalid*" {
			numInvalid++
			if numInvalid > maxInvalidImports {
				break
			}
			continue
		}

		functions = append(functions, imp)
	}

	return functions, nil
}

// readThunkTable walks an IMAGE_THUNK_DATA array starting at rva until a
// zero entry terminates it or maxLen bytes have been consumed.
func (img *Image) readThunkTable(rva, maxLen uint32, isOldDelayImport bool) ([]thunkEntry, error) {
	if rva == 0 {
		return nil, nil
	}

	is64 := img.OptionalHeader.Is64
	entrySize := uint32(4)
	if is64 {
		entrySize = 8
	}

	startRVA := rva
	var entries []thunkEntry
	minAddr, maxAddr := ^uint64(0), uint64(0)
	seen := make(map[uint64]bool)
	repeated := 0

	for {
		if uint32(len(entries)) >= img.opts.MaxImportedSymbolsCount {
			img.Anomalies.AddError(AnoImportTooManyThunks)
			break
		}
		if rva >= startRVA+maxLen {
			img.logger.Warnf("import table entries go beyond bounds at RVA 0x%x", rva)
			break
		}
		if repeated >= maxRepeatedAddresses {
			img.Anomalies.AddError(AnoManyRepeatedImportEntries)
		}
		if maxAddr-minAddr > maxAddressSpread && maxAddr > 0 {
			img.Anomalies.AddError(AnoImportAddressSpread)
		}

		readRVA := rva
		if isOldDelayImport {
			readRVA = rva - uint32(img.OptionalHeader.ImageBase())
		}

		raw, err := img.DataAtRVA(readRVA, entrySize)
		if err != nil || uint32(len(raw)) < entrySize {
			break
		}

		var val uint64
		if is64 {
			for i := 7; i >= 0; i-- {
				val = val<<8 | uint64(raw[i])
			}
		} else {
			val = uint64(raw[0]) | uint64(raw[1])<<8 | uint64(raw[2])<<16 | uint64(raw[3])<<24
		}
		if val == 0 {
			break
		}

		ordFlag := imageOrdinalFlag32
		if is64 {
			ordFlag = imageOrdinalFlag64
		}
		if val&ordFlag == 0 {
			if seen[val] {
				repeated++
			}
			seen[val] = true
			if val > maxAddr {
				maxAddr = val
			}
			if val < minAddr {
				minAddr = val
			}
		}

		entries = append(entries, thunkEntry{addressOfData: val, rva: rva})
		rva += entrySize
	}
	return entries, nil
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func isValidDosFilename(name string) bool {
	if name == "" {
		return false
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&'()-@^_`{}~+,.;=[]\\/"
	for _, c := range name {
		if !strings.ContainsRune(charset, c) {
			return false
		}
	}
	return true
}

func isValidFunctionName(name string) bool {
	if name == "" {
		return false
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_?@$()<>"
	for _, c := range name {
		if !strings.ContainsRune(charset, c) {
			return false
		}
	}
	return true
}
