// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"sort"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

const maxExportNameLength = 0x200

// ErrExportOrdinalsExhausted is returned by FirstFreeOrdinal when every
// ordinal up to the 16-bit maximum is already claimed.
var ErrExportOrdinalsExhausted = errors.New("pe: no free export ordinal below 0x10000")

// AnoExportForwarderChainLoop is recorded when an export's forwarder chain
// points back at an address that has already been visited.
var AnoExportForwarderChainLoop = errlist.Code{
	Category: catExportLoader, Value: 1,
	Message: "export forwarder chain loops back on itself",
}

// AnoExportOrdinalOutOfRange is recorded when a name ordinal doesn't land
// inside [Base, Base+NumberOfFunctions).
var AnoExportOrdinalOutOfRange = errlist.Code{
	Category: catExportLoader, Value: 2,
	Message: "export name ordinal out of range",
}

// AnoExportInvalidLibraryName is recorded on the directory when the Name
// RVA does not resolve to a readable string.
var AnoExportInvalidLibraryName = errlist.Code{
	Category: catExportLoader, Value: 3,
	Message: "export directory library name is unreadable",
}

// AnoExportInvalidForwardedName is recorded on a symbol whose address
// points inside the export directory but carries no readable forwarder
// string.
var AnoExportInvalidForwardedName = errlist.Code{
	Category: catExportLoader, Value: 4,
	Message: "export forwarder string is unreadable",
}

// AnoExportInvalidRVA is recorded on a symbol whose address points outside
// every section and outside the headers.
var AnoExportInvalidRVA = errlist.Code{
	Category: catExportLoader, Value: 5,
	Message: "exported address does not resolve inside the image",
}

// AnoExportUnsortedNames is recorded on the directory when the name table
// is not in ascending lexicographic order; binary search over it is then
// unreliable.
var AnoExportUnsortedNames = errlist.Code{
	Category: catExportLoader, Value: 6,
	Message: "export name table is not lexicographically sorted",
}

// AnoExportEmptyName is recorded on a symbol whose name string is empty.
var AnoExportEmptyName = errlist.Code{
	Category: catExportLoader, Value: 7,
	Message: "export symbol has an empty name",
}

// AnoExportTooManyFunctions is recorded on the directory when
// NumberOfFunctions exceeds Options.MaxNumberOfFunctions; the address
// table is truncated at the cap.
var AnoExportTooManyFunctions = errlist.Code{
	Category: catExportLoader, Value: 8,
	Message: "export function count exceeds the configured cap",
}

// AnoExportTooManyNames is recorded on the directory when NumberOfNames
// exceeds Options.MaxNumberOfFunctions; the name table is truncated at
// the cap.
var AnoExportTooManyNames = errlist.Code{
	Category: catExportLoader, Value: 9,
	Message: "export name count exceeds the configured cap",
}

// ImageExportDirectory is IMAGE_EXPORT_DIRECTORY, the structure the export
// data directory points at.
type ImageExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// ExportFunction is one exported symbol: its address, its name if it has
// one, and its forwarder target if the export is itself a forward to
// another DLL's export.
type ExportFunction struct {
	errlist.List

	Ordinal      uint32 `json:"ordinal"`
	FunctionRVA  uint32 `json:"function_rva"`
	NameRVA      uint32 `json:"name_rva"`
	Name         string `json:"name"`
	Forwarder    string `json:"forwarder"`
	ForwarderRVA uint32 `json:"forwarder_rva"`
}

// ExportDirectory is the decoded export table: the module's own name, plus
// every exported ordinal/name/address triple. Directory-wide diagnostics
// accumulate on the embedded error list; per-symbol ones on each function.
type ExportDirectory struct {
	errlist.List

	Struct    ImageExportDirectory `json:"struct"`
	Name      string               `json:"name"`
	Functions []ExportFunction     `json:"functions"`
}

// SymbolByOrdinal returns the exported function with the given ordinal,
// or nil if no such export exists.
func (e *ExportDirectory) SymbolByOrdinal(ordinal uint32) *ExportFunction {
	for i := range e.Functions {
		if e.Functions[i].Ordinal == ordinal {
			return &e.Functions[i]
		}
	}
	return nil
}

// SymbolByName returns the exported function with the given name, or nil
// if no such named export exists.
func (e *ExportDirectory) SymbolByName(name string) *ExportFunction {
	for i := range e.Functions {
		if e.Functions[i].Name == name {
			return &e.Functions[i]
		}
	}
	return nil
}

// FirstFreeOrdinal returns the lowest ordinal, starting at the directory's
// Base, that is not already claimed by an export. When every ordinal up to
// the 16-bit ceiling is taken it fails with ErrExportOrdinalsExhausted.
func (e *ExportDirectory) FirstFreeOrdinal() (uint32, error) {
	taken := make(map[uint32]bool, len(e.Functions))
	for _, f := range e.Functions {
		taken[f.Ordinal] = true
	}
	for ord := e.Struct.Base; ord <= 0xFFFF; ord++ {
		if !taken[ord] {
			return ord, nil
		}
	}
	return 0, ErrExportOrdinalsExhausted
}

// LastFreeOrdinal returns the ordinal immediately past the highest ordinal
// currently in use, the conventional slot for appending a new export.
func (e *ExportDirectory) LastFreeOrdinal() uint32 {
	highest := e.Struct.Base
	for _, f := range e.Functions {
		if f.Ordinal+1 > highest {
			highest = f.Ordinal + 1
		}
	}
	return highest
}

// AddByOrdinal inserts an anonymous export at the given ordinal.
func (e *ExportDirectory) AddByOrdinal(ordinal, functionRVA uint32) *ExportFunction {
	return e.insert(ExportFunction{Ordinal: ordinal, FunctionRVA: functionRVA})
}

// AddNamed inserts a named export at the given ordinal.
func (e *ExportDirectory) AddNamed(ordinal uint32, name string, functionRVA uint32) *ExportFunction {
	fn := e.insert(ExportFunction{Ordinal: ordinal, FunctionRVA: functionRVA, Name: name})
	e.Struct.NumberOfNames++
	return fn
}

// AddForwarder inserts a named export at the given ordinal that forwards to
// another module's export ("DLLNAME.FunctionName").
func (e *ExportDirectory) AddForwarder(ordinal uint32, name, forwardedName string) *ExportFunction {
	fn := e.insert(ExportFunction{Ordinal: ordinal, Name: name, Forwarder: forwardedName})
	e.Struct.NumberOfNames++
	return fn
}

// insert places fn in ordinal order and keeps the descriptor's counters in
// step, as the loader expects.
func (e *ExportDirectory) insert(fn ExportFunction) *ExportFunction {
	e.Functions = append(e.Functions, fn)
	sort.Slice(e.Functions, func(i, j int) bool {
		return e.Functions[i].Ordinal < e.Functions[j].Ordinal
	})
	e.Struct.NumberOfFunctions = e.LastFreeOrdinal() - e.Struct.Base
	for i := range e.Functions {
		if e.Functions[i].Ordinal == fn.Ordinal {
			return &e.Functions[i]
		}
	}
	return nil
}

// parseExportDirectory decodes the export table at rva, walking the
// parallel AddressOfFunctions/AddressOfNames/AddressOfNameOrdinals arrays
// the way the Windows loader does: functions are addressed by ordinal
// first, and names are a sparse overlay resolved through the ordinal
// table.
func (img *Image) parseExportDirectory(ctx *loadContext, rva, size uint32) error {
	offset := int64(img.RVAToOffset(rva))

	var hdr packed.Struct[ImageExportDirectory]
	if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, true); err != nil {
		return err
	}
	d := *hdr.Get()

	exp := &ExportDirectory{Struct: d}
	exp.Name = img.StringAtRVA(d.Name, maxExportNameLength)
	if d.Name != 0 && exp.Name == "" {
		exp.AddError(AnoExportInvalidLibraryName)
	}

	if d.NumberOfFunctions == 0 {
		img.Export = exp
		img.Info.HasExport = true
		return nil
	}

	nFuncs := d.NumberOfFunctions
	if nFuncs > ctx.opts.MaxNumberOfFunctions {
		exp.AddError(AnoExportTooManyFunctions)
		nFuncs = ctx.opts.MaxNumberOfFunctions
	}

	functions := make([]ExportFunction, 0, nFuncs)
	for i := uint32(0); i < nFuncs; i++ {
		funcRVA, err := img.readUint32AtRVA(d.AddressOfFunctions + i*4)
		if err != nil {
			break
		}
		if funcRVA == 0 {
			continue
		}
		fn := ExportFunction{Ordinal: d.Base + i, FunctionRVA: funcRVA}

		// A forwarder's FunctionRVA points inside the export directory
		// itself rather than at code; its bytes are an ASCII
		// "DLLNAME.FunctionName" string.
		if funcRVA >= rva && funcRVA < rva+size {
			fn.ForwarderRVA = funcRVA
			fn.Forwarder = img.StringAtRVA(funcRVA, maxExportNameLength)
			if fn.Forwarder == "" {
				fn.AddError(AnoExportInvalidForwardedName)
			}
		} else if _, err := img.DataAtRVA(funcRVA, 0); err != nil {
			fn.AddError(AnoExportInvalidRVA)
		}

		functions = append(functions, fn)
	}

	// Names are a sparse, sorted-by-string overlay: AddressOfNames[i] is
	// an RVA to a name, and AddressOfNameOrdinals[i] is the index (not
	// ordinal) into AddressOfFunctions that the name resolves to.
	byIndex := make(map[uint32]*ExportFunction, len(functions))
	for i := range functions {
		byIndex[functions[i].Ordinal-d.Base] = &functions[i]
	}

	nNames := d.NumberOfNames
	if nNames > ctx.opts.MaxNumberOfFunctions {
		exp.AddError(AnoExportTooManyNames)
		nNames = ctx.opts.MaxNumberOfFunctions
	}
	prevName := ""
	for i := uint32(0); i < nNames; i++ {
		nameRVA, err := img.readUint32AtRVA(d.AddressOfNames + i*4)
		if err != nil {
			break
		}
		ordIdx, err := img.readUint16AtRVA(d.AddressOfNameOrdinals + i*2)
		if err != nil {
			break
		}
		fn, ok := byIndex[uint32(ordIdx)]
		if !ok {
			exp.AddErrorIndex(AnoExportOrdinalOutOfRange, int(i))
			continue
		}
		fn.NameRVA = nameRVA
		fn.Name = img.StringAtRVA(nameRVA, maxExportNameLength)
		if fn.Name == "" {
			fn.AddError(AnoExportEmptyName)
		}
		// The loader binary-searches this table, so an inversion
		// anywhere makes lookups by name unreliable.
		if i > 0 && fn.Name < prevName {
			exp.AddError(AnoExportUnsortedNames)
		}
		prevName = fn.Name
	}

	exp.Functions = functions
	img.Export = exp
	img.Info.HasExport = true
	return nil
}

func (img *Image) readUint32AtRVA(rva uint32) (uint32, error) {
	data, err := img.DataAtRVA(rva, 4)
	if err != nil || len(data) < 4 {
		return 0, ErrOutsideBoundary
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, nil
}

func (img *Image) readUint16AtRVA(rva uint32) (uint16, error) {
	data, err := img.DataAtRVA(rva, 2)
	if err != nil || len(data) < 2 {
		return 0, ErrOutsideBoundary
	}
	return uint16(data[0]) | uint16(data[1])<<8, nil
}
