// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

var errCOFFTableNotPresent = errors.New("pe: COFF symbol table not present")
var errCOFFSymbolsTooHigh = errors.New("pe: COFF symbols count is absurdly high")

// AnoCOFFSymbolsCount is recorded when NumberOfSymbols exceeds
// Options.MaxCOFFSymbolsCount.
var AnoCOFFSymbolsCount = errlist.Code{
	Category: catImageLoader, Value: 12,
	Message: "COFF symbol count exceeds the configured cap",
}

// COFFSymbol is one 18-byte record of the COFF symbol table inherited from
// the object-file format; images rarely carry one since COFF debug info is
// deprecated for executables, but the field is load-bearing for some
// linker-emitted driver binaries.
type COFFSymbol struct {
	Name               [8]byte
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

// parseCOFFSymbolTable decodes the symbol table pointed to by the file
// header's PointerToSymbolTable, when present.
func (img *Image) parseCOFFSymbolTable(ctx *loadContext) error {
	fh := img.FileHeader.Get()
	if fh.PointerToSymbolTable == 0 {
		return errCOFFTableNotPresent
	}

	symCount := fh.NumberOfSymbols
	if symCount == 0 {
		return nil
	}
	if symCount > ctx.opts.MaxCOFFSymbolsCount {
		img.Anomalies.AddError(AnoCOFFSymbolsCount)
		return errCOFFSymbolsTooHigh
	}

	size := packed.SizeOf[COFFSymbol]()
	offset := int64(fh.PointerToSymbolTable)

	symbols := make([]COFFSymbol, 0, symCount)
	for i := uint32(0); i < symCount; i++ {
		var sym packed.Struct[COFFSymbol]
		if err := sym.Deserialize(ctx.buf, offset, packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
			return err
		}
		symbols = append(symbols, *sym.Get())
		offset += size
	}

	img.COFFSymbols = symbols
	return nil
}
