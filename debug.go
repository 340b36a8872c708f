// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// The following values are defined for the Type field of the debug
// directory entry.
const (
	ImageDebugTypeUnknown              = 0
	ImageDebugTypeCOFF                 = 1
	ImageDebugTypeCodeView             = 2
	ImageDebugTypeFPO                  = 3
	ImageDebugTypeMisc                 = 4
	ImageDebugTypeException            = 5
	ImageDebugTypeFixup                = 6
	ImageDebugTypeOMAPToSrc            = 7
	ImageDebugTypeOMAPFromSrc          = 8
	ImageDebugTypeBorland               = 9
	ImageDebugTypeReserved             = 10
	ImageDebugTypeCLSID                = 11
	ImageDebugTypeVCFeature            = 12
	ImageDebugTypePOGO                 = 13
	ImageDebugTypeILTCG                 = 14
	ImageDebugTypeMPX                  = 15
	ImageDebugTypeRepro                = 16
	ImageDebugTypeExDllCharacteristics = 20
)

const (
	// CVSignatureRSDS is the CodeView signature 'RSDS' (PDB 7.0).
	CVSignatureRSDS = 0x53445352
	// CVSignatureNB10 is the CodeView signature 'NB10' (PDB 2.0).
	CVSignatureNB10 = 0x3031424e
)

const (
	FrameFPO    = 0x0
	FrameTrap   = 0x1
	FrameTSS    = 0x2
	FrameNonFPO = 0x3
)

// DllCharacteristicsExType is a DLL Characteristics Ex bit.
type DllCharacteristicsExType uint32

const ImageDllCharacteristicsExCETCompat DllCharacteristicsExType = 0x0001

const (
	POGOTypePGU  = 0x50475500
	POGOTypePGI  = 0x50474900
	POGOTypePGO  = 0x50474F00
	POGOTypeLTCG = 0x4c544347
)

// ImageDebugDirectoryType is the Type field of a debug directory entry.
type ImageDebugDirectoryType uint32

// ImageDebugDirectory is IMAGE_DEBUG_DIRECTORY.
type ImageDebugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             ImageDebugDirectoryType
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// DebugEntry wraps one decoded debug directory entry plus the
// type-specific payload found at its raw data, when recognized.
type DebugEntry struct {
	Struct ImageDebugDirectory `json:"struct"`
	Info   interface{}         `json:"info"`
	Type   string              `json:"type"`
}

// GUID is a 128-bit Windows GUID.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// CVSignature is a CodeView debug-info block signature.
type CVSignature uint32

// CVInfoPDB70 is the CodeView block of a PDB 7.0 ("RSDS") reference.
type CVInfoPDB70 struct {
	CVSignature CVSignature `json:"cv_signature"`
	Signature   GUID        `json:"signature"`
	Age         uint32      `json:"age"`
	PDBFileName string      `json:"pdb_file_name"`
}

// CVHeader is the CodeView header of a PDB 2.0 ("NB10") reference.
type CVHeader struct {
	Signature CVSignature
	Offset    uint32
}

// CVInfoPDB20 is the CodeView block of a PDB 2.0 ("NB10") reference.
type CVInfoPDB20 struct {
	CVHeader    CVHeader `json:"cv_header"`
	Signature   uint32   `json:"signature"`
	Age         uint32   `json:"age"`
	PDBFileName string   `json:"pdb_file_name"`
}

// FPOFrameType is the frame-type nibble of an FPOData record.
type FPOFrameType uint8

// FPOData is one IMAGE_FPO_DATA entry, describing a non-standard stack
// frame for a function compiled with frame pointer omission.
type FPOData struct {
	OffsetStart    uint32
	ProcSize       uint32
	NumLocals      uint32
	ParamsSize     uint16
	PrologLength   uint8
	SavedRegsCount uint8
	HasSEH         uint8
	UseBP          uint8
	Reserved       uint8
	FrameType      FPOFrameType
}

// ImagePGOItem is one entry of a POGO debug-data block.
type ImagePGOItem struct {
	RVA  uint32 `json:"rva"`
	Size uint32 `json:"size"`
	Name string `json:"name"`
}

// POGOType is the signature of a POGO debug-data block.
type POGOType uint32

// POGO is a decoded Profile Guided Optimization debug-data block.
type POGO struct {
	Signature POGOType       `json:"signature"`
	Entries   []ImagePGOItem `json:"entries"`
}

// VCFeature carries the /GS, /sdl, and guardN counters Visual C++ stamps
// into a debug directory entry of type VCFeature.
type VCFeature struct {
	PreVC11 uint32
	CCpp    uint32
	Gs      uint32
	Sdl     uint32
	GuardN  uint32
}

// REPRO is the deterministic-build hash stamped by /Brepro.
type REPRO struct {
	Size uint32
	Hash []byte
}

// AnoDebugEntryUnreadable is recorded when a debug directory entry's raw
// data cannot be read at its declared location.
var AnoDebugEntryUnreadable = errlist.Code{
	Category: catDebugLoader, Value: 1,
	Message: "debug directory entry raw data is unreadable",
}

// AnoDebugTooManyDirectories is recorded when the directory declares more
// entries than Options.MaxDebugDirectories; the tail is dropped.
var AnoDebugTooManyDirectories = errlist.Code{
	Category: catDebugLoader, Value: 2,
	Message: "debug directory entry count exceeds the configured cap",
}

// parseDebugDirectory decodes the array of IMAGE_DEBUG_DIRECTORY entries
// at rva, then decodes whichever type-specific payload each entry's
// PointerToRawData/SizeOfData describes, when the type is recognized.
func (img *Image) parseDebugDirectory(ctx *loadContext, rva, size uint32) error {
	entrySize := uint32(packed.SizeOf[ImageDebugDirectory]())
	if entrySize == 0 {
		return nil
	}
	count := size / entrySize
	if count > ctx.opts.MaxDebugDirectories && ctx.opts.MaxDebugDirectories != 0 {
		img.Anomalies.AddError(AnoDebugTooManyDirectories)
		count = ctx.opts.MaxDebugDirectories
	}

	for i := uint32(0); i < count; i++ {
		offset := int64(img.RVAToOffset(rva + entrySize*i))
		var hdr packed.Struct[ImageDebugDirectory]
		if err := hdr.Deserialize(ctx.buf, offset, packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
			img.Anomalies.AddError(AnoDebugEntryUnreadable)
			continue
		}
		d := *hdr.Get()

		entry := DebugEntry{Struct: d, Type: d.Type.String()}
		dataRVA := img.OffsetToRVA(d.PointerToRawData)

		switch d.Type {
		case ImageDebugTypeCodeView:
			entry.Info = img.parseCodeView(dataRVA, d.SizeOfData)
		case ImageDebugTypePOGO:
			entry.Info = img.parsePOGO(dataRVA, d.SizeOfData)
		case ImageDebugTypeVCFeature:
			entry.Info = img.parseVCFeature(dataRVA)
		case ImageDebugTypeRepro:
			entry.Info = img.parseREPRO(dataRVA)
		case ImageDebugTypeFPO:
			entry.Info = img.parseFPO(dataRVA, d.SizeOfData)
		case ImageDebugTypeExDllCharacteristics:
			data, err := img.DataAtRVA(dataRVA, 4)
			if err == nil && len(data) == 4 {
				entry.Info = DllCharacteristicsExType(binary.LittleEndian.Uint32(data))
			}
		}

		img.Debugs = append(img.Debugs, &entry)
	}

	if len(img.Debugs) > 0 {
		img.Info.HasDebug = true
	}
	return nil
}

func (img *Image) parseCodeView(rva, size uint32) interface{} {
	sig, err := img.DataAtRVA(rva, 4)
	if err != nil || len(sig) < 4 {
		return nil
	}
	switch binary.LittleEndian.Uint32(sig) {
	case CVSignatureRSDS:
		pdb := CVInfoPDB70{CVSignature: CVSignatureRSDS}
		guidBytes, err := img.DataAtRVA(rva+4, 16)
		if err != nil || len(guidBytes) < 16 {
			return pdb
		}
		pdb.Signature = GUID{
			Data1: binary.LittleEndian.Uint32(guidBytes[0:4]),
			Data2: binary.LittleEndian.Uint16(guidBytes[4:6]),
			Data3: binary.LittleEndian.Uint16(guidBytes[6:8]),
		}
		copy(pdb.Signature.Data4[:], guidBytes[8:16])
		ageBytes, err := img.DataAtRVA(rva+20, 4)
		if err != nil || len(ageBytes) < 4 {
			return pdb
		}
		pdb.Age = binary.LittleEndian.Uint32(ageBytes)
		if size > 24 {
			pdb.PDBFileName = img.StringAtRVA(rva+24, size-24)
		}
		return pdb
	case CVSignatureNB10:
		pdb := CVInfoPDB20{CVHeader: CVHeader{Signature: CVSignatureNB10}}
		sigBytes, err := img.DataAtRVA(rva+8, 4)
		if err == nil && len(sigBytes) == 4 {
			pdb.Signature = binary.LittleEndian.Uint32(sigBytes)
		}
		ageBytes, err := img.DataAtRVA(rva+12, 4)
		if err == nil && len(ageBytes) == 4 {
			pdb.Age = binary.LittleEndian.Uint32(ageBytes)
		}
		if size > 16 {
			pdb.PDBFileName = img.StringAtRVA(rva+16, size-16)
		}
		return pdb
	}
	return nil
}

func (img *Image) parsePOGO(rva, size uint32) *POGO {
	sigBytes, err := img.DataAtRVA(rva, 4)
	if err != nil || len(sigBytes) < 4 {
		return nil
	}
	sig := binary.LittleEndian.Uint32(sigBytes)
	switch sig {
	case 0x0, POGOTypePGU, POGOTypePGI, POGOTypePGO, POGOTypeLTCG:
	default:
		return nil
	}

	pogo := &POGO{Signature: POGOType(sig)}
	cur := rva + 4
	consumed := uint32(4)
	for consumed < size {
		head, err := img.DataAtRVA(cur, 8)
		if err != nil || len(head) < 8 {
			break
		}
		entry := ImagePGOItem{
			RVA:  binary.LittleEndian.Uint32(head[0:4]),
			Size: binary.LittleEndian.Uint32(head[4:8]),
		}
		entry.Name = img.StringAtRVA(cur+8, 64)
		nameLen := uint32(len(entry.Name))
		advance := 8 + nameLen
		padding := (4 - (advance % 4)) % 4
		advance += padding
		pogo.Entries = append(pogo.Entries, entry)
		cur += advance
		consumed += advance
	}
	return pogo
}

func (img *Image) parseVCFeature(rva uint32) *VCFeature {
	data, err := img.DataAtRVA(rva, 20)
	if err != nil || len(data) < 20 {
		return nil
	}
	return &VCFeature{
		PreVC11: binary.LittleEndian.Uint32(data[0:4]),
		CCpp:    binary.LittleEndian.Uint32(data[4:8]),
		Gs:      binary.LittleEndian.Uint32(data[8:12]),
		Sdl:     binary.LittleEndian.Uint32(data[12:16]),
		GuardN:  binary.LittleEndian.Uint32(data[16:20]),
	}
}

func (img *Image) parseREPRO(rva uint32) *REPRO {
	sizeBytes, err := img.DataAtRVA(rva, 4)
	if err != nil || len(sizeBytes) < 4 {
		return nil
	}
	repro := &REPRO{Size: binary.LittleEndian.Uint32(sizeBytes)}
	hash, err := img.DataAtRVA(rva+4, repro.Size)
	if err != nil {
		return repro
	}
	repro.Hash = hash
	return repro
}

func (img *Image) parseFPO(rva, size uint32) []FPOData {
	var entries []FPOData
	for consumed := uint32(0); consumed+16 <= size; consumed += 16 {
		data, err := img.DataAtRVA(rva+consumed, 16)
		if err != nil || len(data) < 16 {
			break
		}
		attributes := uint16(data[15])
		entries = append(entries, FPOData{
			OffsetStart:    binary.LittleEndian.Uint32(data[0:4]),
			ProcSize:       binary.LittleEndian.Uint32(data[4:8]),
			NumLocals:      binary.LittleEndian.Uint32(data[8:12]),
			ParamsSize:     binary.LittleEndian.Uint16(data[12:14]),
			PrologLength:   data[14],
			SavedRegsCount: uint8(attributes & 0x7),
			HasSEH:         uint8(attributes&0x8) >> 3,
			UseBP:          uint8(attributes&0x10) >> 4,
			Reserved:       uint8(attributes&0x20) >> 5,
			FrameType:      FPOFrameType(attributes&0xC0) >> 6,
		})
	}
	return entries
}

// String returns the human-readable name of a debug directory entry type.
func (t ImageDebugDirectoryType) String() string {
	m := map[ImageDebugDirectoryType]string{
		ImageDebugTypeUnknown:              "Unknown",
		ImageDebugTypeCOFF:                 "COFF",
		ImageDebugTypeCodeView:             "CodeView",
		ImageDebugTypeFPO:                  "FPO",
		ImageDebugTypeMisc:                 "Misc",
		ImageDebugTypeException:            "Exception",
		ImageDebugTypeFixup:                "Fixup",
		ImageDebugTypeOMAPToSrc:            "OMAP To Src",
		ImageDebugTypeOMAPFromSrc:          "OMAP From Src",
		ImageDebugTypeBorland:              "Borland",
		ImageDebugTypeReserved:             "Reserved",
		ImageDebugTypeVCFeature:            "VC Feature",
		ImageDebugTypePOGO:                 "POGO",
		ImageDebugTypeILTCG:                "iLTCG",
		ImageDebugTypeMPX:                  "MPX",
		ImageDebugTypeRepro:                "REPRO",
		ImageDebugTypeExDllCharacteristics: "Ex.DLL Characteristics",
	}
	if v, ok := m[t]; ok {
		return v
	}
	return "?"
}

// String returns the human-readable name of a POGO sub type.
func (p POGOType) String() string {
	m := map[POGOType]string{
		POGOTypePGU:  "PGU",
		POGOTypePGI:  "PGI",
		POGOTypePGO:  "PGO",
		POGOTypeLTCG: "LTCG",
	}
	if v, ok := m[p]; ok {
		return v
	}
	return "?"
}

// String returns the human-readable name of a CodeView signature.
func (s CVSignature) String() string {
	m := map[CVSignature]string{
		CVSignatureRSDS: "RSDS",
		CVSignatureNB10: "NB10",
	}
	if v, ok := m[s]; ok {
		return v
	}
	return "?"
}

// String returns the human-readable name of a DLL Characteristics Ex bit.
func (flag DllCharacteristicsExType) String() string {
	m := map[DllCharacteristicsExType]string{
		ImageDllCharacteristicsExCETCompat: "CET Compatible",
	}
	if v, ok := m[flag]; ok {
		return v
	}
	return "?"
}
