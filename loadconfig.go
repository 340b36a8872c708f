// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// ImageGuardFlagType is a GFIDS table entry's per-target flag byte.
type ImageGuardFlagType uint8

const (
	ImageGuardFlagFIDSuppressed    = 0x1
	ImageGuardFlagExportSuppressed = 0x2
)

// GuardFlags bits of the load-config directory.
const (
	ImageGuardCfInstrumented                 = 0x00000100
	ImageGuardCfWInstrumented                = 0x00000200
	ImageGuardCfFunctionTablePresent         = 0x00000400
	ImageGuardSecurityCookieUnused           = 0x00000800
	ImageGuardProtectDelayLoadIAT            = 0x00001000
	ImageGuardDelayLoadIATInItsOwnSection    = 0x00002000
	ImageGuardCfExportSuppressionInfoPresent = 0x00004000
	ImageGuardCfEnableExportSuppression      = 0x00008000
	ImageGuardCfLongJumpTablePresent         = 0x00010000
	ImageGuardRfInstrumented                 = 0x00020000
	ImageGuardRfEnable                       = 0x00040000
	ImageGuardRfStrict                       = 0x00080000
	ImageGuardRetpolinePresent               = 0x00100000
	ImageGuardEhContinuationTablePresent     = 0x00400000
	ImageGuardXfgEnabled                     = 0x00800000
)

const (
	ImageGuardCfFunctionTableSizeMask  = 0xF0000000
	ImageGuardCfFunctionTableSizeShift = 28
)

// Dynamic value relocation symbol numbers.
const (
	ImageDynamicRelocationGuardRfPrologue         = 0x00000001
	ImageDynamicRelocationGuardRfEpilogue         = 0x00000002
	ImageDynamicRelocationGuardImportControlXfer  = 0x00000003
	ImageDynamicRelocationGuardIndirControlXfer   = 0x00000004
	ImageDynamicRelocationGuardSwitchtableBranch  = 0x00000005
	ImageDynamicRelocationArm64X                  = 0x00000006
	ImageDynamicRelocationFunctionOverride        = 0x00000007
	ImageDynamicRelocationArm64KernelImportCallXfer = 0x00000008
)

// ARM64X fixup kinds packed into the low bits of each fixup record.
const (
	Arm64XFixupZeroFill = 0
	Arm64XFixupCopyData = 1
	Arm64XFixupAddDelta = 2
)

// LoadConfigVersion names the historical layout tier a load-config
// descriptor's leading Size field matches.
type LoadConfigVersion int

const (
	LoadConfigVersionBase LoadConfigVersion = iota
	LoadConfigVersionSEH
	LoadConfigVersionCFGuard
	LoadConfigVersionCodeIntegrity
	LoadConfigVersionCFGuardEx
	LoadConfigVersionHybridPE
	LoadConfigVersionRFGuard
	LoadConfigVersionRFGuardEx
	LoadConfigVersionEnclave
	LoadConfigVersionVolatileMetadata
	LoadConfigVersionEHGuard
	LoadConfigVersionXFGuard
	LoadConfigVersionCastGuard
	LoadConfigVersionMemcpyGuard
)

// String names a load-config layout tier.
func (v LoadConfigVersion) String() string {
	names := map[LoadConfigVersion]string{
		LoadConfigVersionBase:             "Base",
		LoadConfigVersionSEH:              "SafeSEH",
		LoadConfigVersionCFGuard:          "CFGuard",
		LoadConfigVersionCodeIntegrity:    "CodeIntegrity",
		LoadConfigVersionCFGuardEx:        "CFGuardEx",
		LoadConfigVersionHybridPE:         "HybridPE",
		LoadConfigVersionRFGuard:          "RFGuard",
		LoadConfigVersionRFGuardEx:        "RFGuardEx",
		LoadConfigVersionEnclave:          "Enclave",
		LoadConfigVersionVolatileMetadata: "VolatileMetadata",
		LoadConfigVersionEHGuard:          "EHGuard",
		LoadConfigVersionXFGuard:          "XFGuard",
		LoadConfigVersionCastGuard:        "CastGuard",
		LoadConfigVersionMemcpyGuard:      "MemcpyGuard",
	}
	if s, ok := names[v]; ok {
		return s
	}
	return "?"
}

// loadConfigSizeStamps32/64 map each layout tier to the descriptor size,
// in bytes, at which the tier's last field ends. The matching version for
// a declared size is the largest stamp it reaches.
var loadConfigSizeStamps32 = []int64{
	0x40, 0x48, 0x5C, 0x68, 0x78, 0x80, 0x90,
	0x98, 0xA0, 0xA4, 0xAC, 0xB8, 0xBC, 0xC0,
}

var loadConfigSizeStamps64 = []int64{
	0x60, 0x70, 0x94, 0xA0, 0xC0, 0xD0, 0xE8,
	0xF4, 0x100, 0x108, 0x118, 0x130, 0x138, 0x140,
}

func loadConfigVersionFromSize(size int64, is64 bool) LoadConfigVersion {
	stamps := loadConfigSizeStamps32
	if is64 {
		stamps = loadConfigSizeStamps64
	}
	version := LoadConfigVersionBase
	for i, stamp := range stamps {
		if size >= stamp {
			version = LoadConfigVersion(i)
		}
	}
	return version
}

// ImageLoadConfigCodeIntegrity carries the code-integrity catalog
// reference embedded in the load-config directory.
type ImageLoadConfigCodeIntegrity struct {
	Flags         uint16
	Catalog       uint16
	CatalogOffset uint32
	Reserved      uint32
}

// ImageLoadConfigDirectory32 is IMAGE_LOAD_CONFIG_DIRECTORY32, the full
// modern layout; Size (the struct's own first field) tells a reader how
// many of these bytes actually came from the file.
type ImageLoadConfigDirectory32 struct {
	Size                                     uint32
	TimeDateStamp                            uint32
	MajorVersion                             uint16
	MinorVersion                             uint16
	GlobalFlagsClear                         uint32
	GlobalFlagsSet                           uint32
	CriticalSectionDefaultTimeout            uint32
	DeCommitFreeBlockThreshold               uint32
	DeCommitTotalFreeThreshold               uint32
	LockPrefixTable                          uint32
	MaximumAllocationSize                    uint32
	VirtualMemoryThreshold                   uint32
	ProcessHeapFlags                         uint32
	ProcessAffinityMask                      uint32
	CSDVersion                               uint16
	DependentLoadFlags                       uint16
	EditList                                 uint32
	SecurityCookie                           uint32
	SEHandlerTable                           uint32
	SEHandlerCount                           uint32
	GuardCFCheckFunctionPointer              uint32
	GuardCFDispatchFunctionPointer           uint32
	GuardCFFunctionTable                     uint32
	GuardCFFunctionCount                     uint32
	GuardFlags                               uint32
	CodeIntegrity                            ImageLoadConfigCodeIntegrity
	GuardAddressTakenIATEntryTable           uint32
	GuardAddressTakenIATEntryCount           uint32
	GuardLongJumpTargetTable                 uint32
	GuardLongJumpTargetCount                 uint32
	DynamicValueRelocTable                   uint32
	CHPEMetadataPointer                      uint32
	GuardRFFailureRoutine                    uint32
	GuardRFFailureRoutineFunctionPointer     uint32
	DynamicValueRelocTableOffset             uint32
	DynamicValueRelocTableSection            uint16
	Reserved2                                uint16
	GuardRFVerifyStackPointerFunctionPointer uint32
	HotPatchTableOffset                      uint32
	Reserved3                                uint32
	EnclaveConfigurationPointer              uint32
	VolatileMetadataPointer                  uint32
	GuardEHContinuationTable                 uint32
	GuardEHContinuationCount                 uint32
	GuardXFGCheckFunctionPointer             uint32
	GuardXFGDispatchFunctionPointer          uint32
	GuardXFGTableDispatchFunctionPointer     uint32
	CastGuardOSDeterminedFailureMode         uint32
	GuardMemcpyFunctionPointer               uint32
}

// ImageLoadConfigDirectory64 is IMAGE_LOAD_CONFIG_DIRECTORY64.
type ImageLoadConfigDirectory64 struct {
	Size                                     uint32
	TimeDateStamp                            uint32
	MajorVersion                             uint16
	MinorVersion                             uint16
	GlobalFlagsClear                         uint32
	GlobalFlagsSet                           uint32
	CriticalSectionDefaultTimeout            uint32
	DeCommitFreeBlockThreshold               uint64
	DeCommitTotalFreeThreshold               uint64
	LockPrefixTable                          uint64
	MaximumAllocationSize                    uint64
	VirtualMemoryThreshold                   uint64
	ProcessAffinityMask                      uint64
	ProcessHeapFlags                         uint32
	CSDVersion                               uint16
	DependentLoadFlags                       uint16
	EditList                                 uint64
	SecurityCookie                           uint64
	SEHandlerTable                           uint64
	SEHandlerCount                           uint64
	GuardCFCheckFunctionPointer              uint64
	GuardCFDispatchFunctionPointer           uint64
	GuardCFFunctionTable                     uint64
	GuardCFFunctionCount                     uint64
	GuardFlags                               uint32
	CodeIntegrity                            ImageLoadConfigCodeIntegrity
	GuardAddressTakenIATEntryTable           uint64
	GuardAddressTakenIATEntryCount           uint64
	GuardLongJumpTargetTable                 uint64
	GuardLongJumpTargetCount                 uint64
	DynamicValueRelocTable                   uint64
	CHPEMetadataPointer                      uint64
	GuardRFFailureRoutine                    uint64
	GuardRFFailureRoutineFunctionPointer     uint64
	DynamicValueRelocTableOffset             uint32
	DynamicValueRelocTableSection            uint16
	Reserved2                                uint16
	GuardRFVerifyStackPointerFunctionPointer uint64
	HotPatchTableOffset                      uint32
	Reserved3                                uint32
	EnclaveConfigurationPointer              uint64
	VolatileMetadataPointer                  uint64
	GuardEHContinuationTable                 uint64
	GuardEHContinuationCount                 uint64
	GuardXFGCheckFunctionPointer             uint64
	GuardXFGDispatchFunctionPointer          uint64
	GuardXFGTableDispatchFunctionPointer     uint64
	CastGuardOSDeterminedFailureMode         uint64
	GuardMemcpyFunctionPointer               uint64
}

// CFGFunction is one entry of a Control Flow Guard RVA table (GFIDS,
// address-taken IAT, or long-jump targets): a valid target RVA plus the
// optional per-entry metadata bytes the table's stride carries.
type CFGFunction struct {
	RVA         uint32             `json:"rva"`
	Flags       ImageGuardFlagType `json:"flags"`
	Description string             `json:"description,omitempty"`
}

// CHPECodeRange is one entry of the CHPE metadata's code address range
// table; the low bits of StartOffset select the architecture of the range.
type CHPECodeRange struct {
	StartOffset uint32 `json:"start_offset"`
	Length      uint32 `json:"length"`
}

// CHPEMetadata is the hybrid-PE compiled-hybrid metadata block: a version
// stamp and the code address range table; the remaining payload fields are
// version-gated pointers this reader keeps as raw words.
type CHPEMetadata struct {
	Version    uint32          `json:"version"`
	CodeRanges []CHPECodeRange `json:"code_ranges,omitempty"`
}

// Arm64XFixup is one decoded ARM64X dynamic relocation: the page-relative
// target plus what to do there when the image runs in its alternate view.
type Arm64XFixup struct {
	PageRVA uint32 `json:"page_rva"`
	Offset  uint16 `json:"offset"`
	Kind    uint8  `json:"kind"`
	Size    uint32 `json:"size"`
	Data    []byte `json:"data,omitempty"`
	Delta   uint64 `json:"delta,omitempty"`
}

// DynamicFixup is one decoded fixup record of a non-ARM64X dynamic value
// relocation block, kept as the packed record plus its page.
type DynamicFixup struct {
	PageRVA uint32 `json:"page_rva"`
	Raw     uint32 `json:"raw"`
	Offset  uint16 `json:"offset"`
}

// FunctionOverrideInfo is one entry of a FunctionOverride dynamic
// relocation: the original RVA being overridden and its replacement RVAs.
type FunctionOverrideInfo struct {
	OriginalRVA  uint32   `json:"original_rva"`
	BDDOffset    uint32   `json:"bdd_offset"`
	RVAs         []uint32 `json:"rvas,omitempty"`
	BaseRelocRaw []byte   `json:"base_reloc_raw,omitempty"`
}

// DynamicRelocEntry is one symbol group of the dynamic value relocation
// table: the symbol selects how its fixup blocks decode.
type DynamicRelocEntry struct {
	Symbol       uint64                 `json:"symbol"`
	Size         uint32                 `json:"size"`
	Arm64XFixups []Arm64XFixup          `json:"arm64x_fixups,omitempty"`
	Fixups       []DynamicFixup         `json:"fixups,omitempty"`
	Overrides    []FunctionOverrideInfo `json:"overrides,omitempty"`
}

// DynamicRelocTable is the decoded dynamic value relocation table,
// version 1 or 2.
type DynamicRelocTable struct {
	Version uint32              `json:"version"`
	Size    uint32              `json:"size"`
	Entries []DynamicRelocEntry `json:"entries,omitempty"`
}

// EnclaveImport is one entry of an enclave configuration's import list.
// Entries may carry extra opaque trailing bytes when ImportEntrySize
// exceeds the defined layout.
type EnclaveImport struct {
	MatchType              uint32   `json:"match_type"`
	MinimumSecurityVersion uint32   `json:"minimum_security_version"`
	UniqueOrAuthorID       [32]byte `json:"unique_or_author_id"`
	FamilyID               [16]byte `json:"family_id"`
	ImageID                [16]byte `json:"image_id"`
	ImportNameRVA          uint32   `json:"import_name_rva"`
	ImportName             string   `json:"import_name,omitempty"`
	Reserved               uint32   `json:"reserved"`
	Extra                  []byte   `json:"extra,omitempty"`
}

// EnclaveConfig is the decoded enclave configuration descriptor plus its
// import list.
type EnclaveConfig struct {
	Size                      uint32          `json:"size"`
	MinimumRequiredConfigSize uint32          `json:"minimum_required_config_size"`
	PolicyFlags               uint32          `json:"policy_flags"`
	NumberOfImports           uint32          `json:"number_of_imports"`
	ImportListRVA             uint32          `json:"import_list_rva"`
	ImportEntrySize           uint32          `json:"import_entry_size"`
	FamilyID                  [16]byte        `json:"family_id"`
	ImageID                   [16]byte        `json:"image_id"`
	ImageVersion              uint32          `json:"image_version"`
	SecurityVersion           uint32          `json:"security_version"`
	EnclaveSize               uint64          `json:"enclave_size"`
	NumberOfThreads           uint32          `json:"number_of_threads"`
	EnclaveFlags              uint32          `json:"enclave_flags"`
	Imports                   []EnclaveImport `json:"imports,omitempty"`
}

// VolatileAccessRange is one entry of the volatile metadata's info range
// table.
type VolatileAccessRange struct {
	RVA  uint32 `json:"rva"`
	Size uint32 `json:"size"`
}

// VolatileMetadata is the decoded volatile metadata block: the table of
// volatile access RVAs and the table of volatile info ranges.
type VolatileMetadata struct {
	Size         uint32                `json:"size"`
	Version      uint32                `json:"version"`
	AccessRVAs   []uint32              `json:"access_rvas,omitempty"`
	InfoRanges   []VolatileAccessRange `json:"info_ranges,omitempty"`
}

// LoadConfig is the decoded load-config directory: the bitness-appropriate
// descriptor, its derived layout tier, and every version- and flag-gated
// sub-table this build resolves. Diagnostics accumulate on the embedded
// error list.
type LoadConfig struct {
	errlist.List

	Version  LoadConfigVersion           `json:"version"`
	Struct32 *ImageLoadConfigDirectory32 `json:"struct32,omitempty"`
	Struct64 *ImageLoadConfigDirectory64 `json:"struct64,omitempty"`

	LockPrefixes          []uint64       `json:"lock_prefixes,omitempty"`
	SEHHandlers           []uint32       `json:"seh_handlers,omitempty"`
	CFGFunctions          []CFGFunction  `json:"cfg_functions,omitempty"`
	AddressTakenEntries   []CFGFunction  `json:"address_taken_entries,omitempty"`
	LongJumpTargets       []CFGFunction  `json:"long_jump_targets,omitempty"`
	EHContinuationTargets []uint32       `json:"eh_continuation_targets,omitempty"`
	CHPE                  *CHPEMetadata  `json:"chpe,omitempty"`
	DynamicRelocs         *DynamicRelocTable `json:"dynamic_relocs,omitempty"`
	Enclave               *EnclaveConfig     `json:"enclave,omitempty"`
	Volatile              *VolatileMetadata  `json:"volatile,omitempty"`
}

// Load-config diagnostics.
var (
	// AnoLoadConfigProbeVAUnreadable is recorded when one of the
	// directory's single-pointer probe VAs (security cookie, CF check
	// function, XFG dispatch, ...) does not resolve to readable memory.
	AnoLoadConfigProbeVAUnreadable = errlist.Code{
		Category: catLoadConfig, Value: 1,
		Message: "load configuration probe VA is not resolvable",
	}

	// AnoLoadConfigTooManySEHHandlers is recorded when the SafeSEH handler
	// count exceeds Options.MaxSafeSEHHandlerCount; the table is truncated.
	AnoLoadConfigTooManySEHHandlers = errlist.Code{
		Category: catLoadConfig, Value: 2,
		Message: "SafeSEH handler count exceeds the configured cap",
	}

	// AnoLoadConfigUnsortedCFGTable is recorded when a guard RVA table
	// (GFIDS, address-taken, long-jump) is not sorted ascending by RVA.
	AnoLoadConfigUnsortedCFGTable = errlist.Code{
		Category: catLoadConfig, Value: 3,
		Message: "guard RVA table is not sorted by RVA",
	}

	// AnoLoadConfigUnsortedEHContTable is recorded when the EH continuation
	// target table is not sorted ascending.
	AnoLoadConfigUnsortedEHContTable = errlist.Code{
		Category: catLoadConfig, Value: 4,
		Message: "EH continuation target table is not sorted by RVA",
	}

	// AnoLoadConfigTooManyEHContTargets is recorded when the EH
	// continuation count exceeds Options.MaxEHContTargets.
	AnoLoadConfigTooManyEHContTargets = errlist.Code{
		Category: catLoadConfig, Value: 5,
		Message: "EH continuation target count exceeds the configured cap",
	}

	// AnoLoadConfigCHPEUnreadable is recorded when the CHPE metadata
	// pointer resolves outside readable data.
	AnoLoadConfigCHPEUnreadable = errlist.Code{
		Category: catLoadConfig, Value: 6,
		Message: "CHPE metadata is unreadable",
	}

	// AnoLoadConfigTooManyCHPERanges is recorded when the CHPE code range
	// count exceeds Options.MaxCHPECodeAddressRangeCount.
	AnoLoadConfigTooManyCHPERanges = errlist.Code{
		Category: catLoadConfig, Value: 7,
		Message: "CHPE code range count exceeds the configured cap",
	}

	// AnoLoadConfigDVRTMalformed is recorded when the dynamic value
	// relocation table's headers or blocks are truncated or inconsistent.
	AnoLoadConfigDVRTMalformed = errlist.Code{
		Category: catLoadConfig, Value: 8,
		Message: "dynamic value relocation table is malformed",
	}

	// AnoLoadConfigDVRTUnknownVersion is recorded when the dynamic value
	// relocation table declares a version other than 1 or 2.
	AnoLoadConfigDVRTUnknownVersion = errlist.Code{
		Category: catLoadConfig, Value: 9,
		Message: "dynamic value relocation table version is unknown",
	}

	// AnoLoadConfigDVRTUnknownSymbol is recorded, with the entry index,
	// when a dynamic relocation symbol is not one of the defined numbers;
	// its fixup blocks are kept raw.
	AnoLoadConfigDVRTUnknownSymbol = errlist.Code{
		Category: catLoadConfig, Value: 10,
		Message: "dynamic value relocation symbol is unknown",
	}

	// AnoLoadConfigEnclaveUnreadable is recorded when the enclave
	// configuration pointer or its import list resolves outside the image.
	AnoLoadConfigEnclaveUnreadable = errlist.Code{
		Category: catLoadConfig, Value: 11,
		Message: "enclave configuration is unreadable",
	}

	// AnoLoadConfigTooManyEnclaveImports is recorded when the enclave
	// import count exceeds Options.MaxEnclaveNumberOfImports.
	AnoLoadConfigTooManyEnclaveImports = errlist.Code{
		Category: catLoadConfig, Value: 12,
		Message: "enclave import count exceeds the configured cap",
	}

	// AnoLoadConfigVolatileUnreadable is recorded when the volatile
	// metadata pointer resolves outside readable data.
	AnoLoadConfigVolatileUnreadable = errlist.Code{
		Category: catLoadConfig, Value: 13,
		Message: "volatile metadata is unreadable",
	}
)

// parseLoadConfigDirectory decodes the version-gated load-config
// descriptor via a strict size-prefixed read: the descriptor's own leading
// Size field, not the data directory's Size, bounds how many of the
// struct's trailing fields actually exist. The derived layout tier and the
// GuardFlags then gate which sub-tables are walked.
func (img *Image) parseLoadConfigDirectory(ctx *loadContext, rva, size uint32) error {
	offset := int64(img.RVAToOffset(rva))
	sizeField, err := img.DataAtRVA(rva, 4)
	if err != nil || len(sizeField) < 4 {
		return ErrOutsideBoundary
	}
	declared := int64(binary.LittleEndian.Uint32(sizeField))

	lc := &LoadConfig{Version: loadConfigVersionFromSize(declared, img.OptionalHeader.Is64)}
	imageBase := img.OptionalHeader.ImageBase()

	if img.OptionalHeader.Is64 {
		var hdr packed.Struct[ImageLoadConfigDirectory64]
		if err := hdr.DeserializeUntilSize(ctx.buf, offset, declared, packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
			return err
		}
		d := *hdr.Get()
		lc.Struct64 = &d
		img.parseLoadConfigTables64(ctx, lc, &d, imageBase)
	} else {
		var hdr packed.Struct[ImageLoadConfigDirectory32]
		if err := hdr.DeserializeUntilSize(ctx.buf, offset, declared, packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
			return err
		}
		d := *hdr.Get()
		lc.Struct32 = &d
		img.parseLoadConfigTables32(ctx, lc, &d, imageBase)
	}

	img.LoadConfig = lc
	img.Info.HasLoadCFG = true
	return nil
}

func (img *Image) parseLoadConfigTables32(ctx *loadContext, lc *LoadConfig, d *ImageLoadConfigDirectory32, imageBase uint64) {
	if d.LockPrefixTable != 0 {
		lc.LockPrefixes = img.readLockPrefixTable(uint64(d.LockPrefixTable), imageBase, 4)
	}

	// SafeSEH is a PE32-only mechanism.
	if lc.Version >= LoadConfigVersionSEH && d.SEHandlerCount > 0 && uint64(d.SEHandlerTable) >= imageBase {
		count := d.SEHandlerCount
		if count > ctx.opts.MaxSafeSEHHandlerCount {
			lc.AddError(AnoLoadConfigTooManySEHHandlers)
			count = ctx.opts.MaxSafeSEHHandlerCount
		}
		lc.SEHHandlers = img.readRVATable(d.SEHandlerTable-uint32(imageBase), count)
	}

	stride := (d.GuardFlags & ImageGuardCfFunctionTableSizeMask) >> ImageGuardCfFunctionTableSizeShift
	if lc.Version >= LoadConfigVersionCFGuard && d.GuardCFFunctionCount > 0 && uint64(d.GuardCFFunctionTable) >= imageBase {
		lc.CFGFunctions = img.readGuardTable(lc, d.GuardCFFunctionTable-uint32(imageBase), uint64(d.GuardCFFunctionCount), stride)
	}
	if lc.Version >= LoadConfigVersionCFGuardEx {
		if d.GuardAddressTakenIATEntryCount > 0 && uint64(d.GuardAddressTakenIATEntryTable) >= imageBase {
			lc.AddressTakenEntries = img.readGuardTable(lc, d.GuardAddressTakenIATEntryTable-uint32(imageBase), uint64(d.GuardAddressTakenIATEntryCount), stride)
		}
		if d.GuardLongJumpTargetCount > 0 && uint64(d.GuardLongJumpTargetTable) >= imageBase {
			lc.LongJumpTargets = img.readGuardTable(lc, d.GuardLongJumpTargetTable-uint32(imageBase), uint64(d.GuardLongJumpTargetCount), stride)
		}
	}

	if lc.Version >= LoadConfigVersionHybridPE && d.CHPEMetadataPointer != 0 {
		lc.CHPE = img.parseCHPEMetadata(ctx, lc, uint64(d.CHPEMetadataPointer), imageBase)
	}
	if lc.Version >= LoadConfigVersionHybridPE {
		img.parseDynamicRelocTable(ctx, lc, uint64(d.DynamicValueRelocTable), imageBase,
			d.DynamicValueRelocTableSection, d.DynamicValueRelocTableOffset)
	}
	if lc.Version >= LoadConfigVersionEnclave && d.EnclaveConfigurationPointer != 0 {
		lc.Enclave = img.parseEnclaveConfig(ctx, lc, uint64(d.EnclaveConfigurationPointer), imageBase)
	}
	if lc.Version >= LoadConfigVersionVolatileMetadata && d.VolatileMetadataPointer != 0 {
		lc.Volatile = img.parseVolatileMetadata(lc, uint64(d.VolatileMetadataPointer), imageBase)
	}
	if lc.Version >= LoadConfigVersionEHGuard && d.GuardEHContinuationCount > 0 && uint64(d.GuardEHContinuationTable) >= imageBase {
		lc.EHContinuationTargets = img.readEHContTable(ctx, lc, d.GuardEHContinuationTable-uint32(imageBase), uint64(d.GuardEHContinuationCount), stride)
	}

	img.probeLoadConfigVA(lc, uint64(d.SecurityCookie), imageBase)
	img.probeLoadConfigVA(lc, uint64(d.GuardCFCheckFunctionPointer), imageBase)
	img.probeLoadConfigVA(lc, uint64(d.GuardCFDispatchFunctionPointer), imageBase)
	if lc.Version >= LoadConfigVersionXFGuard {
		img.probeLoadConfigVA(lc, uint64(d.GuardXFGCheckFunctionPointer), imageBase)
		img.probeLoadConfigVA(lc, uint64(d.GuardXFGDispatchFunctionPointer), imageBase)
		img.probeLoadConfigVA(lc, uint64(d.GuardXFGTableDispatchFunctionPointer), imageBase)
	}
	if lc.Version >= LoadConfigVersionCastGuard {
		img.probeLoadConfigVA(lc, uint64(d.CastGuardOSDeterminedFailureMode), imageBase)
	}
	if lc.Version >= LoadConfigVersionMemcpyGuard {
		img.probeLoadConfigVA(lc, uint64(d.GuardMemcpyFunctionPointer), imageBase)
	}
}

func (img *Image) parseLoadConfigTables64(ctx *loadContext, lc *LoadConfig, d *ImageLoadConfigDirectory64, imageBase uint64) {
	if d.LockPrefixTable != 0 {
		lc.LockPrefixes = img.readLockPrefixTable(d.LockPrefixTable, imageBase, 8)
	}

	stride := (d.GuardFlags & ImageGuardCfFunctionTableSizeMask) >> ImageGuardCfFunctionTableSizeShift
	if lc.Version >= LoadConfigVersionCFGuard && d.GuardCFFunctionCount > 0 && d.GuardCFFunctionTable >= imageBase {
		lc.CFGFunctions = img.readGuardTable(lc, uint32(d.GuardCFFunctionTable-imageBase), d.GuardCFFunctionCount, stride)
	}
	if lc.Version >= LoadConfigVersionCFGuardEx {
		if d.GuardAddressTakenIATEntryCount > 0 && d.GuardAddressTakenIATEntryTable >= imageBase {
			lc.AddressTakenEntries = img.readGuardTable(lc, uint32(d.GuardAddressTakenIATEntryTable-imageBase), d.GuardAddressTakenIATEntryCount, stride)
		}
		if d.GuardLongJumpTargetCount > 0 && d.GuardLongJumpTargetTable >= imageBase {
			lc.LongJumpTargets = img.readGuardTable(lc, uint32(d.GuardLongJumpTargetTable-imageBase), d.GuardLongJumpTargetCount, stride)
		}
	}

	if lc.Version >= LoadConfigVersionHybridPE && d.CHPEMetadataPointer != 0 {
		lc.CHPE = img.parseCHPEMetadata(ctx, lc, d.CHPEMetadataPointer, imageBase)
	}
	if lc.Version >= LoadConfigVersionHybridPE {
		img.parseDynamicRelocTable(ctx, lc, d.DynamicValueRelocTable, imageBase,
			d.DynamicValueRelocTableSection, d.DynamicValueRelocTableOffset)
	}
	if lc.Version >= LoadConfigVersionEnclave && d.EnclaveConfigurationPointer != 0 {
		lc.Enclave = img.parseEnclaveConfig(ctx, lc, d.EnclaveConfigurationPointer, imageBase)
	}
	if lc.Version >= LoadConfigVersionVolatileMetadata && d.VolatileMetadataPointer != 0 {
		lc.Volatile = img.parseVolatileMetadata(lc, d.VolatileMetadataPointer, imageBase)
	}
	if lc.Version >= LoadConfigVersionEHGuard && d.GuardEHContinuationCount > 0 && d.GuardEHContinuationTable >= imageBase {
		lc.EHContinuationTargets = img.readEHContTable(ctx, lc, uint32(d.GuardEHContinuationTable-imageBase), d.GuardEHContinuationCount, stride)
	}

	img.probeLoadConfigVA(lc, d.SecurityCookie, imageBase)
	img.probeLoadConfigVA(lc, d.GuardCFCheckFunctionPointer, imageBase)
	img.probeLoadConfigVA(lc, d.GuardCFDispatchFunctionPointer, imageBase)
	if lc.Version >= LoadConfigVersionXFGuard {
		img.probeLoadConfigVA(lc, d.GuardXFGCheckFunctionPointer, imageBase)
		img.probeLoadConfigVA(lc, d.GuardXFGDispatchFunctionPointer, imageBase)
		img.probeLoadConfigVA(lc, d.GuardXFGTableDispatchFunctionPointer, imageBase)
	}
	if lc.Version >= LoadConfigVersionCastGuard {
		img.probeLoadConfigVA(lc, d.CastGuardOSDeterminedFailureMode, imageBase)
	}
	if lc.Version >= LoadConfigVersionMemcpyGuard {
		img.probeLoadConfigVA(lc, d.GuardMemcpyFunctionPointer, imageBase)
	}
}

// readLockPrefixTable walks the zero-terminated VA list of LOCK prefix
// addresses.
func (img *Image) readLockPrefixTable(va, imageBase uint64, entrySize uint32) []uint64 {
	if va < imageBase {
		return nil
	}
	rva := uint32(va - imageBase)
	const maxLockPrefixes = 0x1000

	var out []uint64
	for i := uint32(0); i < maxLockPrefixes; i++ {
		data, err := img.DataAtRVA(rva+i*entrySize, entrySize)
		if err != nil || uint32(len(data)) < entrySize {
			break
		}
		var v uint64
		if entrySize == 8 {
			v = binary.LittleEndian.Uint64(data)
		} else {
			v = uint64(binary.LittleEndian.Uint32(data))
		}
		if v == 0 {
			break
		}
		out = append(out, v)
	}
	return out
}

// readRVATable reads count consecutive 32-bit RVAs.
func (img *Image) readRVATable(rva, count uint32) []uint32 {
	var out []uint32
	for i := uint32(0); i < count; i++ {
		data, err := img.DataAtRVA(rva+i*4, 4)
		if err != nil || len(data) < 4 {
			break
		}
		out = append(out, binary.LittleEndian.Uint32(data))
	}
	return out
}

// readGuardTable reads a guard RVA table of (rva, stride metadata bytes)
// entries and diagnoses any sort-order inversion on lc. A suppressed entry
// is annotated with the export it suppresses, when one matches.
func (img *Image) readGuardTable(lc *LoadConfig, rva uint32, count uint64, stride uint32) []CFGFunction {
	var out []CFGFunction
	cur := rva
	prev := uint32(0)
	for i := uint64(0); i < count; i++ {
		head, err := img.DataAtRVA(cur, 4)
		if err != nil || len(head) < 4 {
			break
		}
		fn := CFGFunction{RVA: binary.LittleEndian.Uint32(head)}
		if stride > 0 {
			flagByte, err := img.DataAtRVA(cur+4, 1)
			if err == nil && len(flagByte) == 1 {
				fn.Flags = ImageGuardFlagType(flagByte[0])
				if fn.Flags&(ImageGuardFlagFIDSuppressed|ImageGuardFlagExportSuppressed) != 0 && img.Export != nil {
					for j := range img.Export.Functions {
						if img.Export.Functions[j].FunctionRVA == fn.RVA {
							fn.Description = img.Export.Functions[j].Name
							break
						}
					}
				}
			}
		}
		if i > 0 && fn.RVA < prev {
			lc.AddError(AnoLoadConfigUnsortedCFGTable)
		}
		prev = fn.RVA
		out = append(out, fn)
		cur += 4 + stride
	}
	return out
}

// readEHContTable reads the EH continuation target table: RVA entries with
// the same stride scheme as the guard tables, capped and sort-checked.
func (img *Image) readEHContTable(ctx *loadContext, lc *LoadConfig, rva uint32, count uint64, stride uint32) []uint32 {
	if count > uint64(ctx.opts.MaxEHContTargets) {
		lc.AddError(AnoLoadConfigTooManyEHContTargets)
		count = uint64(ctx.opts.MaxEHContTargets)
	}
	var out []uint32
	cur := rva
	prev := uint32(0)
	for i := uint64(0); i < count; i++ {
		data, err := img.DataAtRVA(cur, 4)
		if err != nil || len(data) < 4 {
			break
		}
		target := binary.LittleEndian.Uint32(data)
		if i > 0 && target < prev {
			lc.AddError(AnoLoadConfigUnsortedEHContTable)
		}
		prev = target
		out = append(out, target)
		cur += 4 + stride
	}
	return out
}

// parseCHPEMetadata decodes the compiled-hybrid metadata version stamp and
// code address range table.
func (img *Image) parseCHPEMetadata(ctx *loadContext, lc *LoadConfig, va, imageBase uint64) *CHPEMetadata {
	if va < imageBase {
		lc.AddError(AnoLoadConfigCHPEUnreadable)
		return nil
	}
	rva := uint32(va - imageBase)
	head, err := img.DataAtRVA(rva, 12)
	if err != nil || len(head) < 12 {
		lc.AddError(AnoLoadConfigCHPEUnreadable)
		return nil
	}

	meta := &CHPEMetadata{Version: binary.LittleEndian.Uint32(head)}
	rangesRVA := binary.LittleEndian.Uint32(head[4:])
	rangeCount := binary.LittleEndian.Uint32(head[8:])
	if rangeCount > ctx.opts.MaxCHPECodeAddressRangeCount {
		lc.AddError(AnoLoadConfigTooManyCHPERanges)
		rangeCount = ctx.opts.MaxCHPECodeAddressRangeCount
	}

	for i := uint32(0); i < rangeCount; i++ {
		raw, err := img.DataAtRVA(rangesRVA+i*8, 8)
		if err != nil || len(raw) < 8 {
			break
		}
		meta.CodeRanges = append(meta.CodeRanges, CHPECodeRange{
			StartOffset: binary.LittleEndian.Uint32(raw),
			Length:      binary.LittleEndian.Uint32(raw[4:]),
		})
	}
	return meta
}

// parseDynamicRelocTable locates the dynamic value relocation table either
// through the section/offset pair or the direct VA, then decodes its
// version-1 or version-2 symbol groups.
func (img *Image) parseDynamicRelocTable(ctx *loadContext, lc *LoadConfig, va, imageBase uint64, section uint16, sectionOffset uint32) {
	var rva uint32
	switch {
	case section > 0 && int(section) <= len(img.Sections):
		h := img.Sections[section-1].Header.Get()
		rva = img.adjustSectionAlignment(h.VirtualAddress) + sectionOffset
	case va >= imageBase && va != 0:
		rva = uint32(va - imageBase)
	default:
		return
	}

	head, err := img.DataAtRVA(rva, 8)
	if err != nil || len(head) < 8 {
		lc.AddError(AnoLoadConfigDVRTMalformed)
		return
	}
	table := &DynamicRelocTable{
		Version: binary.LittleEndian.Uint32(head),
		Size:    binary.LittleEndian.Uint32(head[4:]),
	}
	if table.Version != 1 && table.Version != 2 {
		lc.AddError(AnoLoadConfigDVRTUnknownVersion)
		lc.DynamicRelocs = table
		return
	}

	is64 := img.OptionalHeader.Is64
	cur := rva + 8
	end := cur + table.Size
	entryIdx := 0
	for cur < end {
		var symbol uint64
		var entrySize uint32

		if table.Version == 1 {
			symbolSize := uint32(4)
			if is64 {
				symbolSize = 8
			}
			raw, err := img.DataAtRVA(cur, symbolSize+4)
			if err != nil || uint32(len(raw)) < symbolSize+4 {
				lc.AddError(AnoLoadConfigDVRTMalformed)
				break
			}
			if is64 {
				symbol = binary.LittleEndian.Uint64(raw)
			} else {
				symbol = uint64(binary.LittleEndian.Uint32(raw))
			}
			entrySize = binary.LittleEndian.Uint32(raw[symbolSize:])
			cur += symbolSize + 4
		} else {
			// v2 headers are self-sized: HeaderSize, FixupInfoSize,
			// Symbol, SymbolGroup, Flags.
			raw, err := img.DataAtRVA(cur, 24)
			if err != nil || len(raw) < 24 {
				lc.AddError(AnoLoadConfigDVRTMalformed)
				break
			}
			headerSize := binary.LittleEndian.Uint32(raw)
			entrySize = binary.LittleEndian.Uint32(raw[4:])
			symbol = binary.LittleEndian.Uint64(raw[8:])
			if headerSize < 24 {
				lc.AddError(AnoLoadConfigDVRTMalformed)
				break
			}
			cur += headerSize
		}

		entry := DynamicRelocEntry{Symbol: symbol, Size: entrySize}
		img.parseDynamicRelocBlocks(lc, &entry, cur, entrySize, entryIdx)
		table.Entries = append(table.Entries, entry)
		cur += entrySize
		entryIdx++
	}

	lc.DynamicRelocs = table
}

// parseDynamicRelocBlocks walks the base-reloc-shaped blocks of one symbol
// group and decodes each fixup per the symbol's record layout.
func (img *Image) parseDynamicRelocBlocks(lc *LoadConfig, entry *DynamicRelocEntry, rva, size uint32, entryIdx int) {
	switch entry.Symbol {
	case ImageDynamicRelocationGuardImportControlXfer,
		ImageDynamicRelocationGuardIndirControlXfer,
		ImageDynamicRelocationGuardSwitchtableBranch,
		ImageDynamicRelocationGuardRfPrologue,
		ImageDynamicRelocationGuardRfEpilogue,
		ImageDynamicRelocationArm64X,
		ImageDynamicRelocationFunctionOverride,
		ImageDynamicRelocationArm64KernelImportCallXfer:
	default:
		lc.AddErrorIndex(AnoLoadConfigDVRTUnknownSymbol, entryIdx)
		return
	}

	if entry.Symbol == ImageDynamicRelocationFunctionOverride {
		img.parseFunctionOverrides(lc, entry, rva, size)
		return
	}

	cur := rva
	end := rva + size
	for cur+8 <= end {
		blockHead, err := img.DataAtRVA(cur, 8)
		if err != nil || len(blockHead) < 8 {
			lc.AddError(AnoLoadConfigDVRTMalformed)
			return
		}
		pageRVA := binary.LittleEndian.Uint32(blockHead)
		blockSize := binary.LittleEndian.Uint32(blockHead[4:])
		if blockSize < 8 || cur+blockSize > end {
			lc.AddError(AnoLoadConfigDVRTMalformed)
			return
		}

		body, err := img.DataAtRVA(cur+8, blockSize-8)
		if err != nil {
			lc.AddError(AnoLoadConfigDVRTMalformed)
			return
		}
		if entry.Symbol == ImageDynamicRelocationArm64X {
			decodeArm64XBlock(entry, pageRVA, body)
		} else {
			decodeDynamicFixupBlock(entry, pageRVA, body)
		}
		cur += blockSize
	}
}

// decodeArm64XBlock decodes one ARM64X block body: 2-byte fixup headers
// whose kind selects zero-fill, inline copy data, or a scaled delta.
func decodeArm64XBlock(entry *DynamicRelocEntry, pageRVA uint32, body []byte) {
	pos := 0
	for pos+2 <= len(body) {
		raw := binary.LittleEndian.Uint16(body[pos:])
		pos += 2
		if raw == 0 {
			// Alignment padding at the end of a block.
			continue
		}
		fixup := Arm64XFixup{
			PageRVA: pageRVA,
			Offset:  raw & 0x0fff,
			Kind:    uint8((raw >> 12) & 0x3),
		}
		meta := uint32((raw >> 14) & 0x3)

		switch fixup.Kind {
		case Arm64XFixupZeroFill:
			fixup.Size = 1 << meta
		case Arm64XFixupCopyData:
			fixup.Size = 1 << meta
			if pos+int(fixup.Size) > len(body) {
				return
			}
			fixup.Data = body[pos : pos+int(fixup.Size)]
			pos += int(fixup.Size)
		case Arm64XFixupAddDelta:
			if pos+2 > len(body) {
				return
			}
			// The operand is a 16-bit value scaled by 4, signed via the
			// meta bits: bit 0 selects sign, bit 1 selects an 8x scale.
			operand := uint64(binary.LittleEndian.Uint16(body[pos:]))
			pos += 2
			scale := uint64(4)
			if meta&0x2 != 0 {
				scale = 8
			}
			fixup.Delta = operand * scale
			if meta&0x1 != 0 {
				fixup.Delta = -fixup.Delta
			}
		default:
			return
		}
		entry.Arm64XFixups = append(entry.Arm64XFixups, fixup)
	}
}

// decodeDynamicFixupBlock decodes a block of fixed-size control-transfer
// fixup records; the packed raw word is retained alongside the common
// page-relative offset.
func decodeDynamicFixupBlock(entry *DynamicRelocEntry, pageRVA uint32, body []byte) {
	recordSize := 2
	if entry.Symbol == ImageDynamicRelocationGuardImportControlXfer ||
		entry.Symbol == ImageDynamicRelocationArm64KernelImportCallXfer {
		recordSize = 4
	}
	for pos := 0; pos+recordSize <= len(body); pos += recordSize {
		var raw uint32
		if recordSize == 4 {
			raw = binary.LittleEndian.Uint32(body[pos:])
		} else {
			raw = uint32(binary.LittleEndian.Uint16(body[pos:]))
		}
		if raw == 0 {
			continue
		}
		entry.Fixups = append(entry.Fixups, DynamicFixup{
			PageRVA: pageRVA,
			Raw:     raw,
			Offset:  uint16(raw & 0x0fff),
		})
	}
}

// parseFunctionOverrides decodes the FunctionOverride symbol group: a
// length-prefixed override info region followed by a BDD info region, each
// override carrying its replacement RVA list and raw base relocations.
func (img *Image) parseFunctionOverrides(lc *LoadConfig, entry *DynamicRelocEntry, rva, size uint32) {
	head, err := img.DataAtRVA(rva, 4)
	if err != nil || len(head) < 4 {
		lc.AddError(AnoLoadConfigDVRTMalformed)
		return
	}
	overrideSize := binary.LittleEndian.Uint32(head)
	if overrideSize > size {
		lc.AddError(AnoLoadConfigDVRTMalformed)
		return
	}

	cur := rva + 4
	end := rva + 4 + overrideSize
	for cur+16 <= end {
		raw, err := img.DataAtRVA(cur, 16)
		if err != nil || len(raw) < 16 {
			lc.AddError(AnoLoadConfigDVRTMalformed)
			return
		}
		info := FunctionOverrideInfo{
			OriginalRVA: binary.LittleEndian.Uint32(raw),
			BDDOffset:   binary.LittleEndian.Uint32(raw[4:]),
		}
		rvaSize := binary.LittleEndian.Uint32(raw[8:])
		baseRelocSize := binary.LittleEndian.Uint32(raw[12:])
		cur += 16

		if cur+rvaSize > end || rvaSize%4 != 0 {
			lc.AddError(AnoLoadConfigDVRTMalformed)
			return
		}
		info.RVAs = img.readRVATable(cur, rvaSize/4)
		cur += rvaSize

		if cur+baseRelocSize > end {
			lc.AddError(AnoLoadConfigDVRTMalformed)
			return
		}
		if baseRelocSize > 0 {
			relocRaw, err := img.DataAtRVA(cur, baseRelocSize)
			if err == nil {
				info.BaseRelocRaw = relocRaw
			}
			cur += baseRelocSize
		}
		entry.Overrides = append(entry.Overrides, info)
	}
}

// parseEnclaveConfig decodes the enclave configuration descriptor and its
// import list. Each import occupies ImportEntrySize bytes; bytes past the
// defined layout are kept as opaque extra data.
func (img *Image) parseEnclaveConfig(ctx *loadContext, lc *LoadConfig, va, imageBase uint64) *EnclaveConfig {
	if va < imageBase {
		lc.AddError(AnoLoadConfigEnclaveUnreadable)
		return nil
	}
	rva := uint32(va - imageBase)

	const fixed32 = 72
	size := uint32(fixed32)
	if img.OptionalHeader.Is64 {
		size += 4
	}
	raw, err := img.DataAtRVA(rva, size+8)
	if err != nil || uint32(len(raw)) < size {
		lc.AddError(AnoLoadConfigEnclaveUnreadable)
		return nil
	}

	ec := &EnclaveConfig{
		Size:                      binary.LittleEndian.Uint32(raw),
		MinimumRequiredConfigSize: binary.LittleEndian.Uint32(raw[4:]),
		PolicyFlags:               binary.LittleEndian.Uint32(raw[8:]),
		NumberOfImports:           binary.LittleEndian.Uint32(raw[12:]),
		ImportListRVA:             binary.LittleEndian.Uint32(raw[16:]),
		ImportEntrySize:           binary.LittleEndian.Uint32(raw[20:]),
	}
	copy(ec.FamilyID[:], raw[24:40])
	copy(ec.ImageID[:], raw[40:56])
	ec.ImageVersion = binary.LittleEndian.Uint32(raw[56:])
	ec.SecurityVersion = binary.LittleEndian.Uint32(raw[60:])
	if img.OptionalHeader.Is64 {
		ec.EnclaveSize = binary.LittleEndian.Uint64(raw[64:])
		ec.NumberOfThreads = binary.LittleEndian.Uint32(raw[72:])
		ec.EnclaveFlags = binary.LittleEndian.Uint32(raw[76:])
	} else {
		ec.EnclaveSize = uint64(binary.LittleEndian.Uint32(raw[64:]))
		ec.NumberOfThreads = binary.LittleEndian.Uint32(raw[68:])
		ec.EnclaveFlags = binary.LittleEndian.Uint32(raw[72:])
	}

	count := ec.NumberOfImports
	if count > ctx.opts.MaxEnclaveNumberOfImports {
		lc.AddError(AnoLoadConfigTooManyEnclaveImports)
		count = ctx.opts.MaxEnclaveNumberOfImports
	}
	const importFixed = 80
	entrySize := ec.ImportEntrySize
	if entrySize < importFixed {
		entrySize = importFixed
	}

	for i := uint32(0); i < count; i++ {
		impRaw, err := img.DataAtRVA(ec.ImportListRVA+i*entrySize, entrySize)
		if err != nil || uint32(len(impRaw)) < importFixed {
			lc.AddError(AnoLoadConfigEnclaveUnreadable)
			break
		}
		imp := EnclaveImport{
			MatchType:              binary.LittleEndian.Uint32(impRaw),
			MinimumSecurityVersion: binary.LittleEndian.Uint32(impRaw[4:]),
			ImportNameRVA:          binary.LittleEndian.Uint32(impRaw[72:]),
			Reserved:               binary.LittleEndian.Uint32(impRaw[76:]),
		}
		copy(imp.UniqueOrAuthorID[:], impRaw[8:40])
		copy(imp.FamilyID[:], impRaw[40:56])
		copy(imp.ImageID[:], impRaw[56:72])
		if uint32(len(impRaw)) > importFixed {
			imp.Extra = impRaw[importFixed:]
		}
		if imp.ImportNameRVA != 0 {
			imp.ImportName = img.StringAtRVA(imp.ImportNameRVA, maxDllNameLength)
		}
		ec.Imports = append(ec.Imports, imp)
	}
	return ec
}

// parseVolatileMetadata decodes the volatile metadata block: the volatile
// access RVA table and the volatile info range table.
func (img *Image) parseVolatileMetadata(lc *LoadConfig, va, imageBase uint64) *VolatileMetadata {
	if va < imageBase {
		lc.AddError(AnoLoadConfigVolatileUnreadable)
		return nil
	}
	rva := uint32(va - imageBase)
	raw, err := img.DataAtRVA(rva, 24)
	if err != nil || len(raw) < 24 {
		lc.AddError(AnoLoadConfigVolatileUnreadable)
		return nil
	}

	vm := &VolatileMetadata{
		Size:    binary.LittleEndian.Uint32(raw),
		Version: binary.LittleEndian.Uint32(raw[4:]),
	}
	accessRVA := binary.LittleEndian.Uint32(raw[8:])
	accessSize := binary.LittleEndian.Uint32(raw[12:])
	rangeRVA := binary.LittleEndian.Uint32(raw[16:])
	rangeSize := binary.LittleEndian.Uint32(raw[20:])

	if accessRVA != 0 && accessSize%4 == 0 {
		vm.AccessRVAs = img.readRVATable(accessRVA, accessSize/4)
	}
	if rangeRVA != 0 && rangeSize%8 == 0 {
		for i := uint32(0); i < rangeSize/8; i++ {
			rec, err := img.DataAtRVA(rangeRVA+i*8, 8)
			if err != nil || len(rec) < 8 {
				break
			}
			vm.InfoRanges = append(vm.InfoRanges, VolatileAccessRange{
				RVA:  binary.LittleEndian.Uint32(rec),
				Size: binary.LittleEndian.Uint32(rec[4:]),
			})
		}
	}
	return vm
}

func (img *Image) probeLoadConfigVA(lc *LoadConfig, va, imageBase uint64) {
	if va == 0 {
		return
	}
	if va < imageBase {
		lc.AddError(AnoLoadConfigProbeVAUnreadable)
		return
	}
	if _, err := img.DataAtRVA(uint32(va-imageBase), 1); err != nil {
		lc.AddError(AnoLoadConfigProbeVAUnreadable)
	}
}

// StringifyGuardFlags returns the set of GuardFlags bits set in flags, in
// declaration order.
func StringifyGuardFlags(flags uint32) []string {
	var out []string
	bits := []struct {
		flag uint32
		name string
	}{
		{ImageGuardCfInstrumented, "CF_INSTRUMENTED"},
		{ImageGuardCfWInstrumented, "CFW_INSTRUMENTED"},
		{ImageGuardCfFunctionTablePresent, "CF_FUNCTION_TABLE_PRESENT"},
		{ImageGuardSecurityCookieUnused, "SECURITY_COOKIE_UNUSED"},
		{ImageGuardProtectDelayLoadIAT, "PROTECT_DELAYLOAD_IAT"},
		{ImageGuardDelayLoadIATInItsOwnSection, "DELAYLOAD_IAT_IN_ITS_OWN_SECTION"},
		{ImageGuardCfExportSuppressionInfoPresent, "CF_EXPORT_SUPPRESSION_INFO_PRESENT"},
		{ImageGuardCfEnableExportSuppression, "CF_ENABLE_EXPORT_SUPPRESSION"},
		{ImageGuardCfLongJumpTablePresent, "CF_LONGJUMP_TABLE_PRESENT"},
		{ImageGuardRfInstrumented, "RF_INSTRUMENTED"},
		{ImageGuardRfEnable, "RF_ENABLE"},
		{ImageGuardRfStrict, "RF_STRICT"},
		{ImageGuardRetpolinePresent, "RETPOLINE_PRESENT"},
		{ImageGuardEhContinuationTablePresent, "EH_CONTINUATION_TABLE_PRESENT"},
		{ImageGuardXfgEnabled, "XFG_ENABLED"},
	}
	for _, b := range bits {
		if flags&b.flag != 0 {
			out = append(out, b.name)
		}
	}
	return out
}
