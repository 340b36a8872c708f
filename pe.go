// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package pe parses, validates, and re-serializes Portable Executable
// (PE/PE32+) images: a typed byte-buffer substrate (package buffer), a
// packed-structure codec with explicit provenance (package packed), and a
// family of directory parsers that decode exports, imports, delay-imports,
// TLS, base relocations, debug info, .NET metadata, bound imports,
// resources, load configuration, exception unwind info, the Rich header,
// trustlet policy metadata, and security certificates, plus an image
// builder that serializes a decoded Image back to bytes.
package pe

import "github.com/binaryscan/pecore/errlist"

// Image executable and DOS-family signatures.
const (
	// ImageDOSSignature is 'MZ', the DOS MZ executable signature.
	ImageDOSSignature = 0x5A4D

	// ImageDOSZMSignature is 'ZM', seen on some pre-Windows executables.
	ImageDOSZMSignature = 0x4D5A

	// ImageOS2Signature is 'NE', the 16-bit New Executable signature.
	ImageOS2Signature = 0x454E

	// ImageOS2LESignature is 'LE', the Linear Executable signature.
	ImageOS2LESignature = 0x454C

	// ImageVXDSignature is 'LX', the mixed 16/32-bit VxD signature.
	ImageVXDSignature = 0x584C

	// ImageTESignature is 'VZ', the Terse Executable signature.
	ImageTESignature = 0x5A56

	// ImageNTSignature is "PE\x00\x00", the start of the NT headers.
	ImageNTSignature = 0x00004550
)

// Optional header magic values.
const (
	ImageNtOptionalHeader32Magic = 0x10b
	ImageNtOptionalHeader64Magic = 0x20b
	ImageROMOptionalHeaderMagic  = 0x10
)

// Image file machine types, IMAGE_FILE_HEADER.Machine.
const (
	ImageFileMachineUnknown = uint16(0x0)
	ImageFileMachineAM33    = uint16(0x1d3)
	ImageFileMachineAMD64   = uint16(0x8664)
	ImageFileMachineARM     = uint16(0x1c0)
	ImageFileMachineARM64   = uint16(0xaa64)
	ImageFileMachineARMNT   = uint16(0x1c4)
	ImageFileMachineI386    = uint16(0x14c)
	ImageFileMachineIA64    = uint16(0x200)
	ImageFileMachineRISCV32 = uint16(0x5032)
	ImageFileMachineRISCV64 = uint16(0x5064)
)

// IMAGE_FILE_HEADER.Characteristics flags.
const (
	ImageFileRelocsStripped    = 0x0001
	ImageFileExecutableImage   = 0x0002
	ImageFileLineNumsStripped  = 0x0004
	ImageFileLocalSymsStripped = 0x0008
	ImageFileLargeAddressAware = 0x0020
	ImageFile32BitMachine      = 0x0100
	ImageFileDebugStripped     = 0x0200
	ImageFileSystem            = 0x1000
	ImageFileDLL               = 0x2000
)

// DirectoryType identifies one of the sixteen well-known data directory
// entries, by the ordinal meaning spec.md §3.4 assigns each index.
type DirectoryType int

// Data directory entries of an OptionalHeader, in data-directory-array
// order.
const (
	DirectoryExport           DirectoryType = iota // Export Table
	DirectoryImport                                 // Import Table
	DirectoryResource                                // Resource Table
	DirectoryException                               // Exception Table
	DirectorySecurity                                // Certificate Table
	DirectoryBaseReloc                               // Base Relocation Table
	DirectoryDebug                                   // Debug Directory
	DirectoryArchitecture                            // Architecture-specific data
	DirectoryGlobalPtr                               // Global pointer register value
	DirectoryTLS                                     // Thread Local Storage Table
	DirectoryLoadConfig                              // Load Configuration Table
	DirectoryBoundImport                             // Bound Import Table
	DirectoryIAT                                     // Import Address Table
	DirectoryDelayImport                             // Delay Import Descriptor
	DirectoryCOMDescriptor                           // CLR/.NET Runtime Header
	DirectoryReserved                                // Must be zero
	NumberOfDirectoryEntries                         // Tables count
)

// String names a directory type the way a directory-wide error-list
// context would, and the way a dumper would label a section.
func (d DirectoryType) String() string {
	names := map[DirectoryType]string{
		DirectoryExport:        "Export",
		DirectoryImport:        "Import",
		DirectoryResource:      "Resource",
		DirectoryException:     "Exception",
		DirectorySecurity:      "Security",
		DirectoryBaseReloc:     "BaseReloc",
		DirectoryDebug:         "Debug",
		DirectoryArchitecture:  "Architecture",
		DirectoryGlobalPtr:     "GlobalPtr",
		DirectoryTLS:           "TLS",
		DirectoryLoadConfig:    "LoadConfig",
		DirectoryBoundImport:   "BoundImport",
		DirectoryIAT:           "IAT",
		DirectoryDelayImport:   "DelayImport",
		DirectoryCOMDescriptor: "COMDescriptor",
		DirectoryReserved:      "Reserved",
	}
	if s, ok := names[d]; ok {
		return s
	}
	return "Unknown"
}

// FileInfo summarizes which structural pieces an Image carries, mirroring
// teacher pe.go's FileInfo struct.
type FileInfo struct {
	Is32           bool
	Is64           bool
	HasDOSHdr      bool
	HasRichHdr     bool
	HasNTHdr       bool
	HasSections    bool
	HasExport      bool
	HasImport      bool
	HasResource    bool
	HasException   bool
	HasSecurity    bool
	HasReloc       bool
	HasDebug       bool
	HasGlobalPtr   bool
	HasTLS         bool
	HasLoadCFG     bool
	HasBoundImp    bool
	HasIAT         bool
	HasDelayImp    bool
	HasCOM         bool
	HasOverlay     bool
	HasTrustlet    bool
	LoadedToMemory bool
}

// Per-subsystem error categories, compared by identity rather than by name
// so two loaders can each define a code numbered 1 without colliding.
var (
	catImageLoader    = errlist.NewCategory("image-loader")
	catImageBuilder   = errlist.NewCategory("image-builder")
	catExportLoader   = errlist.NewCategory("export-loader")
	catImportLoader   = errlist.NewCategory("import-loader")
	catDelayImport    = errlist.NewCategory("delay-import-loader")
	catRelocLoader    = errlist.NewCategory("relocation-loader")
	catRelocEntry     = errlist.NewCategory("relocation-entry")
	catRebase         = errlist.NewCategory("rebase")
	catTLSLoader      = errlist.NewCategory("tls-loader")
	catDebugLoader    = errlist.NewCategory("debug-loader")
	catResourceReader = errlist.NewCategory("resource-reader")
	catAccelerator    = errlist.NewCategory("resource-accelerator")
	catMessageTable   = errlist.NewCategory("resource-message-table")
	catStringTable    = errlist.NewCategory("resource-string-table")
	catBitmap         = errlist.NewCategory("resource-bitmap")
	catLoadConfig     = errlist.NewCategory("load-config-loader")
	catException      = errlist.NewCategory("exception-loader")
	catBoundImport    = errlist.NewCategory("bound-import-loader")
	catDotNet         = errlist.NewCategory("dotnet-loader")
	catRichHeader     = errlist.NewCategory("rich-header")
	catTrustlet       = errlist.NewCategory("trustlet-policy")
	catSecurity       = errlist.NewCategory("security-loader")
)
