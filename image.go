// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/binaryscan/pecore/buffer"
	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/log"
	"github.com/binaryscan/pecore/packed"
)

// TinyPESize is the smallest byte count a file must reach before it is worth
// attempting to decode at all (DOS header plus a minimal NT header).
const TinyPESize = 97

// MaxDefaultCOFFSymbolsCount bounds how many COFF symbols the loader reads unless
// Options.MaxCOFFSymbolsCount overrides it.
const MaxDefaultCOFFSymbolsCount = 0x10000

// MaxDefaultRelocEntriesCount bounds how many relocation entries the loader reads
// per block unless Options.MaxRelocEntriesCount overrides it.
const MaxDefaultRelocEntriesCount = 0x10000

// Fatal errors returned by Load/LoadBytes; nothing downstream can be
// decoded once one of these fires.
var (
	// ErrInvalidPESize is returned when the input is smaller than TinyPESize.
	ErrInvalidPESize = errors.New("pe: not enough data to be a valid PE image")
)

// AnoReservedDataDirectoryEntry is recorded when the reserved 16th data
// directory entry carries a non-zero virtual address.
var AnoReservedDataDirectoryEntry = errlist.Code{
	Category: catImageLoader, Value: 2,
	Message: "reserved data directory entry is non-zero",
}

// Options configures how an Image is loaded and decoded. The zero value is
// valid: every cap defaults to a safe ceiling and every provenance switch
// defaults to the conservative, spec-faithful behavior.
type Options struct {
	// Fast parses only the header structures and skips data directories.
	Fast bool

	// LoadedToMemory marks the input as a memory dump rather than an
	// on-disk file: raw data layout equals virtual layout, so RVAs are
	// plain offsets and ILT/IAT divergence is expected.
	LoadedToMemory bool

	// SectionEntropy computes Shannon entropy for every section's raw data.
	SectionEntropy bool

	// AllowVirtualData tolerates structures that extend past the physically
	// present bytes (the image's "virtual tail"). When false, a short read
	// anywhere becomes a hard error instead of a virtual field.
	AllowVirtualData bool

	// CopyMemory materializes every buffer.Ref eagerly instead of keeping it
	// as a shared view over the loader's backing storage.
	CopyMemory bool

	// WriteVirtualPart controls whether Image.Serialize writes zero-filled
	// bytes for virtual tails instead of truncating at the physical edge.
	WriteVirtualPart bool

	// FillFullHeadersDataGaps fills the gaps between known header
	// structures, when serializing the combined header region, with the
	// bytes captured from the decoded headers. When it is false those gaps
	// are zero-filled.
	FillFullHeadersDataGaps bool

	// DisableCertValidation is not read by the loader: the security
	// directory's PKCS#7 blob is always parsed structurally, whatever its
	// value. Chain-of-trust verification is never performed.
	DisableCertValidation bool

	// MaxCOFFSymbolsCount bounds the COFF symbol table, default
	// MaxDefaultCOFFSymbolsCount.
	MaxCOFFSymbolsCount uint32

	// MaxRelocEntriesCount bounds relocation entries per block, default
	// MaxDefaultRelocEntriesCount.
	MaxRelocEntriesCount uint32

	// MaxNumberOfFunctions bounds export-table function/name/ordinal arrays.
	MaxNumberOfFunctions uint32

	// MaxImportedSymbolsCount bounds thunks read per import/delay-import
	// descriptor.
	MaxImportedSymbolsCount uint32

	// MaxDebugDirectories bounds debug directory entries.
	MaxDebugDirectories uint32

	// MaxSafeSEHHandlerCount bounds the load-config SafeSEH handler table.
	MaxSafeSEHHandlerCount uint32

	// MaxCHPECodeAddressRangeCount bounds the CHPE metadata's code range
	// table.
	MaxCHPECodeAddressRangeCount uint32

	// MaxEnclaveNumberOfImports bounds the load-config enclave configuration
	// import table.
	MaxEnclaveNumberOfImports uint32

	// MaxEHContTargets bounds the EH continuation target table.
	MaxEHContTargets uint32

	// MaxAcceleratorCount bounds resource accelerator table entries.
	MaxAcceleratorCount uint32

	// MaxMessageCount bounds resource message table entries.
	MaxMessageCount uint32

	// MaxBoundImportForwarders bounds forwarder refs per bound import
	// descriptor.
	MaxBoundImportForwarders uint32

	// MaxResourceDepth bounds how deep the resource directory tree is walked
	// before ErrResourceCycle aborts it.
	MaxResourceDepth uint32

	// Logger receives a custom sink; when nil, Load/LoadBytes install an
	// error-level filtered logger over stdout.
	Logger log.Logger
}

func (o *Options) applyDefaults() {
	if o.MaxCOFFSymbolsCount == 0 {
		o.MaxCOFFSymbolsCount = MaxDefaultCOFFSymbolsCount
	}
	if o.MaxRelocEntriesCount == 0 {
		o.MaxRelocEntriesCount = MaxDefaultRelocEntriesCount
	}
	if o.MaxNumberOfFunctions == 0 {
		o.MaxNumberOfFunctions = 0x10000
	}
	if o.MaxImportedSymbolsCount == 0 {
		o.MaxImportedSymbolsCount = 0x10000
	}
	if o.MaxDebugDirectories == 0 {
		o.MaxDebugDirectories = 0x1000
	}
	if o.MaxSafeSEHHandlerCount == 0 {
		o.MaxSafeSEHHandlerCount = 0x10000
	}
	if o.MaxCHPECodeAddressRangeCount == 0 {
		o.MaxCHPECodeAddressRangeCount = 0x10000
	}
	if o.MaxEnclaveNumberOfImports == 0 {
		o.MaxEnclaveNumberOfImports = 0x1000
	}
	if o.MaxEHContTargets == 0 {
		o.MaxEHContTargets = 0x10000
	}
	if o.MaxAcceleratorCount == 0 {
		o.MaxAcceleratorCount = 0x1000
	}
	if o.MaxMessageCount == 0 {
		o.MaxMessageCount = 0x1000
	}
	if o.MaxBoundImportForwarders == 0 {
		o.MaxBoundImportForwarders = 0x1000
	}
	if o.MaxResourceDepth == 0 {
		o.MaxResourceDepth = 32
	}
}

// loadContext threads the backing buffer and options through the private
// parse* methods without making every one of them a method on *Image take
// both a position and an Options pointer.
type loadContext struct {
	buf  buffer.Input
	opts *Options
}

// Image is a decoded PE/PE32+ image: the owning aggregate every directory
// loader attaches its results to.
type Image struct {
	DOSHeader      packed.Struct[ImageDOSHeader]
	DOSStub        buffer.Ref
	RichHeader     RichHeader
	Signature      uint32
	FileHeader     packed.Struct[ImageFileHeader]
	OptionalHeader OptionalHeader
	DataDirectories DataDirectories
	Sections       []*Section
	COFFSymbols    []COFFSymbol

	Export       *ExportDirectory
	Imports      []*ImportDescriptor
	DelayImports []*DelayImport
	Relocations  []*RelocationBlock
	TLS          *TLSDirectory
	Debugs       []*DebugEntry
	LoadConfig   *LoadConfig
	Resources    *ResourceDirectory
	Exceptions   *ExceptionDirectory
	BoundImports []*BoundImportDescriptor
	CLR          *COR20Header
	Certificates *SecurityDirectory
	Trustlet     *TrustletPolicy
	GlobalPtr    uint32
	IAT          []IATEntry

	FullHeadersBuffer buffer.Ref
	Overlay           buffer.Ref
	OverlayOffset     int64

	Anomalies errlist.List
	Info      FileInfo

	size    int64
	backing buffer.Input
	f       *os.File
	mapped  mmap.MMap
	opts    *Options
	logger  *log.Helper
}

func newImage(data []byte, opts *Options) *Image {
	img := &Image{size: int64(len(data))}
	if opts != nil {
		o := *opts
		img.opts = &o
	} else {
		img.opts = &Options{}
	}
	img.opts.applyDefaults()

	img.Info.LoadedToMemory = img.opts.LoadedToMemory

	if img.opts.Logger == nil {
		img.logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout),
			log.FilterLevel(log.LevelError)))
	} else {
		img.logger = log.NewHelper(img.opts.Logger)
	}
	return img
}

// Load memory-maps name and decodes it as a PE image.
func Load(name string, opts *Options) (*Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	img := newImage(data, opts)
	img.f = f
	img.mapped = data

	if err := img.parse(buffer.NewBytes(data)); err != nil {
		img.Close()
		return nil, err
	}
	return img, nil
}

// LoadBytes decodes data as a PE image held entirely in memory.
func LoadBytes(data []byte, opts *Options) (*Image, error) {
	img := newImage(data, opts)
	if err := img.parse(buffer.NewBytes(data)); err != nil {
		return nil, err
	}
	return img, nil
}

// Close releases the mapped file backing an Image loaded via Load. It is a
// no-op for images loaded via LoadBytes.
func (img *Image) Close() error {
	if img.mapped != nil {
		_ = img.mapped.Unmap()
	}
	if img.f != nil {
		return img.f.Close()
	}
	return nil
}

// Options returns the effective options (after default application) the
// Image was loaded with.
func (img *Image) Options() *Options { return img.opts }

func (img *Image) parse(buf buffer.Input) error {
	if buf.Size() < TinyPESize {
		return ErrInvalidPESize
	}
	img.backing = buf
	ctx := &loadContext{buf: buf, opts: img.opts}

	if err := img.parseDOSHeader(ctx); err != nil {
		return err
	}

	if err := img.parseRichHeader(ctx); err != nil {
		img.logger.Errorf("rich header parsing failed: %v", err)
	}

	if err := img.parseNTHeader(ctx); err != nil {
		return err
	}
	img.checkHeaderAnomalies()

	if err := img.parseCOFFSymbolTable(ctx); err != nil {
		img.logger.Debugf("coff symbols parsing failed: %v", err)
	}

	if err := img.parseSectionHeaders(ctx); err != nil {
		return err
	}

	img.captureOverlay(ctx)

	if img.opts.Fast {
		return nil
	}

	if err := img.ParseDataDirectories(ctx); err != nil {
		return err
	}
	img.parseTrustletPolicy(ctx)
	return nil
}

// ParseDataDirectories walks the sixteen well-known data directory entries
// and dispatches each one to its directory-specific loader. A panic inside
// any single loader is recovered so a malformed directory cannot take down
// the whole parse.
func (img *Image) ParseDataDirectories(ctx *loadContext) error {
	foundErr := false

	funcs := map[DirectoryType]func(*loadContext, uint32, uint32) error{
		DirectoryExport:       img.parseExportDirectory,
		DirectoryImport:       img.parseImportDirectory,
		DirectoryResource:     img.parseResourceDirectory,
		DirectoryException:    img.parseExceptionDirectory,
		DirectorySecurity:     img.parseSecurityDirectory,
		DirectoryBaseReloc:    img.parseRelocDirectory,
		DirectoryDebug:        img.parseDebugDirectory,
		DirectoryGlobalPtr:    img.parseGlobalPtrDirectory,
		DirectoryTLS:          img.parseTLSDirectory,
		DirectoryLoadConfig:   img.parseLoadConfigDirectory,
		DirectoryBoundImport:  img.parseBoundImportDirectory,
		DirectoryIAT:          img.parseIATDirectory,
		DirectoryDelayImport:  img.parseDelayImportDirectory,
		DirectoryCOMDescriptor: img.parseCOR20Directory,
	}

	for idx := DirectoryType(0); idx < DirectoryType(img.DataDirectories.Size()); idx++ {
		dir := img.DataDirectories.Get(idx)
		if dir.VirtualAddress == 0 {
			continue
		}

		if idx == DirectoryReserved {
			img.Anomalies.AddError(AnoReservedDataDirectoryEntry)
			continue
		}

		fn, ok := funcs[idx]
		if !ok {
			continue
		}

		func() {
			defer func() {
				if e := recover(); e != nil {
					img.logger.Errorf("unhandled exception when parsing data directory %s, reason: %v",
						idx.String(), e)
					foundErr = true
				}
			}()

			if err := fn(ctx, dir.VirtualAddress, dir.Size); err != nil {
				img.logger.Warnf("failed to parse data directory %s, reason: %v",
					idx.String(), err)
			}
		}()
	}

	if foundErr {
		return errors.New("pe: data directory parsing failed")
	}
	return nil
}

func (img *Image) captureOverlay(ctx *loadContext) {
	end := img.lastSectionPhysicalEnd()
	if end <= 0 || end >= ctx.buf.Size() {
		return
	}
	img.OverlayOffset = end
	region := buffer.NewReduced(ctx.buf, end, ctx.buf.Size()-end)
	img.Overlay.Deserialize(region, ctx.opts.CopyMemory)
	if img.Overlay.Size() > 0 {
		img.Info.HasOverlay = true
	}
}

func (img *Image) lastSectionPhysicalEnd() int64 {
	var max int64
	for _, s := range img.Sections {
		h := s.Header.Get()
		end := int64(h.PointerToRawData) + int64(h.SizeOfRawData)
		if end > max {
			max = end
		}
	}
	return max
}
