// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
)

// Synthetic image geometry shared by the tests: one section mapped at RVA
// 0x1000 with 0x600 bytes of raw data at file offset 0x200.
const (
	testELfanew        = 0x80
	testSectionRVA     = 0x1000
	testSectionRawOff  = 0x200
	testSectionRawSize = 0x600
	testImageBase32    = 0x00400000
	testImageBase64    = 0x0000000140000000
)

// testImageConfig tweaks the synthetic image the builders produce.
type testImageConfig struct {
	is64        bool
	machine     uint16
	sectionName string
	sectionData []byte
	sectionChar uint32
	dirs        map[DirectoryType]DataDirectory
	stub        []byte
	overlay     []byte
}

// buildTestImage lays out a minimal well-formed PE file: DOS header, stub,
// NT headers, one section, optional overlay.
func buildTestImage(cfg testImageConfig) []byte {
	if cfg.machine == 0 {
		if cfg.is64 {
			cfg.machine = ImageFileMachineAMD64
		} else {
			cfg.machine = ImageFileMachineI386
		}
	}
	if cfg.sectionName == "" {
		cfg.sectionName = ".text"
	}
	if cfg.sectionChar == 0 {
		cfg.sectionChar = ImageScnCntCode | ImageScnMemRead | ImageScnMemExecute
	}

	optSize := 0xE0
	if cfg.is64 {
		optSize = 0xF0
	}

	fileSize := testSectionRawOff + testSectionRawSize
	data := make([]byte, fileSize)
	le := binary.LittleEndian

	// DOS header.
	le.PutUint16(data[0:], ImageDOSSignature)
	le.PutUint32(data[0x3C:], testELfanew)
	copy(data[64:testELfanew], cfg.stub)

	// NT signature + file header.
	pos := testELfanew
	le.PutUint32(data[pos:], ImageNTSignature)
	pos += 4
	le.PutUint16(data[pos:], cfg.machine)
	le.PutUint16(data[pos+2:], 1) // NumberOfSections
	le.PutUint32(data[pos+4:], 0x5F000000)
	le.PutUint16(data[pos+16:], uint16(optSize))
	le.PutUint16(data[pos+18:], ImageFileExecutableImage)
	pos += 20

	// Optional header.
	opt := pos
	if cfg.is64 {
		le.PutUint16(data[opt:], ImageNtOptionalHeader64Magic)
		le.PutUint32(data[opt+16:], testSectionRVA) // AddressOfEntryPoint
		le.PutUint64(data[opt+24:], testImageBase64)
		le.PutUint32(data[opt+32:], 0x1000) // SectionAlignment
		le.PutUint32(data[opt+36:], 0x200)  // FileAlignment
		le.PutUint16(data[opt+48:], 6)      // MajorSubsystemVersion
		le.PutUint32(data[opt+56:], 0x2000) // SizeOfImage
		le.PutUint32(data[opt+60:], 0x200)  // SizeOfHeaders
		le.PutUint32(data[opt+108:], uint32(NumberOfDirectoryEntries))
		pos = opt + 112
	} else {
		le.PutUint16(data[opt:], ImageNtOptionalHeader32Magic)
		le.PutUint32(data[opt+16:], testSectionRVA) // AddressOfEntryPoint
		le.PutUint32(data[opt+28:], testImageBase32)
		le.PutUint32(data[opt+32:], 0x1000) // SectionAlignment
		le.PutUint32(data[opt+36:], 0x200)  // FileAlignment
		le.PutUint16(data[opt+48:], 6)      // MajorSubsystemVersion
		le.PutUint32(data[opt+56:], 0x2000) // SizeOfImage
		le.PutUint32(data[opt+60:], 0x200)  // SizeOfHeaders
		le.PutUint32(data[opt+92:], uint32(NumberOfDirectoryEntries))
		pos = opt + 96
	}

	// Data directories.
	for i := DirectoryType(0); i < NumberOfDirectoryEntries; i++ {
		if d, ok := cfg.dirs[i]; ok {
			le.PutUint32(data[pos:], d.VirtualAddress)
			le.PutUint32(data[pos+4:], d.Size)
		}
		pos += 8
	}

	// Section header.
	copy(data[pos:], cfg.sectionName)
	le.PutUint32(data[pos+8:], testSectionRawSize) // VirtualSize
	le.PutUint32(data[pos+12:], testSectionRVA)
	le.PutUint32(data[pos+16:], testSectionRawSize)
	le.PutUint32(data[pos+20:], testSectionRawOff)
	le.PutUint32(data[pos+36:], cfg.sectionChar)

	copy(data[testSectionRawOff:], cfg.sectionData)
	if len(cfg.overlay) > 0 {
		data = append(data, cfg.overlay...)
	}
	return data
}

// loadTestImage builds and parses a synthetic image, failing the calling
// test on any parse error.
func loadTestImage(t interface {
	Helper()
	Fatalf(format string, args ...interface{})
}, cfg testImageConfig, opts *Options) *Image {
	t.Helper()
	if opts == nil {
		opts = &Options{AllowVirtualData: true}
	}
	img, err := LoadBytes(buildTestImage(cfg), opts)
	if err != nil {
		t.Fatalf("LoadBytes() failed: %v", err)
	}
	return img
}

// sectionBuilder builds a byte slab the size of the test section, with
// writer methods placing content at section-relative offsets.
type sectionBuilder struct {
	data []byte
}

func newSectionBuilder() *sectionBuilder {
	return &sectionBuilder{data: make([]byte, testSectionRawSize)}
}

func (s *sectionBuilder) putUint16(off int, v uint16) {
	binary.LittleEndian.PutUint16(s.data[off:], v)
}

func (s *sectionBuilder) putUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(s.data[off:], v)
}

func (s *sectionBuilder) putUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(s.data[off:], v)
}

func (s *sectionBuilder) putBytes(off int, b []byte) {
	copy(s.data[off:], b)
}

func (s *sectionBuilder) putString(off int, str string) {
	copy(s.data[off:], str)
}
