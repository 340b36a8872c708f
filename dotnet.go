// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// References
// https://www.ntcore.com/files/dotnetformat.htm

// COMImageFlagsType represents a COM+ header entry point flag type.
type COMImageFlagsType uint32

const (
	COMImageFlagsILOnly           COMImageFlagsType = 0x00000001
	COMImageFlags32BitRequired    COMImageFlagsType = 0x00000002
	COMImageFlagsILLibrary        COMImageFlagsType = 0x00000004
	COMImageFlagsStrongNameSigned COMImageFlagsType = 0x00000008
	COMImageFlagsNativeEntrypoint COMImageFlagsType = 0x00000010
	COMImageFlagsTrackDebugData   COMImageFlagsType = 0x00010000
	COMImageFlags32BitPreferred   COMImageFlagsType = 0x00020000
)

// ImageCOR20Header is IMAGE_COR20_HEADER, the CLR 2.0 runtime header.
type ImageCOR20Header struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                DataDirectory
	Flags                   COMImageFlagsType
	EntryPointRVAorToken    uint32
	Resources               DataDirectory
	StrongNameSignature     DataDirectory
	CodeManagerTable        DataDirectory
	VTableFixups            DataDirectory
	ExportAddressTableJumps DataDirectory
	ManagedNativeHeader     DataDirectory
}

// MetadataHeader is the metadata root: the "BSJB" storage signature,
// version string, and stream count preceding the stream header array.
type MetadataHeader struct {
	Signature     uint32 `json:"signature"`
	MajorVersion  uint16 `json:"major_version"`
	MinorVersion  uint16 `json:"minor_version"`
	ExtraData     uint32 `json:"extra_data"`
	VersionLength uint32 `json:"version_length"`
	Version       string `json:"version"`
	Flags         uint8  `json:"flags"`
	Streams       uint16 `json:"streams"`
}

// MetadataStreamHeader is one entry of the metadata stream directory:
// where a named stream (#Strings, #US, #Blob, #GUID, #~ or #-) lives
// relative to the metadata root.
type MetadataStreamHeader struct {
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
	Name   string `json:"name"`
}

// COR20Header is the decoded .NET runtime header: the fixed descriptor,
// the metadata root, and the stream directory. Decoding the #~ table
// heap's row schema (dotnet_metadata_tables.go's 40-odd table layouts)
// is out of scope; MetadataStreams exposes each stream's raw bytes for
// a caller that wants to decode them independently.
type COR20Header struct {
	Struct          ImageCOR20Header         `json:"struct"`
	MetadataHeader  MetadataHeader           `json:"metadata_header"`
	MetadataStreams map[string][]byte        `json:"-"`
	StreamHeaders   []MetadataStreamHeader   `json:"stream_headers"`
}

// AnoCOR20MetadataUnreadable is recorded when the metadata root or a
// stream header referenced by the CLR header cannot be read.
var AnoCOR20MetadataUnreadable = errlist.Code{
	Category: catDotNet, Value: 1,
	Message: "COR20 metadata root or stream directory is unreadable",
}

// parseCOR20Directory decodes the CLR 2.0 runtime header (the 15th data
// directory) and, when it carries a metadata root, the metadata header
// and stream directory that root points to.
func (img *Image) parseCOR20Directory(ctx *loadContext, rva, size uint32) error {
	offset := int64(img.RVAToOffset(rva))
	var hdr packed.Struct[ImageCOR20Header]
	if err := hdr.DeserializeUntilSize(ctx.buf, offset, int64(size), packed.LittleEndian, ctx.opts.AllowVirtualData); err != nil {
		return err
	}
	clr := *hdr.Get()
	cor := COR20Header{Struct: clr}

	img.CLR = &cor
	img.Info.HasCOM = true

	if clr.MetaData.VirtualAddress == 0 || clr.MetaData.Size == 0 {
		return nil
	}

	mh, streams, err := img.parseCOR20Metadata(clr.MetaData.VirtualAddress)
	if err != nil {
		img.Anomalies.AddError(AnoCOR20MetadataUnreadable)
		return nil
	}
	cor.MetadataHeader = mh
	cor.StreamHeaders = streams
	cor.MetadataStreams = make(map[string][]byte, len(streams))
	for _, sh := range streams {
		data, err := img.DataAtRVA(clr.MetaData.VirtualAddress+sh.Offset, sh.Size)
		if err == nil {
			cor.MetadataStreams[sh.Name] = data
		}
	}
	return nil
}

func (img *Image) parseCOR20Metadata(rva uint32) (MetadataHeader, []MetadataStreamHeader, error) {
	mh := MetadataHeader{}

	head, err := img.DataAtRVA(rva, 16)
	if err != nil || len(head) < 16 {
		return mh, nil, ErrOutsideBoundary
	}
	mh.Signature = binary.LittleEndian.Uint32(head[0:4])
	mh.MajorVersion = binary.LittleEndian.Uint16(head[4:6])
	mh.MinorVersion = binary.LittleEndian.Uint16(head[6:8])
	mh.ExtraData = binary.LittleEndian.Uint32(head[8:12])
	mh.VersionLength = binary.LittleEndian.Uint32(head[12:16])

	verBytes, err := img.DataAtRVA(rva+16, mh.VersionLength)
	if err != nil {
		return mh, nil, err
	}
	mh.Version = cStringFromBytes(verBytes)

	tail := rva + 16 + mh.VersionLength
	flagsAndStreams, err := img.DataAtRVA(tail, 4)
	if err != nil || len(flagsAndStreams) < 4 {
		return mh, nil, ErrOutsideBoundary
	}
	mh.Flags = flagsAndStreams[0]
	mh.Streams = binary.LittleEndian.Uint16(flagsAndStreams[2:4])

	cur := tail + 4
	var headers []MetadataStreamHeader
	for i := uint16(0); i < mh.Streams; i++ {
		fixedPart, err := img.DataAtRVA(cur, 8)
		if err != nil || len(fixedPart) < 8 {
			break
		}
		sh := MetadataStreamHeader{
			Offset: binary.LittleEndian.Uint32(fixedPart[0:4]),
			Size:   binary.LittleEndian.Uint32(fixedPart[4:8]),
		}
		cur += 8

		nameBuf, err := img.DataAtRVA(cur, 32)
		if err != nil {
			break
		}
		name := cStringFromBytes(nameBuf)
		// Stream names are NUL-padded to a 4-byte boundary.
		advance := uint32(len(name) + 1)
		if rem := advance % 4; rem != 0 {
			advance += 4 - rem
		}
		sh.Name = name
		cur += advance

		headers = append(headers, sh)
	}

	return mh, headers, nil
}

func cStringFromBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// String returns the set of COMImageFlagsType bits set in flags.
func (flags COMImageFlagsType) String() []string {
	bits := []struct {
		flag COMImageFlagsType
		name string
	}{
		{COMImageFlagsILOnly, "ILOnly"},
		{COMImageFlags32BitRequired, "32BitRequired"},
		{COMImageFlagsILLibrary, "ILLibrary"},
		{COMImageFlagsStrongNameSigned, "StrongNameSigned"},
		{COMImageFlagsNativeEntrypoint, "NativeEntrypoint"},
		{COMImageFlagsTrackDebugData, "TrackDebugData"},
		{COMImageFlags32BitPreferred, "32BitPreferred"},
	}
	var out []string
	for _, b := range bits {
		if flags&b.flag != 0 {
			out = append(out, b.name)
		}
	}
	return out
}
