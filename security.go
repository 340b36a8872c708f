// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/hex"

	"go.mozilla.org/pkcs7"

	"github.com/binaryscan/pecore/buffer"
	"github.com/binaryscan/pecore/errlist"
	"github.com/binaryscan/pecore/packed"
)

// Certificate revisions recognized in a WIN_CERTIFICATE header.
const (
	WinCertRevision1_0 = 0x0100
	WinCertRevision2_0 = 0x0200
)

// Certificate types recognized in a WIN_CERTIFICATE header.
const (
	WinCertTypeX509           = 0x0001
	WinCertTypePKCSSignedData = 0x0002
	WinCertTypeReserved1      = 0x0003
	WinCertTypeTSStackSigned  = 0x0004
)

// WinCertificate is WIN_CERTIFICATE: the fixed header preceding every
// attribute certificate entry in the security directory.
type WinCertificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
}

// SignerInfo is the subset of a PKCS#7 signer's certificate identity
// worth surfacing without keeping the full x509 structure around.
type SignerInfo struct {
	SerialNumber       string `json:"serial_number"`
	PublicKeyAlgorithm string `json:"public_key_algorithm"`
	SignatureAlgorithm string `json:"signature_algorithm"`
	Issuer             string `json:"issuer"`
	Subject            string `json:"subject"`
}

// Certificate is one decoded attribute certificate entry: its
// WIN_CERTIFICATE header plus, for PKCS#7 SignedData entries, the
// parsed signer identity.
type Certificate struct {
	Header WinCertificate `json:"header"`
	Signer *SignerInfo    `json:"signer,omitempty"`
	Raw    []byte         `json:"-"`
	Parsed bool           `json:"parsed"`
}

// SecurityDirectory is the decoded security (certificate table)
// directory. A file can be dual- or triple-signed, so it carries an
// array of attribute certificate entries rather than a single one.
type SecurityDirectory struct {
	Certificates []Certificate `json:"certificates"`
}

// AnoCertificateHeaderInvalid is recorded when an attribute certificate
// entry's WIN_CERTIFICATE header is unreadable or reports a length that
// overruns the file.
var AnoCertificateHeaderInvalid = errlist.Code{
	Category: catSecurity, Value: 1,
	Message: "attribute certificate header is invalid or overruns the file",
}

// parseSecurityDirectory walks the attribute certificate chain rooted at
// the raw file offset carried by the security data directory entry
// (this is the one directory in the PE format whose VirtualAddress
// field is a plain file offset, not an RVA) and attempts a PKCS#7 parse
// of every WinCertTypePKCSSignedData entry's content.
//
// The bytes backing the security directory are never part of the
// mapped image, so this walk always reads through img.backing directly
// rather than through DataAtRVA/section lookups.
func (img *Image) parseSecurityDirectory(ctx *loadContext, fileOffset, size uint32) error {
	headerSize := int64(packed.SizeOf[WinCertificate]())
	end := int64(fileOffset) + int64(size)

	var sec SecurityDirectory
	cur := int64(fileOffset)
	for cur < end {
		var hdr packed.Struct[WinCertificate]
		if err := hdr.Deserialize(ctx.buf, cur, packed.LittleEndian, false); err != nil {
			img.Anomalies.AddError(AnoCertificateHeaderInvalid)
			break
		}
		h := *hdr.Get()
		if h.Length == 0 || cur+int64(h.Length) > img.backing.Size() {
			img.Anomalies.AddError(AnoCertificateHeaderInvalid)
			break
		}

		contentLen := int64(h.Length) - headerSize
		if contentLen < 0 {
			img.Anomalies.AddError(AnoCertificateHeaderInvalid)
			break
		}
		content, _, err := buffer.ReadFull(img.backing, cur+headerSize, int(contentLen), false)
		if err != nil {
			img.Anomalies.AddError(AnoCertificateHeaderInvalid)
			break
		}

		cert := Certificate{Header: h, Raw: content}
		if h.CertificateType == WinCertTypePKCSSignedData {
			if p7, err := pkcs7.Parse(content); err == nil && len(p7.Signers) > 0 {
				signer := p7.Signers[0]
				info := &SignerInfo{
					SerialNumber: hex.EncodeToString(signer.IssuerAndSerialNumber.SerialNumber.Bytes()),
				}
				for _, c := range p7.Certificates {
					if c.SerialNumber == nil || signer.IssuerAndSerialNumber.SerialNumber == nil {
						continue
					}
					if c.SerialNumber.Cmp(signer.IssuerAndSerialNumber.SerialNumber) != 0 {
						continue
					}
					info.PublicKeyAlgorithm = c.PublicKeyAlgorithm.String()
					info.SignatureAlgorithm = c.SignatureAlgorithm.String()
					info.Issuer = c.Issuer.String()
					info.Subject = c.Subject.String()
					break
				}
				cert.Signer = info
				cert.Parsed = true
			}
		}
		sec.Certificates = append(sec.Certificates, cert)

		// Entries are 8-byte aligned.
		cur += int64(h.Length)
		if rem := cur % 8; rem != 0 {
			cur += 8 - rem
		}
	}

	img.Certificates = &sec
	img.Info.HasSecurity = true
	return nil
}
