// SPDX-License-Identifier: MPL-2.0

package localrepo

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"time"
)

// tarEOFSize is the length of the end-of-archive marker (two zero
// blocks) a tar writer appends on Close. The signature segment of an apk
// v2 file must not carry it, so the following gzip stream continues the
// logical tarball.
const tarEOFSize = 1024

// builtPackage is a fully assembled .apk archive plus the control-stream
// digest the index entry needs as its pull checksum.
type builtPackage struct {
	Package  VirtualPackage
	Data     []byte
	Control  []byte // compressed control stream, hashed for the C: field
	DataHash string // SHA-256 hex of the compressed data stream
}

// buildPackage assembles the v2 apk archive for a virtual package:
// three concatenated gzip streams — signature (tar of .SIGN.RSA.*, EOF
// stripped), control (tar of .PKGINFO, including the datahash), and an
// empty data section.
func buildPackage(p VirtualPackage, key *rsa.PrivateKey, keyPath string) (*builtPackage, error) {
	dataGz, err := gzipBytes(emptyTar())
	if err != nil {
		return nil, err
	}
	dataHash := fmt.Sprintf("%x", sha256.Sum256(dataGz))

	pkginfo := p.pkginfo(dataHash)
	controlTar, err := tarSingleFile(".PKGINFO", []byte(pkginfo))
	if err != nil {
		return nil, err
	}
	controlGz, err := gzipBytes(controlTar)
	if err != nil {
		return nil, err
	}

	sigGz, err := signatureSegment(controlGz, key, keyPath)
	if err != nil {
		return nil, err
	}

	archive := make([]byte, 0, len(sigGz)+len(controlGz)+len(dataGz))
	archive = append(archive, sigGz...)
	archive = append(archive, controlGz...)
	archive = append(archive, dataGz...)

	return &builtPackage{
		Package:  p,
		Data:     archive,
		Control:  controlGz,
		DataHash: dataHash,
	}, nil
}

// pkginfo renders the control metadata. Field order is fixed so the
// output is byte-stable for a stable fact set.
func (p VirtualPackage) pkginfo(dataHash string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "pkgname = %s\n", p.Name)
	fmt.Fprintf(&b, "pkgver = %s\n", p.FullVersion())
	fmt.Fprintf(&b, "pkgdesc = %s\n", p.Description)
	fmt.Fprintf(&b, "url = %s\n", p.URL)
	fmt.Fprintf(&b, "arch = %s\n", p.Arch)
	fmt.Fprintf(&b, "license = %s\n", p.License)
	if p.Origin != "" {
		fmt.Fprintf(&b, "origin = %s\n", p.Origin)
	}
	for _, prov := range p.Provides {
		fmt.Fprintf(&b, "provides = %s\n", prov)
	}
	fmt.Fprintf(&b, "datahash = %s\n", dataHash)
	return b.String()
}

// signatureSegment signs payload (RSA PKCS#1 v1.5 over SHA-1, apk's
// signature scheme) and wraps the signature in a gzipped tar segment
// with the end-of-archive marker stripped.
func signatureSegment(payload []byte, key *rsa.PrivateKey, keyPath string) ([]byte, error) {
	digest := sha1.Sum(payload)
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA1, digest[:])
	if err != nil {
		return nil, &SigningError{Path: keyPath, Err: err}
	}

	sigTar, err := tarSingleFile(".SIGN.RSA."+signerName, sig)
	if err != nil {
		return nil, err
	}
	if len(sigTar) > tarEOFSize {
		sigTar = sigTar[:len(sigTar)-tarEOFSize]
	}
	return gzipBytes(sigTar)
}

// tarSingleFile builds a USTAR archive holding one regular file. The
// header carries the epoch mtime so identical content produces identical
// bytes.
func tarSingleFile(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
		ModTime:  time.Unix(0, 0),
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("write tar member %s: %w", name, err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return buf.Bytes(), nil
}

// emptyTar returns a tar archive with no members: just the
// end-of-archive marker. Virtual packages install no files.
func emptyTar() []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.Close()
	return buf.Bytes()
}

// gzipBytes compresses data as a single gzip stream with an empty
// header, keeping the output deterministic.
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}
