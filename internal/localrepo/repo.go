// SPDX-License-Identifier: MPL-2.0

package localrepo

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// installedSizePlaceholder is the I: value reported for virtual
// packages. They install no files; apk only requires the field to be
// present and positive.
const installedSizePlaceholder = 4096

// Repo is the on-disk local repository for one architecture. Dir is the
// repository directory apk is configured to read
// ($ROOT/local-repo/<arch>); KeyPath is the private trust anchor.
type Repo struct {
	Dir     string
	KeyPath string
}

// New returns the repository under the vellum prefix for arch.
func New(root, arch string) *Repo {
	return &Repo{
		Dir:     filepath.Join(root, "local-repo", arch),
		KeyPath: filepath.Join(root, "etc", "apk", "keys", "local.rsa"),
	}
}

// IndexPath returns the path of the signed repository index.
func (r *Repo) IndexPath() string {
	return filepath.Join(r.Dir, "APKINDEX.tar.gz")
}

// PublicKeyPath returns the path of the public trust anchor.
func (r *Repo) PublicKeyPath() string {
	return r.KeyPath + ".pub"
}

// BuildAndSign replaces the repository content with the given virtual
// package set: it writes each .apk archive, serializes the index,
// signs it, and atomically replaces the index file. outputPath overrides
// the index destination when non-empty (tests); the .apk files always
// land in r.Dir.
//
// Every write is temp-then-rename, so a crash mid-build leaves the
// previous index intact and resolver-readable.
func (r *Repo) BuildAndSign(packages []VirtualPackage, outputPath string) error {
	if outputPath == "" {
		outputPath = r.IndexPath()
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create repo directory %s: %w", r.Dir, err)
	}
	if err := EnsureKey(r.KeyPath); err != nil {
		return err
	}
	key, err := LoadKey(r.KeyPath)
	if err != nil {
		return err
	}

	built := make([]*builtPackage, 0, len(packages))
	for _, p := range packages {
		r.removeStale(p.Name)
		bp, err := buildPackage(p, key, r.KeyPath)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(filepath.Join(r.Dir, p.Filename()), bp.Data, 0o644); err != nil {
			return err
		}
		built = append(built, bp)
	}

	unsigned, err := buildIndexArchive(built)
	if err != nil {
		return err
	}
	signed, err := signIndex(unsigned, key, r.KeyPath)
	if err != nil {
		return err
	}

	slog.Debug("local repo rebuilt",
		"dir", r.Dir, "packages", len(built), "index", outputPath)
	return writeFileAtomic(outputPath, signed, 0o644)
}

// removeStale deletes previous archives of a package so the repository
// never advertises two versions of one virtual fact.
func (r *Repo) removeStale(name string) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return
	}
	prefix := name + "-"
	for _, entry := range entries {
		n := entry.Name()
		if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, ".apk") {
			if err := os.Remove(filepath.Join(r.Dir, n)); err != nil {
				slog.Debug("could not remove stale package", "file", n, "error", err)
			}
		}
	}
}

// buildIndexArchive serializes the APKINDEX text and wraps it, together
// with an empty DESCRIPTION, in the unsigned tar.gz stream apk expects.
func buildIndexArchive(packages []*builtPackage) ([]byte, error) {
	var index bytes.Buffer
	for _, bp := range packages {
		p := bp.Package
		fmt.Fprintf(&index, "C:Q1%s\n", base64.StdEncoding.EncodeToString(sha1Sum(bp.Control)))
		fmt.Fprintf(&index, "P:%s\n", p.Name)
		fmt.Fprintf(&index, "V:%s\n", p.FullVersion())
		fmt.Fprintf(&index, "A:%s\n", p.Arch)
		fmt.Fprintf(&index, "S:%d\n", len(bp.Data))
		fmt.Fprintf(&index, "I:%d\n", installedSizePlaceholder)
		fmt.Fprintf(&index, "T:%s\n", p.Description)
		fmt.Fprintf(&index, "U:%s\n", p.URL)
		fmt.Fprintf(&index, "L:%s\n", p.License)
		if p.Origin != "" {
			fmt.Fprintf(&index, "o:%s\n", p.Origin)
		}
		for _, prov := range p.Provides {
			fmt.Fprintf(&index, "p:%s\n", prov)
		}
		index.WriteByte('\n')
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := addTarMember(tw, "DESCRIPTION", nil); err != nil {
		return nil, err
	}
	if err := addTarMember(tw, "APKINDEX", index.Bytes()); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close index tar: %w", err)
	}
	return gzipBytes(buf.Bytes())
}

// signIndex prepends the detached signature segment to the unsigned
// index stream.
func signIndex(unsigned []byte, key *rsa.PrivateKey, keyPath string) ([]byte, error) {
	sigGz, err := signatureSegment(unsigned, key, keyPath)
	if err != nil {
		return nil, err
	}
	return append(sigGz, unsigned...), nil
}

// Verify checks a signed index file against the public trust anchor and
// returns the unsigned payload. It splits the file at the end of the
// first gzip stream (the signature segment), extracts the RSA signature,
// and verifies it over the remaining bytes — the same check apk performs
// when it trusts the repository.
func Verify(path string, pub *rsa.PublicKey) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}

	// bytes.Reader implements io.ByteReader, so the gzip reader
	// consumes exactly one stream and the remainder offset is exact.
	br := bytes.NewReader(data)
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("read signature segment: %w", err)
	}
	zr.Multistream(false)
	sigTar, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read signature segment: %w", err)
	}
	payload := data[len(data)-br.Len():]

	sig, err := extractSignature(sigTar)
	if err != nil {
		return nil, err
	}

	digest := sha1.Sum(payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig); err != nil {
		return nil, fmt.Errorf("index signature invalid: %w", err)
	}
	return payload, nil
}

// extractSignature pulls the first .SIGN.RSA.* member out of the
// (EOF-stripped) signature tar.
func extractSignature(sigTar []byte) ([]byte, error) {
	tr := tar.NewReader(bytes.NewReader(sigTar))
	for {
		hdr, err := tr.Next()
		if err != nil {
			return nil, errors.New("no signature member in index")
		}
		if strings.HasPrefix(hdr.Name, ".SIGN.RSA.") {
			return io.ReadAll(tr)
		}
	}
}

func addTarMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
		ModTime:  time.Unix(0, 0),
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write index member %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write index member %s: %w", name, err)
	}
	return nil
}

func sha1Sum(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}
