// Package cryptox fingerprints payloads before they are published.
package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digest returns the lowercase hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestReader streams r through SHA-256 and returns the lowercase hex
// digest together with the number of bytes read.
func DigestReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// FileDigest hashes the file at path without loading it into memory.
func FileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	return DigestReader(f)
}
