// Package drivesync mirrors a remote drive folder into a local directory and
// uploads every new document exactly once, keyed by content fingerprint.
package drivesync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"docrelay/internal/domain"
)

const chunkSize = 4096

// HashReader streams r through SHA-256 in fixed-size chunks.
func HashReader(r io.Reader) (domain.Fingerprint, error) {
	var fp domain.Fingerprint
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return fp, err
	}
	copy(fp[:], h.Sum(nil))
	return fp, nil
}

// HashFile fingerprints the file at path without loading it into memory.
func HashFile(path string) (domain.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Fingerprint{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fp, err := HashReader(f)
	if err != nil {
		return fp, fmt.Errorf("hash %s: %w", path, err)
	}
	return fp, nil
}

// ParseFingerprint decodes the hex form produced by Fingerprint.String.
func ParseFingerprint(s string) (domain.Fingerprint, error) {
	var fp domain.Fingerprint
	if len(s) != 2*len(fp) {
		return fp, fmt.Errorf("fingerprint %q: want %d hex chars", s, 2*len(fp))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("fingerprint %q: %w", s, err)
	}
	copy(fp[:], b)
	return fp, nil
}
