package drivesync

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashReader_MatchesSHA256(t *testing.T) {
	// Larger than one chunk and not a multiple of it.
	data := bytes.Repeat([]byte("docrelay"), 1500)
	fp, err := HashReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256(data), [32]byte(fp))
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 hello"), 0o644))

	fp, err := HashFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("%PDF-1.4 hello"))
	assert.Equal(t, sum, [32]byte(fp))
	assert.Len(t, fp.String(), 64)
	assert.Equal(t, strings.ToLower(fp.String()), fp.String())

	_, err = HashFile(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}

func TestParseFingerprint(t *testing.T) {
	fp, err := HashReader(strings.NewReader("x"))
	require.NoError(t, err)

	back, err := ParseFingerprint(fp.String())
	require.NoError(t, err)
	assert.Equal(t, fp, back)

	_, err = ParseFingerprint("abc")
	assert.Error(t, err)
	_, err = ParseFingerprint(strings.Repeat("zz", 32))
	assert.Error(t, err)
}
