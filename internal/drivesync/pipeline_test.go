package drivesync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrelay/internal/domain"
)

type fakeDrive struct {
	files     map[string][]byte
	fail      map[string]bool
	downloads []string
	listed    []domain.RemoteFileRef
}

func (d *fakeDrive) List(context.Context, string) ([]domain.RemoteFileRef, error) {
	return d.listed, nil
}

func (d *fakeDrive) Download(_ context.Context, id string) (io.ReadCloser, error) {
	d.downloads = append(d.downloads, id)
	if d.fail[id] {
		return io.NopCloser(&brokenReader{data: d.files[id][:1]}), nil
	}
	data, ok := d.files[id]
	if !ok {
		return nil, errors.New("404")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// brokenReader returns some bytes then fails, like a dropped connection.
type brokenReader struct {
	data []byte
	done bool
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, errors.New("connection reset")
	}
	r.done = true
	return copy(p, r.data), nil
}

type uploadRecorder struct {
	names []string
	fps   []domain.Fingerprint
	ok    bool
}

func (u *uploadRecorder) fn(_ context.Context, path, name string, fp domain.Fingerprint) bool {
	u.names = append(u.names, name)
	u.fps = append(u.fps, fp)
	return u.ok
}

type memLedger struct {
	recorded []domain.SyncOutcome
	seed     []string
}

func (m *memLedger) RecordFingerprint(_ context.Context, o domain.SyncOutcome) error {
	m.recorded = append(m.recorded, o)
	return nil
}

func (m *memLedger) Fingerprints(context.Context) ([]string, error) { return m.seed, nil }

func newPipeline(t *testing.T, dir string, d Downloader, up *uploadRecorder, ledger domain.FingerprintLedger, durable bool) *Pipeline {
	t.Helper()
	return NewPipeline(PipelineConfig{
		Downloader:   d,
		Upload:       up.fn,
		LocalDir:     dir,
		Ledger:       ledger,
		DurableDedup: durable,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func statuses(outs []domain.SyncOutcome) []domain.SyncStatus {
	s := make([]domain.SyncStatus, len(outs))
	for i, o := range outs {
		s[i] = o.Status
	}
	return s
}

func TestSync_UploadsNewAndSkipsDuplicateContent(t *testing.T) {
	dir := t.TempDir()
	drive := &fakeDrive{files: map[string][]byte{
		"1": []byte("manual v1"),
		"2": []byte("manual v1"),
		"3": []byte("price list"),
	}}
	up := &uploadRecorder{ok: true}
	p := newPipeline(t, dir, drive, up, nil, false)

	outs, err := p.Sync(context.Background(), []domain.RemoteFileRef{
		{RemoteID: "1", Name: "manual.pdf"},
		{RemoteID: "2", Name: "manual-copy.pdf"},
		{RemoteID: "3", Name: "prices.pdf"},
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.SyncStatus{
		domain.SyncUploaded,
		domain.SyncSkippedDuplicateHash,
		domain.SyncUploaded,
	}, statuses(outs))
	assert.Equal(t, []string{"manual.pdf", "prices.pdf"}, up.names)
	assert.Equal(t, outs[0].Fingerprint, outs[1].Fingerprint)
	want, err := HashReader(strings.NewReader("price list"))
	require.NoError(t, err)
	assert.Equal(t, want, up.fps[1])

	assert.FileExists(t, filepath.Join(dir, "manual.pdf"))
	assert.NoFileExists(t, filepath.Join(dir, "manual-copy.pdf"))
}

func TestSync_SecondPassIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	drive := &fakeDrive{files: map[string][]byte{"1": []byte("a"), "2": []byte("b")}}
	files := []domain.RemoteFileRef{{RemoteID: "1", Name: "a.pdf"}, {RemoteID: "2", Name: "b.pdf"}}

	up := &uploadRecorder{ok: true}
	_, err := newPipeline(t, dir, drive, up, nil, false).Sync(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, up.names, 2)

	up2 := &uploadRecorder{ok: true}
	drive.downloads = nil
	outs, err := newPipeline(t, dir, drive, up2, nil, false).Sync(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, []domain.SyncStatus{domain.SyncSkippedLocalExists, domain.SyncSkippedLocalExists}, statuses(outs))
	assert.Empty(t, up2.names)
	assert.Empty(t, drive.downloads)
	assert.NotEmpty(t, outs[0].Fingerprint)
}

func TestSync_LocalFileSeedsDuplicateDetection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.pdf"), []byte("same"), 0o644))
	drive := &fakeDrive{files: map[string][]byte{"2": []byte("same")}}
	up := &uploadRecorder{ok: true}

	outs, err := newPipeline(t, dir, drive, up, nil, false).Sync(context.Background(), []domain.RemoteFileRef{
		{RemoteID: "1", Name: "old.pdf"},
		{RemoteID: "2", Name: "renamed.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.SyncStatus{domain.SyncSkippedLocalExists, domain.SyncSkippedDuplicateHash}, statuses(outs))
	assert.Empty(t, up.names)
}

func TestSync_UploadFailureKeepsFingerprintAndFile(t *testing.T) {
	dir := t.TempDir()
	drive := &fakeDrive{files: map[string][]byte{"1": []byte("x"), "2": []byte("x"), "3": []byte("y")}}
	up := &uploadRecorder{ok: false}

	outs, err := newPipeline(t, dir, drive, up, nil, false).Sync(context.Background(), []domain.RemoteFileRef{
		{RemoteID: "1", Name: "x.pdf"},
		{RemoteID: "2", Name: "x2.pdf"},
		{RemoteID: "3", Name: "y.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.SyncStatus{
		domain.SyncUploadFailed,
		domain.SyncSkippedDuplicateHash,
		domain.SyncUploadFailed,
	}, statuses(outs))
	assert.ErrorIs(t, outs[0].Err, domain.ErrSyncFault)
	assert.FileExists(t, filepath.Join(dir, "x.pdf"))
	assert.Equal(t, []string{"x.pdf", "y.pdf"}, up.names)
}

func TestSync_DownloadFailureLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	drive := &fakeDrive{
		files: map[string][]byte{"1": []byte("partial content"), "3": []byte("ok")},
		fail:  map[string]bool{"1": true},
	}
	up := &uploadRecorder{ok: true}

	outs, err := newPipeline(t, dir, drive, up, nil, false).Sync(context.Background(), []domain.RemoteFileRef{
		{RemoteID: "1", Name: "broken.pdf"},
		{RemoteID: "2", Name: "gone.pdf"},
		{RemoteID: "3", Name: "fine.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.SyncStatus{
		domain.SyncDownloadFailed,
		domain.SyncDownloadFailed,
		domain.SyncUploaded,
	}, statuses(outs))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fine.pdf", entries[0].Name())
}

func TestSync_RemoteNameCannotEscapeLocalDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "drive")
	drive := &fakeDrive{files: map[string][]byte{"1": []byte("x"), "2": []byte("y")}}
	up := &uploadRecorder{ok: true}

	outs, err := newPipeline(t, dir, drive, up, nil, false).Sync(context.Background(), []domain.RemoteFileRef{
		{RemoteID: "1", Name: "../../etc/evil.pdf"},
		{RemoteID: "2", Name: ".."},
	})
	require.NoError(t, err)
	assert.Equal(t, "evil.pdf", outs[0].Name)
	assert.Equal(t, "2.pdf", outs[1].Name)
	assert.FileExists(t, filepath.Join(dir, "evil.pdf"))
	assert.NoFileExists(t, filepath.Join(root, "evil.pdf"))
}

func TestSync_LedgerRecordsAndSeeds(t *testing.T) {
	dir := t.TempDir()
	drive := &fakeDrive{files: map[string][]byte{"1": []byte("known")}}
	fp, err := HashReader(bytes.NewReader([]byte("known")))
	require.NoError(t, err)

	ledger := &memLedger{seed: []string{fp.String(), "garbage"}}
	up := &uploadRecorder{ok: true}
	outs, err := newPipeline(t, dir, drive, up, ledger, true).Sync(context.Background(), []domain.RemoteFileRef{
		{RemoteID: "1", Name: "known.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSkippedDuplicateHash, outs[0].Status)
	assert.Empty(t, up.names)
	require.Len(t, ledger.recorded, 1)
	assert.Equal(t, fp.String(), ledger.recorded[0].Fingerprint)
}

func TestPass_ListsThenSyncs(t *testing.T) {
	dir := t.TempDir()
	drive := &fakeDrive{
		files:  map[string][]byte{"1": []byte("a")},
		listed: []domain.RemoteFileRef{{RemoteID: "1", Name: "a.pdf"}},
	}
	up := &uploadRecorder{ok: true}
	outs, err := newPipeline(t, dir, drive, up, nil, false).Pass(context.Background(), drive, "folder")
	require.NoError(t, err)
	assert.Equal(t, map[domain.SyncStatus]int{domain.SyncUploaded: 1}, Summary(outs))
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	fp, _ := HashReader(bytes.NewReader([]byte("a")))
	assert.False(t, tr.Seen(fp))
	tr.Add(fp)
	tr.Add(fp)
	assert.True(t, tr.Seen(fp))
	assert.Equal(t, 1, tr.Len())
}
