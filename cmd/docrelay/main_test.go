package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"docrelay/internal/archive"
	"docrelay/internal/config"
	"docrelay/internal/domain"
	"docrelay/internal/provider"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "docrelay.db")
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite bytes"), 0o644))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("wal"), 0o644))
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"general":{}}`), 0o600))

	files := backupFiles(dbPath, cfgPath)
	assert.Equal(t, []string{dbPath, dbPath + "-wal", cfgPath}, files)

	archive := filepath.Join(dir, "b.tar.gz")
	require.NoError(t, createTarGz(archive, files))

	target := t.TempDir()
	newDB := filepath.Join(target, "data", "relay.db")
	newCfg := filepath.Join(target, "cfg.json")
	restored, err := extractTarGz(archive, newDB, newCfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{newDB, newDB + "-wal", newCfg}, restored)

	data, err := os.ReadFile(newDB)
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(data))
}

func TestExtractTarGz_RejectsNonGzip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.tar.gz")
	require.NoError(t, os.WriteFile(p, []byte("plain"), 0o644))
	_, err := extractTarGz(p, "db", "cfg")
	assert.ErrorContains(t, err, "not a valid gzip file")
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit(systemdTemplate, map[string]string{"EXEC": "/usr/bin/docrelay", "CONFIG": "/etc/docrelay.json"})
	assert.Contains(t, unit, "ExecStart=/usr/bin/docrelay serve --config /etc/docrelay.json")
	assert.NotContains(t, unit, "{{")
}

func TestSetupLogger_FileAndLevel(t *testing.T) {
	cfg := config.Defaults()
	cfg.General.LogLevel = "warn"
	cfg.General.LogFile = filepath.Join(t.TempDir(), "logs", "docrelay.log")

	lg, closeLog, err := setupLogger(cfg)
	require.NoError(t, err)
	lg.Info("hidden")
	lg.Warn("shown", "k", "v")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(cfg.General.LogFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestPollWork_DisabledChannelsAreNoops(t *testing.T) {
	a := &app{cfg: config.Defaults(), logger: discard()}
	assert.NoError(t, a.PollWork(context.Background()))
	outcomes, err := a.SyncPass(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, outcomes)
}

func TestCorpusUploader(t *testing.T) {
	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.Copy(io.Discard, r.Body)
		if r.URL.Path == "/files/create" {
			uploads.Add(1)
			if strings.Contains(r.Header.Get("Content-Type"), "multipart") && uploads.Load() == 1 {
				io.WriteString(w, `{"success":true,"file":{"id":"f1"}}`)
				return
			}
			io.WriteString(w, `{"success":false,"error":"quota"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	docs := provider.NewDocalysis(provider.DocalysisConfig{APIBase: srv.URL, APIKey: "k", Logger: discard()})
	u := &corpusUploader{docs: docs, directory: "dir1", logger: discard()}

	pdf := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF"), 0o644))

	var fp domain.Fingerprint
	assert.True(t, u.upload(context.Background(), pdf, "a.pdf", fp))
	assert.False(t, u.upload(context.Background(), pdf, "a.pdf", fp))
}

type keyRecorder struct{ keys []string }

func (k *keyRecorder) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	k.keys = append(k.keys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func TestCorpusUploader_ArchivesUnderPipelineFingerprint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"file":{"id":"f1"}}`)
	}))
	defer srv.Close()

	puts := &keyRecorder{}
	u := &corpusUploader{
		docs:      provider.NewDocalysis(provider.DocalysisConfig{APIBase: srv.URL, APIKey: "k", Logger: discard()}),
		archive:   archive.NewS3WithClient(puts, archive.S3Config{Bucket: "b", Prefix: "docrelay", Logger: discard()}),
		directory: "dir1",
		logger:    discard(),
	}
	pdf := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF"), 0o644))

	var fp domain.Fingerprint
	fp[0] = 0xab
	require.True(t, u.upload(context.Background(), pdf, "a.pdf", fp))
	require.Len(t, puts.keys, 1)
	assert.Equal(t, "docrelay/pdfs/"+fp.String()+"/a.pdf", puts.keys[0])
}

func TestAsk_RoutesFileQuestions(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"response":"De 9 a 18."}`)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Docalysis.APIBase = srv.URL
	cfg.Docalysis.APIKey = "k"
	cfg.Docalysis.DirectoryID = "dir1"
	a := &app{cfg: cfg, logger: discard(), providers: provider.NewFactory(cfg, discard())}

	answer, err := a.Ask(context.Background(), "f1", "¿Horario?")
	require.NoError(t, err)
	assert.Equal(t, "De 9 a 18.", answer)

	_, err = a.Ask(context.Background(), "", "¿Horario?")
	require.NoError(t, err)
	assert.Equal(t, []string{"/files/f1/chat", "/directories/dir1/chat"}, paths)
}

func TestDescribeRelays(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	lines := describeRelays([]domain.RelayRecord{
		{Channel: domain.ChannelEmail, SenderID: "ana@example.com", Success: true, Escalated: true, LatencyMs: 820, CreatedAt: at},
		{Channel: domain.ChannelWhatsApp, SenderID: "595981", LatencyMs: 60000, CreatedAt: at},
	})
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "2024-03-01 09:30:00")
	assert.Contains(t, lines[0], "ana@example.com 820ms (ok, escalated)")
	assert.Contains(t, lines[1], "(failed)")
}

func TestDescribeOutcomes(t *testing.T) {
	out := describeOutcomes([]domain.SyncOutcome{
		{Name: "a.pdf", Status: domain.SyncUploaded},
		{Name: "b.pdf", Status: domain.SyncUploadFailed, Err: errors.New("quota")},
	})
	assert.Contains(t, out, "UPLOADED")
	assert.Contains(t, out, "b.pdf (quota)")
	assert.Contains(t, out, "UPLOAD_FAILED=1")
}
