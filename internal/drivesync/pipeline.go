package drivesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docrelay/internal/domain"
	"docrelay/internal/metrics"
)

// Downloader fetches the content of one remote file.
type Downloader interface {
	Download(ctx context.Context, remoteID string) (io.ReadCloser, error)
}

// UploadFunc pushes a local file to the corpus and reports success. fp is
// the content fingerprint the pipeline already computed.
type UploadFunc func(ctx context.Context, localPath, name string, fp domain.Fingerprint) bool

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Downloader Downloader
	Upload     UploadFunc
	LocalDir   string
	// Ledger records every outcome and, with DurableDedup, seeds each
	// pass with fingerprints from earlier runs. Optional.
	Ledger       domain.FingerprintLedger
	DurableDedup bool
	Logger       *slog.Logger
}

// Pipeline runs sync passes. Each pass gets a fresh Tracker; passes must
// not overlap (see poll.Guard).
type Pipeline struct {
	downloader Downloader
	upload     UploadFunc
	localDir   string
	ledger     domain.FingerprintLedger
	durable    bool
	logger     *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		downloader: cfg.Downloader,
		upload:     cfg.Upload,
		localDir:   cfg.LocalDir,
		ledger:     cfg.Ledger,
		durable:    cfg.DurableDedup && cfg.Ledger != nil,
		logger:     cfg.Logger,
	}
}

// Sync processes files in order and returns one outcome per file. A failure
// on one file never stops the pass.
func (p *Pipeline) Sync(ctx context.Context, files []domain.RemoteFileRef) ([]domain.SyncOutcome, error) {
	if err := os.MkdirAll(p.localDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrSyncFault, p.localDir, err)
	}

	metrics.SyncInProgress.Set(1)
	defer metrics.SyncInProgress.Set(0)

	tracker := NewTracker()
	if p.durable {
		n, err := tracker.SeedFrom(ctx, p.ledger)
		if err != nil {
			p.logger.Warn("fingerprint ledger unavailable, pass starts empty", "err", err)
		} else {
			p.logger.Debug("tracker seeded from ledger", "fingerprints", n)
		}
	}

	outcomes := make([]domain.SyncOutcome, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		out := p.syncOne(ctx, tracker, f)
		metrics.SyncFiles(string(out.Status)).Inc()
		p.logOutcome(out)
		p.record(ctx, out)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (p *Pipeline) syncOne(ctx context.Context, tracker *Tracker, f domain.RemoteFileRef) domain.SyncOutcome {
	name := localName(f)
	out := domain.SyncOutcome{RemoteID: f.RemoteID, Name: name}
	path := filepath.Join(p.localDir, name)

	if _, err := os.Stat(path); err == nil {
		fp, err := HashFile(path)
		if err != nil {
			// The file is present but unreadable; still never re-download it.
			out.Status = domain.SyncSkippedLocalExists
			out.Err = fmt.Errorf("%w: %v", domain.ErrSyncFault, err)
			return out
		}
		tracker.Add(fp)
		out.Status = domain.SyncSkippedLocalExists
		out.Fingerprint = fp.String()
		return out
	}

	if err := p.download(ctx, f.RemoteID, path); err != nil {
		out.Status = domain.SyncDownloadFailed
		out.Err = fmt.Errorf("%w: download %s: %v", domain.ErrSyncFault, f.RemoteID, err)
		return out
	}

	fp, err := HashFile(path)
	if err != nil {
		os.Remove(path)
		out.Status = domain.SyncDownloadFailed
		out.Err = fmt.Errorf("%w: %v", domain.ErrSyncFault, err)
		return out
	}
	out.Fingerprint = fp.String()

	if tracker.Seen(fp) {
		if err := os.Remove(path); err != nil {
			p.logger.Warn("failed to remove duplicate", "path", path, "err", err)
		}
		out.Status = domain.SyncSkippedDuplicateHash
		return out
	}

	tracker.Add(fp)
	if p.upload(ctx, path, name, fp) {
		out.Status = domain.SyncUploaded
	} else {
		out.Status = domain.SyncUploadFailed
		out.Err = fmt.Errorf("%w: upload %s", domain.ErrSyncFault, name)
	}
	return out
}

// download writes to a temp file next to dst and renames it into place, so
// a failed transfer never leaves a file that looks complete.
func (p *Pipeline) download(ctx context.Context, remoteID, dst string) error {
	rc, err := p.downloader.Download(ctx, remoteID)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(p.localDir, ".partial-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, copyErr := io.CopyBuffer(tmp, rc, make([]byte, 32*1024))
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, out domain.SyncOutcome) {
	if p.ledger == nil || out.Fingerprint == "" {
		return
	}
	if err := p.ledger.RecordFingerprint(ctx, out); err != nil {
		p.logger.Warn("fingerprint ledger write failed", "name", out.Name, "err", err)
	}
}

func (p *Pipeline) logOutcome(out domain.SyncOutcome) {
	attrs := []any{"name", out.Name, "remote_id", out.RemoteID, "status", out.Status}
	if out.Err != nil {
		p.logger.Warn("sync file failed", append(attrs, "err", out.Err)...)
		return
	}
	p.logger.Info("sync file", attrs...)
}

// localName confines a remote name to a single path element.
func localName(f domain.RemoteFileRef) string {
	name := filepath.Base(strings.ReplaceAll(f.Name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" || strings.HasPrefix(name, ".partial-") {
		return f.RemoteID + ".pdf"
	}
	return name
}

// Summary counts outcomes by status.
func Summary(outcomes []domain.SyncOutcome) map[domain.SyncStatus]int {
	m := make(map[domain.SyncStatus]int)
	for _, o := range outcomes {
		m[o.Status]++
	}
	return m
}

// Pass lists folderID on src and syncs every listed file.
func (p *Pipeline) Pass(ctx context.Context, src domain.DriveSource, folderID string) ([]domain.SyncOutcome, error) {
	files, err := src.List(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("%w: list folder %s: %v", domain.ErrSyncFault, folderID, err)
	}
	p.logger.Info("sync pass started", "folder", folderID, "files", len(files))
	outcomes, err := p.Sync(ctx, files)
	if err != nil {
		return outcomes, err
	}
	p.logger.Info("sync pass finished", "summary", Summary(outcomes))
	return outcomes, nil
}
