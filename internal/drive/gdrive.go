// Package drive lists and downloads the source PDFs from Google Drive.
package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"

	"docrelay/internal/domain"
)

const pdfMimeType = "application/pdf"

// GDriveConfig configures the Drive source.
type GDriveConfig struct {
	Service *drive.Service
	// Timeout bounds each listing call. Default 30s.
	Timeout time.Duration
	// DownloadTimeout bounds one media download, body included. Default 10m.
	DownloadTimeout time.Duration
	Logger          *slog.Logger
}

// GDrive implements domain.DriveSource over the Drive v3 API.
type GDrive struct {
	svc             *drive.Service
	timeout         time.Duration
	downloadTimeout time.Duration
	logger          *slog.Logger
}

func NewGDrive(cfg GDriveConfig) *GDrive {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 10 * time.Minute
	}
	return &GDrive{
		svc:             cfg.Service,
		timeout:         cfg.Timeout,
		downloadTimeout: cfg.DownloadTimeout,
		logger:          cfg.Logger,
	}
}

// folderQuery selects the non-trashed PDFs directly inside folderID.
func folderQuery(folderID string) string {
	id := strings.ReplaceAll(folderID, `'`, `\'`)
	return fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed = false", id, pdfMimeType)
}

// List returns every PDF in the folder, following pagination.
func (g *GDrive) List(ctx context.Context, folderID string) ([]domain.RemoteFileRef, error) {
	var refs []domain.RemoteFileRef
	pageToken := ""
	for {
		resp, err := g.listPage(ctx, folderID, pageToken)
		if err != nil {
			return nil, fmt.Errorf("drive list %s: %w", folderID, err)
		}
		for _, f := range resp.Files {
			ref := domain.RemoteFileRef{RemoteID: f.Id, Name: f.Name}
			if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
				ref.ModifiedAt = t
			}
			refs = append(refs, ref)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	g.logger.Debug("drive listed", "folder", folderID, "files", len(refs))
	return refs, nil
}

func (g *GDrive) listPage(ctx context.Context, folderID, pageToken string) (*drive.FileList, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	call := g.svc.Files.List().
		Q(folderQuery(folderID)).
		Fields("nextPageToken, files(id, name, modifiedTime)").
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

// Download streams the file's media. The caller closes the reader; the
// download deadline covers reading the body too.
func (g *GDrive) Download(ctx context.Context, remoteID string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, g.downloadTimeout)
	resp, err := g.svc.Files.Get(remoteID).Context(ctx).Download()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("drive download %s: %w", remoteID, err)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

var _ domain.DriveSource = (*GDrive)(nil)
