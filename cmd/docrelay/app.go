package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docrelay/internal/archive"
	"docrelay/internal/channel"
	"docrelay/internal/config"
	"docrelay/internal/domain"
	drivesrc "docrelay/internal/drive"
	"docrelay/internal/drivesync"
	"docrelay/internal/googleauth"
	"docrelay/internal/mailpass"
	"docrelay/internal/metrics"
	"docrelay/internal/normalize"
	"docrelay/internal/poll"
	"docrelay/internal/provider"
	"docrelay/internal/relay"
	"docrelay/internal/store"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// app holds every component built from one Config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.SQLiteStore
	providers  *provider.Factory
	dispatcher *relay.Dispatcher
	sender     *channel.WhatsAppSender

	mail     *mailpass.Pass
	pipeline *drivesync.Pipeline
	source   domain.DriveSource
	corpus   *corpusUploader
	guard    poll.Guard

	closers []func() error
}

// setupLogger builds the process logger from config. The returned closer
// flushes the optional log file.
func setupLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	closer := func() error { return nil }
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}

// newApp wires the relay core and the polled channels. Google and AWS
// clients are only created for the features that need them.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Store.Enabled {
		st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger.With("component", "store"))
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}

	a.providers = provider.NewFactory(cfg, logger)

	var observer metrics.Observer
	if ns := cfg.Metrics.CloudWatchNamespace; ns != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("cloudwatch: %w", err)
		}
		dims := map[string]string{}
		if d := cfg.Metrics.CloudWatchDeployment; d != "" {
			dims["Deployment"] = d
		}
		observer = metrics.NewCloudWatchObserver(cloudwatch.NewFromConfig(awsCfg), ns, dims, logger.With("component", "cloudwatch"))
	}

	relayCfg := relay.Config{
		Provider:         a.providers.Answerer(),
		Observer:         observer,
		Logger:           logger.With("component", "relay"),
		FallbackPhrase:   cfg.Relay.FallbackPhrase,
		EscalationCC:     cfg.Relay.EscalationCC,
		EmptyMessageText: cfg.Relay.EmptyMessageText,
		ApologyText:      cfg.Relay.ApologyText,
		Timeout:          time.Duration(cfg.Docalysis.TimeoutSeconds) * time.Second,
	}
	if a.store != nil {
		relayCfg.Log = a.store
	}
	a.dispatcher = relay.NewDispatcher(relayCfg)

	if cfg.WhatsApp.Enabled {
		a.sender = channel.NewWhatsAppSender(channel.WhatsAppSenderConfig{
			APIBase:       cfg.WhatsApp.APIBase,
			APIVersion:    cfg.WhatsApp.APIVersion,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			AccessToken:   cfg.WhatsApp.AccessToken,
			Timeout:       time.Duration(cfg.WhatsApp.SendTimeoutS) * time.Second,
			Logger:        logger.With("channel", "whatsapp"),
		})
	}

	if cfg.Email.Enabled || cfg.Drive.Enabled {
		if err := a.wireGoogle(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) wireGoogle(ctx context.Context) error {
	cfg := a.cfg
	var scopes []string
	if cfg.Email.Enabled {
		scopes = append(scopes, gmail.GmailModifyScope)
	}
	if cfg.Drive.Enabled {
		scopes = append(scopes, drive.DriveReadonlyScope)
	}
	ts, err := googleauth.TokenSource(ctx, googleauth.Config{
		CredentialsJSON: cfg.Google.CredentialsJSON,
		TokenJSON:       cfg.Google.TokenJSON,
		CredentialsFile: cfg.Google.CredentialsFile,
		TokenFile:       cfg.Google.TokenFile,
		Scopes:          scopes,
	})
	if err != nil {
		return err
	}

	if cfg.Email.Enabled {
		if err := a.wireEmail(ctx, option.WithTokenSource(ts)); err != nil {
			return err
		}
	}
	if cfg.Drive.Enabled {
		svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
		if err != nil {
			return fmt.Errorf("drive client: %w", err)
		}
		a.source = drivesrc.NewGDrive(drivesrc.GDriveConfig{
			Service:         svc,
			Timeout:         time.Duration(cfg.Drive.TimeoutSeconds) * time.Second,
			DownloadTimeout: time.Duration(cfg.Drive.DownloadTimeoutSeconds) * time.Second,
			Logger:          a.logger.With("component", "drive"),
		})
		if err := a.wireSync(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) wireEmail(ctx context.Context, auth option.ClientOption) error {
	cfg := a.cfg
	svc, err := gmail.NewService(ctx, auth)
	if err != nil {
		return fmt.Errorf("gmail client: %w", err)
	}
	rules, err := normalize.LoadRules(cfg.Email.RulesFile)
	if err != nil {
		return err
	}
	texts := channel.ReplyTexts{
		Greeting:       cfg.Email.Greeting,
		OriginalHeader: cfg.Email.OriginalHeader,
		SignOff:        cfg.Email.SignOff,
	}
	logger := a.logger.With("channel", "email")
	box := channel.NewGmail(channel.GmailConfig{
		Service: svc,
		From:    cfg.Email.From,
		Texts:   texts,
		Timeout: time.Duration(cfg.Email.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	var replier domain.EmailReplier = box
	if cfg.Email.Transport == "smtp" {
		replier = channel.NewSMTPReplier(channel.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			TLS:      cfg.SMTP.TLS,
			From:     cfg.Email.From,
			Texts:    texts,
			Logger:   logger.With("transport", "smtp"),
		})
	}

	a.mail = mailpass.New(mailpass.Config{
		Inbox:     box,
		Parser:    normalize.NewEmailParser(rules),
		Relay:     a.dispatcher,
		Replier:   replier,
		MaxUnread: cfg.Email.MaxUnread,
		Logger:    logger,
	})
	return nil
}

func (a *app) wireSync(ctx context.Context) error {
	cfg := a.cfg
	a.corpus = &corpusUploader{
		docs:   a.providers.Docalysis(),
		wait:   cfg.Docalysis.WaitProcessed,
		logger: a.logger.With("component", "upload"),
	}
	if cfg.Archive.S3Bucket != "" {
		arc, err := archive.NewS3(ctx, archive.S3Config{
			Bucket:   cfg.Archive.S3Bucket,
			Prefix:   cfg.Archive.S3Prefix,
			Endpoint: cfg.Archive.S3Endpoint,
			Logger:   a.logger.With("component", "archive"),
		})
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		a.corpus.archive = arc
	}

	pc := drivesync.PipelineConfig{
		Downloader:   a.source,
		Upload:       a.corpus.upload,
		LocalDir:     cfg.Drive.LocalDir,
		DurableDedup: cfg.Drive.DurableDedup,
		Logger:       a.logger.With("component", "sync"),
	}
	if a.store != nil {
		pc.Ledger = a.store
	}
	a.pipeline = drivesync.NewPipeline(pc)
	return nil
}

// EmailPass runs one email pass; a no-op when email is disabled.
func (a *app) EmailPass(ctx context.Context) error {
	if a.mail == nil {
		return nil
	}
	return a.mail.Work(ctx)
}

// SyncPass runs one drive pass unless another is still running.
func (a *app) SyncPass(ctx context.Context) ([]domain.SyncOutcome, error) {
	if a.pipeline == nil {
		return nil, nil
	}
	var outcomes []domain.SyncOutcome
	err := a.guard.TryRun(ctx, func(ctx context.Context) error {
		dir, err := a.corpus.docs.Ensure(ctx, a.cfg.Docalysis.UploadDirectory)
		if err != nil {
			return fmt.Errorf("%w: upload directory: %v", domain.ErrSyncFault, err)
		}
		a.corpus.directory = dir
		outcomes, err = a.pipeline.Pass(ctx, a.source, a.cfg.Drive.FolderID)
		return err
	})
	return outcomes, err
}

// PollWork is the unit of work of the background loop: one email pass then
// one drive pass. A failure in one does not skip the other.
func (a *app) PollWork(ctx context.Context) error {
	emailErr := a.EmailPass(ctx)
	if emailErr != nil {
		emailErr = fmt.Errorf("email pass: %w", emailErr)
	}
	_, syncErr := a.SyncPass(ctx)
	if syncErr != nil {
		syncErr = fmt.Errorf("sync pass: %w", syncErr)
	}
	return errors.Join(emailErr, syncErr)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

// corpusUploader pushes synced PDFs into the Docalysis directory resolved
// at the start of each pass, then archives them.
type corpusUploader struct {
	docs      *provider.Docalysis
	archive   *archive.S3
	directory string
	wait      bool
	logger    *slog.Logger
}

func (u *corpusUploader) upload(ctx context.Context, localPath, name string, fp domain.Fingerprint) bool {
	fileID, err := u.docs.Upload(ctx, localPath, name, u.directory)
	if err != nil {
		u.logger.Error("corpus upload failed", "name", name, "err", err)
		return false
	}
	if u.wait {
		// The file is in the corpus either way; a slow processor only
		// delays when it becomes answerable.
		if err := u.docs.WaitProcessed(ctx, fileID); err != nil {
			u.logger.Warn("file not processed yet", "name", name, "file_id", fileID, "err", err)
		}
	}
	if u.archive != nil {
		if err := u.archive.Store(ctx, localPath, name, fp.String()); err != nil {
			u.logger.Warn("archive failed", "name", name, "err", err)
		}
	}
	return true
}

// Ask queries the answer chain, or a single corpus file when fileID is set.
func (a *app) Ask(ctx context.Context, fileID, question string) (string, error) {
	if fileID != "" {
		answer, err := a.providers.Docalysis().ChatWithFile(ctx, fileID, question)
		if err != nil {
			return "", fmt.Errorf("docalysis file %s: %w", fileID, err)
		}
		return answer, nil
	}
	answerer := a.providers.Answerer()
	answer, err := answerer.Query(ctx, question)
	if err != nil {
		return "", fmt.Errorf("%s: %w", answerer.Name(), err)
	}
	return answer, nil
}

// describeOutcomes renders a pass result for the terminal.
func describeOutcomes(outcomes []domain.SyncOutcome) string {
	var sb strings.Builder
	for _, o := range outcomes {
		fmt.Fprintf(&sb, "  %-24s %s", o.Status, o.Name)
		if o.Err != nil {
			fmt.Fprintf(&sb, " (%v)", o.Err)
		}
		sb.WriteByte('\n')
	}
	for status, n := range drivesync.Summary(outcomes) {
		fmt.Fprintf(&sb, "%s=%d ", status, n)
	}
	return strings.TrimSpace(sb.String())
}
