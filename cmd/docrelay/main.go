package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"docrelay/internal/channel"
	"docrelay/internal/config"
	"docrelay/internal/domain"
	"docrelay/internal/metrics"
	"docrelay/internal/poll"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "docrelay",
		Short:        "docrelay: answer WhatsApp and email questions from a document corpus",
		Long:         "docrelay relays WhatsApp and Gmail questions to Docalysis and keeps the corpus in sync with a Google Drive folder.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.docrelay/config.json)")

	daemon := &cobra.Command{Use: "daemon", Short: "Manage the docrelay system service"}
	daemon.AddCommand(installDaemonCmd(), uninstallDaemonCmd())

	root.AddCommand(
		initCmd(),
		serveCmd(),
		pollCmd(),
		syncCmd(),
		askCmd(),
		sendCmd(),
		configCmd(),
		doctorCmd(),
		daemon,
		backupCmd(),
		restoreCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadApp loads and validates the config, switches the global logger to the
// configured level and builds the components.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	lg, closeLog, err := setupLogger(cfg)
	if err != nil {
		return nil, err
	}
	logger = lg
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		closeLog()
		return nil, err
	}
	a.closers = append([]func() error{closeLog}, a.closers...)
	return a, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Secrets can stay in the environment, e.g. DOCALYSIS_API_KEY, WHATSAPP_ACCESS_TOKEN.")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and the poll loop",
		Long:  "Serves the WhatsApp webhook and runs the email and drive passes every poll interval. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	docs := a.providers.Docalysis()
	if err := docs.Healthy(ctx); err != nil {
		logger.Warn("answer provider unreachable at startup", "provider", docs.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", docs.Name())
	}

	srvCfg := channel.ServerConfig{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		SendToken: cfg.Server.SendToken,
		Health:    docs,
		Logger:    logger.With("component", "server"),
	}
	if a.sender != nil {
		srvCfg.Sender = a.sender
		srvCfg.Webhook = channel.NewWhatsAppWebhook(channel.WhatsAppWebhookConfig{
			Path:        cfg.WhatsApp.WebhookPath,
			VerifyToken: cfg.WhatsApp.VerifyToken,
			AppSecret:   cfg.WhatsApp.AppSecret,
			Dispatcher:  a.dispatcher,
			Sender:      a.sender,
			Logger:      logger.With("channel", "whatsapp"),
		})
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
		srvCfg.MetricsHandler = metrics.Collector.Handler()
	}
	server := channel.NewServer(srvCfg)

	loop := poll.NewLoop(poll.LoopConfig{
		Name:     "poll",
		Interval: time.Duration(cfg.Poll.IntervalSeconds) * time.Second,
		Work:     a.PollWork,
		Logger:   logger.With("component", "poll"),
	})

	var wg sync.WaitGroup
	if a.mail != nil || a.pipeline != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop.Run(ctx)
		}()
		logger.Info("poll loop started", "interval", loop.Interval(), "email", a.mail != nil, "drive", a.pipeline != nil)
	} else {
		logger.Info("poll loop disabled: email and drive are off")
	}

	logger.Info("docrelay started. Press Ctrl+C to stop.", "version", version)
	serveErr := server.Run(ctx)
	stop()

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return errors.Join(serveErr, fmt.Errorf("shutdown timed out"))
	}
	return serveErr
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one email pass and one drive pass, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.PollWork(ctx)
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one drive pass and print the outcome of every file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.pipeline == nil {
				return fmt.Errorf("%w: drive sync is disabled (drive.enabled)", domain.ErrConfig)
			}
			outcomes, err := a.SyncPass(ctx)
			if len(outcomes) > 0 {
				fmt.Println(describeOutcomes(outcomes))
			} else if err == nil {
				fmt.Println("no PDFs in folder")
			}
			return err
		},
	}
}

func askCmd() *cobra.Command {
	var fileID string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the answer provider a question from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			answer, err := a.Ask(ctx, fileID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(answer)
			if a.dispatcher.NeedsEscalation(answer) {
				fmt.Fprintln(os.Stderr, "(fallback phrase detected: a human would be copied on email)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fileID, "file", "", "ask one Docalysis file by id instead of the directory")
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send [number] [text]",
		Short: "Send a WhatsApp message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.sender == nil {
				return fmt.Errorf("%w: whatsapp is disabled (whatsapp.enabled)", domain.ErrConfig)
			}
			text := "Mensaje de prueba"
			if len(args) == 2 {
				text = args[1]
			}
			if !a.sender.Send(ctx, args[0], text) {
				return domain.ErrSendFault
			}
			fmt.Printf("sent to %s\n", args[0])
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("docrelay %s\n", version)
		},
	}
}
