package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"docrelay/internal/config"
	"docrelay/internal/domain"
	"docrelay/internal/googleauth"
	"docrelay/internal/provider"
	"docrelay/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the docrelay installation",
		Long: `Verifies configuration, credentials, the database, the answer provider
and the listen port. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("docrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			// Environment-only deployments have no file.
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults + environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if cfg.Store.Enabled {
				if st, recent, err := checkDatabase(ctx, cfg.Store.DBPath); err != nil {
					r.fail("Database", err.Error())
				} else {
					r.pass("Database", fmt.Sprintf("%s (%d fingerprints, %d relays, %d failed, %d escalated)",
						cfg.Store.DBPath, st.Fingerprints, st.Relays, st.Failures, st.Escalations))
					for _, line := range describeRelays(recent) {
						fmt.Println("      " + line)
					}
				}
			} else {
				r.warn("Database", "store disabled: no audit log, no durable dedup")
			}

			docs := provider.NewFactory(cfg, logger).Docalysis()
			if err := docs.Healthy(ctx); err != nil {
				r.fail("Docalysis", err.Error())
			} else {
				r.pass("Docalysis", "reachable, directory "+cfg.Docalysis.DirectoryID)
			}

			if cfg.WhatsApp.Enabled {
				r.pass("WhatsApp", fmt.Sprintf("phone %s, api %s", cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.APIVersion))
				if cfg.WhatsApp.AppSecret == "" {
					r.warn("Webhook signature", "whatsapp.appSecret not set, POST bodies are not verified")
				}
			} else {
				r.warn("WhatsApp", "disabled")
			}

			if cfg.Email.Enabled || cfg.Drive.Enabled {
				if err := checkGoogle(ctx, cfg); err != nil {
					r.fail("Google OAuth", err.Error())
				} else {
					r.pass("Google OAuth", "token valid")
				}
			}
			if cfg.Drive.Enabled {
				if err := os.MkdirAll(cfg.Drive.LocalDir, 0o755); err != nil {
					r.fail("Drive local dir", err.Error())
				} else {
					r.pass("Drive local dir", cfg.Drive.LocalDir)
				}
			}

			if err := checkPort(cfg.Server.Port); err != nil {
				r.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running docrelay.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\ndocrelay should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! docrelay is ready to run.\n")
	}
	return nil
}

const recentRelayCount = 5

func checkDatabase(ctx context.Context, dbPath string) (store.Stats, []domain.RelayRecord, error) {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return store.Stats{}, nil, err
	}
	defer st.Close()
	stats, err := st.Stats(ctx)
	if err != nil {
		return store.Stats{}, nil, err
	}
	recent, err := st.RecentRelays(ctx, recentRelayCount)
	if err != nil {
		return stats, nil, err
	}
	return stats, recent, nil
}

// describeRelays renders the newest relays, one per line.
func describeRelays(recs []domain.RelayRecord) []string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		if r.Escalated {
			status += ", escalated"
		}
		lines = append(lines, fmt.Sprintf("%s %-8s %s %dms (%s)",
			r.CreatedAt.Format(time.DateTime), r.Channel, r.SenderID, r.LatencyMs, status))
	}
	return lines
}

// checkGoogle refreshes the stored token once.
func checkGoogle(ctx context.Context, cfg *config.Config) error {
	ts, err := googleauth.TokenSource(ctx, googleauth.Config{
		CredentialsJSON: cfg.Google.CredentialsJSON,
		TokenJSON:       cfg.Google.TokenJSON,
		CredentialsFile: cfg.Google.CredentialsFile,
		TokenFile:       cfg.Google.TokenFile,
	})
	if err != nil {
		return err
	}
	_, err = ts.Token()
	return err
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
