package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"textrelay/internal/agent"
	"textrelay/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your textrelay installation",
		Long: `Verifies that the configuration, storage, model backends, and
webhook port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("textrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, _, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Storage writable
			if cfg.Storage.Driver == "sqlite" {
				if err := checkDatabase(cfg.Storage.DBPath); err != nil {
					printFail("Storage (sqlite)", err.Error())
					failed++
				} else {
					printPass("Storage (sqlite)", cfg.Storage.DBPath)
					passed++
				}
			} else {
				if err := checkWritableDir(filepath.Dir(cfg.Storage.TranscriptPath())); err != nil {
					printFail("Storage (file)", err.Error())
					failed++
				} else {
					printPass("Storage (file)", cfg.Storage.TranscriptPath())
					passed++
				}
			}

			// 4. Media directory
			if cfg.Media.Enabled {
				if err := checkWritableDir(cfg.Media.Dir); err != nil {
					printWarn("Media directory", err.Error())
					warned++
				} else {
					printPass("Media directory", cfg.Media.Dir)
					passed++
				}
			}

			// 5. Backends
			a, err := newApp(cfg, logger)
			if err != nil {
				printFail("Stores", err.Error())
				failed++
			} else {
				defer a.Close()

				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()

				if err := a.local.Healthy(ctx); err != nil {
					printFail("Local backend", fmt.Sprintf("%s unreachable: %v", cfg.Local.APIBase, err))
					failed++
				} else {
					printPass("Local backend", cfg.Local.APIBase)
					passed++
				}

				if cfg.HostedEnabled() {
					printPass("Hosted backend", strings.Join(cfg.Hosted.Models, ", "))
					passed++
				} else {
					printWarn("Hosted backend", "disabled (OPENAI_API_KEY not set)")
					warned++
				}

				// 6. Default model
				current, err := a.stores.Defaults.Get(ctx)
				switch {
				case err != nil:
					printFail("Default model", err.Error())
					failed++
				case current == "":
					printWarn("Default model", "not set, serve will bootstrap one")
					warned++
				default:
					known, err := a.registry.IsKnown(ctx, current)
					if err != nil {
						printWarn("Default model", fmt.Sprintf("%s (could not verify: %v)", current, err))
						warned++
					} else if !known {
						printFail("Default model", fmt.Sprintf("%s is not served by any backend", current))
						failed++
					} else {
						printPass("Default model", current)
						passed++
					}
				}
			}

			// 7. Delivery credentials
			if cfg.Delivery.APIKey == "" || cfg.Delivery.APISecret == "" {
				printWarn("Delivery", "Sendblue credentials not set, replies will fail")
				warned++
			} else {
				printPass("Delivery", cfg.Delivery.APIBase)
				passed++
			}

			// 8. Styles file
			if cfg.Relay.StylesFile != "" {
				if styles, err := agent.LoadStyles(cfg.Relay.StylesFile); err != nil {
					printFail("Styles file", err.Error())
					failed++
				} else {
					printPass("Styles file", fmt.Sprintf("%s (%d rules)", cfg.Relay.StylesFile, len(styles)))
					passed++
				}
			}

			// 9. Webhook port
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Webhook port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 10. Log file
			if cfg.General.LogFile != "" {
				if err := checkWritableDir(filepath.Dir(cfg.General.LogFile)); err != nil {
					printWarn("Log file", err.Error())
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running textrelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\ntextrelay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! textrelay is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", dir, err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
