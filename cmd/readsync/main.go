// Readsync mirrors a local reading-tracker database to and from a remote
// reading service: it uploads locally recorded readings, sessions, and
// highlights, and pulls back everything that changed remotely.
//
// Usage:
//
//	readsync setup                             # interactive first-run wizard
//	readsync sync [--config <path>] [--full]   # single sync pass then exit
//	readsync daemon [--config <path>]          # periodic sync on a poll loop
//	readsync status                            # show config & database state
//	readsync uninstall [--purge]               # remove daemon and binary
//	readsync version                           # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/config"
	"github.com/christoffer/readtracker-sub001/internal/readmill"
	"github.com/christoffer/readtracker-sub001/internal/setup"
	"github.com/christoffer/readtracker-sub001/internal/storage"
	syncp "github.com/christoffer/readtracker-sub001/internal/sync"
	"github.com/christoffer/readtracker-sub001/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "setup":
		return runSetup(os.Args[2:])
	case "sync":
		return runSync(os.Args[2:], false)
	case "daemon":
		return runSync(os.Args[2:], true)
	case "status":
		return runStatus()
	case "uninstall":
		return runUninstall(os.Args[2:])
	case "version":
		fmt.Println("readsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'readsync' for usage", cmd)
	}
}

// printUsage shows help and suggests creating a config if none exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "readsync — mirror a local reading tracker to a remote reading service")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  readsync setup                          Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  readsync sync [--config ...] [--full]   Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  readsync daemon [--config ...]          Run as continuous daemon")
	fmt.Fprintln(os.Stderr, "  readsync status                         Show config & database state")
	fmt.Fprintln(os.Stderr, "  readsync uninstall [--purge]            Remove daemon and binary")
	fmt.Fprintln(os.Stderr, "  readsync version                        Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found. Run 'readsync setup' to get started (config: %s).\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// runSetup launches the interactive first-run wizard.
func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	wiz := setup.NewWizard(os.Stdin, os.Stdout, logger)
	return wiz.Run(ctx)
}

// runUninstall stops the daemon and removes installed files.
func runUninstall(args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ExitOnError)
	purge := fs.Bool("purge", false, "also remove config and the local database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	fmt.Println("Uninstalling readsync...")

	if setup.IsDaemonActive() {
		fmt.Println("  Stopping daemon...")
		if err := setup.DisableDaemon(homeDir); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ Daemon stopped")
		}
	}

	if err := setup.RemoveUnit(homeDir); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ systemd unit removed")
	}

	fmt.Println("  Removing binary...")
	if err := setup.RemoveBinary(); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ Binary removed")
	}

	if *purge {
		fmt.Println("  Purging config and local database...")
		if err := setup.PurgeUserData(homeDir); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ User data purged")
		}
	} else {
		fmt.Println("")
		fmt.Println("  Config and local database preserved.")
		fmt.Println("  Run with --purge to also remove them:")
		fmt.Println("    readsync uninstall --purge")
	}

	fmt.Println("")
	fmt.Println("✓ readsync uninstalled.")
	return nil
}

// runSync handles both the "sync" and "daemon" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	full := fs.Bool("full", false, "re-pull every connected reading regardless of change detection")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if daemon && *full {
		return fmt.Errorf("--full only applies to the sync subcommand")
	}

	return startSync(*cfgPath, *verbose, daemon, *full)
}

// runStatus prints the current configuration and database state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	dbPath, _ := storage.DefaultDBPath()
	homeDir, _ := os.UserHomeDir()

	fmt.Println("readsync status")
	fmt.Println("───────────────")

	if setup.IsDaemonActive() {
		fmt.Println("  Daemon:   running (systemd)")
	} else {
		fmt.Println("  Daemon:   not running")
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:   %s ✓\n", cfgPath)
			fmt.Printf("  Service:  %s\n", cfg.ServiceURL)
			fmt.Printf("  User:     %d\n", cfg.UserID)
			fmt.Printf("  Poll:     %s\n", cfg.PollInterval)
			if cfg.DBPath != "" {
				dbPath = cfg.DBPath
			}
		} else {
			fmt.Printf("  Config:   %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:   not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  Database: %s (%s)\n", dbPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  Database: not found (%s)\n", dbPath)
	}

	unitPath := setup.UnitPath(homeDir)
	if _, err := os.Stat(unitPath); err == nil {
		fmt.Printf("  Unit:     %s\n", unitPath)
	} else {
		fmt.Printf("  Unit:     not installed\n")
	}

	return nil
}

// startSync is the shared implementation for sync and daemon modes.
func startSync(cfgPath string, verbose, daemon, full bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"service_url", cfg.ServiceURL,
		"user_id", cfg.UserID,
		"poll_interval", cfg.PollInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Database ------------------------------------------------------------

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = storage.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolving database path: %w", err)
		}
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing database", "error", closeErr)
		}
	}()
	logger.Info("database opened", "path", dbPath)

	// --- Remote client & coordinator -----------------------------------------

	client := readmill.NewClient(cfg.ServiceURL, cfg.AccessToken, logger)

	events := make(chan syncp.Event, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			logEvent(logger, ev)
		}
	}()
	defer func() {
		close(events)
		<-drained
	}()

	coordinator := syncp.NewCoordinator(client, store, logger, events)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass", "full", full)
		stats, err := coordinator.Sync(ctx, cfg.UserID, full)
		logger.Info("pass finished",
			"created", stats.Created,
			"updated", stats.Updated,
			"deleted", stats.Deleted,
			"uploaded", stats.Uploaded,
			"errors", stats.Errors,
		)
		return err
	}

	engine := syncp.NewEngine(coordinator, cfg.UserID, cfg.PollInterval, logger)
	logger.Info("daemon starting", "poll_interval", cfg.PollInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// logEvent maps sync events onto log lines.
func logEvent(logger *slog.Logger, ev syncp.Event) {
	switch ev.Type {
	case syncp.EventStarted:
		logger.Debug("sync pass started")
	case syncp.EventProgress:
		logger.Debug("progress", "message", ev.Message, "fraction", fmt.Sprintf("%.0f%%", ev.Fraction*100))
	case syncp.EventReadingUpdated:
		logger.Debug("reading updated", "reading_id", ev.Reading.ID, "title", ev.Reading.Title)
	case syncp.EventReadingDeleted:
		logger.Debug("reading deleted", "reading_id", ev.ReadingID)
	case syncp.EventDone:
		logger.Debug("sync pass done")
	case syncp.EventFailed:
		logger.Debug("sync pass failed", "status", ev.StatusCode, "message", ev.Message)
	}
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
