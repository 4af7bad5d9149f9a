package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/christoffer/readtracker-sub001/internal/config"
	"github.com/christoffer/readtracker-sub001/internal/storage"
)

// Wizard guides the user through first-run configuration and installation.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
	}
}

// Run executes the interactive setup wizard. It walks the user through the
// service connection, account confirmation, local library location, config
// file creation, and optional daemon install.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to readsync Setup!\n")
	fmt.Fprintf(wiz.w, "This wizard will help you configure and install readsync.\n\n")

	cfgPath, err := config.DefaultPath()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return wiz.offerDaemonInstall(cfgPath)
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: Service connection.
	fmt.Fprintf(wiz.w, "Step 1/4 — Service Connection\n")

	serviceURL := wiz.prompt.String("Service URL", "https://api.readmill.com/v2")
	token := wiz.prompt.Secret("Access token")

	fmt.Fprintf(wiz.w, "  Verifying token...")
	account, err := WhoAmI(ctx, serviceURL, token)
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot reach the reading service: %w\n\n  Check the URL and token, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n")
	wiz.logger.Debug("token verified", "user_id", account.ID, "username", account.Username)
	fmt.Fprintf(wiz.w, "  Signed in as %s (user id %d)\n\n", account, account.ID)

	userID := account.ID
	if !wiz.prompt.Confirm(fmt.Sprintf("Sync the library of %s?", account), true) {
		userID = wiz.prompt.Int("User id to sync instead", 0)
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: Local library.
	fmt.Fprintf(wiz.w, "Step 2/4 — Local Library\n")

	defaultDB, err := storage.DefaultDBPath()
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}
	dbPath := wiz.prompt.String("Database file", defaultDB)
	if dbPath == defaultDB {
		dbPath = "" // let the daemon fall back to the default
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: Poll interval.
	fmt.Fprintf(wiz.w, "Step 3/4 — Poll Interval\n")

	pollStr := wiz.prompt.String("How often to sync with the service? (1m–24h)", "15m")
	pollInterval, parseErr := time.ParseDuration(pollStr)
	if parseErr != nil {
		pollInterval = 15 * time.Minute
		fmt.Fprintf(wiz.w, "  (invalid duration, using default 15m)\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: Write config.
	fmt.Fprintf(wiz.w, "Step 4/4 — Save Configuration\n")

	cfg := &config.Config{
		ServiceURL:   serviceURL,
		AccessToken:  token,
		UserID:       userID,
		DBPath:       dbPath,
		PollInterval: pollInterval,
	}

	if err := cfg.Write(cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)

	return wiz.offerDaemonInstall(cfgPath)
}

// offerDaemonInstall asks the user whether to install as a background daemon.
func (wiz *Wizard) offerDaemonInstall(cfgPath string) error {
	if !wiz.prompt.Confirm("Install as background daemon (starts on login)?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping daemon install.\n")
		fmt.Fprintf(wiz.w, "  You can run manually with: readsync daemon\n")
		fmt.Fprintf(wiz.w, "  Or install later with:     readsync setup\n\n")
		return nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "  Installing binary to %s...\n", BinaryInstallPath())
	if err := InstallBinary(); err != nil {
		return fmt.Errorf("installing binary: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Binary installed\n")

	if err := WriteUnit(homeDir, cfgPath); err != nil {
		return fmt.Errorf("writing systemd unit: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ systemd user unit written\n")

	if err := EnableDaemon(); err != nil {
		return fmt.Errorf("enabling daemon: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Daemon enabled — running now\n")

	fmt.Fprintf(wiz.w, "\nSetup complete! readsync is syncing in the background.\n")
	fmt.Fprintf(wiz.w, "  Config:  %s\n", cfgPath)
	fmt.Fprintf(wiz.w, "  Logs:    journalctl --user -u %s\n", UnitName)
	fmt.Fprintf(wiz.w, "  Status:  readsync status\n")
	fmt.Fprintf(wiz.w, "  Remove:  readsync uninstall\n\n")

	return nil
}
