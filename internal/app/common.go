package app

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blackwell-systems/labelforge/internal/config"
	"github.com/blackwell-systems/labelforge/internal/intune"
	"github.com/blackwell-systems/labelforge/internal/notify"
	"github.com/blackwell-systems/labelforge/internal/orchestrator"
	"github.com/blackwell-systems/labelforge/internal/output"
	"github.com/blackwell-systems/labelforge/internal/status"
	"github.com/blackwell-systems/labelforge/internal/store"
)

// loadSettings loads the config file named by --config, falling back to
// the default location. A missing file yields defaults.
func loadSettings() (*config.Settings, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// buildLogger returns the CLI logger: human-readable console output on a
// TTY, JSON otherwise (daemon logs get parsed).
func buildLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if output.IsColorEnabled() {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

// statusDir returns the directory holding operation state files.
func statusDir() string {
	return filepath.Join(config.Dir(), "status")
}

// openStore opens the run-history database and ensures the schema exists.
func openStore(cfg *config.Settings) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.CreateSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}
	return db, nil
}

// buildOrchestrator wires the full pipeline from settings. The returned
// store must be closed by the caller.
func buildOrchestrator(cfg *config.Settings, logger *zap.Logger) (*orchestrator.Orchestrator, *store.Store, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, nil, fmt.Errorf("missing Entra credentials: set tenant_id, client_id, and client_secret in %s", config.DefaultPath())
	}

	db, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	reporter, err := status.NewFileReporter(statusDir())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	tokens := intune.NewClientCredentials(cfg.TenantID, cfg.ClientID, cfg.ClientSecret)
	client := intune.NewGraphClient(logger)
	notifier := notify.NewWebhook(cfg.WebhookURL, logger)

	orch := orchestrator.New(cfg, client, tokens, reporter, notifier, db, logger)
	return orch, db, nil
}
