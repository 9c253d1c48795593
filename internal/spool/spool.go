// Package spool relays print jobs to fleet printers: it converts
// word-processing documents to PDF, forces every PDF page to A4 and streams
// the result to the printer's raw-print port.
package spool

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
)

// Module implements the print spool module.
type Module struct {
	logger   *zap.Logger
	cfg      Config
	pipeline *Pipeline
	lookPath func(string) (string, error)
}

// New creates a new spool plugin instance.
func New() *Module {
	return &Module{lookPath: exec.LookPath}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "spool",
		Version:     "0.1.0",
		Description: "Document conversion and raw TCP print delivery",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("spool config: %w", err)
		}
	}
	if m.cfg.SpoolDir == "" {
		m.cfg.SpoolDir = os.TempDir()
	}
	if err := os.MkdirAll(m.cfg.SpoolDir, 0o750); err != nil {
		return fmt.Errorf("spool dir: %w", err)
	}

	devices, err := inventory.NewSQLiteRegistry(ctx, deps.Store)
	if err != nil {
		return err
	}
	m.pipeline = NewPipeline(
		devices,
		NewSofficeConverter(m.cfg.Converter, m.cfg.ConvertTimeout),
		NewPageNormalizer(),
		NewRawTransport(m.cfg.Port, m.cfg.DialTimeout, m.cfg.WriteTimeout),
		deps.Bus,
		m.cfg.SpoolDir,
		m.logger.Named("pipeline"),
	)

	m.logger.Info("spool module initialized",
		zap.Int("port", m.cfg.Port),
		zap.String("converter", m.cfg.Converter),
		zap.String("spool_dir", m.cfg.SpoolDir),
	)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	switch {
	case m.cfg.Port <= 0 || m.cfg.Port > 65535:
		return fmt.Errorf("port %d out of range", m.cfg.Port)
	case m.cfg.DialTimeout <= 0:
		return fmt.Errorf("dial_timeout must be positive")
	case m.cfg.MaxUploadBytes <= 0:
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("spool module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("spool module stopped")
	return nil
}

// Health implements plugin.HealthChecker. A missing converter only
// affects word-processing uploads, so it degrades rather than fails.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.pipeline == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "pipeline not initialized"}
	}
	details := map[string]string{
		"converter": m.cfg.Converter,
		"port":      fmt.Sprint(m.cfg.Port),
	}
	if _, err := m.lookPath(m.cfg.Converter); err != nil {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "converter not found, word-processing documents cannot be printed",
			Details: details,
		}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}
