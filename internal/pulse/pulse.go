// Package pulse monitors the fleet: printer toner telemetry, printer and
// equipment connectivity, low-toner alerts and the polling schedule.
package pulse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/notify"
	"github.com/HerbHall/printfleet/internal/probe"
	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
)

// Module implements the Pulse monitoring module.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	bus       plugin.EventBus
	registry  inventory.Manager
	prober    *Prober
	toner     *TonerEngine
	alerter   *Alerter
	scheduler *Scheduler
	mailMode  string
}

// New creates a new Pulse plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "pulse",
		Version:     "0.1.0",
		Description: "Printer telemetry, connectivity polling and low-toner alerts",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("pulse config: %w", err)
		}
	}

	registry, err := inventory.NewSQLiteRegistry(ctx, deps.Store)
	if err != nil {
		return err
	}

	var notifier notify.Notifier
	if m.cfg.Mail.Enabled() {
		smtp, err := notify.NewSMTPNotifier(m.cfg.Mail, m.logger.Named("mail"))
		if err != nil {
			return fmt.Errorf("pulse mail: %w", err)
		}
		notifier = smtp
		m.mailMode = "smtp"
	} else {
		notifier = notify.NewLogNotifier(m.logger.Named("mail"))
		m.mailMode = "log"
		m.logger.Warn("no mail relay configured, low toner alerts will only be logged")
	}

	pinger := probe.NewICMPPinger(m.cfg.PingTimeout, m.cfg.PingCount)
	snmp := probe.NewSNMPClient(m.cfg.SNMPCommunity, m.cfg.SNMPPort, m.cfg.SNMPTimeout)
	m.wire(registry, pinger, snmp, notifier, nil)

	m.logger.Info("pulse module initialized",
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.Int("concurrency", m.cfg.Concurrency),
		zap.String("mail", m.mailMode),
	)
	return nil
}

// wire assembles the polling components. Tests call it with fakes.
func (m *Module) wire(registry inventory.Manager, pinger probe.Pinger, snmp probe.SNMPGetter, notifier notify.Notifier, ticks TickSource) {
	m.registry = registry
	m.prober = NewProber(registry, pinger, snmp, m.bus, m.logger.Named("prober"))
	m.toner = NewTonerEngine(registry, snmp, m.bus, m.cfg.OIDs, m.cfg.Policy(), m.logger.Named("toner"))
	m.alerter = NewAlerter(registry, notifier, m.bus, m.cfg.Consumable, m.logger.Named("alerter"))
	m.scheduler = NewScheduler(registry, m.toner, m.prober, m.alerter, SchedulerConfig{
		Interval:      m.cfg.PollInterval,
		DeviceTimeout: m.cfg.DeviceTimeout,
		PassTimeout:   m.cfg.PassTimeout,
		Concurrency:   m.cfg.Concurrency,
		ProbeRate:     m.cfg.ProbeRate,
	}, ticks, m.logger.Named("scheduler"))
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	switch {
	case m.cfg.PollInterval < time.Second:
		return fmt.Errorf("poll_interval %v is too short", m.cfg.PollInterval)
	case m.cfg.UpdateDelta < 0 || m.cfg.ReplacementDelta <= m.cfg.UpdateDelta:
		return fmt.Errorf("replacement_delta (%d) must exceed update_delta (%d)", m.cfg.ReplacementDelta, m.cfg.UpdateDelta)
	case m.cfg.LowLevel < 0 || m.cfg.LowLevel > 100:
		return fmt.Errorf("low_level %d out of range", m.cfg.LowLevel)
	case m.cfg.OIDs.Level == "":
		return fmt.Errorf("oids.level is required")
	case m.cfg.SNMPPort < 1 || m.cfg.SNMPPort > 65535:
		return fmt.Errorf("snmp_port %d out of range", m.cfg.SNMPPort)
	case m.cfg.PingTimeout <= 0 || m.cfg.SNMPTimeout <= 0:
		return fmt.Errorf("ping_timeout and snmp_timeout must be positive")
	}
	// A printer check is a toner GET, a ping and a sysDescr GET in sequence.
	if budget := m.cfg.PingTimeout + 2*m.cfg.SNMPTimeout; m.cfg.DeviceTimeout > 0 && budget > m.cfg.DeviceTimeout {
		return fmt.Errorf("device_timeout %v is shorter than one printer check (ping_timeout + 2 x snmp_timeout = %v)",
			m.cfg.DeviceTimeout, budget)
	}
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	m.scheduler.Start(ctx)
	m.logger.Info("pulse module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
	m.logger.Info("pulse module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.registry == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "registry not initialized"}
	}
	printers, err := m.registry.GetAll(ctx, models.KindPrinter)
	if err != nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "registry unavailable"}
	}
	down := 0
	for _, p := range printers {
		if p.State == models.StateDisconnected {
			down++
		}
	}
	status := plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"printers":              fmt.Sprint(len(printers)),
			"printers_disconnected": fmt.Sprint(down),
			"mail":                  m.mailMode,
		},
	}
	if m.mailMode == "log" {
		status.Message = "alerts are logged, no mail relay configured"
	}
	return status
}
