// Package journal records the domain events published by the other modules
// and serves them as history and as a live stream.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/metrics"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
)

// Config holds the journal settings.
type Config struct {
	MaxEntries   int           `mapstructure:"max_entries"`
	StreamBuffer int           `mapstructure:"stream_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the journal defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:   10000,
		StreamBuffer: 64,
		WriteTimeout: 5 * time.Second,
	}
}

// Module implements the event journal.
type Module struct {
	logger *zap.Logger
	cfg    Config
	store  *Store
	unsub  func()

	mu       sync.Mutex
	streams  map[chan Entry]string
	closing  chan struct{}
	failures int
}

// New creates a new journal plugin instance.
func New() *Module {
	return &Module{
		streams: make(map[chan Entry]string),
		closing: make(chan struct{}),
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "journal",
		Version:     "0.1.0",
		Description: "Domain event history and live event stream",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("journal config: %w", err)
		}
	}

	store, err := NewStore(ctx, deps.Store, m.cfg.MaxEntries)
	if err != nil {
		return err
	}
	m.store = store
	m.unsub = deps.Bus.SubscribeAll(m.Record)

	m.logger.Info("journal module initialized", zap.Int("max_entries", m.cfg.MaxEntries))
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	switch {
	case m.cfg.MaxEntries < 0:
		return fmt.Errorf("max_entries %d must not be negative", m.cfg.MaxEntries)
	case m.cfg.StreamBuffer < 1:
		return fmt.Errorf("stream_buffer %d must be positive", m.cfg.StreamBuffer)
	case m.cfg.WriteTimeout <= 0:
		return fmt.Errorf("write_timeout must be positive")
	}
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("journal module started")
	return nil
}

// Stop unsubscribes from the bus and ends every open stream.
func (m *Module) Stop(_ context.Context) error {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	m.mu.Lock()
	select {
	case <-m.closing:
	default:
		close(m.closing)
	}
	m.mu.Unlock()
	m.logger.Info("journal module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.store == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "journal not initialized"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status := plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"streams":  fmt.Sprint(len(m.streams)),
			"failures": fmt.Sprint(m.failures),
		},
	}
	if m.failures > 0 {
		status.Status = "degraded"
		status.Message = "some events could not be recorded"
	}
	return status
}

// Record persists event and forwards it to the open streams. It is the
// bus handler of the module.
func (m *Module) Record(ctx context.Context, event plugin.Event) {
	e := Entry{Topic: event.Topic, Source: event.Source, Timestamp: event.Timestamp}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			m.logger.Warn("event payload is not JSON", zap.String("topic", event.Topic), zap.Error(err))
		} else {
			e.Payload = raw
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.WriteTimeout)
	defer cancel()
	if err := m.store.Append(writeCtx, &e); err != nil {
		m.mu.Lock()
		m.failures++
		m.mu.Unlock()
		m.logger.Error("failed to record event", zap.String("topic", event.Topic), zap.Error(err))
	}
	metrics.JournalEvents.WithLabelValues(event.Topic).Inc()
	m.broadcast(e)
}

func (m *Module) broadcast(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch, topic := range m.streams {
		if topic != "" && topic != e.Topic {
			continue
		}
		select {
		case ch <- e:
		default:
			metrics.JournalDropped.Inc()
		}
	}
}

// subscribe registers a stream for topic, or every topic when empty.
func (m *Module) subscribe(topic string) (<-chan Entry, func()) {
	ch := make(chan Entry, m.cfg.StreamBuffer)
	m.mu.Lock()
	m.streams[ch] = topic
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		delete(m.streams, ch)
		m.mu.Unlock()
	}
}
