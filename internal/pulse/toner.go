package pulse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/metrics"
	"github.com/HerbHall/printfleet/internal/probe"
	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// Policy holds the toner classification thresholds. Levels are percentages
// as reported by the printer gauge.
type Policy struct {
	// ReplacementDelta is the minimum upward jump classified as a
	// cartridge replacement (exclusive).
	ReplacementDelta int
	// UpdateDelta separates drift worth recording from gauge jitter
	// (exclusive).
	UpdateDelta int
	// LowLevel is the inclusive upper bound of the alerting band (0, LowLevel].
	LowLevel int
	// SuppressionWindow is the minimum time between two alerts for a device.
	SuppressionWindow time.Duration
}

// DefaultPolicy returns the thresholds of DefaultConfig.
func DefaultPolicy() Policy { return DefaultConfig().Policy() }

// Sample is one SNMP read of a printer. Nil fields were absent or unusable.
type Sample struct {
	Level       *int
	Serial      *string
	PageCounter *int64
}

// DecisionKind is the classification of a sample against the stored reading.
type DecisionKind string

const (
	DecisionNoSignal    DecisionKind = "no_signal"
	DecisionBaseline    DecisionKind = "baseline"
	DecisionReplacement DecisionKind = "replacement"
	DecisionUpdate      DecisionKind = "update"
	DecisionNoise       DecisionKind = "noise"
)

// Decision is the outcome of Classify.
type Decision struct {
	Kind DecisionKind `json:"kind"`
	// Update is the mutation to persist; nil for no_signal and noise.
	Update *models.ConsumableUpdate `json:"-"`

	Level       int    `json:"level"`
	Previous    *int   `json:"previous,omitempty"`
	Serial      string `json:"serial,omitempty"`
	PageCounter int64  `json:"page_counter"`
	AlertDue    bool   `json:"alert_due"`
}

// Classify compares a sample with the stored reading and decides what to
// persist and whether a low-toner alert is due. It has no side effects.
func Classify(prev models.ConsumableReading, s Sample, now time.Time, p Policy) Decision {
	if s.Level == nil {
		return Decision{Kind: DecisionNoSignal}
	}

	d := Decision{
		Level:       *s.Level,
		Previous:    prev.Level,
		Serial:      prev.Serial,
		PageCounter: prev.PageCounter,
	}
	if s.Serial != nil {
		d.Serial = *s.Serial
	}
	if s.PageCounter != nil {
		d.PageCounter = *s.PageCounter
	}
	update := &models.ConsumableUpdate{
		Level:       d.Level,
		Serial:      d.Serial,
		PageCounter: d.PageCounter,
	}

	if !prev.HasLevel() {
		d.Kind = DecisionBaseline
		d.Update = update
		return d
	}

	old := *prev.Level
	delta := abs(d.Level - old)
	switch {
	case d.Level > old && delta > p.ReplacementDelta:
		d.Kind = DecisionReplacement
		update.ReplacementIncrement = 1
		update.ReserveDelta = -1
		update.LastChangeAt = &now
	case delta > p.UpdateDelta:
		d.Kind = DecisionUpdate
	default:
		d.Kind = DecisionNoise
		return d
	}
	d.Update = update
	d.AlertDue = alertDue(d.Level, prev.LastAlertAt, now, p)
	return d
}

func alertDue(level int, lastAlert *time.Time, now time.Time, p Policy) bool {
	if level <= 0 || level > p.LowLevel {
		return false
	}
	return lastAlert == nil || now.Sub(*lastAlert) > p.SuppressionWindow
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// SampleFromSNMP extracts a Sample from an SNMP result. A failed GET or a
// non-numeric level yields a Sample without a level. Negative levels are
// the Printer-MIB "other", "unknown" and "some remaining" markers and are
// treated as absent.
func SampleFromSNMP(res probe.SNMPResult, oids OIDConfig) Sample {
	var s Sample
	if !res.OK() {
		return s
	}
	if v, ok := res.Get(oids.Level); ok {
		if n, ok := v.Int(); ok && n >= 0 {
			level := int(n)
			s.Level = &level
		}
	}
	if v, ok := res.Get(oids.Serial); ok {
		if str, ok := v.String(); ok && str != "" {
			s.Serial = &str
		}
	}
	if v, ok := res.Get(oids.PageCounter); ok {
		if n, ok := v.Int(); ok {
			s.PageCounter = &n
		}
	}
	return s
}

// TonerEngine polls printer consumable telemetry and persists classified
// readings.
type TonerEngine struct {
	registry inventory.Registry
	snmp     probe.SNMPGetter
	bus      plugin.EventBus
	oids     OIDConfig
	policy   Policy
	now      func() time.Time
	logger   *zap.Logger
}

// NewTonerEngine creates a TonerEngine.
func NewTonerEngine(registry inventory.Registry, snmp probe.SNMPGetter, bus plugin.EventBus, oids OIDConfig, policy Policy, logger *zap.Logger) *TonerEngine {
	return &TonerEngine{
		registry: registry,
		snmp:     snmp,
		bus:      bus,
		oids:     oids,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Read performs the single SNMP GET of the consumable objects.
func (e *TonerEngine) Read(ctx context.Context, d models.Device) Sample {
	res := e.snmp.Get(ctx, d.Address, []string{e.oids.Level, e.oids.Serial, e.oids.PageCounter})
	if res.Err != nil {
		e.logger.Debug("toner read failed",
			zap.String("device_id", d.ID),
			zap.String("address", d.Address),
			zap.Error(res.Err),
		)
	}
	return SampleFromSNMP(res, e.oids)
}

// Poll reads the printer, classifies the sample and persists the result.
// SNMP failures and unusable readings produce a no_signal decision and
// leave stored state untouched. Only registry failures return an error.
func (e *TonerEngine) Poll(ctx context.Context, d models.Device) (Decision, error) {
	sample := e.Read(ctx, d)
	if sample.Level == nil {
		metrics.TonerDecisions.WithLabelValues(string(DecisionNoSignal)).Inc()
		return Decision{Kind: DecisionNoSignal}, nil
	}

	prev, err := e.registry.GetConsumable(ctx, d.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("load consumable of %s: %w", d.ID, err)
	}

	dec := Classify(prev, sample, e.now(), e.policy)
	metrics.TonerDecisions.WithLabelValues(string(dec.Kind)).Inc()
	if dec.Update == nil {
		return dec, nil
	}

	if err := e.registry.UpsertConsumable(ctx, d.ID, *dec.Update); err != nil {
		return Decision{}, fmt.Errorf("persist consumable of %s: %w", d.ID, err)
	}

	switch dec.Kind {
	case DecisionReplacement:
		e.logger.Info("toner replacement detected",
			zap.String("device_id", d.ID),
			zap.String("name", d.Name),
			zap.Int("previous", *dec.Previous),
			zap.Int("level", dec.Level),
		)
		e.bus.PublishAsync(ctx, plugin.Event{
			Topic:   TopicTonerReplaced,
			Source:  "pulse",
			Payload: TonerEvent{DeviceID: d.ID, Name: d.Name, Branch: d.Branch, Level: dec.Level, Previous: dec.Previous, Serial: dec.Serial},
		})
	case DecisionBaseline:
		e.logger.Debug("toner baseline recorded", zap.String("device_id", d.ID), zap.Int("level", dec.Level))
	}
	return dec, nil
}
