package pulse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/metrics"
	"github.com/HerbHall/printfleet/pkg/models"
)

// Pass names.
const (
	PassPrinters  = "printer"
	PassEquipment = "equipment"
)

// DeviceOutcome is the result of checking one device.
type DeviceOutcome struct {
	DeviceID     string                   `json:"device_id"`
	Name         string                   `json:"name"`
	Kind         models.DeviceKind        `json:"kind"`
	State        models.ConnectivityState `json:"state"`
	Consumable   *Decision                `json:"consumable,omitempty"`
	AlertSent    bool                     `json:"alert_sent,omitempty"`
	Error        string                   `json:"error,omitempty"`
	NotAttempted bool                     `json:"not_attempted,omitempty"`
}

// PassReport summarizes one polling pass.
type PassReport struct {
	Pass     string          `json:"pass"`
	Duration time.Duration   `json:"duration_ns"`
	TimedOut bool            `json:"timed_out"`
	Outcomes []DeviceOutcome `json:"outcomes"`
}

// Count returns how many outcomes ended in state.
func (r PassReport) Count(state models.ConnectivityState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	Started   time.Time  `json:"started"`
	Skipped   bool       `json:"skipped"`
	Printers  PassReport `json:"printers"`
	Equipment PassReport `json:"equipment"`
}

// TickSource produces scheduler ticks. The returned stop function releases
// its resources.
type TickSource func(period time.Duration) (ticks <-chan time.Time, stop func())

// TickerSource is the default TickSource backed by time.Ticker.
func TickerSource(period time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(period)
	return t.C, t.Stop
}

// SchedulerConfig holds the scheduling bounds.
type SchedulerConfig struct {
	Interval      time.Duration
	DeviceTimeout time.Duration
	PassTimeout   time.Duration
	Concurrency   int
	ProbeRate     float64
}

// Scheduler drives the periodic printer and equipment passes.
type Scheduler struct {
	registry inventory.Registry
	toner    *TonerEngine
	prober   *Prober
	alerter  *Alerter
	cfg      SchedulerConfig
	limiter  *rate.Limiter
	ticks    TickSource
	logger   *zap.Logger

	// inflight joins overlapping checks of one device, so a tick and an
	// on-demand check never classify the same reading twice.
	inflight singleflight.Group

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler. A nil tick source uses TickerSource.
func NewScheduler(registry inventory.Registry, toner *TonerEngine, prober *Prober, alerter *Alerter, cfg SchedulerConfig, ticks TickSource, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.ProbeRate > 0 {
		limit = rate.Limit(cfg.ProbeRate)
	}
	if ticks == nil {
		ticks = TickerSource
	}
	return &Scheduler{
		registry: registry,
		toner:    toner,
		prober:   prober,
		alerter:  alerter,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Concurrency),
		ticks:    ticks,
		logger:   logger,
	}
}

// Start runs one tick immediately, then launches the repeating task. Ticks
// run until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	ticks, stop := s.ticks(s.cfg.Interval)

	go func() {
		defer close(s.done)
		defer stop()
		// Devices registered while stopped get their first state now.
		s.RunTick(context.WithoutCancel(ctx))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					// In-flight checks finish on their own timeouts.
					s.RunTick(context.WithoutCancel(ctx))
				}()
			}
		}
	}()
	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
}

// Stop ends the repeating task and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.wg.Wait()
	s.cancel = nil
	s.logger.Info("scheduler stopped")
}

// RunTick performs one tick: the printer and equipment passes run side by
// side. A tick requested while another is still running is skipped.
func (s *Scheduler) RunTick(ctx context.Context) TickReport {
	report := TickReport{Started: time.Now().UTC()}
	if !s.running.CompareAndSwap(false, true) {
		metrics.Ticks.WithLabelValues("skipped").Inc()
		s.logger.Warn("previous tick still running, skipping")
		report.Skipped = true
		return report
	}
	defer s.running.Store(false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Printers = s.runKind(ctx, PassPrinters, s.cfg.PassTimeout)
	}()
	go func() {
		defer wg.Done()
		report.Equipment = s.runKind(ctx, PassEquipment, s.cfg.PassTimeout)
	}()
	wg.Wait()

	metrics.Ticks.WithLabelValues("completed").Inc()
	s.logger.Info("tick completed",
		zap.Int("printers", len(report.Printers.Outcomes)),
		zap.Int("printers_disconnected", report.Printers.Count(models.StateDisconnected)),
		zap.Int("equipment", len(report.Equipment.Outcomes)),
		zap.Int("equipment_disconnected", report.Equipment.Count(models.StateDisconnected)),
		zap.Duration("elapsed", time.Since(report.Started)),
	)
	return report
}

// CheckKind runs one pass on demand, bounded by budget. kind is PassPrinters
// or PassEquipment.
func (s *Scheduler) CheckKind(ctx context.Context, kind string, budget time.Duration) (PassReport, error) {
	if kind != PassPrinters && kind != PassEquipment {
		return PassReport{}, fmt.Errorf("unknown pass %q", kind)
	}
	return s.runKind(ctx, kind, budget), nil
}

// CheckDevice checks a single device now.
func (s *Scheduler) CheckDevice(ctx context.Context, d models.Device) DeviceOutcome {
	return s.checkDevice(ctx, d)
}

func (s *Scheduler) runKind(ctx context.Context, kind string, budget time.Duration) PassReport {
	devices, err := s.devices(ctx, kind)
	if err != nil {
		s.logger.Error("failed to list devices", zap.String("pass", kind), zap.Error(err))
		return PassReport{Pass: kind}
	}
	return s.runPass(ctx, kind, devices, budget)
}

func (s *Scheduler) devices(ctx context.Context, kind string) ([]models.Device, error) {
	if kind == PassPrinters {
		return s.registry.GetAll(ctx, models.KindPrinter)
	}
	var all []models.Device
	for _, k := range models.EquipmentKinds {
		ds, err := s.registry.GetAll(ctx, k)
		if err != nil {
			return nil, err
		}
		all = append(all, ds...)
	}
	return all, nil
}

// runPass checks devices concurrently. Launches are paced by the limiter
// and capped at the configured concurrency; devices not launched before
// the pass deadline are reported as not attempted.
func (s *Scheduler) runPass(ctx context.Context, pass string, devices []models.Device, budget time.Duration) PassReport {
	start := time.Now()
	report := PassReport{Pass: pass, Outcomes: make([]DeviceOutcome, len(devices))}

	passCtx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, d := range devices {
		if err := s.limiter.Wait(passCtx); err != nil {
			for j := i; j < len(devices); j++ {
				report.Outcomes[j] = DeviceOutcome{
					DeviceID:     devices[j].ID,
					Name:         devices[j].Name,
					Kind:         devices[j].Kind,
					State:        devices[j].State,
					NotAttempted: true,
				}
			}
			report.TimedOut = true
			break
		}
		g.Go(func() error {
			report.Outcomes[i] = s.checkDevice(passCtx, d)
			return nil
		})
	}
	_ = g.Wait()

	if passCtx.Err() != nil {
		report.TimedOut = true
	}
	report.Duration = time.Since(start)
	metrics.PassDuration.WithLabelValues(pass).Observe(report.Duration.Seconds())
	if report.TimedOut {
		s.logger.Warn("pass deadline reached", zap.String("pass", pass), zap.Duration("budget", budget))
	}
	return report
}

// checkDevice checks d, sharing the outcome of a check of the same device
// that is already in flight.
func (s *Scheduler) checkDevice(ctx context.Context, d models.Device) DeviceOutcome {
	v, _, shared := s.inflight.Do(d.ID, func() (any, error) {
		return s.check(ctx, d), nil
	})
	if shared {
		s.logger.Debug("joined in-flight check", zap.String("device_id", d.ID))
	}
	return v.(DeviceOutcome)
}

// check runs the checks of one device under the device timeout.
// Panics are contained and the device is marked disconnected.
func (s *Scheduler) check(ctx context.Context, d models.Device) (out DeviceOutcome) {
	out = DeviceOutcome{DeviceID: d.ID, Name: d.Name, Kind: d.Kind, State: d.State}

	devCtx := ctx
	if s.cfg.DeviceTimeout > 0 {
		var cancel context.CancelFunc
		devCtx, cancel = context.WithTimeout(ctx, s.cfg.DeviceTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.DevicePanics.Inc()
			s.logger.Error("panic while checking device",
				zap.String("device_id", d.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			out.State = models.StateDisconnected
			out.Error = fmt.Sprintf("internal error: %v", r)
			ts := s.prober.now()
			if ts.Before(d.LastChecked) {
				ts = d.LastChecked
			}
			if err := s.registry.UpsertConnectivity(context.WithoutCancel(ctx), d.ID, models.StateDisconnected, ts); err != nil {
				s.logger.Warn("failed to mark device disconnected", zap.String("device_id", d.ID), zap.Error(err))
			}
		}
	}()

	if d.Kind.IsPrinter() {
		dec, err := s.toner.Poll(devCtx, d)
		if err != nil {
			s.logger.Warn("toner poll failed", zap.String("device_id", d.ID), zap.Error(err))
			out.Error = err.Error()
		} else {
			out.Consumable = &dec
			out.AlertSent = s.alerter.Notify(devCtx, d, dec)
		}
	}

	conn := s.prober.Check(devCtx, d)
	out.State = conn.State
	return out
}
