package pulse

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/metrics"
	"github.com/HerbHall/printfleet/internal/probe"
	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// Connectivity is the outcome of one Prober check.
type Connectivity struct {
	State     models.ConnectivityState `json:"state"`
	CheckedAt time.Time                `json:"checked_at"`
	RTT       time.Duration            `json:"rtt_ns,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
}

// Prober classifies device connectivity. Printers must answer both ICMP and
// an SNMP sysDescr GET; other equipment only ICMP.
type Prober struct {
	registry inventory.Registry
	pinger   probe.Pinger
	snmp     probe.SNMPGetter
	bus      plugin.EventBus
	now      func() time.Time
	logger   *zap.Logger
}

// NewProber creates a Prober.
func NewProber(registry inventory.Registry, pinger probe.Pinger, snmp probe.SNMPGetter, bus plugin.EventBus, logger *zap.Logger) *Prober {
	return &Prober{
		registry: registry,
		pinger:   pinger,
		snmp:     snmp,
		bus:      bus,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Check probes d and records the state with the check time. The record is
// written even when probing fails. The stored timestamp never moves
// backwards.
func (p *Prober) Check(ctx context.Context, d models.Device) Connectivity {
	res := p.classify(ctx, d)

	res.CheckedAt = p.now()
	if res.CheckedAt.Before(d.LastChecked) {
		res.CheckedAt = d.LastChecked
	}

	p.record(ctx, d, res)
	return res
}

func (p *Prober) classify(ctx context.Context, d models.Device) Connectivity {
	ping := p.pinger.Ping(ctx, d.Address)
	if !ping.Reachable {
		return Connectivity{State: models.StateDisconnected, Reason: errText(ping.Err, "icmp unreachable")}
	}
	if !d.Kind.IsPrinter() {
		return Connectivity{State: models.StateConnected, RTT: ping.RTT}
	}

	res := p.snmp.Get(ctx, d.Address, []string{probe.OIDSysDescr})
	if !res.OK() {
		return Connectivity{State: models.StateDisconnected, RTT: ping.RTT, Reason: errText(res.Err, "snmp failure")}
	}
	return Connectivity{State: models.StateConnected, RTT: ping.RTT}
}

func (p *Prober) record(ctx context.Context, d models.Device, res Connectivity) {
	metrics.ConnectivityChecks.WithLabelValues(string(d.Kind), string(res.State)).Inc()

	// The registry write must land even when the device budget is spent.
	wctx := context.WithoutCancel(ctx)
	if err := p.registry.UpsertConnectivity(wctx, d.ID, res.State, res.CheckedAt); err != nil {
		p.logger.Warn("failed to record connectivity",
			zap.String("device_id", d.ID),
			zap.Error(err),
		)
		return
	}

	if d.State == res.State {
		return
	}
	p.logger.Info("device state changed",
		zap.String("device_id", d.ID),
		zap.String("name", d.Name),
		zap.String("from", string(d.State)),
		zap.String("to", string(res.State)),
		zap.String("reason", res.Reason),
	)
	p.bus.PublishAsync(wctx, plugin.Event{
		Topic:  TopicStateChanged,
		Source: "pulse",
		Payload: StateChangedEvent{
			DeviceID:  d.ID,
			Name:      d.Name,
			Kind:      d.Kind,
			From:      d.State,
			To:        res.State,
			CheckedAt: res.CheckedAt,
		},
	})
}

func errText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
