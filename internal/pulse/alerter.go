package pulse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/metrics"
	"github.com/HerbHall/printfleet/internal/notify"
	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// dispatchTimeout bounds one alert dispatch including SMTP retries.
const dispatchTimeout = 2 * time.Minute

// Alerter sends low-toner notifications for decisions that call for one.
// It never reclassifies and a failed dispatch leaves persisted telemetry
// as it is.
type Alerter struct {
	registry   inventory.Registry
	notifier   notify.Notifier
	bus        plugin.EventBus
	consumable string
	now        func() time.Time
	logger     *zap.Logger
}

// NewAlerter creates an Alerter. consumable names the supply in subjects,
// e.g. "black toner".
func NewAlerter(registry inventory.Registry, notifier notify.Notifier, bus plugin.EventBus, consumable string, logger *zap.Logger) *Alerter {
	return &Alerter{
		registry:   registry,
		notifier:   notifier,
		bus:        bus,
		consumable: consumable,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Notify dispatches an alert when dec.AlertDue is set and stamps the alert
// time on success. It reports whether an alert was sent.
func (a *Alerter) Notify(ctx context.Context, d models.Device, dec Decision) bool {
	if !dec.AlertDue {
		return false
	}

	// Dispatch is detached from the device check budget.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	if err := a.notifier.Send(sendCtx, LowTonerMessage(d, dec, a.consumable)); err != nil {
		metrics.Alerts.WithLabelValues("failed").Inc()
		a.logger.Error("low toner alert dispatch failed",
			zap.String("device_id", d.ID),
			zap.Int("level", dec.Level),
			zap.Error(err),
		)
		return false
	}
	metrics.Alerts.WithLabelValues("sent").Inc()

	if err := a.registry.StampAlert(sendCtx, d.ID, a.now()); err != nil {
		a.logger.Warn("failed to stamp alert time",
			zap.String("device_id", d.ID),
			zap.Error(err),
		)
	}

	a.logger.Info("low toner alert sent",
		zap.String("device_id", d.ID),
		zap.String("name", d.Name),
		zap.Int("level", dec.Level),
	)
	a.bus.PublishAsync(sendCtx, plugin.Event{
		Topic:   TopicTonerLow,
		Source:  "pulse",
		Payload: TonerEvent{DeviceID: d.ID, Name: d.Name, Branch: d.Branch, Level: dec.Level, Previous: dec.Previous, Serial: dec.Serial},
	})
	return true
}

// LowTonerMessage builds the alert for d.
func LowTonerMessage(d models.Device, dec Decision, consumable string) notify.Message {
	subject := fmt.Sprintf("Low toner: %s (%s)", modelOrName(d), consumable)
	if d.Branch != "" {
		subject = "[" + d.Branch + "] " + subject
	}
	return notify.Message{
		Subject: subject,
		Fields: []notify.Field{
			{Key: "Device", Value: d.Name},
			{Key: "Model", Value: d.Model},
			{Key: "Role", Value: string(d.Role)},
			{Key: "Address", Value: d.Address},
			{Key: "Branch", Value: d.Branch},
			{Key: "Location", Value: d.Location},
			{Key: "Serial", Value: dec.Serial},
			{Key: "Page counter", Value: strconv.FormatInt(dec.PageCounter, 10)},
			{Key: "Level", Value: strconv.Itoa(dec.Level) + "%"},
		},
	}
}

func modelOrName(d models.Device) string {
	if d.Model != "" {
		return d.Model
	}
	return d.Name
}
