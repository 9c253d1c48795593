package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/printfleet/pkg/models"
)

// NewDevice returns a connected principal printer with sensible defaults,
// suitable for test fixtures. Override individual fields with options.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.Device{
		ID:          uuid.New().String(),
		Name:        "test-printer",
		Address:     "192.168.1.100",
		Kind:        models.KindPrinter,
		Role:        models.RolePrincipal,
		Model:       "HP LaserJet M404",
		Branch:      "HQ",
		State:       models.StateConnected,
		LastChecked: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithName sets the device name.
func WithName(name string) func(*models.Device) {
	return func(d *models.Device) { d.Name = name }
}

// WithAddress sets the device address.
func WithAddress(addr string) func(*models.Device) {
	return func(d *models.Device) { d.Address = addr }
}

// WithKind sets the device kind. Non-printer kinds drop the printer role.
func WithKind(k models.DeviceKind) func(*models.Device) {
	return func(d *models.Device) {
		d.Kind = k
		if !k.IsPrinter() {
			d.Role = ""
		}
	}
}

// WithRole sets the printer role.
func WithRole(r models.PrinterRole) func(*models.Device) {
	return func(d *models.Device) { d.Role = r }
}

// WithState sets the connectivity state.
func WithState(s models.ConnectivityState) func(*models.Device) {
	return func(d *models.Device) { d.State = s }
}

// WithLastChecked sets the device's last_checked timestamp.
func WithLastChecked(t time.Time) func(*models.Device) {
	return func(d *models.Device) { d.LastChecked = t }
}
