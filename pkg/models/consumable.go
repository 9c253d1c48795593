package models

import "time"

// ConsumableReading is the persisted toner telemetry of a printer.
// Level is nil when the gauge has never produced a usable value.
type ConsumableReading struct {
	DeviceID         string     `json:"device_id"`
	Level            *int       `json:"level"`
	PreviousLevel    *int       `json:"previous_level,omitempty"`
	Serial           string     `json:"serial,omitempty"`
	PageCounter      int64      `json:"page_counter"`
	ReplacementCount int        `json:"replacement_count"`
	LastChangeAt     *time.Time `json:"last_change_at,omitempty"`
	ReserveStock     int        `json:"reserve_stock"`
	LastAlertAt      *time.Time `json:"last_alert_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasLevel reports whether a baseline level has been recorded.
func (r ConsumableReading) HasLevel() bool { return r.Level != nil }

// ConsumableUpdate is a proposed mutation of a ConsumableReading. The
// registry applies it atomically: the stored level moves to PreviousLevel,
// ReplacementIncrement is added to the replacement counter, ReserveDelta is
// added to reserve stock (clamped at zero) and LastChangeAt is set when
// non-nil.
type ConsumableUpdate struct {
	Level                int
	Serial               string
	PageCounter          int64
	ReplacementIncrement int
	ReserveDelta         int
	LastChangeAt         *time.Time
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
