package pulse

import (
	"time"

	"github.com/HerbHall/printfleet/pkg/models"
)

// Event topics published by the pulse module.
const (
	TopicStateChanged  = "pulse.device.state_changed"
	TopicTonerReplaced = "pulse.toner.replaced"
	TopicTonerLow      = "pulse.toner.low"
)

// StateChangedEvent is the payload of TopicStateChanged.
type StateChangedEvent struct {
	DeviceID  string                   `json:"device_id"`
	Name      string                   `json:"name"`
	Kind      models.DeviceKind        `json:"kind"`
	From      models.ConnectivityState `json:"from"`
	To        models.ConnectivityState `json:"to"`
	CheckedAt time.Time                `json:"checked_at"`
}

// TonerEvent is the payload of TopicTonerReplaced and TopicTonerLow.
type TonerEvent struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Branch   string `json:"branch,omitempty"`
	Level    int    `json:"level"`
	Previous *int   `json:"previous,omitempty"`
	Serial   string `json:"serial,omitempty"`
}
