// Package inventory is the durable device registry: devices, their last
// known connectivity and their consumable telemetry. Every mutation touches
// exactly one device row, so concurrent updates to different devices never
// contend on anything wider than SQLite's writer lock.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/HerbHall/printfleet/pkg/models"
)

// Sentinel errors returned by the registry.
var (
	ErrNotFound    = errors.New("device not found")
	ErrInvalid     = errors.New("invalid device")
	ErrDuplicateIP = errors.New("address already registered")
)

// Registry is the contract the poller and the print pipeline consume.
type Registry interface {
	// GetAll returns every device of the given kind.
	GetAll(ctx context.Context, kind models.DeviceKind) ([]models.Device, error)

	// GetByID returns one device or ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Device, error)

	// UpsertConnectivity records state and timestamp together.
	UpsertConnectivity(ctx context.Context, id string, state models.ConnectivityState, ts time.Time) error

	// GetConsumable returns the stored reading of a printer. A printer with
	// no reading yet returns a zero reading with a nil Level.
	GetConsumable(ctx context.Context, id string) (models.ConsumableReading, error)

	// UpsertConsumable applies a proposed update atomically.
	UpsertConsumable(ctx context.Context, id string, update models.ConsumableUpdate) error

	// StampAlert records when the last low-consumable alert was sent.
	StampAlert(ctx context.Context, id string, ts time.Time) error
}

// Manager extends Registry with the device lifecycle operations used by
// registration and the HTTP layer.
type Manager interface {
	Registry

	// Create inserts a device. An empty ID is replaced by a UUID.
	Create(ctx context.Context, device *models.Device) error

	// InitConsumable creates the consumable row of a printer. A nil level
	// stores the zero default used for printers unreachable at registration.
	InitConsumable(ctx context.Context, id string, level *int, serial string, counter int64, reserve int) error

	// List returns every device ordered by kind then name.
	List(ctx context.Context) ([]models.Device, error)

	// Delete removes a device and its telemetry.
	Delete(ctx context.Context, id string) error
}
