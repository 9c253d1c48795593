package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// registerDeviceRequest is the JSON body for POST /devices.
type registerDeviceRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Kind     string `json:"kind"`
	Role     string `json:"role,omitempty"`
	Model    string `json:"model,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Location string `json:"location,omitempty"`
	Reserve  *int   `json:"reserve,omitempty"`
}

// deviceView is a device as returned by the API.
type deviceView struct {
	models.Device
	Icon       string                    `json:"icon"`
	Consumable *models.ConsumableReading `json:"consumable,omitempty"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "POST", Path: "/devices", Handler: m.handleRegisterDevice},
		{Method: "DELETE", Path: "/devices/{id}", Handler: m.handleDeleteDevice},
		{Method: "POST", Path: "/devices/{id}/check", Handler: m.handleCheckDevice},
		{Method: "GET", Path: "/devices/{id}/consumable", Handler: m.handleGetConsumable},
		{Method: "POST", Path: "/check", Handler: m.handleCheckKind},
	}
}

// handleListDevices returns registered devices, optionally filtered by kind.
//
//	@Summary		List devices
//	@Tags			pulse
//	@Produce		json
//	@Param			kind query string false "Device kind"
//	@Success		200 {array} deviceView
//	@Router			/pulse/devices [get]
func (m *Module) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var (
		devices []models.Device
		err     error
	)
	if kind := models.DeviceKind(r.URL.Query().Get("kind")); kind != "" {
		if !kind.Valid() {
			pulseWriteError(w, http.StatusBadRequest, "unknown device kind")
			return
		}
		devices, err = m.registry.GetAll(r.Context(), kind)
	} else {
		devices, err = m.registry.List(r.Context())
	}
	if err != nil {
		m.logger.Warn("failed to list devices", zap.Error(err))
		pulseWriteError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{Device: d, Icon: d.Kind.Icon()})
	}
	pulseWriteJSON(w, http.StatusOK, views)
}

// handleRegisterDevice registers a device and seeds its state with an
// immediate probe. Printers also get their first consumable reading; an
// unreachable printer starts from an empty reading.
//
//	@Summary		Register device
//	@Tags			pulse
//	@Accept			json
//	@Produce		json
//	@Param			body body registerDeviceRequest true "Device"
//	@Success		201 {object} deviceView
//	@Failure		400 {object} map[string]any
//	@Failure		409 {object} map[string]any
//	@Router			/pulse/devices [post]
func (m *Module) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pulseWriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateAddress(req.Address); err != nil {
		pulseWriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := models.Device{
		Name:     strings.TrimSpace(req.Name),
		Address:  strings.TrimSpace(req.Address),
		Kind:     models.DeviceKind(req.Kind),
		Role:     models.PrinterRole(req.Role),
		Model:    req.Model,
		Branch:   req.Branch,
		Location: req.Location,
		State:    models.StateUnknown,
	}
	if err := m.registry.Create(r.Context(), &d); err != nil {
		m.writeRegistryError(w, err, "failed to register device")
		return
	}

	view, err := m.seed(r.Context(), d, req.Reserve)
	if err != nil {
		m.logger.Warn("failed to seed device state, rolling back registration", zap.String("device_id", d.ID), zap.Error(err))
		if derr := m.registry.Delete(context.WithoutCancel(r.Context()), d.ID); derr != nil {
			m.logger.Error("failed to roll back registration", zap.String("device_id", d.ID), zap.Error(derr))
		}
		pulseWriteError(w, http.StatusInternalServerError, "device state could not be seeded, registration rolled back")
		return
	}
	m.logger.Info("device registered",
		zap.String("device_id", d.ID),
		zap.String("name", d.Name),
		zap.String("kind", string(d.Kind)),
		zap.String("state", string(view.State)),
	)
	pulseWriteJSON(w, http.StatusCreated, view)
}

// seed probes a newly registered device once.
func (m *Module) seed(ctx context.Context, d models.Device, reserve *int) (deviceView, error) {
	probeCtx := ctx
	if m.cfg.DeviceTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.cfg.DeviceTimeout)
		defer cancel()
	}

	view := deviceView{Icon: d.Kind.Icon()}
	if d.Kind.IsPrinter() {
		stock := m.cfg.InitialReserve
		if reserve != nil {
			stock = *reserve
		}
		s := m.toner.Read(probeCtx, d)
		var (
			serial  string
			counter int64
		)
		if s.Serial != nil {
			serial = *s.Serial
		}
		if s.PageCounter != nil {
			counter = *s.PageCounter
		}
		if err := m.registry.InitConsumable(ctx, d.ID, s.Level, serial, counter, stock); err != nil {
			return view, err
		}
		c, err := m.registry.GetConsumable(ctx, d.ID)
		if err != nil {
			return view, err
		}
		view.Consumable = &c
	}

	conn := m.prober.Check(probeCtx, d)
	d.State = conn.State
	d.LastChecked = conn.CheckedAt
	view.Device = d
	return view, nil
}

// handleDeleteDevice removes a device and its telemetry.
//
//	@Summary		Delete device
//	@Tags			pulse
//	@Param			id path string true "Device ID"
//	@Success		204
//	@Failure		404 {object} map[string]any
//	@Router			/pulse/devices/{id} [delete]
func (m *Module) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := m.registry.Delete(r.Context(), id); err != nil {
		m.writeRegistryError(w, err, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckDevice checks one device now. A failed check reports the
// device as disconnected rather than failing the request.
//
//	@Summary		Check device
//	@Tags			pulse
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Success		200 {object} DeviceOutcome
//	@Failure		404 {object} map[string]any
//	@Router			/pulse/devices/{id}/check [post]
func (m *Module) handleCheckDevice(w http.ResponseWriter, r *http.Request) {
	d, err := m.registry.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeRegistryError(w, err, "failed to load device")
		return
	}
	pulseWriteJSON(w, http.StatusOK, m.scheduler.CheckDevice(r.Context(), *d))
}

// handleCheckKind checks every device of a kind now, synchronously, within
// the fleet check budget.
//
//	@Summary		Check fleet
//	@Tags			pulse
//	@Produce		json
//	@Param			kind query string false "printer or equipment"
//	@Success		200 {object} PassReport
//	@Failure		400 {object} map[string]any
//	@Router			/pulse/check [post]
func (m *Module) handleCheckKind(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = PassPrinters
	}
	report, err := m.scheduler.CheckKind(r.Context(), kind, m.cfg.FleetCheckTimeout)
	if err != nil {
		pulseWriteError(w, http.StatusBadRequest, "kind must be printer or equipment")
		return
	}
	pulseWriteJSON(w, http.StatusOK, report)
}

// handleGetConsumable returns the stored consumable reading of a printer.
//
//	@Summary		Get consumable
//	@Tags			pulse
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Success		200 {object} models.ConsumableReading
//	@Failure		404 {object} map[string]any
//	@Router			/pulse/devices/{id}/consumable [get]
func (m *Module) handleGetConsumable(w http.ResponseWriter, r *http.Request) {
	d, err := m.registry.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeRegistryError(w, err, "failed to load device")
		return
	}
	if !d.Kind.IsPrinter() {
		pulseWriteError(w, http.StatusBadRequest, "device is not a printer")
		return
	}
	c, err := m.registry.GetConsumable(r.Context(), d.ID)
	if err != nil {
		m.writeRegistryError(w, err, "failed to load consumable")
		return
	}
	pulseWriteJSON(w, http.StatusOK, c)
}

func (m *Module) writeRegistryError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		pulseWriteError(w, http.StatusNotFound, "device not found")
	case errors.Is(err, inventory.ErrInvalid):
		pulseWriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, inventory.ErrDuplicateIP):
		pulseWriteError(w, http.StatusConflict, err.Error())
	default:
		m.logger.Warn(fallback, zap.Error(err))
		pulseWriteError(w, http.StatusInternalServerError, fallback)
	}
}

// -- helpers --

func pulseWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func pulseWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://printfleet.dev/problems/" + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}

// validateAddress accepts an IP address or a plausible hostname.
func validateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.New("address is required")
	}
	if net.ParseIP(addr) != nil {
		return nil
	}
	if strings.ContainsAny(addr, " /:@") {
		return errors.New("address must be a valid IP or hostname")
	}
	return nil
}
