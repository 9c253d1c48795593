package models

import "time"

// DeviceKind categorizes a managed device.
type DeviceKind string

const (
	KindPrinter  DeviceKind = "printer"
	KindServer   DeviceKind = "server"
	KindSwitch   DeviceKind = "switch"
	KindRouter   DeviceKind = "router"
	KindFirewall DeviceKind = "firewall"
)

// EquipmentKinds lists every non-printer kind polled by ICMP only.
var EquipmentKinds = []DeviceKind{KindServer, KindSwitch, KindRouter, KindFirewall}

// Valid reports whether k is a known device kind.
func (k DeviceKind) Valid() bool {
	switch k {
	case KindPrinter, KindServer, KindSwitch, KindRouter, KindFirewall:
		return true
	}
	return false
}

// IsPrinter reports whether devices of this kind carry consumable telemetry.
func (k DeviceKind) IsPrinter() bool { return k == KindPrinter }

// PrinterRole classifies a printer within its branch.
type PrinterRole string

const (
	RolePrincipal  PrinterRole = "principal"
	RoleBackup     PrinterRole = "backup"
	RoleCommercial PrinterRole = "commercial"
)

// Valid reports whether r is a known printer role. The empty role is valid
// for non-printer equipment.
func (r PrinterRole) Valid() bool {
	switch r {
	case "", RolePrincipal, RoleBackup, RoleCommercial:
		return true
	}
	return false
}

// ConnectivityState is the last classified reachability of a device.
type ConnectivityState string

const (
	StateConnected    ConnectivityState = "connected"
	StateDisconnected ConnectivityState = "disconnected"
	StateUnknown      ConnectivityState = "unknown"
)

// Device is a printer or piece of network equipment managed by PrintFleet.
type Device struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Address     string            `json:"address"`
	Kind        DeviceKind        `json:"kind"`
	Role        PrinterRole       `json:"role,omitempty"`
	Model       string            `json:"model,omitempty"`
	Branch      string            `json:"branch,omitempty"`
	Location    string            `json:"location,omitempty"`
	State       ConnectivityState `json:"state"`
	LastChecked time.Time         `json:"last_checked"`
	CreatedAt   time.Time         `json:"created_at"`
}
