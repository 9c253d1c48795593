package models

// KindIcon maps a DeviceKind to its Lucide icon identifier.
var KindIcon = map[DeviceKind]string{
	KindPrinter:  "printer",
	KindServer:   "server",
	KindSwitch:   "network",
	KindRouter:   "router",
	KindFirewall: "shield",
}

// Icon returns the icon identifier for a DeviceKind.
// Returns "help-circle" for unrecognised kinds.
func (k DeviceKind) Icon() string {
	if icon, ok := KindIcon[k]; ok {
		return icon
	}
	return "help-circle"
}
