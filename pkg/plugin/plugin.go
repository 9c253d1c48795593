// Package plugin defines the contract between the PrintFleet core and its
// modules. Modules are composed at compile time in cmd/printfleet.
package plugin

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// API versions understood by this build of the core.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// PluginInfo describes a module to the registry.
type PluginInfo struct {
	Name         string
	Version      string
	Description  string
	Dependencies []string
	// Required modules abort startup when they cannot be initialized.
	Required   bool
	APIVersion int
}

// Dependencies are the shared services handed to a module at Init.
type Dependencies struct {
	Config Config
	Logger *zap.Logger
	Store  Store
	Bus    EventBus
}

// Plugin is implemented by every PrintFleet module.
type Plugin interface {
	Info() PluginInfo
	Init(ctx context.Context, deps Dependencies) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}
