package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/printfleet/pkg/models"
)

// SeedDevice is one entry of a fleet seed file.
type SeedDevice struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Kind     string `yaml:"kind"`
	Role     string `yaml:"role"`
	Model    string `yaml:"model"`
	Branch   string `yaml:"branch"`
	Location string `yaml:"location"`
	Reserve  int    `yaml:"reserve"`
}

// SeedFile is the YAML document imported at startup:
//
//	devices:
//	  - name: hq-principal
//	    address: 10.0.1.20
//	    kind: printer
//	    role: principal
//	    reserve: 2
type SeedFile struct {
	Devices []SeedDevice `yaml:"devices"`
}

// LoadSeed parses a seed file.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &f, nil
}

// Device converts the entry into a registry device.
func (s SeedDevice) Device() models.Device {
	return models.Device{
		ID:       s.ID,
		Name:     s.Name,
		Address:  s.Address,
		Kind:     models.DeviceKind(s.Kind),
		Role:     models.PrinterRole(s.Role),
		Model:    s.Model,
		Branch:   s.Branch,
		Location: s.Location,
		State:    models.StateUnknown,
	}
}

// SeedResult counts the outcome of an import.
type SeedResult struct {
	Created int
	Skipped int
}

// Import creates every seed device whose address is not registered yet.
// Printers get an empty consumable row carrying their reserve stock; the
// first poll records the baseline level.
func Import(ctx context.Context, m Manager, f *SeedFile) (SeedResult, error) {
	var res SeedResult
	for i := range f.Devices {
		entry := f.Devices[i]
		d := entry.Device()
		err := m.Create(ctx, &d)
		if errors.Is(err, ErrDuplicateIP) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("seed device %d (%s): %w", i, entry.Name, err)
		}
		if d.Kind.IsPrinter() {
			if err := m.InitConsumable(ctx, d.ID, nil, "", 0, entry.Reserve); err != nil {
				return res, err
			}
		}
		res.Created++
	}
	return res, nil
}
