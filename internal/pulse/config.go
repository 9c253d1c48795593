package pulse

import (
	"time"

	"github.com/HerbHall/printfleet/internal/notify"
)

// OIDConfig names the SNMP objects read from printers.
type OIDConfig struct {
	Level       string `mapstructure:"level"`
	Serial      string `mapstructure:"serial"`
	PageCounter string `mapstructure:"page_counter"`
}

// Config holds the pulse module settings.
type Config struct {
	PollInterval      time.Duration     `mapstructure:"poll_interval"`
	PingTimeout       time.Duration     `mapstructure:"ping_timeout"`
	PingCount         int               `mapstructure:"ping_count"`
	SNMPTimeout       time.Duration     `mapstructure:"snmp_timeout"`
	SNMPCommunity     string            `mapstructure:"snmp_community"`
	SNMPPort          int               `mapstructure:"snmp_port"`
	DeviceTimeout     time.Duration     `mapstructure:"device_timeout"`
	PassTimeout       time.Duration     `mapstructure:"pass_timeout"`
	FleetCheckTimeout time.Duration     `mapstructure:"fleet_check_timeout"`
	Concurrency       int               `mapstructure:"concurrency"`
	ProbeRate         float64           `mapstructure:"probe_rate"`
	ReplacementDelta  int               `mapstructure:"replacement_delta"`
	UpdateDelta       int               `mapstructure:"update_delta"`
	LowLevel          int               `mapstructure:"low_level"`
	SuppressionWindow time.Duration     `mapstructure:"suppression_window"`
	InitialReserve    int               `mapstructure:"initial_reserve"`
	Consumable        string            `mapstructure:"consumable"`
	OIDs              OIDConfig         `mapstructure:"oids"`
	Mail              notify.SMTPConfig `mapstructure:"mail"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Minute,
		PingTimeout:       2 * time.Second,
		PingCount:         1,
		SNMPTimeout:       3 * time.Second,
		SNMPCommunity:     "public",
		SNMPPort:          161,
		DeviceTimeout:     10 * time.Second,
		PassTimeout:       2 * time.Minute,
		FleetCheckTimeout: 40 * time.Second,
		Concurrency:       16,
		ProbeRate:         50,
		ReplacementDelta:  50,
		UpdateDelta:       5,
		LowLevel:          20,
		SuppressionWindow: 7 * 24 * time.Hour,
		Consumable:        "black toner",
		OIDs: OIDConfig{
			Level:       ".1.3.6.1.2.1.43.11.1.1.9.1.1",
			Serial:      ".1.3.6.1.2.1.43.5.1.1.17.1",
			PageCounter: ".1.3.6.1.2.1.43.10.2.1.4.1.1",
		},
		Mail: notify.SMTPConfig{
			Port:    587,
			TLS:     "opportunistic",
			Timeout: 15 * time.Second,
		},
	}
}

// Policy extracts the toner classification thresholds.
func (c Config) Policy() Policy {
	return Policy{
		ReplacementDelta:  c.ReplacementDelta,
		UpdateDelta:       c.UpdateDelta,
		LowLevel:          c.LowLevel,
		SuppressionWindow: c.SuppressionWindow,
	}
}
