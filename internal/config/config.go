// Package config loads PrintFleet configuration with viper and exposes it
// to modules through plugin.Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/printfleet/pkg/plugin"
	"github.com/spf13/viper"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig adapts *viper.Viper to plugin.Config. A nil viper behaves as
// an empty configuration. Sub returns a prefixed view rather than
// viper.Sub so defaults and environment overrides stay visible below the
// subtree root.
type ViperConfig struct {
	v      *viper.Viper
	prefix string
}

// New wraps v.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + "." + k
}

// GetBool reports a boolean key, such as a module's enabled flag.
func (c *ViperConfig) GetBool(key string) bool { return c.v.GetBool(c.key(key)) }

// Unmarshal decodes the subtree into target. Keys are resolved one by one
// so defaults, file values and environment overrides all apply.
func (c *ViperConfig) Unmarshal(target any) error {
	if c.prefix == "" {
		return c.v.Unmarshal(target)
	}
	sub := viper.New()
	p := c.prefix + "."
	for _, k := range c.v.AllKeys() {
		if rest, ok := strings.CutPrefix(k, p); ok {
			sub.Set(rest, c.v.Get(k))
		}
	}
	return sub.Unmarshal(target)
}

// Sub returns the view rooted at key. Missing subtrees yield zero values.
func (c *ViperConfig) Sub(key string) plugin.Config {
	return &ViperConfig{v: c.v, prefix: c.key(key)}
}

// Viper exposes the wrapped instance.
func (c *ViperConfig) Viper() *viper.Viper { return c.v }

// Load reads the optional YAML file at path, applies PRINTFLEET_* environment
// overrides and fills defaults. An empty path searches ./printfleet.yaml and
// /etc/printfleet/printfleet.yaml; a missing file is not an error.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("PRINTFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("printfleet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/printfleet")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.path", "printfleet.db")
	v.SetDefault("fleet.seed_file", "")

	v.SetDefault("plugins.pulse.enabled", true)
	v.SetDefault("plugins.pulse.poll_interval", 5*time.Minute)
	v.SetDefault("plugins.pulse.ping_timeout", 2*time.Second)
	v.SetDefault("plugins.pulse.ping_count", 1)
	v.SetDefault("plugins.pulse.snmp_timeout", 3*time.Second)
	v.SetDefault("plugins.pulse.snmp_community", "public")
	v.SetDefault("plugins.pulse.snmp_port", 161)
	v.SetDefault("plugins.pulse.device_timeout", 10*time.Second)
	v.SetDefault("plugins.pulse.pass_timeout", 2*time.Minute)
	v.SetDefault("plugins.pulse.fleet_check_timeout", 40*time.Second)
	v.SetDefault("plugins.pulse.concurrency", 16)
	v.SetDefault("plugins.pulse.probe_rate", 50)
	v.SetDefault("plugins.pulse.replacement_delta", 50)
	v.SetDefault("plugins.pulse.update_delta", 5)
	v.SetDefault("plugins.pulse.low_level", 20)
	v.SetDefault("plugins.pulse.suppression_window", 7*24*time.Hour)
	v.SetDefault("plugins.pulse.initial_reserve", 0)
	v.SetDefault("plugins.pulse.consumable", "black toner")
	v.SetDefault("plugins.pulse.oids.level", ".1.3.6.1.2.1.43.11.1.1.9.1.1")
	v.SetDefault("plugins.pulse.oids.serial", ".1.3.6.1.2.1.43.5.1.1.17.1")
	v.SetDefault("plugins.pulse.oids.page_counter", ".1.3.6.1.2.1.43.10.2.1.4.1.1")
	v.SetDefault("plugins.pulse.mail.host", "")
	v.SetDefault("plugins.pulse.mail.port", 587)
	v.SetDefault("plugins.pulse.mail.username", "")
	v.SetDefault("plugins.pulse.mail.password", "")
	v.SetDefault("plugins.pulse.mail.from", "")
	v.SetDefault("plugins.pulse.mail.to", []string{})
	v.SetDefault("plugins.pulse.mail.cc", "")
	v.SetDefault("plugins.pulse.mail.tls", "opportunistic")
	v.SetDefault("plugins.pulse.mail.timeout", 15*time.Second)

	v.SetDefault("plugins.spool.enabled", true)
	v.SetDefault("plugins.spool.port", 9100)
	v.SetDefault("plugins.spool.dial_timeout", 5*time.Second)
	v.SetDefault("plugins.spool.write_timeout", 60*time.Second)
	v.SetDefault("plugins.spool.convert_timeout", 60*time.Second)
	v.SetDefault("plugins.spool.converter", "soffice")
	v.SetDefault("plugins.spool.spool_dir", "")
	v.SetDefault("plugins.spool.max_upload_bytes", 50<<20)

	v.SetDefault("plugins.journal.enabled", true)
	v.SetDefault("plugins.journal.max_entries", 10000)
	v.SetDefault("plugins.journal.stream_buffer", 64)
	v.SetDefault("plugins.journal.write_timeout", 5*time.Second)
}
