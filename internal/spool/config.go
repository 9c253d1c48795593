package spool

import "time"

// Config holds the spool module settings.
type Config struct {
	Port           int           `mapstructure:"port"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ConvertTimeout time.Duration `mapstructure:"convert_timeout"`
	Converter      string        `mapstructure:"converter"`
	SpoolDir       string        `mapstructure:"spool_dir"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:           RawPort,
		DialTimeout:    5 * time.Second,
		WriteTimeout:   60 * time.Second,
		ConvertTimeout: 60 * time.Second,
		Converter:      "soffice",
		MaxUploadBytes: 50 << 20,
	}
}
