// Package config loads server configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synctick/synctick/internal/room"
)

// Config holds server settings.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string
	// NATSURL enables the cross-instance event relay when non-empty.
	NATSURL string
	// RoomGracePeriod is how long an empty room's state is kept around.
	RoomGracePeriod time.Duration
	// WebDir serves static files from this directory at / when non-empty.
	WebDir string
}

// Default returns the configuration used when no file and no env are set.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		RoomGracePeriod: room.DefaultGracePeriod,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		// Durations are written as strings ("5m", "90s") in the file.
		var file struct {
			ListenAddr      string `yaml:"listen_addr"`
			NATSURL         string `yaml:"nats_url"`
			RoomGracePeriod string `yaml:"room_grace_period"`
			WebDir          string `yaml:"web_dir"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		if file.ListenAddr != "" {
			cfg.ListenAddr = file.ListenAddr
		}
		if file.NATSURL != "" {
			cfg.NATSURL = file.NATSURL
		}
		if file.WebDir != "" {
			cfg.WebDir = file.WebDir
		}
		if file.RoomGracePeriod != "" {
			d, err := time.ParseDuration(file.RoomGracePeriod)
			if err != nil {
				return Config{}, fmt.Errorf("parse room_grace_period: %w", err)
			}
			cfg.RoomGracePeriod = d
		}
	}

	cfg.ListenAddr = getEnv("SYNCTICK_ADDR", cfg.ListenAddr)
	cfg.NATSURL = getEnv("SYNCTICK_NATS_URL", cfg.NATSURL)
	cfg.WebDir = getEnv("SYNCTICK_WEB_DIR", cfg.WebDir)
	cfg.RoomGracePeriod = getEnvAsDuration("SYNCTICK_ROOM_GRACE", cfg.RoomGracePeriod)

	if cfg.RoomGracePeriod <= 0 {
		cfg.RoomGracePeriod = room.DefaultGracePeriod
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
