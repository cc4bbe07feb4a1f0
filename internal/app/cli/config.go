// config.go reads the liveplayctl YAML configuration.
package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dalemusser/liveplay/internal/app/system/workers"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when --config is not given. A missing default
// file is not an error.
const DefaultConfigFile = "liveplayctl.yaml"

// Config is the structure of liveplayctl.yaml. Environment variables using
// the server's LIVEPLAY_* names override the file.
type Config struct {
	MongoURI      string      `yaml:"mongo_uri"`
	MongoDatabase string      `yaml:"mongo_database"`
	IDPJWTSecret  string      `yaml:"idp_jwt_secret"`
	Sweep         SweepConfig `yaml:"sweep"`
}

// SweepConfig mirrors the server's sweeper settings. Durations use Go
// syntax ("10m", "168h"); blank means the server default.
type SweepConfig struct {
	BatchSize           int    `yaml:"batch_size"`
	MaxChunks           int    `yaml:"max_chunks"`
	IdleDisconnectAfter string `yaml:"idle_disconnect_after"`
	ArchiveRetention    string `yaml:"archive_retention"`
	PurgeCoolingOff     string `yaml:"purge_cooling_off"`
}

func defaultConfig() Config {
	return Config{
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "liveplay",
	}
}

// LoadConfig reads path, applies environment overrides and validates the
// durations. When path is the default and does not exist, defaults are used.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultConfigFile:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	for env, dst := range map[string]*string{
		"LIVEPLAY_MONGO_URI":      &cfg.MongoURI,
		"LIVEPLAY_MONGO_DATABASE": &cfg.MongoDatabase,
		"LIVEPLAY_IDP_JWT_SECRET": &cfg.IDPJWTSecret,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	if _, err := cfg.Sweep.workers(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c SweepConfig) workers() (workers.SweeperConfig, error) {
	out := workers.SweeperConfig{BatchSize: c.BatchSize, MaxChunks: c.MaxChunks}
	for name, f := range map[string]struct {
		raw string
		dst *time.Duration
	}{
		"idle_disconnect_after": {c.IdleDisconnectAfter, &out.IdleDisconnectAfter},
		"archive_retention":     {c.ArchiveRetention, &out.ArchiveRetention},
		"purge_cooling_off":     {c.PurgeCoolingOff, &out.PurgeCoolingOff},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil || d <= 0 {
			return workers.SweeperConfig{}, fmt.Errorf("sweep.%s: %q is not a positive duration", name, f.raw)
		}
		*f.dst = d
	}
	return out, nil
}

// redacted returns a copy safe to print.
func (c Config) redacted() Config {
	if c.IDPJWTSecret != "" {
		c.IDPJWTSecret = "********"
	}
	return c
}
