// Package config loads the environment-variable surface of spec.md §6
// plus an optional constellation.toml providing defaults, using
// spf13/viper over pelletier/go-toml/v2 rather than hand-rolled
// os.Getenv parsing.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/constellation-run/constellation-go/pkg/pid"
)

// Config is the parsed environment for one process, per §6.
type Config struct {
	Version   bool // CONSTELLATION_VERSION
	Recce     bool // CONSTELLATION_RECCE
	Format    string // CONSTELLATION_FORMAT: "human" | "json" | ""
	Deploy    string // CONSTELLATION_DEPLOY: "fabric" | ""
	Resources pid.Resources
	HasResources bool // CONSTELLATION_RESOURCES was set: marks a spawned subprocess
}

// Load parses environment variables (and, if present, constellation.toml
// in the working directory) into a Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONSTELLATION")
	v.AutomaticEnv()
	v.SetConfigName("constellation")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading constellation.toml: %w", err)
		}
	}

	cfg := &Config{
		Version: v.GetBool("version"),
		Recce:   v.GetBool("recce"),
		Format:  strings.ToLower(v.GetString("format")),
		Deploy:  strings.ToLower(v.GetString("deploy")),
	}

	if raw := v.GetString("resources"); raw != "" {
		var r pid.Resources
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("config: parsing CONSTELLATION_RESOURCES: %w", err)
		}
		cfg.Resources = r
		cfg.HasResources = true
	} else if v.IsSet("resources_default") {
		cfg.Resources = pid.Resources{
			Memory: v.GetUint64("resources_default.memory"),
			CPU:    float32(v.GetFloat64("resources_default.cpu")),
		}
	} else {
		cfg.Resources = pid.Default
	}

	return cfg, nil
}

// Deployed reports whether this process should use the scheduler-mediated
// spawn path (§6: "CONSTELLATION_DEPLOY ∈ {\"fabric\", unset}").
func (c *Config) Deployed() bool { return c.Deploy == "fabric" }
