package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SystemConfig is the greenwave.yaml schema.
type SystemConfig struct {
	Version int `yaml:"version"`
	System  struct {
		TickIntervalSeconds int      `yaml:"tick_interval_seconds"`
		CallTimeoutSeconds  int      `yaml:"call_timeout_seconds"`
		Intersections       []string `yaml:"intersections"`
	} `yaml:"system"`
	Timing struct {
		MinGreenSeconds     int     `yaml:"min_green_seconds"`
		MaxGreenSeconds     int     `yaml:"max_green_seconds"`
		YellowSeconds       int     `yaml:"yellow_seconds"`
		EmergencyMultiplier float64 `yaml:"emergency_multiplier"`
		WetWeatherFactor    float64 `yaml:"wet_weather_factor"`
		SnowWeatherFactor   float64 `yaml:"snow_weather_factor"`
	} `yaml:"timing"`
	Scenarios struct {
		MaxConcurrent         int `yaml:"max_concurrent"`
		TimeoutSeconds        int `yaml:"timeout_seconds"`
		ReaperIntervalSeconds int `yaml:"reaper_interval_seconds"`
	} `yaml:"scenarios"`
	MQTT struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"mqtt"`
	Database struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"database"`
}

// TickInterval returns the orchestrator tick interval, defaulting to 2s.
func (c *SystemConfig) TickInterval() time.Duration {
	if c.System.TickIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.System.TickIntervalSeconds) * time.Second
}

// CallTimeout returns the per-collaborator-call timeout, defaulting to 2s.
func (c *SystemConfig) CallTimeout() time.Duration {
	if c.System.CallTimeoutSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.System.CallTimeoutSeconds) * time.Second
}

// Intersections returns the configured intersections, defaulting to a
// single one so a bare config still runs.
func (c *SystemConfig) Intersections() []string {
	if len(c.System.Intersections) == 0 {
		return []string{"intersection_001"}
	}
	return c.System.Intersections
}

// ScenarioTimeout returns the scenario expiry age, defaulting to 300s.
func (c *SystemConfig) ScenarioTimeout() time.Duration {
	if c.Scenarios.TimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Scenarios.TimeoutSeconds) * time.Second
}

// ReaperInterval returns the reaper scan interval, defaulting to 30s.
func (c *SystemConfig) ReaperInterval() time.Duration {
	if c.Scenarios.ReaperIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Scenarios.ReaperIntervalSeconds) * time.Second
}

// MaxConcurrentScenarios defaults to 10.
func (c *SystemConfig) MaxConcurrentScenarios() int {
	if c.Scenarios.MaxConcurrent <= 0 {
		return 10
	}
	return c.Scenarios.MaxConcurrent
}

// LoadSystemConfig reads and validates greenwave.yaml.
func LoadSystemConfig(path string) (*SystemConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg SystemConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported greenwave.yaml version: %d", cfg.Version)
	}

	return &cfg, nil
}

// Default returns the built-in configuration used when no file is
// present.
func Default() *SystemConfig {
	return &SystemConfig{Version: 1}
}
