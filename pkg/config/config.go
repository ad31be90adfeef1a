// Package config loads the virtual office configuration file.
//
// Files ending in .toml are decoded with BurntSushi/toml; everything else is
// treated as YAML. Missing fields fall back to Default().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where `vo init` writes the configuration file.
const DefaultPath = ".vo/config.yaml"

// Duration is a time.Duration that decodes from strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML accepts a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// UnmarshalText is used by the TOML decoder.
func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Events holds the random event probabilities.
type Events struct {
	SickLeaveProbability     float64 `yaml:"sick_leave_probability" toml:"sick_leave_probability"`
	ClientRequestProbability float64 `yaml:"client_request_probability" toml:"client_request_probability"`
}

// Simulation holds engine tunables.
type Simulation struct {
	TicksPerDay           int64    `yaml:"ticks_per_day" toml:"ticks_per_day"`
	HourlySummaryInterval int64    `yaml:"hourly_summary_interval" toml:"hourly_summary_interval"`
	CooldownTicks         int64    `yaml:"cooldown_ticks" toml:"cooldown_ticks"`
	MaxPlanningWorkers    int      `yaml:"max_planning_workers" toml:"max_planning_workers"`
	PlanningTimeout       Duration `yaml:"planning_timeout" toml:"planning_timeout"`
	MaxPlansPerMinute     int      `yaml:"max_plans_per_minute" toml:"max_plans_per_minute"`
	StrictPlanner         bool     `yaml:"strict_planner" toml:"strict_planner"`
	Seed                  int64    `yaml:"seed" toml:"seed"`
	AutoTickInterval      Duration `yaml:"auto_tick_interval" toml:"auto_tick_interval"`
	StartDatetime         string   `yaml:"start_datetime" toml:"start_datetime"`
	ExternalStakeholders  []string `yaml:"external_stakeholders" toml:"external_stakeholders"`
	ProjectName           string   `yaml:"project_name" toml:"project_name"`
	ProjectSummary        string   `yaml:"project_summary" toml:"project_summary"`
	DurationWeeks         int      `yaml:"duration_weeks" toml:"duration_weeks"`
	Events                Events   `yaml:"events" toml:"events"`
}

// Planner selects and configures the planner backend.
type Planner struct {
	Provider    string   `yaml:"provider" toml:"provider"` // "stub" or "openai"
	Model       string   `yaml:"model" toml:"model"`
	BaseURL     string   `yaml:"base_url" toml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env" toml:"api_key_env"`
	Temperature float64  `yaml:"temperature" toml:"temperature"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
}

// Server configures `vo serve`.
type Server struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Config is the root configuration document.
type Config struct {
	Database   string     `yaml:"database" toml:"database"`
	LogLevel   string     `yaml:"log_level" toml:"log_level"`
	LogFormat  string     `yaml:"log_format" toml:"log_format"`
	Simulation Simulation `yaml:"simulation" toml:"simulation"`
	Planner    Planner    `yaml:"planner" toml:"planner"`
	Server     Server     `yaml:"server" toml:"server"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Database:  ".vo/vo.db",
		LogLevel:  "info",
		LogFormat: "console",
		Simulation: Simulation{
			TicksPerDay:           480,
			HourlySummaryInterval: 60,
			CooldownTicks:         10,
			MaxPlanningWorkers:    4,
			PlanningTimeout:       Duration{60 * time.Second},
			MaxPlansPerMinute:     10,
			AutoTickInterval:      Duration{time.Second},
			StartDatetime:         "2025-01-06T00:00:00Z",
			ProjectName:           "Virtual Office",
			DurationWeeks:         1,
			Events: Events{
				SickLeaveProbability:     0.05,
				ClientRequestProbability: 0.10,
			},
		},
		Planner: Planner{
			Provider:    "stub",
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.7,
			Timeout:     Duration{60 * time.Second},
		},
		Server: Server{Addr: "127.0.0.1:8015"},
	}
}

// Load reads path on top of Default(). A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Decode(path, data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode unmarshals data into cfg, choosing the format from path's extension.
func Decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks ranges the engine relies on.
func (c Config) Validate() error {
	s := c.Simulation
	switch {
	case s.TicksPerDay < 1:
		return fmt.Errorf("simulation.ticks_per_day must be >= 1, got %d", s.TicksPerDay)
	case s.HourlySummaryInterval < 1:
		return fmt.Errorf("simulation.hourly_summary_interval must be >= 1, got %d", s.HourlySummaryInterval)
	case s.CooldownTicks < 0:
		return fmt.Errorf("simulation.cooldown_ticks must be >= 0, got %d", s.CooldownTicks)
	case s.MaxPlanningWorkers < 1:
		return fmt.Errorf("simulation.max_planning_workers must be >= 1, got %d", s.MaxPlanningWorkers)
	case s.MaxPlansPerMinute < 0:
		return fmt.Errorf("simulation.max_plans_per_minute must be >= 0, got %d", s.MaxPlansPerMinute)
	case !validProbability(s.Events.SickLeaveProbability):
		return fmt.Errorf("simulation.events.sick_leave_probability must be in [0,1]")
	case !validProbability(s.Events.ClientRequestProbability):
		return fmt.Errorf("simulation.events.client_request_probability must be in [0,1]")
	}
	if _, err := c.StartTime(); err != nil {
		return err
	}
	switch c.Planner.Provider {
	case "stub", "openai":
	default:
		return fmt.Errorf("planner.provider must be stub or openai, got %q", c.Planner.Provider)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// StartTime parses simulation.start_datetime.
func (c Config) StartTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.Simulation.StartDatetime)
	if err != nil {
		return time.Time{}, fmt.Errorf("simulation.start_datetime: %w", err)
	}
	return t, nil
}

// Write serialises cfg to path in the format implied by its extension.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		return toml.NewEncoder(f).Encode(cfg)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func validProbability(p float64) bool { return p >= 0 && p <= 1 }
