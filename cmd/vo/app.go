package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/daviddao/virtualoffice/pkg/config"
	"github.com/daviddao/virtualoffice/pkg/engine"
	"github.com/daviddao/virtualoffice/pkg/gateway"
	"github.com/daviddao/virtualoffice/pkg/logging"
	"github.com/daviddao/virtualoffice/pkg/planner"
	"github.com/daviddao/virtualoffice/pkg/store"
)

// app holds shared state for all CLI subcommands.
type app struct {
	cfg     config.Config
	cfgPath string
	dbPath  string
	store   *store.Store
	engine  *engine.Engine
	planner *planner.Fallback
	log     zerolog.Logger
}

// newApp loads the configuration, opens the database and replays the
// engine. logOut receives structured logs; the CLI sends them to stderr so
// they don't mix with command output. A non-empty logFormat overrides the
// configured one.
func newApp(cfgPath, dbPath, logFormat string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if dbPath == "" {
		dbPath = cfg.Database
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", dbPath, err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	p := buildPlanner(cfg, log)
	gw := gateway.NewStoreGateway(s)
	e, err := engine.New(s, p, gw, gw, engine.OptionsFromConfig(cfg), log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("cannot load simulation: %w", err)
	}
	return &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		dbPath:  dbPath,
		store:   s,
		engine:  e,
		planner: p,
		log:     log,
	}, nil
}

// Close stops background ticks and releases the database connection.
func (a *app) Close() {
	a.engine.StopAutoTicks()
	a.store.Close()
}

// buildPlanner wraps the configured provider in the stub fallback. A
// missing API key degrades to the stub with a warning.
func buildPlanner(cfg config.Config, log zerolog.Logger) *planner.Fallback {
	opts := []planner.Option{
		planner.WithStrict(cfg.Simulation.StrictPlanner),
		planner.WithLogger(log),
	}
	if cfg.Planner.Provider != "openai" {
		return planner.NewFallback(planner.Stub{}, opts...)
	}
	key := os.Getenv(cfg.Planner.APIKeyEnv)
	if key == "" {
		log.Warn().Str("env", cfg.Planner.APIKeyEnv).Msg("no API key set, using stub planner")
		return planner.NewFallback(planner.Stub{}, opts...)
	}
	llm := planner.NewLLM(cfg.Planner.BaseURL, cfg.Planner.Model, key,
		cfg.Planner.Temperature, cfg.Planner.Timeout.Duration)
	return planner.NewFallback(llm, opts...)
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
