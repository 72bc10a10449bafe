package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type config struct {
	DatabaseURL string
	ListenAddr  string
	LogLevel    slog.Level
	// ApplyChanges makes /changeset write what it computed unless the
	// request says otherwise.
	ApplyChanges bool
}

func loadConfig() (config, error) {
	cfg := config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  envOr("LISTEN_ADDR", ":3000"),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is not set")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToUpper(envOr("LOG_LEVEL", "info")))); err != nil {
		return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	apply, err := strconv.ParseBool(envOr("CELLGRAPH_APPLY", "false"))
	if err != nil {
		return cfg, fmt.Errorf("CELLGRAPH_APPLY: %w", err)
	}
	cfg.ApplyChanges = apply
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
