package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/meikuraledutech/cellgraph"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	b, closeBackend, err := openBackend(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer closeBackend()

	app := newApp(b, cellgraph.NewFormulas(), logger, cfg)

	logger.Info("listening", "addr", cfg.ListenAddr, "apply", cfg.ApplyChanges)
	if err := app.Listen(cfg.ListenAddr); err != nil {
		logger.Error("listen", "error", err)
		os.Exit(1)
	}
}
