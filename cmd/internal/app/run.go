package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/userauth.
// It returns an error instead of calling os.Exit so deferred cleanup runs.
func Run(o Overrides) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
