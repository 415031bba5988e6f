// Command tokenstore administers a passwordless token store backend:
// migrations, record counts, purging expired tokens and health checks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/tokenstore/pkg/config"
	"github.com/dmitrymomot/tokenstore/pkg/environment"
	"github.com/dmitrymomot/tokenstore/pkg/logger"
)

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	env := environment.Parse(cfg.Env)
	log := logger.New(
		logger.WithEnvironment(env, cfg.Service),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithOutput(os.Stderr),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := buildRootCmd(log, envOpener(cfg, log)).ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error("tokenstore failed", logger.Error(err))
		os.Exit(1)
	}
}
