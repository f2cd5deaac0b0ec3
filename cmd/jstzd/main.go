package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/jstz-dev/jstz-core/internal/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, logger, err := bootstrap.InitService()
	if err != nil {
		panic(err)
	}

	defer func() {
		if err := svc.Close(); err != nil {
			logger.Errorf("close: %s", err)
		}

		_ = logger.Sync()
	}()

	logger.Infof("Launcher: App (%s) started", bootstrap.ApplicationName)

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Failed to run the kernel: %s", err)
	}

	logger.Infof("Launcher: App (%s) finished", bootstrap.ApplicationName)
}
