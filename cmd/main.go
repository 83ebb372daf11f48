package main

import (
	"os"
	"os/signal"
	"syscall"

	// Exchange time zones must resolve on hosts without a zoneinfo database
	_ "time/tzdata"

	"optionsurface/internal/bootstrap"
	"optionsurface/pkg/logger"
)

func main() {
	c := bootstrap.NewContainer()
	c.MustInit()
	defer logger.Sync()

	if err := c.Start(); err != nil {
		c.Log.Errorw("Startup failed", "error", err)
		c.Shutdown()
		os.Exit(1)
	}

	waitForShutdown(c)
	c.Shutdown()
}

// waitForShutdown blocks until a termination signal arrives or a component
// cancels the application context
func waitForShutdown(c *bootstrap.Container) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.Log.Infow("Shutdown signal received", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("Application context cancelled, shutting down")
	}
}
