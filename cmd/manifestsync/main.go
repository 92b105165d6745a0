package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgivc/manifestsync/internal/app"
)

func main() {
	cfgFileName := flag.String("c", "config.yml", "Path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(*cfgFileName)
	a.Start()
	log := a.Logger()

	jobs := make(chan os.Signal, 1)
	signal.Notify(jobs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(jobs)

loop:
	for {
		select {
		case sig := <-jobs:
			log.Info("Caught signal", slog.String("signal", sig.String()))

			switch sig {
			case syscall.SIGUSR1:
				go a.Sync()
			case syscall.SIGUSR2:
				go a.Dump()
			}
		case <-ctx.Done():
			log.Info("Received termination signal, shutting down")

			break loop
		}
	}

	a.Stop()
	log.Info("Stopped")
}
