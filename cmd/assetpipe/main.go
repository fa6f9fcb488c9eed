// Package main is the entry point for assetpipe.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/assetpipe/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	// SIGINT/SIGTERM cancel the run; serve and watch shut down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cli.Execute(ctx)
}
