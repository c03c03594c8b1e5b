package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arnonsang/shadow-ua-sub000/cmd"
	"github.com/arnonsang/shadow-ua-sub000/internal/observability"
)

func main() {
	// A first signal cancels the context for graceful shutdown; a second one
	// kills the process through the default handler.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}
