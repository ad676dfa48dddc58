package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alex-user-go/fares/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
