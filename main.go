package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/illarion/proxvault/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := cmd.Execute(ctx); err != nil {
		cmd.HandleError(err)
		stop()
		os.Exit(1)
	}
	stop()
}
