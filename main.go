package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/leks-forever/model-convert/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx, cmd.NewCLI())
	stop()
	os.Exit(code)
}
