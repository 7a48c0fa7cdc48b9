package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeLogging()

	if err != nil {
		printError(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
