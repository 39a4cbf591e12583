// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/webpilot-ai/webpilot/cmd"
)

// main is the entry point for the webpilot CLI. Commands receive a
// signal-aware context so Ctrl-C cancels cooperatively.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
