// Package main implements wpipe, a command line runner for connector
// pipelines: sources read events, sink groups write them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "wpipe"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("wpipe failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}
