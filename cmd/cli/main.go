// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/adiadia/execstream/internal/logging"
)

func main() {
	logger := newLogger()

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "validate":
		if err := runValidate(ctx, logger); err != nil {
			logger.Error("validation failed", "error", err)
			os.Exit(1)
		}
		logger.Info("validation passed")
	case "replay":
		if len(os.Args) < 3 {
			printUsage(os.Stderr)
			os.Exit(2)
		}
		if err := runReplay(os.Args[2], os.Stdout, logger); err != nil {
			logger.Error("replay failed", "file", os.Args[2], "error", err)
			os.Exit(1)
		}
	default:
		printUsage(os.Stderr)
		os.Exit(2)
	}
}

func newLogger() *slog.Logger {
	return logging.New(os.Stderr, "prod")
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: go run ./cmd/cli validate")
	_, _ = fmt.Fprintln(w, "       go run ./cmd/cli replay <file.yaml|file.json>")
}
