// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const defaultFixtureDir = "testdata/replay"

type validateStep struct {
	name string
	run  func(ctx context.Context) error
}

type validateOptions struct {
	fixtureDir  string
	databaseURL string
}

func validateOptionsFromEnv() validateOptions {
	dir := strings.TrimSpace(os.Getenv("REPLAY_FIXTURES"))
	if dir == "" {
		dir = defaultFixtureDir
	}
	return validateOptions{
		fixtureDir:  dir,
		databaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
}

// validatePlan lists the checks in the order they run. Postgres-backed
// follower tests only run when a database is reachable.
func validatePlan(opts validateOptions, logger *slog.Logger) []validateStep {
	steps := []validateStep{
		{name: "gofmt", run: func(ctx context.Context) error { return checkFormatting(ctx, ".") }},
		{name: "vet", run: goCommand(logger, "vet", "./...")},
		{name: "unit tests", run: goCommand(logger, "test", "./...")},
		{name: "replay fixtures", run: func(context.Context) error {
			return runReplayFixtures(opts.fixtureDir, logger)
		}},
	}

	if opts.databaseURL == "" {
		logger.Info("skipping integration tests", "reason", "DATABASE_URL is not set")
		return steps
	}

	return append(steps, validateStep{
		name: "integration tests",
		run: goCommand(logger, "test", "-count=1", "-tags=integration",
			"./internal/repository", "./internal/persistence/postgres"),
	})
}

func runValidate(ctx context.Context, logger *slog.Logger) error {
	started := time.Now()

	for _, step := range validatePlan(validateOptionsFromEnv(), logger) {
		stepStarted := time.Now()
		logger.Info("running step", "step", step.name)

		if err := step.run(ctx); err != nil {
			logger.Error("step failed", "step", step.name, "duration_ms", time.Since(stepStarted).Milliseconds())
			return fmt.Errorf("%s: %w", step.name, err)
		}
		logger.Info("step completed", "step", step.name, "duration_ms", time.Since(stepStarted).Milliseconds())
	}

	logger.Info("validation complete", "duration_ms", time.Since(started).Milliseconds())
	return nil
}

// runReplayFixtures replays every fixture in dir through a fresh store and
// checks the transcript against the fixture's expect block.
func runReplayFixtures(dir string, logger *slog.Logger) error {
	paths, err := listFiles(dir, ".yaml", ".yml", ".json")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("skipping replay fixtures", "dir", dir, "reason", "directory not found")
			return nil
		}
		return err
	}

	var errs []error
	for _, path := range paths {
		rf, err := loadReplay(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		st, err := replay(rf, logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}

		if err := rf.Expect.check(st); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		logger.Debug("replay fixture passed", "file", path, "log_len", len(st.Log))
	}

	logger.Info("replay fixtures checked", "dir", dir, "files", len(paths), "failed", len(errs))
	return errors.Join(errs...)
}

func goCommand(logger *slog.Logger, args ...string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logger.Debug("exec", "command", "go "+strings.Join(args, " "))

		cmd := exec.CommandContext(ctx, "go", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()

		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return fmt.Errorf("go %s exited with %d", args[0], exitErr.ExitCode())
			}
			return err
		}
		return nil
	}
}

func checkFormatting(ctx context.Context, root string) error {
	files, err := listFiles(root, ".go")
	if err != nil {
		return fmt.Errorf("list go files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, "gofmt", append([]string{"-l"}, files...)...)
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("gofmt: %w", err)
	}
	if unformatted := strings.TrimSpace(string(out)); unformatted != "" {
		return fmt.Errorf("gofmt would change files:\n%s", unformatted)
	}
	return nil
}

// listFiles walks root for files with one of exts, skipping directories the
// go tool ignores.
func listFiles(root string, exts ...string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}

		if slices.Contains(exts, filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}
