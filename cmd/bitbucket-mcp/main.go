// Command bitbucket-mcp serves Bitbucket Pipelines tools over MCP on
// stdin/stdout. Configuration comes from BITBUCKET_* environment variables,
// optionally loaded from a .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hamzilla/mcp/pkg/bitbucket"
)

func main() {
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings, err := bitbucket.SettingsFromEnv()
	if err != nil {
		return err
	}

	client, err := bitbucket.NewClient(settings)
	if err != nil {
		return err
	}

	return bitbucket.NewServer(client).Run(ctx)
}
