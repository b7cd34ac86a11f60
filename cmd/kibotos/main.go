// cmd/kibotos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/kibotos/kibotos/internal/app"
	"github.com/kibotos/kibotos/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	backupNow := flag.Bool("now", false, "run a backup immediately and exit")
	test := flag.Bool("test", false, "test every enabled destination and exit")
	testSize := flag.Int("test-size", 0, "test file size in bytes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *test:
		return application.TestConnections(ctx, *testSize)
	case *backupNow:
		return application.BackupNow(ctx)
	default:
		return application.Run(ctx)
	}
}
