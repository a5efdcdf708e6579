package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/evalgate/evalgate/internal/app"
	"github.com/evalgate/evalgate/internal/config"
	"github.com/evalgate/evalgate/internal/logging"
)

var version = "dev"

func main() {
	showHelp := flag.Bool("help", false, "print environment variables and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showHelp {
		config.WriteHelp(os.Stdout, version)
		return
	}
	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(os.Stdout, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}

	if err := app.New(cfg, logger, version).Run(ctx); err != nil {
		logger.Error("runtime failed", "error", err)
		os.Exit(1)
	}
}
