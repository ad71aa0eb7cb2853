package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/example/headergate/config"
	"github.com/example/headergate/internal/gateway"
	"github.com/example/headergate/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/headergate.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("headergate %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		if _, err := config.ParseFilter(cfg.Filter); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid filter configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	// Initialize structured logger
	var logger *zap.Logger
	if cfg.Logging.Rotation.Enabled {
		logger = logging.NewRotating(cfg.Logging.Level, logging.Rotation{
			Filename:   cfg.Logging.Rotation.Filename,
			MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
			Compress:   cfg.Logging.Rotation.Compress,
		})
	} else {
		logger, err = logging.New(cfg.Logging.Level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting headergate",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("upstream", cfg.Upstream),
		zap.Int("clusters", len(cfg.Clusters)),
	)

	// Create and start the server; an invalid filter stanza fails here,
	// before anything listens.
	server, err := gateway.NewServer(cfg, *configPath)
	if err != nil {
		logging.Error("Failed to create gateway", zap.Error(err))
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
