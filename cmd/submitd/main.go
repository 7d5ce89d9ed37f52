package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/migadu/submitd/config"
	"github.com/migadu/submitd/logger"
	"github.com/migadu/submitd/pkg/errors"
	"github.com/migadu/submitd/server/delivery"
	"github.com/migadu/submitd/server/httpapi"
	"github.com/migadu/submitd/server/submission"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	errorHandler := errors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("submitd version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loadAndValidateConfig(*configPath, &cfg, errorHandler)

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SUBMITD: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info("submitd starting", "version", version, "commit", commit, "built", date)
	logger.Info("Logging configured", "format", cfg.Logging.Format, "level", cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		errorHandler.FatalError("run submission server", err)
		os.Exit(errorHandler.WaitForExit())
	}
	logger.Info("submitd stopped")
}

func loadAndValidateConfig(configPath string, cfg *config.Config, errorHandler *errors.ErrorHandler) {
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		if os.IsNotExist(err) && configPath == "config.toml" {
			logger.Infof("WARNING: default configuration file '%s' not found. Using application defaults.", configPath)
		} else {
			errorHandler.ConfigError(configPath, err)
			os.Exit(errorHandler.WaitForExit())
		}
	} else {
		logger.Infof("loaded configuration from %s", configPath)
	}

	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("configuration", err)
		os.Exit(errorHandler.WaitForExit())
	}
}

// run serves submissions until ctx is cancelled or the session limit is
// reached.
func run(ctx context.Context, cfg config.Config) error {
	maxSize, err := cfg.Server.GetMaxMessageSize()
	if err != nil {
		return err
	}
	timeout, err := cfg.Server.GetSessionTimeout()
	if err != nil {
		return err
	}

	sink, err := delivery.New(ctx, cfg.Delivery, cfg.Server.Hostname)
	if err != nil {
		return fmt.Errorf("failed to create %s delivery: %w", cfg.Delivery.Type, err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("Delivery: error closing sink", "sink", sink.Name(), "error", err)
		}
	}()
	logger.Info("Delivery: sink ready", "sink", sink.Name())

	srv := submission.New(cfg.Server.Name, cfg.Server.Addr, sink, submission.ServerOptions{
		Hostname:       cfg.Server.Hostname,
		MaxMessageSize: maxSize,
		SessionTimeout: timeout,
		MaxSessions:    cfg.Server.MaxSessions,
		Debug:          cfg.Server.Debug,
	})

	errChan := make(chan error, 2)
	httpCtx, stopHTTP := context.WithCancel(ctx)
	defer stopHTTP()
	if cfg.Metrics.Enabled {
		go httpapi.Start(httpCtx, srv, httpapi.ServerOptions{
			Addr:         cfg.Metrics.Addr,
			MetricsPath:  cfg.Metrics.Path,
			AllowedHosts: cfg.Metrics.AllowedHosts,
			Version:      version,
		}, errChan)
	}

	go func() {
		errChan <- srv.ListenAndServe(ctx)
	}()

	// The first result is either the submission server finishing or the
	// status server failing to start.
	if err := <-errChan; err != nil {
		srv.Close()
		return err
	}
	return nil
}
