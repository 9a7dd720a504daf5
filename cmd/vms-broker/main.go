// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/age"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/vms-broker/vms/lib/capability"
	"github.com/vms-broker/vms/lib/caller"
	"github.com/vms-broker/vms/lib/clock"
	"github.com/vms-broker/vms/lib/codec"
	"github.com/vms-broker/vms/lib/config"
	"github.com/vms-broker/vms/lib/process"
	"github.com/vms-broker/vms/lib/service"
	"github.com/vms-broker/vms/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flags := pflag.NewFlagSet("vms-broker", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "broker config file (default: $VMS_CONFIG)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("vms-broker %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	parsed, err := parseSettings(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := service.NewLogger(parsed.level)

	var identity *age.X25519Identity
	if cfg.Tokens.KeyIdentityFile != "" {
		identity, err = capability.LoadIdentity(cfg.Tokens.KeyIdentityFile)
		if err != nil {
			return err
		}
	}
	_, privateKey, generated, err := capability.LoadOrGenerateKeypair(cfg.StateDir, identity)
	if err != nil {
		return err
	}
	if generated {
		logger.Info("generated token signing keypair", "state_dir", cfg.StateDir, "sealed", identity != nil)
	}

	realClock := clock.Real()
	issuer, err := capability.NewIssuer(capability.IssuerConfig{
		PrivateKey:          privateKey,
		Audience:            cfg.Tokens.Audience,
		Policy:              cfg.Policy,
		RevocationRetention: parsed.retention,
		Clock:               realClock,
	})
	if err != nil {
		return err
	}

	binaryHash, err := version.SelfHash()
	if err != nil {
		logger.Warn("cannot hash broker binary", "error", err)
	}

	server, err := newBrokerServer(brokerOptions{
		Authority:          issuer,
		Policy:             cfg.Policy,
		Clock:              realClock,
		WriteTimeout:       parsed.writeTimeout,
		DefaultCompression: parsed.compression,
		BinaryHash:         binaryHash,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	defer server.publishers.Release()

	resolver, err := caller.NewResolver(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	socketServer := service.NewSocketServer(cfg.SocketPath, logger, resolver)
	server.registerActions(socketServer)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return socketServer.Serve(groupCtx)
	})
	group.Go(func() error {
		server.runRevocationCleanup(groupCtx, issuer)
		return nil
	})
	if cfg.MetricsAddress != "" {
		registry := server.newRegistry()
		metricsServer := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.MetricsAddress,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Logger:  logger,
		})
		group.Go(func() error {
			return metricsServer.Serve(groupCtx)
		})
	}

	logger.Info("broker running",
		"version", version.Info(),
		"environment", cfg.Environment,
		"socket", cfg.SocketPath,
		"metrics", cfg.MetricsAddress,
		"compression", parsed.compression,
	)

	err = group.Wait()
	logger.Info("broker stopped")
	return err
}

// settings holds the parsed forms of config string fields.
type settings struct {
	level        slog.Level
	retention    time.Duration
	writeTimeout time.Duration
	compression  codec.Compression
}

func parseSettings(cfg *config.Config) (settings, error) {
	var (
		parsed settings
		err    error
	)
	if parsed.level, err = cfg.SlogLevel(); err != nil {
		return settings{}, err
	}
	if parsed.retention, err = cfg.RevocationRetention(); err != nil {
		return settings{}, err
	}
	if parsed.writeTimeout, err = cfg.WriteTimeout(); err != nil {
		return settings{}, err
	}
	if parsed.compression, err = codec.ParseCompression(cfg.Delivery.DefaultCompression); err != nil {
		return settings{}, fmt.Errorf("delivery.default_compression: %w", err)
	}
	return parsed, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
