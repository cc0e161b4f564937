// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

// Command ipfs-json-to-csv converts a glob of gzip-compressed NDJSON
// wantlist-monitor archives into the three gzip-compressed CSV streams
// described in spec §4.4/§6, grounded on
// original_source/ipfs-json-to-csv/src/main.rs's clap-based CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/juju/loggo"
	"github.com/urfave/cli/v2"

	"github.com/S-u-m-u-n/ipfs-tools/config"
	"github.com/S-u-m-u-n/ipfs-tools/metrics"
	"github.com/S-u-m-u-n/ipfs-tools/stream"
)

var log = loggo.GetLogger("ipfs-json-to-csv")

func init() {
	loggo.ConfigureLoggers("INFO")
}

func main() {
	app := &cli.App{
		Name:  "ipfs-json-to-csv",
		Usage: "converts JSON wantlist archives to CSV files and some other stuff",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"cfg"},
				Value:   "config.yaml",
				Usage:   "the config file to load",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfgPath := c.String("config")
	log.Infof("attempting to load config from file %q", cfgPath)
	cfg, err := config.Open(cfgPath)
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}

	if cfg.LogLevel != "" {
		loggo.ConfigureLoggers(cfg.LogLevel)
	}

	log.Infof("output file for wantlist entries is %v", cfg.WantlistOutputFilePattern)
	log.Infof("output file for connection events is %v", cfg.ConnectionEventsOutputFile)
	log.Infof("output file for ledger counts is %v", cfg.LedgerCountOutputFile)

	driver, err := stream.New(cfg)
	if err != nil {
		return fmt.Errorf("new driver: %w", err)
	}

	if cfg.PrometheusListenAddress == "" {
		return driver.Run()
	}

	metricsSrv, err := metrics.New(&metrics.Config{ListenAddress: cfg.PrometheusListenAddress})
	if err != nil {
		return fmt.Errorf("new metrics server: %w", err)
	}

	errC := make(chan error, 1)
	go func() {
		errC <- metricsSrv.Run(ctx, driver.Collectors())
	}()

	runErr := driver.Run()
	cancel()
	if metricsErr := <-errC; metricsErr != nil && !errors.Is(metricsErr, context.Canceled) {
		log.Warningf("metrics server: %v", metricsErr)
	}
	return runErr
}
