// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/chunkmap"
	"github.com/poiesic/chunkmap/config"
	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/ingestion"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "chunkmap",
		Usage: "Split research papers into child and parent chunks and map one onto the other",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
				Value:   "chunkmap.toml",
			},
			&cli.StringFlag{
				Name:  "parent-version",
				Usage: "Parent chunk configuration to use, e.g. 10000_1000",
			},
			&cli.StringFlag{
				Name:  "driver",
				Usage: "Relational store driver (sqlite, postgres)",
			},
			&cli.StringFlag{
				Name:  "dsn",
				Usage: "SQLite path or Postgres connection string",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Maximum number of documents aligned at once",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Print progress lines to stderr",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the child, parent and mapping stages in order",
				Action: runCommand,
			},
			{
				Name:   "chunk",
				Usage:  "Chunk pending documents for one tier",
				Action: chunkCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "tier",
						Aliases:  []string{"t"},
						Usage:    "Tier to chunk (child, parent)",
						Required: true,
					},
				},
			},
			{
				Name:   "map",
				Usage:  "Align pending documents' child chunks onto their parent chunks",
				Action: mapCommand,
			},
			{
				Name:   "pending",
				Usage:  "List documents still pending for a stage",
				Action: pendingCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "stage",
						Aliases:  []string{"s"},
						Usage:    "Stage to inspect (child, parent, mapping)",
						Required: true,
					},
				},
			},
			{
				Name:   "compact",
				Usage:  "Reclaim space in the local artifact cache",
				Action: compactCommand,
			},
		},
	}
}

func runCommand(c *cli.Context) error {
	return withPipeline(c, func(ctx context.Context, pipeline *ingestion.Pipeline) error {
		report, err := pipeline.Run(ctx)
		for _, sr := range report.Stages {
			printStageReport(c, sr)
		}
		if err != nil {
			return fmt.Errorf("pipeline run failed: %w", err)
		}
		return nil
	})
}

func chunkCommand(c *cli.Context) error {
	tier := core.Tier(strings.ToLower(c.String("tier")))
	if err := core.ValidateTier(tier); err != nil {
		return err
	}
	stage := ingestion.StageChild
	if tier == core.TierParent {
		stage = ingestion.StageParent
	}
	return runStage(c, stage)
}

func mapCommand(c *cli.Context) error {
	return runStage(c, ingestion.StageMapping)
}

func runStage(c *cli.Context, stage ingestion.Stage) error {
	return withPipeline(c, func(ctx context.Context, pipeline *ingestion.Pipeline) error {
		report, err := pipeline.RunStage(ctx, stage)
		printStageReport(c, report)
		if err != nil {
			return fmt.Errorf("%s stage failed: %w", stage, err)
		}
		return nil
	})
}

func pendingCommand(c *cli.Context) error {
	stage, err := ingestion.ParseStage(c.String("stage"))
	if err != nil {
		return err
	}
	return withPipeline(c, func(ctx context.Context, pipeline *ingestion.Pipeline) error {
		ids, err := pipeline.Pending(ctx, stage)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(c.App.Writer, id)
		}
		return nil
	})
}

func compactCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := chunkmap.NewDatabase(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	db.CollectGarbage()
	return nil
}

// withPipeline opens the configured stores, builds a pipeline and runs fn
// with a context cancelled on SIGINT or SIGTERM.
func withPipeline(c *cli.Context, fn func(context.Context, *ingestion.Pipeline) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := chunkmap.NewDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var opts []ingestion.Option
	if c.Bool("progress") {
		opts = append(opts, ingestion.WithProgress(os.Stderr, cfg.Mapping.ReportInterval))
	}
	pipeline, err := db.NewPipeline(opts...)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	slog.Info("pipeline ready",
		"parent_version", cfg.ParentVersion,
		"driver", cfg.Storage.Driver,
		"mapping_table", cfg.Mapping.Table)
	return fn(ctx, pipeline)
}

// loadConfig reads the configuration file and applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if c.IsSet("parent-version") {
		cfg.ParentVersion = c.String("parent-version")
	}
	if c.IsSet("driver") {
		cfg.Storage.Driver = c.String("driver")
	}
	if c.IsSet("dsn") {
		cfg.Storage.DSN = c.String("dsn")
	}
	if c.IsSet("concurrency") {
		cfg.Mapping.Concurrency = c.Int("concurrency")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printStageReport(c *cli.Context, sr ingestion.StageReport) {
	fmt.Fprintf(c.App.Writer, "%s: %d pending, %d completed, %d failed, %d rows written (%s)\n",
		sr.Stage, sr.Pending, sr.Completed, len(sr.Failed), sr.Rows, sr.Elapsed.Round(time.Millisecond))
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
