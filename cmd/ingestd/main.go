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
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/kbingest"
	"github.com/poiesic/kbingest/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func kbFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "kb",
		Aliases:  []string{"k"},
		Usage:    "Knowledge box id or slug",
		Required: true,
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ingestd",
		Usage: "Knowledge box ingest node",
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
				Usage:   "Path to a YAML configuration file",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory holding the KV store, local blobs and deadletter archive",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:  "kb",
				Usage: "Manage knowledge boxes",
				Subcommands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "Create a knowledge box and print its id",
						ArgsUsage: "<slug>",
						Action:    kbCreateCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "semantic-model",
								Usage: "Semantic model recorded on new shards",
							},
							&cli.StringFlag{
								Name:  "release-channel",
								Usage: "Release channel recorded on new shards",
								Value: "STABLE",
							},
						},
					},
					{
						Name:      "delete",
						Usage:     "Delete a knowledge box and all its resources",
						ArgsUsage: "<kbid|slug>",
						Action:    kbDeleteCommand,
					},
				},
			},
			{
				Name:      "apply",
				Usage:     "Apply broker messages read from YAML files",
				ArgsUsage: "<file>...",
				Action:    applyCommand,
				Flags:     []cli.Flag{kbFlag()},
			},
			{
				Name:   "serve",
				Usage:  "Consume a stream of YAML broker messages from stdin",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "partition",
						Usage: "Partition the stream is consumed as",
						Value: "0",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address, e.g. :9090",
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Regenerate the index entries of every resource in a knowledge box",
				Action: reindexCommand,
				Flags: []cli.Flag{
					kbFlag(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of resources to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Resources reindexed at once within a batch",
						Value: 4,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N resources",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per resource",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
			{
				Name:  "deadletter",
				Usage: "Inspect deadlettered messages",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List archived messages, newest first",
						Action: deadletterListCommand,
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Maximum number of entries (0 lists all)",
								Value: 20,
							},
						},
					},
				},
			},
			{
				Name:  "resource",
				Usage: "Inspect resources",
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "Print the stored state of a resource as YAML",
						ArgsUsage: "<uuid|slug>",
						Action:    resourceShowCommand,
						Flags:     []cli.Flag{kbFlag()},
					},
				},
			},
		},
	}
}

// loadConfig reads --config, then applies --data-dir on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var opts []config.Option
	if dir := c.String("data-dir"); dir != "" {
		opts = append(opts, config.WithDataDir(dir))
	}
	if path := c.String("config"); path != "" {
		return config.Load(path, opts...)
	}
	return config.NewConfig(opts...), nil
}

func openEngine(c *cli.Context) (*kbingest.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	engine, err := kbingest.New(c.Context, cfg, kbingest.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func setupLogger(c *cli.Context) error {
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
