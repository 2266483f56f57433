// Command village-watch drives the live call engine from a terminal: it
// starts or joins a call, follows the event stream and prints what the
// dashboard would show.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/vango-go/village-live/internal/dotenv"
	"github.com/vango-go/village-live/pkg/config"
)

const version = "0.1.0"

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "village-watch",
		Usage:     "Follow a live wellness call from the terminal",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"VILLAGE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			watchCommand(),
			callsCommand(),
			rosterCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: cfg.Level()}))
	return cfg, logger, nil
}

func main() {
	if err := dotenv.LoadFiles(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "village-watch: %v\n", err)
		os.Exit(1)
	}
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
