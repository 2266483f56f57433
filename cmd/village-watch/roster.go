package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/vango-go/village-live/internal/roster"
	"github.com/vango-go/village-live/pkg/config"
)

func rosterCommand() *cli.Command {
	pathFlag := &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "Roster `FILE` (defaults to roster_path from config)",
	}
	return &cli.Command{
		Name:  "roster",
		Usage: "Manage the demo roster",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the demo roster",
				Flags: []cli.Flag{
					pathFlag,
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: runRosterInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the roster file",
				Flags:  []cli.Flag{pathFlag},
				Action: runRosterValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the elder profile a call would use",
				Flags:  []cli.Flag{pathFlag},
				Action: runRosterShow,
			},
		},
	}
}

func rosterPath(c *cli.Context) (string, error) {
	if p := c.String("file"); p != "" {
		return p, nil
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return "", err
	}
	return cfg.RosterPath, nil
}

func runRosterInit(c *cli.Context) error {
	path, err := rosterPath(c)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := roster.Save(path, roster.Default()); err != nil {
		return fmt.Errorf("failed to write roster: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Created roster at %s\n", path)
	return nil
}

func runRosterValidate(c *cli.Context) error {
	path, err := rosterPath(c)
	if err != nil {
		return err
	}
	r, err := roster.Load(path)
	if err != nil {
		return fmt.Errorf("invalid roster: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Roster is valid: %s with %d enabled village members (%s)\n",
		r.ElderInfo.Name, len(r.Elder().Village), r.Mode)
	return nil
}

func runRosterShow(c *cli.Context) error {
	path, err := rosterPath(c)
	if err != nil {
		return err
	}
	r, err := roster.Load(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Elder())
}
