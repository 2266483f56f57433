package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vango-go/village-live/internal/roster"
	"github.com/vango-go/village-live/pkg/callapi"
	"github.com/vango-go/village-live/pkg/live/callstate"
	"github.com/vango-go/village-live/pkg/live/engine"
	"github.com/vango-go/village-live/pkg/live/metrics"
	"github.com/vango-go/village-live/pkg/village"
)

const timerPollInterval = time.Second

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Start or join a call and follow it until it ends",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "call",
				Usage: "Join the call with this `ID`",
			},
			&cli.BoolFlag{
				Name:  "start",
				Usage: "Start a new check-in call",
			},
			&cli.StringFlag{
				Name:  "elder",
				Usage: "Elder `ID` for --start (defaults to the roster's elder)",
			},
			&cli.BoolFlag{
				Name:  "end-on-exit",
				Usage: "End a call started with --start when interrupted",
				Value: true,
			},
		},
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.String("call") == "" && !c.Bool("start") {
		return errors.New("one of --call or --start is required")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := callapi.NewClient(callapi.WithBaseURL(cfg.APIURL), callapi.WithLogger(logger))
	p := newPrinter(c.App.Writer)
	ended := make(chan engine.CallEnded, 1)

	eng := engine.New(engine.Config{Conn: cfg.ConnConfig(), ResponseTarget: cfg.ResponseTarget},
		engine.WithLogger(logger),
		engine.WithMetrics(metrics.NewMetrics(cfg.MetricsNamespace)),
		engine.WithOnUpdate(p.update),
		engine.WithOnCallEnded(func(ev engine.CallEnded) {
			select {
			case ended <- ev:
			default:
			}
		}),
	)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Close()

	call, started, err := resolveCall(ctx, c, api, cfg.RosterPath)
	if err != nil {
		return err
	}
	eng.StartSession(callstate.CallFromSession(*call))

	ticker := time.NewTicker(timerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-ended:
			p.summary(ev)
			return nil
		case <-ticker.C:
			pollTimer(eng, p)
		case <-ctx.Done():
			if started && c.Bool("end-on-exit") {
				endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := api.EndCall(endCtx, call.ID); err != nil {
					logger.Warn("end call on exit failed", "call_id", call.ID, "error", err)
				}
			}
			return nil
		}
	}
}

// pollTimer completes the response timer once the target has elapsed.
func pollTimer(eng *engine.Engine, p *printer) {
	t := eng.ResponseTimer()
	if t.State() == callstate.TimerCompleted && eng.Snapshot().Aggregate.Timer.Running() {
		eng.CompleteResponseTimer()
		t = eng.Snapshot().Aggregate.Timer
	}
	p.timerUpdate(t)
}

func resolveCall(ctx context.Context, c *cli.Context, api *callapi.Client, rosterPath string) (*village.CallSession, bool, error) {
	if id := c.String("call"); id != "" {
		call, err := api.GetCall(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("get call %s: %w", id, err)
		}
		if call.Status.Terminal() {
			return nil, false, fmt.Errorf("call %s already %s", id, call.Status)
		}
		return call, false, nil
	}

	elderID := c.String("elder")
	if elderID == "" {
		r, err := roster.Load(rosterPath)
		if err != nil {
			return nil, false, fmt.Errorf("no --elder given and roster unavailable: %w", err)
		}
		elderID = r.Elder().ID
	}
	call, err := api.StartCall(ctx, elderID)
	if err != nil {
		return nil, false, fmt.Errorf("start call: %w", err)
	}
	return call, true, nil
}

func callsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calls",
		Usage: "List recent calls",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "elder", Usage: "Only calls for this elder `ID`"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of calls", Value: 10},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			api := callapi.NewClient(callapi.WithBaseURL(cfg.APIURL), callapi.WithLogger(logger))
			calls, err := api.ListCalls(c.Context, callapi.ListCallsParams{
				ElderID: c.String("elder"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				var transportErr *callapi.TransportError
				if errors.As(err, &transportErr) {
					return fmt.Errorf("call api unreachable at %s: %w", cfg.APIURL, err)
				}
				return err
			}
			for _, call := range calls {
				fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n",
					call.ID, call.ElderID, call.Status, call.StartedAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}
