// Package hook implements the `michimem hook <event_name>` subcommand:
// the host event dispatcher contract of spec §6, reading one JSON
// payload from standard input and exiting 0 on success or benign skip,
// 1 on malformed invocation or unrecoverable error (spec §7).
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/dispatcher"
	"github.com/chirino/michimem/internal/store"
)

// Command returns the hook sub-command.
func Command() *cli.Command {
	var dataDir string

	return &cli.Command{
		Name:      "hook",
		Usage:     "Dispatch one host event read as JSON from standard input",
		ArgsUsage: "<event_name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "data-dir",
				Sources:     cli.EnvVars("MICHIMEM_DATA_DIR"),
				Destination: &dataDir,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			event := cmd.Args().First()
			if event == "" {
				return cli.Exit("missing event name", 1)
			}

			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return cli.Exit(fmt.Sprintf("read payload: %v", err), 1)
			}

			var payload dispatcher.Payload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return cli.Exit(fmt.Sprintf("parse payload: %v", err), 1)
			}
			payload.HookEventName = event

			cfg, err := config.Load(dataDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("load config: %v", err), 1)
			}

			s, err := store.Open(cfg.DataDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("open store: %v", err), 1)
			}
			defer s.Close()

			out, err := dispatch(config.WithContext(ctx, &cfg), s, &cfg, event, payload)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if out != "" {
				fmt.Println(out)
			}
			return nil
		},
	}
}

func dispatch(ctx context.Context, s *store.Store, cfg *config.Config, event string, payload dispatcher.Payload) (string, error) {
	switch event {
	case "SessionStart":
		return dispatcher.SessionStart(ctx, s, cfg, payload)
	case "PreCompact":
		return "", dispatcher.PreCompact(ctx, s, cfg, payload)
	case "Stop":
		return "", dispatcher.Stop(ctx, s, cfg, payload)
	case "SessionEnd":
		return "", dispatcher.SessionEnd(ctx, s, cfg, payload)
	default:
		return "", fmt.Errorf("unrecognized event: %s", event)
	}
}
