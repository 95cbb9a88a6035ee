package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/chirino/michimem/internal/cmd/hook"
	"github.com/chirino/michimem/internal/cmd/initdb"
	"github.com/chirino/michimem/internal/cmd/serve"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "michimem",
		Usage: "Persistent memory store for an interactive assistant",
		Commands: []*cli.Command{
			hook.Command(),
			serve.Command(),
			initdb.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
