// Package serve implements the `michimem serve` subcommand: a long-lived
// MCP tool server over stdio, plus a diagnostics-only HTTP listener
// (/health, /metrics) on a separate port. Grounded on the teacher's
// internal/cmd/serve/serve.go — a cli.Command wrapping a background
// server with a management listener — simplified from its HTTP/gRPC
// product API plus TLS/auth surface down to a single stdio MCP transport,
// since this system's product surface is the tool protocol, not HTTP.
package serve

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/mcpserver"
	"github.com/chirino/michimem/internal/metrics"
	"github.com/chirino/michimem/internal/store"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	var dataDir string
	var managementPort int

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the michimem MCP tool server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "data-dir",
				Sources:     cli.EnvVars("MICHIMEM_DATA_DIR"),
				Destination: &dataDir,
				Usage:       "Directory holding index.db, checkpoints/, and archive/",
			},
			&cli.IntFlag{
				Name:        "management-port",
				Sources:     cli.EnvVars("MICHIMEM_MANAGEMENT_PORT"),
				Destination: &managementPort,
				Usage:       "Port for /health and /metrics (0 disables the listener)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(dataDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(config.WithContext(ctx, &cfg), &cfg, managementPort)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, managementPort int) error {
	s, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error("close store", "err", err)
		}
	}()

	metrics.Init()

	if managementPort != 0 {
		go serveManagement(managementPort)
	}

	log.Info("michimem MCP server starting", "data_dir", cfg.DataDir)
	srv := mcpserver.New(s, cfg)
	if err := mcpserver.ServeStdio(srv); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// serveManagement runs the diagnostics-only HTTP listener, grounded on
// the teacher's internal/cmd/serve/management.go split between the
// product listener and a dedicated management one.
func serveManagement(port int) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf(":%d", port)
	log.Info("management listener starting", "addr", addr)
	if err := r.Run(addr); err != nil {
		log.Error("management listener stopped", "err", err)
	}
}
