package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/burrow/pkg/server"
	"github.com/m-mizutani/burrow/pkg/service/mcp"
	"github.com/m-mizutani/burrow/pkg/usecase/gateway"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg         config
		addr        string
		enableMCP   bool
		maxUpload   int64
		maxDocument int64
	)

	serverFlags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("BURROW_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "mcp",
			Usage:       "Serve MCP over streamable HTTP at /mcp",
			Sources:     cli.EnvVars("BURROW_MCP"),
			Destination: &enableMCP,
		},
		&cli.IntFlag{
			Name:        "max-upload",
			Usage:       "Maximum upload body size in bytes",
			Value:       server.DefaultMaxUploadBytes,
			Sources:     cli.EnvVars("BURROW_MAX_UPLOAD"),
			Destination: &maxUpload,
		},
		&cli.IntFlag{
			Name:        "max-body",
			Usage:       "Maximum document body size in bytes",
			Value:       server.DefaultMaxDocumentBytes,
			Sources:     cli.EnvVars("BURROW_MAX_BODY"),
			Destination: &maxDocument,
		},
	}

	flags := append(serverFlags, globalFlags(&cfg)...)
	flags = append(flags, blobFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer safeClose(ctx, repo.Close)

			bl, closeChunks, err := cfg.newBlob(ctx, repo)
			if err != nil {
				return err
			}
			defer safeClose(ctx, closeChunks)

			an, err := cfg.newAnalysis(ctx, c, repo)
			if err != nil {
				return err
			}

			gw := gateway.New(repo)
			opts := []server.Option{
				server.WithMaxUploadBytes(maxUpload),
				server.WithMaxDocumentBytes(maxDocument),
			}
			if enableMCP {
				opts = append(opts, server.WithMCP(mcp.New(gw, an).Handler()))
			}

			logging.From(ctx).Info("starting burrow",
				"backend", cfg.backend,
				"summarizer", cfg.summarizer,
				"classifier", cfg.classifier,
				"mcp", enableMCP,
			)
			return server.New(gw, bl, an, opts...).Run(ctx, addr)
		},
	}
}

func safeClose(ctx context.Context, closer func() error) {
	if err := closer(); err != nil {
		logging.From(ctx).Warn("failed to close resource", "error", err)
	}
}
