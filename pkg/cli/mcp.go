package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/burrow/pkg/service/mcp"
	"github.com/m-mizutani/burrow/pkg/usecase/gateway"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP over stdio",
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

			an, err := cfg.newAnalysis(ctx, c, repo)
			if err != nil {
				return err
			}

			return mcp.New(gateway.New(repo), an).Run(ctx)
		},
	}
}
