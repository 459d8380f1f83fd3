package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/burrow/pkg/cli"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx := context.Background()
	if err := cli.Run(ctx, os.Args); err != nil {
		logging.Default().Error("burrow failed", "error", err.Message)
		os.Exit(err.Code)
	}
}
