package cli

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/usecase/blob"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// withBlob opens the repository and blob store for the duration of fn
func (cfg *config) withBlob(ctx context.Context, fn func(context.Context, *blob.UseCase) error) error {
	ctx, err := cfg.setupLogger(ctx)
	if err != nil {
		return err
	}

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

	return fn(ctx, bl)
}

func blobCommandFlags(cfg *config) []cli.Flag {
	return append(globalFlags(cfg), blobFlags(cfg)...)
}

func putCommand() *cli.Command {
	var (
		cfg         config
		contentType string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "content-type",
			Aliases:     []string{"t"},
			Usage:       "Content type; guessed from the file extension when empty",
			Destination: &contentType,
		},
	}
	flags = append(flags, blobCommandFlags(&cfg)...)

	return &cli.Command{
		Name:      "put",
		Usage:     "Store a file in the blob store",
		ArgsUsage: "<file>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				return goerr.New("file path is required")
			}

			f, err := os.Open(path)
			if err != nil {
				return goerr.Wrap(err, "failed to open file", goerr.V("path", path))
			}
			defer f.Close()

			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(path))
			}
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			return cfg.withBlob(ctx, func(ctx context.Context, bl *blob.UseCase) error {
				meta, err := bl.Put(ctx, f, filepath.Base(path), contentType)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%d bytes\t%d chunks\n", meta.ID, meta.Size, meta.ChunkCount)
				return nil
			})
		},
	}
}

func getCommand() *cli.Command {
	var (
		cfg    config
		output string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Output path; the stored filename when empty, - for stdout",
			Destination: &output,
		},
	}
	flags = append(flags, blobCommandFlags(&cfg)...)

	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch a file from the blob store",
		ArgsUsage: "<id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := model.ParseID(c.Args().First())
			if err != nil {
				return err
			}

			return cfg.withBlob(ctx, func(ctx context.Context, bl *blob.UseCase) error {
				meta, body, err := bl.Get(ctx, id)
				if err != nil {
					return err
				}
				defer body.Close()

				var (
					w       io.Writer = c.Root().Writer
					created string
				)
				if output != "-" {
					path := output
					if path == "" {
						path = filepath.Base(meta.Filename)
					}
					if path == "" || path == "." || path == string(filepath.Separator) {
						path = id.String()
					}
					f, err := os.Create(path)
					if err != nil {
						return goerr.Wrap(err, "failed to create output file", goerr.V("path", path))
					}
					defer f.Close()
					w, created = f, path
				}

				if _, err := io.Copy(w, body); err != nil {
					if created != "" {
						_ = os.Remove(created)
					}
					return goerr.Wrap(err, "failed to write blob", goerr.V("id", id.String()))
				}
				return nil
			})
		},
	}
}

func rmCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a file from the blob store",
		ArgsUsage: "<id>",
		Flags:     blobCommandFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := model.ParseID(c.Args().First())
			if err != nil {
				return err
			}

			return cfg.withBlob(ctx, func(ctx context.Context, bl *blob.UseCase) error {
				deleted, err := bl.Delete(ctx, id)
				if err != nil {
					return err
				}
				if !deleted {
					fmt.Fprintf(c.Root().Writer, "%s not found\n", id)
					return nil
				}
				fmt.Fprintf(c.Root().Writer, "%s deleted\n", id)
				return nil
			})
		},
	}
}
