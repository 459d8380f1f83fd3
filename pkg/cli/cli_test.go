package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"
)

func newTestRoot(w *bytes.Buffer) *cli.Command {
	return &cli.Command{
		Name:     "burrow",
		Writer:   w,
		Commands: []*cli.Command{putCommand(), getCommand(), rmCommand()},
	}
}

func TestBlobCommands(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "burrow.db")
	backend := []string{"--backend", "sqlite", "--sqlite-path", dbPath, "--chunk-size", "8"}

	src := filepath.Join(dir, "notes.txt")
	content := []byte("chunked content spread over several chunks")
	gt.NoError(t, os.WriteFile(src, content, 0644))

	var out bytes.Buffer
	args := append([]string{"burrow", "put"}, backend...)
	gt.NoError(t, newTestRoot(&out).Run(ctx, append(args, src)))

	fields := strings.Fields(out.String())
	gt.True(t, len(fields) > 0)
	id := fields[0]
	_, err := model.ParseID(id)
	gt.NoError(t, err)

	t.Run("get to file", func(t *testing.T) {
		dst := filepath.Join(dir, "copy.txt")
		args := append([]string{"burrow", "get"}, backend...)
		args = append(args, "--output", dst, id)
		gt.NoError(t, newTestRoot(&bytes.Buffer{}).Run(ctx, args))

		got, err := os.ReadFile(dst)
		gt.NoError(t, err)
		gt.Equal(t, got, content)
	})

	t.Run("get to stdout", func(t *testing.T) {
		var buf bytes.Buffer
		args := append([]string{"burrow", "get"}, backend...)
		args = append(args, "--output", "-", id)
		gt.NoError(t, newTestRoot(&buf).Run(ctx, args))
		gt.Equal(t, buf.Bytes(), content)
	})

	t.Run("rm twice", func(t *testing.T) {
		var buf bytes.Buffer
		args := append([]string{"burrow", "rm"}, backend...)
		gt.NoError(t, newTestRoot(&buf).Run(ctx, append(args, id)))
		gt.True(t, strings.Contains(buf.String(), "deleted"))

		buf.Reset()
		gt.NoError(t, newTestRoot(&buf).Run(ctx, append(args, id)))
		gt.True(t, strings.Contains(buf.String(), "not found"))
	})

	t.Run("get removed blob", func(t *testing.T) {
		args := append([]string{"burrow", "get"}, backend...)
		args = append(args, "--output", "-", id)
		err := newTestRoot(&bytes.Buffer{}).Run(ctx, args)
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})
}

func TestNewRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := &config{backend: backendMemory}
		repo, err := cfg.newRepository(ctx)
		gt.NoError(t, err)
		gt.NoError(t, repo.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config{backend: backendSQLite, sqlitePath: filepath.Join(t.TempDir(), "x.db")}
		repo, err := cfg.newRepository(ctx)
		gt.NoError(t, err)
		gt.NoError(t, repo.Close())
	})

	t.Run("firestore requires project", func(t *testing.T) {
		cfg := &config{backend: backendFirestore, database: "(default)"}
		_, err := cfg.newRepository(ctx)
		gt.Error(t, err)
	})

	t.Run("mongo requires uri", func(t *testing.T) {
		cfg := &config{backend: backendMongo}
		_, err := cfg.newRepository(ctx)
		gt.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := &config{backend: "cassandra"}
		_, err := cfg.newRepository(ctx)
		gt.Error(t, err)
	})
}

func TestConfigFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	policyDir := filepath.Join(dir, "policy")
	gt.NoError(t, os.MkdirAll(policyDir, 0755))
	gt.NoError(t, os.WriteFile(filepath.Join(policyDir, "classify.rego"),
		[]byte("package classify\n\nlabel := \"spam\"\n"), 0644))

	configPath := filepath.Join(dir, "burrow.yaml")
	gt.NoError(t, os.WriteFile(configPath, []byte(`
tasks:
  classify:
    collection: tickets
    text_field: body
models:
  summarizer: gemini
  classifier: rego
  policy_dir: `+policyDir+`
`), 0644))

	run := func(args ...string) (*config, error) {
		var cfg config
		var runErr error
		cmd := &cli.Command{
			Name:  "test",
			Flags: append(globalFlags(&cfg), modelFlags(&cfg)...),
			Action: func(ctx context.Context, c *cli.Command) error {
				cfg.backend = backendMemory
				repo, err := cfg.newRepository(ctx)
				if err != nil {
					return err
				}
				an, err := cfg.newAnalysis(ctx, c, repo)
				if err != nil {
					runErr = err
					return nil
				}

				id, err := repo.Insert(ctx, "tickets", model.MapOf("body", "buy now"))
				if err != nil {
					return err
				}
				result, err := an.Classify(ctx, id)
				if err != nil {
					return err
				}
				v, _ := result.Get("y_pred")
				if v.AsString() != "spam" {
					return errors.New("unexpected label: " + v.AsString())
				}
				return nil
			},
		}
		err := cmd.Run(ctx, append([]string{"test"}, args...))
		if err != nil {
			return &cfg, err
		}
		return &cfg, runErr
	}

	t.Run("file selects gemini without project", func(t *testing.T) {
		cfg, err := run("--config", configPath)
		gt.Error(t, err)
		gt.Equal(t, cfg.summarizer, modelGemini)
		gt.Equal(t, cfg.policyDir, policyDir)
	})

	t.Run("flag overrides file", func(t *testing.T) {
		cfg, err := run("--config", configPath, "--summarizer", modelFrequency)
		gt.NoError(t, err)
		gt.Equal(t, cfg.summarizer, modelFrequency)
		gt.Equal(t, cfg.classifier, modelRego)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := run("--config", filepath.Join(dir, "absent.yaml"))
		gt.Error(t, err)
	})
}
