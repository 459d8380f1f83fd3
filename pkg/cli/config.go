package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/analyzer"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/usecase/analysis"
	"github.com/m-mizutani/burrow/pkg/usecase/blob"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	backendMemory    = "memory"
	backendSQLite    = "sqlite"
	backendFirestore = "firestore"
	backendMongo     = "mongo"

	modelFrequency = "frequency"
	modelGemini    = "gemini"
	modelRego      = "rego"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	backend           string
	sqlitePath        string
	project           string
	database          string
	firestorePushdown bool
	mongoURI          string
	mongoDatabase     string

	// Blob
	bucket      string
	blobPrefix  string
	chunkSize   int64
	compression string

	// Adapters
	geminiProject  string
	geminiLocation string
	geminiModel    string

	// Models
	configPath string
	summarizer string
	classifier string
	policyDir  string
}

// fileConfig is the YAML file given by --config
type fileConfig struct {
	Tasks struct {
		Summarize *analysis.Task `yaml:"summarize"`
		Classify  *analysis.Task `yaml:"classify"`
		Train     *analysis.Task `yaml:"train"`
	} `yaml:"tasks"`
	Models struct {
		Summarizer string `yaml:"summarizer"`
		Classifier string `yaml:"classifier"`
		PolicyDir  string `yaml:"policy_dir"`
	} `yaml:"models"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("BURROW_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       logging.FormatConsole,
			Sources:     cli.EnvVars("BURROW_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Repository backend (memory, sqlite, firestore, mongo)",
			Value:       backendSQLite,
			Sources:     cli.EnvVars("BURROW_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file",
			Value:       "burrow.db",
			Sources:     cli.EnvVars("BURROW_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("BURROW_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("BURROW_FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.BoolFlag{
			Name:        "firestore-pushdown",
			Usage:       "Translate filters into Firestore queries",
			Sources:     cli.EnvVars("BURROW_FIRESTORE_PUSHDOWN"),
			Destination: &cfg.firestorePushdown,
		},
		&cli.StringFlag{
			Name:        "mongo-uri",
			Usage:       "MongoDB connection URI",
			Sources:     cli.EnvVars("BURROW_MONGO_URI"),
			Destination: &cfg.mongoURI,
		},
		&cli.StringFlag{
			Name:        "mongo-database",
			Usage:       "MongoDB database name",
			Value:       "burrow",
			Sources:     cli.EnvVars("BURROW_MONGO_DATABASE"),
			Destination: &cfg.mongoDatabase,
		},
	}
}

// blobFlags returns flags for the blob store
func blobFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "GCS bucket for blob chunks; chunks stay in the repository when empty",
			Sources:     cli.EnvVars("BURROW_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "blob-prefix",
			Usage:       "Object name prefix for chunks in the bucket",
			Value:       "chunks/",
			Sources:     cli.EnvVars("BURROW_BLOB_PREFIX"),
			Destination: &cfg.blobPrefix,
		},
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Chunk size in bytes",
			Value:       blob.DefaultChunkSize,
			Sources:     cli.EnvVars("BURROW_CHUNK_SIZE"),
			Destination: &cfg.chunkSize,
		},
		&cli.StringFlag{
			Name:        "compression",
			Usage:       "Chunk compression (auto, none, lz4, zstd)",
			Value:       "auto",
			Sources:     cli.EnvVars("BURROW_COMPRESSION"),
			Destination: &cfg.compression,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("BURROW_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("BURROW_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("BURROW_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

// modelFlags returns flags selecting analysis models
func modelFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML file with analysis tasks and model selection",
			Sources:     cli.EnvVars("BURROW_CONFIG"),
			Destination: &cfg.configPath,
		},
		&cli.StringFlag{
			Name:        "summarizer",
			Usage:       "Summarizer model (frequency, gemini)",
			Value:       modelFrequency,
			Sources:     cli.EnvVars("BURROW_SUMMARIZER"),
			Destination: &cfg.summarizer,
		},
		&cli.StringFlag{
			Name:        "classifier",
			Usage:       "Classifier model (rego, gemini)",
			Value:       modelRego,
			Sources:     cli.EnvVars("BURROW_CLASSIFIER"),
			Destination: &cfg.classifier,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies for the rego classifier",
			Sources:     cli.EnvVars("BURROW_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// setupLogger installs the configured logger as default and in ctx
func (cfg *config) setupLogger(ctx context.Context) (context.Context, error) {
	logger, err := logging.NewWithFormat(cfg.logLevel, cfg.logFormat, os.Stderr)
	if err != nil {
		return ctx, err
	}
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// loadFile reads --config. Values given by flag or env take precedence.
func (cfg *config) loadFile(c *cli.Command) (*fileConfig, error) {
	var fc fileConfig
	if cfg.configPath == "" {
		return &fc, nil
	}

	data, err := os.ReadFile(cfg.configPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configPath))
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configPath))
	}

	if fc.Models.Summarizer != "" && !c.IsSet("summarizer") {
		cfg.summarizer = fc.Models.Summarizer
	}
	if fc.Models.Classifier != "" && !c.IsSet("classifier") {
		cfg.classifier = fc.Models.Classifier
	}
	if fc.Models.PolicyDir != "" && !c.IsSet("policy-dir") {
		cfg.policyDir = fc.Models.PolicyDir
	}
	return &fc, nil
}

// newRepository creates a new repository instance
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.backend {
	case backendMemory:
		return repository.NewMemory(), nil

	case backendSQLite:
		return repository.NewSQLite(ctx, cfg.sqlitePath)

	case backendFirestore:
		if cfg.project == "" {
			return nil, goerr.New("project is required for firestore backend")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required for firestore backend")
		}
		return repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithFirestorePushdown(cfg.firestorePushdown))

	case backendMongo:
		if cfg.mongoURI == "" {
			return nil, goerr.New("mongo-uri is required for mongo backend")
		}
		return repository.NewMongo(ctx, cfg.mongoURI, cfg.mongoDatabase)

	default:
		return nil, goerr.New("unknown backend", goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{backendMemory, backendSQLite, backendFirestore, backendMongo}))
	}
}

// newBlob creates the blob usecase. Chunks go to GCS when a bucket is set.
func (cfg *config) newBlob(ctx context.Context, repo repository.Repository) (*blob.UseCase, func() error, error) {
	mode, err := blob.ParseCompressionMode(cfg.compression)
	if err != nil {
		return nil, nil, err
	}
	opts := []blob.Option{
		blob.WithChunkSize(int(cfg.chunkSize)),
		blob.WithCompression(mode),
	}

	closer := func() error { return nil }
	if cfg.bucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.bucket, adapter.WithStoragePrefix(cfg.blobPrefix))
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create storage")
		}
		opts = append(opts, blob.WithChunkStore(storage))
		closer = storage.Close
	}

	return blob.New(repo, opts...), closer, nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel))
}

// newAnalysis wires the selected models and the task definitions of the
// config file
func (cfg *config) newAnalysis(ctx context.Context, c *cli.Command, repo repository.Repository) (*analysis.UseCase, error) {
	fc, err := cfg.loadFile(c)
	if err != nil {
		return nil, err
	}

	var gemini *adapter.GeminiClient
	geminiClient := func() (*adapter.GeminiClient, error) {
		if gemini != nil {
			return gemini, nil
		}
		g, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		gemini = g
		return g, nil
	}

	var opts []analysis.Option

	switch cfg.summarizer {
	case modelFrequency:
		opts = append(opts, analysis.WithSummarizer(analyzer.NewFrequency()))
	case modelGemini:
		g, err := geminiClient()
		if err != nil {
			return nil, err
		}
		s, err := analyzer.NewGeminiSummarizer(g, g.Model())
		if err != nil {
			return nil, err
		}
		opts = append(opts, analysis.WithSummarizer(s))
	default:
		return nil, goerr.New("unknown summarizer", goerr.V("summarizer", cfg.summarizer))
	}

	switch cfg.classifier {
	case modelRego:
		var regoOpts []analyzer.RegoOption
		if cfg.policyDir != "" {
			regoOpts = append(regoOpts, analyzer.WithPolicyDir(cfg.policyDir))
		}
		r, err := analyzer.NewRego(ctx, regoOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, analysis.WithClassifier(r))
	case modelGemini:
		g, err := geminiClient()
		if err != nil {
			return nil, err
		}
		cl, err := analyzer.NewGeminiClassifier(g, g.Model())
		if err != nil {
			return nil, err
		}
		opts = append(opts, analysis.WithClassifier(cl))
	default:
		return nil, goerr.New("unknown classifier", goerr.V("classifier", cfg.classifier))
	}

	if t := fc.Tasks.Summarize; t != nil {
		opts = append(opts, analysis.WithSummarizeTask(*t))
	}
	if t := fc.Tasks.Classify; t != nil {
		opts = append(opts, analysis.WithClassifyTask(*t))
	}
	if t := fc.Tasks.Train; t != nil {
		opts = append(opts, analysis.WithTrainTask(*t))
	}

	return analysis.New(repo, opts...), nil
}
