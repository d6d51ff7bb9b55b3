package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/adapter"
	"github.com/m-mizutani/owlet/pkg/catalog"
	"github.com/m-mizutani/owlet/pkg/engine"
	"github.com/m-mizutani/owlet/pkg/index"
	"github.com/m-mizutani/owlet/pkg/repository"
	"github.com/m-mizutani/owlet/pkg/usecase/orchestrate"
	"github.com/urfave/cli/v3"
)

// config holds configuration values shared across commands
type config struct {
	// Catalog
	catalogRoot string
	policyDir   string
	targetLang  string
	sourceLang  string

	// Embedding provider
	geminiProject  string
	geminiLocation string
	embeddingModel string
	dimensions     int64

	// Vector store
	project     string
	database    string
	memoryStore bool

	// Execution
	outputDir   string
	stepTimeout time.Duration
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "catalog",
			Aliases:     []string{"c"},
			Usage:       "Path to the catalog root directory",
			Sources:     cli.EnvVars("OWLET_CATALOG"),
			Destination: &cfg.catalogRoot,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "policy",
			Usage:       "Directory of Rego admission policies for catalog entries",
			Sources:     cli.EnvVars("OWLET_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "target-lang",
			Usage:       "Target language substituted into agent manifests",
			Value:       "en",
			Sources:     cli.EnvVars("OWLET_TARGET_LANG"),
			Destination: &cfg.targetLang,
		},
		&cli.StringFlag{
			Name:        "source-lang",
			Usage:       "Source language substituted into agent manifests",
			Value:       "auto",
			Sources:     cli.EnvVars("OWLET_SOURCE_LANG"),
			Destination: &cfg.sourceLang,
		},
	}
}

// llmFlags returns flags for the embedding provider
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("OWLET_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "dimensions",
			Usage:       "Embedding dimensions",
			Value:       768,
			Sources:     cli.EnvVars("OWLET_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.dimensions,
		},
	}
}

// storeFlags returns flags for the vector store
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.BoolFlag{
			Name:        "memory-store",
			Usage:       "Keep embeddings in process memory instead of Firestore",
			Sources:     cli.EnvVars("OWLET_MEMORY_STORE"),
			Destination: &cfg.memoryStore,
		},
	}
}

// execFlags returns flags controlling workflow execution
func execFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "output-dir",
			Aliases:     []string{"o"},
			Usage:       "Root directory for produced artifacts",
			Value:       "out",
			Sources:     cli.EnvVars("OWLET_OUTPUT_DIR"),
			Destination: &cfg.outputDir,
		},
		&cli.DurationFlag{
			Name:        "step-timeout",
			Usage:       "Per-step process timeout (0 disables)",
			Value:       10 * time.Minute,
			Sources:     cli.EnvVars("OWLET_STEP_TIMEOUT"),
			Destination: &cfg.stepTimeout,
		},
	}
}

// loadCatalog scans the catalog root
func (cfg *config) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if cfg.catalogRoot == "" {
		return nil, goerr.New("catalog is required")
	}

	opts := []catalog.Option{
		catalog.WithLanguages(cfg.targetLang, cfg.sourceLang),
	}
	if cfg.policyDir != "" {
		opts = append(opts, catalog.WithPolicyDir(cfg.policyDir))
	}

	return catalog.Load(ctx, cfg.catalogRoot, opts...)
}

// newEmbedder creates the embedding provider, failing before any
// execution when credentials are missing
func (cfg *config) newEmbedder(ctx context.Context) (adapter.EmbeddingClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithDimensions(int(cfg.dimensions)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding provider")
	}
	return gemini, nil
}

// newStore creates the vector store
func (cfg *config) newStore(ctx context.Context) (repository.VectorStore, error) {
	if cfg.memoryStore {
		return repository.NewMemory(), nil
	}

	if cfg.project == "" {
		return nil, goerr.New("project is required (or use --memory-store)")
	}
	if cfg.database == "" {
		return nil, goerr.New("database is required")
	}

	store, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create vector store")
	}
	return store, nil
}

// newIndex composes the embedding index over the catalog
func (cfg *config) newIndex(ctx context.Context, cat *catalog.Catalog) (*index.Index, error) {
	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	store, err := cfg.newStore(ctx)
	if err != nil {
		return nil, err
	}

	return index.New(embedder, store, orchestrate.CatalogEntries(cat)), nil
}

// newEngine creates the execution engine
func (cfg *config) newEngine(events chan<- engine.Event) *engine.Engine {
	opts := []engine.Option{
		engine.WithOutputDir(cfg.outputDir),
		engine.WithStepTimeout(cfg.stepTimeout),
	}
	if events != nil {
		opts = append(opts, engine.WithEvents(events))
	}
	return engine.New(opts...)
}
