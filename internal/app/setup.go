package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripdesk/tripdesk/db"
	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/cache"
	"github.com/tripdesk/tripdesk/internal/chat"
	"github.com/tripdesk/tripdesk/internal/config"
	"github.com/tripdesk/tripdesk/internal/ingest"
	"github.com/tripdesk/tripdesk/internal/knowledge"
	"github.com/tripdesk/tripdesk/internal/log"
	"github.com/tripdesk/tripdesk/internal/retrieval"
	"github.com/tripdesk/tripdesk/internal/session"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.Logger = provideLogger(cfg)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Knowledge = knowledge.New(knowledge.NewPGQuerier(pool), embedder, a.Logger)

	// The document cache is a startup gate: cache-backed strategies must not
	// serve requests before the initial load completes.
	a.Cache = cache.NewSet(cfg.CacheDataDir, cfg.ContextBudget, a.Logger)
	if err := a.Cache.Load(); err != nil {
		return nil, fmt.Errorf("loading document cache: %w", err)
	}

	a.Sessions = session.NewStore()

	router, err := agent.NewRouter(agent.RouterConfig{
		Genkit:              g,
		Logger:              a.Logger,
		ModelName:           cfg.FullRouterModelName(),
		DefaultAgent:        agent.Type(cfg.DefaultAgent),
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	a.Router = router

	executors, err := provideExecutors(a, cfg)
	if err != nil {
		return nil, err
	}

	orchestrator, err := chat.NewOrchestrator(router, executors, a.Sessions, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orchestrator

	a.Indexer = ingest.NewIndexer(a.Knowledge, nil, a.Logger)

	return a, nil
}

// provideExecutors binds each agent type to its fixed retrieval strategy:
// travel support on pure retrieval, policy on pure cache, booking on hybrid.
func provideExecutors(a *App, cfg *config.Config) ([]*chat.Executor, error) {
	ragCfg := retrieval.RAGConfig{TopK: cfg.RetrievalTopK, Budget: cfg.ContextBudget}

	travelStrategy := retrieval.NewRAG(a.Knowledge, ragCfg, a.Logger)
	policyStrategy := retrieval.NewCAG(a.Cache, a.Logger)
	bookingStrategy := retrieval.NewHybrid(
		retrieval.NewRAG(a.Knowledge, ragCfg, a.Logger),
		a.Cache,
		retrieval.HybridConfig{
			CachedScope:   agent.BookingPayments.Scope(),
			MaxCachedDocs: cfg.MaxCachedDocs,
			Budget:        cfg.ContextBudget,
		},
		a.Logger,
	)

	strategies := map[agent.Type]retrieval.Strategy{
		agent.TravelSupport:   travelStrategy,
		agent.BookingPayments: bookingStrategy,
		agent.Policy:          policyStrategy,
	}

	executors := make([]*chat.Executor, 0, len(strategies))
	for _, t := range agent.Types() {
		ex, err := chat.NewExecutor(chat.ExecutorConfig{
			Genkit:             a.Genkit,
			Agent:              t,
			Strategy:           strategies[t],
			Logger:             a.Logger,
			ModelName:          cfg.FullModelName(),
			Temperature:        cfg.Temperature,
			MaxHistoryMessages: cfg.MaxHistory,
		})
		if err != nil {
			return nil, fmt.Errorf("creating %s executor: %w", t, err)
		}
		executors = append(executors, ex)
	}
	return executors, nil
}

func provideLogger(cfg *config.Config) log.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models must be registered explicitly.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{Name: cfg.ModelName, Type: "chat"}, nil)
		if cfg.RouterModel != "" && cfg.RouterModel != cfg.ModelName {
			ollamaPlugin.DefineModel(g, ollama.ModelDefinition{Name: cfg.RouterModel, Type: "chat"}, nil)
		}
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, nil

	case config.ProviderOpenAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)
		return g, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
		return g, nil
	}
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit.
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
