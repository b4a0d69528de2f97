// Package app provides application initialization and dependency wiring.
//
// App is the container holding every long-lived component: the database
// pool, the Genkit instance, the knowledge store, the document cache, the
// router, and the orchestrator built over them.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripdesk/tripdesk/internal/agent"
	"github.com/tripdesk/tripdesk/internal/cache"
	"github.com/tripdesk/tripdesk/internal/chat"
	"github.com/tripdesk/tripdesk/internal/config"
	"github.com/tripdesk/tripdesk/internal/ingest"
	"github.com/tripdesk/tripdesk/internal/knowledge"
	"github.com/tripdesk/tripdesk/internal/log"
	"github.com/tripdesk/tripdesk/internal/session"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Knowledge    *knowledge.Store
	Cache        *cache.Set
	Sessions     *session.Store
	Router       *agent.Router
	Orchestrator *chat.Orchestrator
	Indexer      *ingest.Indexer
}

// Close releases all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	return nil
}
