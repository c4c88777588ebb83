package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/shuttlehq/shuttle/pkg/blob"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/events"
	"github.com/shuttlehq/shuttle/pkg/health"
	"github.com/shuttlehq/shuttle/pkg/ledger"
	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/manager"
	"github.com/shuttlehq/shuttle/pkg/metrics"
	"github.com/shuttlehq/shuttle/pkg/queue"
	"github.com/shuttlehq/shuttle/pkg/security"
	"github.com/shuttlehq/shuttle/pkg/storage"
)

// Server is the coordinator's HTTP surface: the operator API plus the /sdk
// endpoints connectors report through.
type Server struct {
	store   storage.Store
	ledger  *ledger.Ledger
	manager *manager.SyncManager
	queue   *queue.EventQueue
	embed   *queue.EmbeddingQueue
	blobs   blob.Store
	broker  *events.Broker
	sealer  *security.Sealer
	prober  *health.Prober
	cfg     *config.Config

	httpServer *http.Server
}

// Deps bundles the server's collaborators.
type Deps struct {
	Store   storage.Store
	Ledger  *ledger.Ledger
	Manager *manager.SyncManager
	Queue   *queue.EventQueue
	Embed   *queue.EmbeddingQueue
	Blobs   blob.Store
	Broker  *events.Broker
	Sealer  *security.Sealer
	Config  *config.Config
}

// NewServer creates the coordinator API server
func NewServer(d Deps) *Server {
	return &Server{
		store:   d.Store,
		ledger:  d.Ledger,
		manager: d.Manager,
		queue:   d.Queue,
		embed:   d.Embed,
		blobs:   d.Blobs,
		broker:  d.Broker,
		sealer:  d.Sealer,
		prober:  health.NewProber(),
		cfg:     d.Config,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(instrument)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Sources
	r.Route("/sources", func(r chi.Router) {
		r.Post("/", s.handleCreateSource)
		r.Get("/", s.handleListSources)
		r.Get("/{id}", s.handleGetSource)
		r.Put("/{id}", s.handleUpdateSource)
		r.Delete("/{id}", s.handleDeleteSource)
		r.Put("/{id}/credentials", s.handlePutCredentials)
	})

	// Sync control
	r.Post("/sync", s.handleTriggerAll)
	r.Route("/sync/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSyncRun)
		r.Post("/", s.handleTriggerOne)
		r.Post("/cancel", s.handleCancel)
		r.Get("/progress", s.handleProgress)
	})

	r.Get("/schedules", s.handleSchedules)
	r.Get("/connectors", s.handleConnectors)
	r.Post("/action", s.handleAction)
	r.Get("/actions", s.handleListActions)
	r.Get("/queue/stats", s.handleQueueStats)

	// Embedding providers
	r.Route("/providers", func(r chi.Router) {
		r.Post("/", s.handleCreateProvider)
		r.Get("/", s.handleListProviders)
		r.Post("/{id}/activate", s.handleActivateProvider)
	})

	// SDK surface for connector workers
	r.Route("/sdk", func(r chi.Router) {
		r.Post("/events", s.handleSDKEvent)
		r.Post("/content", s.handleSDKContent)
		r.Route("/sync/{id}", func(r chi.Router) {
			r.Post("/heartbeat", s.handleSDKHeartbeat)
			r.Post("/scanned", s.handleSDKScanned)
			r.Post("/complete", s.handleSDKComplete)
			r.Post("/fail", s.handleSDKFail)
			r.Post("/cancelled", s.handleSDKCancelled)
		})
		r.Route("/sources/{id}/state", func(r chi.Router) {
			r.Get("/", s.handleSDKGetState)
			r.Put("/", s.handleSDKPutState)
		})
	})

	return r
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithComponent("api").Info().Str("addr", s.cfg.ListenAddr).Msg("Coordinator API listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeErr maps domain sentinels onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, manager.ErrSyncAlreadyRunning),
		errors.Is(err, manager.ErrConcurrencyLimitReached),
		errors.Is(err, ledger.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, manager.ErrSourceInactive):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, manager.ErrNoConnector):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
