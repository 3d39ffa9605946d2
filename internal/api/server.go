package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/rulecore/internal/abtest"
	"github.com/opensource-finance/rulecore/internal/batch"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
	"github.com/opensource-finance/rulecore/internal/pipeline"
	"github.com/opensource-finance/rulecore/internal/registry"
	"github.com/opensource-finance/rulecore/internal/versioning"
	"github.com/opensource-finance/rulecore/internal/workflow"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the evaluation core's components into a chi router and
// returns a Server ready to Start.
func NewServer(
	cfg domain.ServerConfig,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	eval *evaluator.Evaluator,
	reg *registry.Registry,
	pipe *pipeline.Pipeline,
	batchExec *batch.Executor,
	dispatcher *workflow.Dispatcher,
	versions *versioning.Manager,
	abtests *abtest.Manager,
	version string,
) *Server {
	handler := NewHandler(repo, cache, bus, eval, reg, pipe, batchExec, dispatcher, versions, abtests, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Evaluation
	router.Post("/evaluate", handler.Evaluate)
	router.Post("/evaluate/batch", handler.EvaluateBatch)
	router.Post("/evaluate/dmn", handler.EvaluateDMN)

	// Ruleset inspection
	router.Get("/rulesets", handler.ListRulesets)
	router.Get("/rulesets/{id}", handler.GetRuleset)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Put("/rules/{id}", handler.UpdateRule)
	router.Delete("/rules/{id}", handler.DeleteRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Registry status
	router.Get("/registry/status", handler.RegistryStatus)

	// Versioning and rollback
	router.Get("/versions/{id}", handler.GetRuleHistory)
	router.Post("/versions/{id}/rollback", handler.RollbackRule)
	router.Post("/versions/{id}/compare", handler.CompareVersions)

	// A/B testing
	router.Post("/ab-tests", handler.CreateABTest)
	router.Get("/ab-tests/{id}", handler.GetABTest)
	router.Post("/ab-tests/{id}/assign", handler.AssignABTest)
	router.Post("/ab-tests/{id}/outcome", handler.RecordOutcome)
	router.Get("/ab-tests/{id}/significance", handler.ABTestSignificance)

	// Workflow chain dispatch
	router.Post("/workflows/{name}/run", handler.RunWorkflow)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
