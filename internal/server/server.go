package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/jobs"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

// ExtractionService is the job-facing surface the API exposes.
type ExtractionService interface {
	Start(ctx context.Context, req jobs.StartRequest) (*jobs.StartResult, error)
	Estimate(ctx context.Context, req jobs.StartRequest) (entity.Estimate, error)
	GetProgress(ctx context.Context, jobID int64) (*entity.Progress, error)
	Cancel(ctx context.Context, jobID int64) (*entity.ExtractionJob, error)
}

// ReviewService is the candidate-review surface the API exposes.
type ReviewService interface {
	Review(ctx context.Context, candidateIDs []int64, decision constants.ReviewDecision, reviewerID int64) (int, error)
	Duplicates(ctx context.Context, candidateID int64) ([]*entity.DuplicateMatch, error)
	Resolve(ctx context.Context, candidateID, entityID int64, disposition constants.Disposition, reviewerID int64) error
}

// Materializer promotes reviewed candidates into corpus entities.
type Materializer interface {
	Materialize(ctx context.Context, jobID int64, candidateIDs []int64, reviewerID int64) ([]int64, error)
}

// Exporter renders a job's candidates as a downloadable workbook.
type Exporter interface {
	CandidatesXLSX(ctx context.Context, jobID int64) ([]byte, error)
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type handler struct {
	extractions  ExtractionService
	reviews      ReviewService
	materializer Materializer
	exporter     Exporter
	candidates   repository.CandidateRepository
	entities     repository.EntityRepository
	health       func(ctx context.Context) error
	logger       *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg common.ServerConfig,
	extractions ExtractionService,
	reviews ReviewService,
	materializer Materializer,
	exporter Exporter,
	candidates repository.CandidateRepository,
	entities repository.EntityRepository,
	health func(ctx context.Context) error,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		extractions:  extractions,
		reviews:      reviews,
		materializer: materializer,
		exporter:     exporter,
		candidates:   candidates,
		entities:     entities,
		health:       health,
		logger:       logger,
	}

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: newRouter(cfg, h),
	}
	return &Server{httpServer: httpSrv, logger: logger}
}

func newRouter(cfg common.ServerConfig, h *handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestIDContext)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	} else {
		r.Use(middleware.Timeout(60 * time.Second))
	}

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Get("/healthz", h.healthz)

	r.Route("/api", func(api chi.Router) {
		api.Route("/extractions", func(ex chi.Router) {
			ex.Post("/", h.startExtraction)
			ex.Post("/estimate", h.estimateExtraction)
			ex.Get("/{jobID}", h.getProgress)
			ex.Post("/{jobID}/cancel", h.cancelExtraction)
			ex.Get("/{jobID}/candidates", h.listCandidates)
			ex.Post("/{jobID}/materialize", h.materialize)
			ex.Get("/{jobID}/export", h.exportCandidates)
		})

		api.Route("/candidates", func(ca chi.Router) {
			ca.Post("/review", h.reviewCandidates)
			ca.Get("/{candidateID}/duplicates", h.listDuplicates)
			ca.Post("/{candidateID}/duplicates/resolve", h.resolveDuplicate)
		})

		api.Get("/entities/search", h.searchEntities)
	})

	return r
}

// requestIDContext mirrors the chi request id into the application context so
// layers below the router can tag their logs with it.
func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := common.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http.listen", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http.shutdown")
	return s.httpServer.Shutdown(ctx)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
