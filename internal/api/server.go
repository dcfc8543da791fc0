// Package api exposes the HTTP surface: a JSON API for uploads, jobs and
// exports, and a small server-rendered UI for reviewing pages.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsdesk/pamphletd/internal/config"
	"github.com/opsdesk/pamphletd/internal/extract"
	"github.com/opsdesk/pamphletd/internal/gigachat"
	"github.com/opsdesk/pamphletd/internal/pipeline"
	"github.com/opsdesk/pamphletd/internal/store"
	"github.com/opsdesk/pamphletd/internal/synth"
)

type Server struct {
	cfg       *config.Config
	store     *store.Store
	orch      *pipeline.Orchestrator
	llm       synth.LLM
	usage     *gigachat.UsageLedger
	stats     *gigachat.CallStats
	extractor *extract.Extractor
	log       *slog.Logger
}

func NewServer(cfg *config.Config, st *store.Store, orch *pipeline.Orchestrator, llm synth.LLM, usage *gigachat.UsageLedger, stats *gigachat.CallStats, ex *extract.Extractor, log *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		orch:      orch,
		llm:       llm,
		usage:     usage,
		stats:     stats,
		extractor: ex,
		log:       log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(APIKeyAuth(s.cfg.APIKey))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleListDocuments)
			r.Route("/{docID}", func(r chi.Router) {
				r.Get("/", s.handleGetDocument)
				r.Delete("/", s.handleDeleteDocument)
				r.Get("/pages/{page}/{artifact}", s.handlePageArtifact)
				r.Post("/general", s.handleGeneral)
				r.Get("/export/instructions.md", s.handleExportInstructionsMD)
				r.Get("/export/instructions.docx", s.handleExportInstructionsDocx)
				r.Get("/export/faq.md", s.handleExportFAQMD)
				r.Get("/export/faq.xlsx", s.handleExportFAQXlsx)
			})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{jobID}", s.handleGetJob)
			r.Delete("/{jobID}", s.handleCancelJob)
		})

		r.Get("/stats", s.handleStats)
	})

	s.webRoutes(r)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
