// Package api serves the cached ledgers over HTTP. It never calls GitHub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/samber/mo"
	"go.uber.org/zap"

	"lotteryfactor/db"
	"lotteryfactor/logger"
	"lotteryfactor/models"
	"lotteryfactor/report"
)

// Store is the read side of the ledgers the handlers need.
type Store interface {
	ListRepositories(ctx context.Context) ([]models.Repository, error)
	GetRepository(ctx context.Context, owner, name string) (mo.Option[*models.Repository], error)
	GetContributors(ctx context.Context, owner, name string) ([]models.Contributor, error)
	GetYoloCoders(ctx context.Context, owner, name string, since time.Time) ([]models.YoloCoder, error)
}

// Reporter builds lottery factor reports.
type Reporter interface {
	Build(ctx context.Context, owner, name string, days int) (*report.Report, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	store       Store
	reporter    Reporter
	defaultDays int
	now         func() time.Time
}

// NewRouter creates a chi router with all API routes. defaultDays applies
// when a request has no days parameter.
func NewRouter(store Store, reporter Reporter, defaultDays int) http.Handler {
	h := &Handler{
		store:       store,
		reporter:    reporter,
		defaultDays: defaultDays,
		now:         time.Now,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler)

	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos", h.listRepositories)
		r.Route("/repos/{owner}/{name}", func(r chi.Router) {
			r.Get("/contributors", h.getContributors)
			r.Get("/yolo-coders", h.getYoloCoders)
			r.Get("/report", h.getReport)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /v1/repos
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.store.ListRepositories(r.Context())
	if err != nil {
		logger.Error("Failed to list repositories", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, repos)
}

// GET /v1/repos/{owner}/{name}/contributors
func (h *Handler) getContributors(w http.ResponseWriter, r *http.Request) {
	owner, name, ok := h.requireRepository(w, r)
	if !ok {
		return
	}

	contributors, err := h.store.GetContributors(r.Context(), owner, name)
	if err != nil {
		logger.Error("Failed to get contributors", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, contributors)
}

// GET /v1/repos/{owner}/{name}/yolo-coders?days=N
func (h *Handler) getYoloCoders(w http.ResponseWriter, r *http.Request) {
	days, ok := h.parseDays(w, r)
	if !ok {
		return
	}
	owner, name, ok := h.requireRepository(w, r)
	if !ok {
		return
	}

	coders, err := h.store.GetYoloCoders(r.Context(), owner, name, models.Window(h.now(), days))
	if err != nil {
		logger.Error("Failed to get yolo coders", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, coders)
}

// GET /v1/repos/{owner}/{name}/report?days=N
func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	days, ok := h.parseDays(w, r)
	if !ok {
		return
	}
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	rep, err := h.reporter.Build(r.Context(), owner, name, days)
	if err != nil {
		if errors.Is(err, db.ErrRepositoryNotFound) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		logger.Error("Failed to build report", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, rep)
}

// requireRepository writes a 404 and returns false when the repository has
// never been synced.
func (h *Handler) requireRepository(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	repo, err := h.store.GetRepository(r.Context(), owner, name)
	if err != nil {
		logger.Error("Failed to get repository", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return "", "", false
	}
	if repo.IsAbsent() {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return "", "", false
	}
	return owner, name, true
}

func (h *Handler) parseDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return h.defaultDays, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'days' parameter. Must be a positive integer.")
		return 0, false
	}
	return days, true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Info("HTTP request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
