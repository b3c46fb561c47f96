package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/scrapejobs/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// JobRunner starts background work for a freshly created job.
type JobRunner interface {
	Start(job storage.Job)
}

type Deps struct {
	Store        storage.Store
	Runner       JobRunner
	DefaultCount int
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Post("/scrape", handleScrape(deps))
	r.Get("/status/{job_id}", handleStatus(deps))
	r.Get("/tweets/{job_id}", handleTweets(deps))
	r.Get("/health", handleHealth)

	return r
}

// submit validates req, creates the job and hands it to the runner.
func submit(ctx context.Context, deps Deps, req *ScrapeRequest) (storage.Job, error) {
	if err := req.Validate(); err != nil {
		return storage.Job{}, err
	}
	job, err := deps.Store.Create(ctx, req.Params(deps.DefaultCount))
	if err != nil {
		return storage.Job{}, fmt.Errorf("creating job: %w", err)
	}
	deps.Runner.Start(job)
	slog.Info("scrape submitted", "job_id", job.ID, "target", job.Target)
	return job, nil
}

func handleScrape(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ScrapeRequest
		var verr *ValidationError
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if errors.As(err, &verr) {
				httpError(w, http.StatusBadRequest, "%s", verr.Message)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		job, err := submit(r.Context(), deps, &req)
		if errors.As(err, &verr) {
			httpError(w, http.StatusBadRequest, "%s", verr.Message)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to start scrape: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, ScrapeResponse{Message: MsgScrapeStarted, JobID: job.ID})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.Get(r.Context(), chi.URLParam(r, "job_id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, MsgJobNotFound)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, NewStatusResponse(job))
	}
}

func handleTweets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := loadResults(r.Context(), deps.Store, chi.URLParam(r, "job_id"), parseIntParam(r, "since", 0, 0))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, MsgJobNotFound)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to get results: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// loadResults reads results and status for a job. The status is read after
// the results so a client that sees "completed" has already received every
// record.
func loadResults(ctx context.Context, store storage.Store, id string, since int) (ResultsResponse, error) {
	records, total, err := store.Results(ctx, id, since)
	if err != nil {
		return ResultsResponse{}, err
	}
	job, err := store.Get(ctx, id)
	if err != nil {
		return ResultsResponse{}, err
	}
	return ResultsResponse{
		Tweets: records,
		Count:  total,
		Next:   total,
		Status: string(job.Status),
	}, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
