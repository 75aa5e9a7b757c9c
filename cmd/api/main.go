// Package main implements the Kai admissions API server: retrieval over
// the document corpus, structured program and intake lookups, and an
// optional NATS request/reply surface for in-cluster callers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
	"github.com/AdmissionsAI/kai-engine/engine/embed"
	"github.com/AdmissionsAI/kai-engine/engine/rag"
	"github.com/AdmissionsAI/kai-engine/engine/records"
	"github.com/AdmissionsAI/kai-engine/engine/semantic"
	"github.com/AdmissionsAI/kai-engine/pkg/metrics"
	"github.com/AdmissionsAI/kai-engine/pkg/mid"
	"github.com/AdmissionsAI/kai-engine/pkg/natsutil"
)

const searchSubject = "kai.rag.search"

var met = metrics.New()

var (
	mSearches   = met.Counter("kai_api_searches_total", "Retrieval queries served")
	mSearchErrs = met.Counter("kai_api_search_errors_total", "Retrieval queries failed")
	mSearchDur  = met.Histogram("kai_api_search_duration_seconds", "Retrieval latency", nil)
)

// Config holds all environment-based configuration. DATABASE_URL and
// NATS_URL are optional; their endpoints are disabled when unset.
type Config struct {
	Port        string
	QdrantURL   string
	Collection  string
	GeminiKey   string
	EmbedModel  string
	EmbedDim    int
	DatabaseURL string
	NATSURL     string
	CORSOrigin  string
}

func loadConfig() Config {
	dim, _ := strconv.Atoi(envOr("EMBED_DIM", strconv.Itoa(embed.DefaultDimension)))
	return Config{
		Port:        envOr("PORT", "8080"),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "kai"),
		GeminiKey:   os.Getenv("GEMINI_API_KEY"),
		EmbedModel:  envOr("EMBED_MODEL", embed.DefaultModel),
		EmbedDim:    dim,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		NATSURL:     os.Getenv("NATS_URL"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.GeminiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set")
	}

	embedder, err := embed.New(ctx, cfg.GeminiKey, cfg.EmbedModel, cfg.EmbedDim)
	if err != nil {
		return err
	}

	index, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return err
	}
	defer index.Close()

	ragSvc := rag.New(embedder, index, rag.DefaultOptions(), logger)

	// --- Records store (optional) ---
	var recordsStore *records.Store
	if cfg.DatabaseURL != "" {
		pool, err := records.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		recordsStore = records.New(pool)
		logger.Info("records store connected")
	}

	// --- NATS request/reply surface (optional) ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("kai-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()

		sub, err := natsutil.ServeRequest(nc, searchSubject,
			func(ctx context.Context, req SearchRequest) (SearchResponse, error) {
				result, err := ragSvc.Search(ctx, req.Query, req.TopK, req.ScoreThreshold)
				if err != nil {
					return SearchResponse{}, err
				}
				return searchResponse(result), nil
			})
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer sub.Unsubscribe()
		logger.Info("nats search responder up", "subject", searchSubject)
	}

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/search", handleSearch(ragSvc, logger))
	mux.HandleFunc("GET /api/programs", handlePrograms(recordsStore, logger))
	mux.HandleFunc("GET /api/intakes", handleIntakes(recordsStore, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("kai-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SearchRequest is the body for POST /api/search and the NATS search
// subject.
type SearchRequest struct {
	Query          string   `json:"query"`
	TopK           int      `json:"top_k,omitempty"`
	ScoreThreshold *float32 `json:"score_threshold,omitempty"`
}

// SearchResponse is the reply for both surfaces.
type SearchResponse struct {
	Query     string        `json:"query"`
	Passages  []rag.Passage `json:"passages"`
	Citations []string      `json:"citations"`
	Citation  string        `json:"citation"`
}

func searchResponse(result *rag.Result) SearchResponse {
	return SearchResponse{
		Query:     result.Query,
		Passages:  result.Passages,
		Citations: result.Citations,
		Citation:  result.Citation(),
	}
}

func handleSearch(ragSvc *rag.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		start := time.Now()
		result, err := ragSvc.Search(r.Context(), req.Query, req.TopK, req.ScoreThreshold)
		mSearchDur.Since(start)
		if err != nil {
			mSearchErrs.Inc()
			writeSearchError(w, logger, err)
			return
		}
		mSearches.Inc()
		writeJSON(w, http.StatusOK, searchResponse(result))
	}
}

func writeSearchError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrModelMismatch):
		logger.Error("model mismatch", "err", err)
		writeError(w, http.StatusConflict, "index was built with a different embedding model")
	case errors.Is(err, domain.ErrEmbeddingUnavailable),
		errors.Is(err, domain.ErrIndexUnavailable):
		logger.Error("search backend unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "search is temporarily unavailable")
	default:
		logger.Error("search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func handlePrograms(store *records.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusNotImplemented, "records store is not configured")
			return
		}
		programs, err := store.ProgramOverview(r.Context(), r.URL.Query().Get("name"))
		if err != nil {
			writeRecordsError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"programs": programs})
	}
}

func handleIntakes(store *records.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusNotImplemented, "records store is not configured")
			return
		}
		intakes, err := store.ListIntakes(r.Context(), r.URL.Query().Get("name"))
		if err != nil {
			writeRecordsError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"intakes": intakes})
	}
}

func writeRecordsError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, domain.ErrInvalidConfig) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Error("records query failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
