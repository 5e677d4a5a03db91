// Server exposing the knowledge store over HTTP.
//
// The FTS5 tables require the sqlite_fts5 build tag:
//
//	go run -tags sqlite_fts5 ./cmd/server
//
// Configuration comes from an optional JSON file (-config) overridden by
// LEXSTORE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/brunobiangulo/lexstore"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := lexstore.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("LEXSTORE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEXSTORE_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LEXSTORE_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LEXSTORE_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("LEXSTORE_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("LEXSTORE_EMBED_DIM"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil && dim > 0 {
			cfg.EmbeddingDim = dim
		}
	}
	if v := os.Getenv("LEXSTORE_COMPANION_DIR"); v != "" {
		cfg.CompanionDir = v
	}
	if v := os.Getenv("LEXSTORE_DIRECTIVE_WORKBOOK"); v != "" {
		cfg.DirectiveWorkbook = v
	}
	if v := os.Getenv("LEXSTORE_ALIAS_FILE"); v != "" {
		cfg.AliasFile = v
	}

	// Fallback: well-known provider env var for the API key.
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	apiKey := os.Getenv("LEXSTORE_API_KEY")
	corsOrigins := os.Getenv("LEXSTORE_CORS_ORIGINS")

	engine, err := lexstore.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /load", h.handleLoad)
	mux.HandleFunc("POST /normalize", h.handleNormalize)
	mux.HandleFunc("POST /query", h.handleQuery)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = withAccessLog(handler)
	handler = withAuth(apiKey, handler)
	handler = withCORS(corsOrigins, handler)
	handler = withRecovery(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // batch loads can run long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
