package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"mr-agent/internal/ailimit"
	"mr-agent/internal/command"
	"mr-agent/internal/config"
	"mr-agent/internal/forge/github"
	"mr-agent/internal/forge/gitlab"
	"mr-agent/internal/httpx"
	"mr-agent/internal/notify"
	"mr-agent/internal/policy"
	"mr-agent/internal/provider"
	"mr-agent/internal/review"
	"mr-agent/internal/state"
	"mr-agent/internal/webhook"
)

func main() {
	// Optional .env for local development; the environment always wins.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	hc := httpx.New()
	limiter := ailimit.New(cfg.AI.MaxConcurrency)

	adapter, err := provider.New(context.Background(), cfg, limiter)
	if err != nil {
		slog.Error("create ai provider failed", "error", err)
		os.Exit(1)
	}
	if err := adapter.Ping(context.Background()); err != nil {
		slog.Error("ai provider health check failed", "provider", adapter.Name(), "error", err)
		os.Exit(1)
	}
	slog.Info("ai provider ready", "provider", adapter.Name(), "model", adapter.Model())

	store := state.NewStore()
	engine := policy.NewEngine(cfg.Cache.PolicyTTL)
	notifier := notify.New(hc, cfg.Notify.WebhookURL, cfg.Notify.Format)

	ghClient := github.New(hc, cfg)
	glClient := gitlab.New(hc, cfg)

	core := review.New(cfg, adapter, store, engine, notifier)
	router := command.New(cfg, core, store)

	var replay *webhook.ReplayStore
	if cfg.Replay.Enabled {
		replay = webhook.NewReplayStore(cfg.Replay.File, cfg.Replay.MaxEntries, cfg.Replay.MaxBodyBytes)
		slog.Info("webhook replay store enabled", "file", cfg.Replay.File)
	}

	handler := webhook.New(cfg, core, router, ghClient, glClient, replay)

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/github", handler.HandleGitHub)
	mux.HandleFunc("/webhook/gitlab", handler.HandleGitLab)
	mux.HandleFunc("/webhook/events", eventsHandler(cfg, replay))
	mux.HandleFunc("/health", healthHandler(adapter))
	mux.Handle("/metrics", promhttp.Handler())

	// Catch misconfigured webhook URLs that omit the platform path.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			slog.Warn("received request at root path",
				"path", r.URL.Path,
				"method", r.Method,
				"msg", "configure the webhook URL to /webhook/github or /webhook/gitlab",
			)
		}
		http.NotFound(w, r)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("server stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown forced", "error", err)
	}

	// New AI calls are refused from here on; in-flight ones get the drain
	// window to finish.
	hc.BeginShutdown()
	if !limiter.Drain(cfg.AI.DrainTimeout) {
		slog.Warn("ai drain timeout", "active", limiter.Active())
	}

	slog.Info("waiting for tasks")
	done := make(chan struct{})
	go func() {
		handler.WaitForCompletion()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("tasks completed")
	case <-time.After(30 * time.Second):
		slog.Warn("task timeout, exiting")
	}

	slog.Info("server stopped")
}

// healthHandler serves the shallow liveness probe, and with ?deep=1 pings the
// configured AI provider with a short deadline.
func healthHandler(adapter *provider.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		type checks struct {
			AI provider.Health `json:"ai"`
		}
		resp := struct {
			OK     bool    `json:"ok"`
			Name   string  `json:"name"`
			Checks *checks `json:"checks,omitempty"`
		}{OK: true, Name: "mr-agent"}

		if r.URL.Query().Get("deep") == "1" {
			h := adapter.CheckHealth(r.Context())
			resp.OK = h.OK
			resp.Checks = &checks{AI: h}
			if !h.OK {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// eventsHandler exposes the replay store, gated by the replay token.
func eventsHandler(cfg *config.Config, replay *webhook.ReplayStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if replay == nil {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !webhook.VerifyToken(cfg.Replay.Token, r.Header.Get("X-MR-Agent-Replay-Token")) {
			http.Error(w, "Invalid replay token", http.StatusUnauthorized)
			return
		}

		if id := r.URL.Query().Get("id"); id != "" {
			record, ok, err := replay.Get(id)
			if err != nil {
				http.Error(w, "Replay store read failed", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, record)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := replay.List(r.URL.Query().Get("platform"), limit)
		if err != nil {
			http.Error(w, "Replay store read failed", http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []webhook.EventSummary{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

// setupLogger creates a logger based on configuration.
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			// Use lumberjack for log rotation
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}
