// Package webhook receives forge events: signature verification, size
// limits, strict schema validation, replay capture, and dispatch into the
// command router and review core.
package webhook

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"mr-agent/internal/command"
	"mr-agent/internal/config"
	"mr-agent/internal/forge"
	"mr-agent/internal/review"
)

// Handler owns both forge sinks and the replay store.
type Handler struct {
	cfg    *config.Config
	core   *review.Core
	router *command.Router
	github forge.Client
	gitlab forge.Client
	replay *ReplayStore // nil when disabled

	wg sync.WaitGroup
}

// New creates the webhook handler.
func New(cfg *config.Config, core *review.Core, router *command.Router, github, gitlab forge.Client, replay *ReplayStore) *Handler {
	return &Handler{
		cfg:    cfg,
		core:   core,
		router: router,
		github: github,
		gitlab: gitlab,
		replay: replay,
	}
}

// WaitForCompletion blocks until all in-flight event goroutines finish.
func (h *Handler) WaitForCompletion() {
	h.wg.Wait()
}

// async runs one event orchestration in the background with panic recovery,
// so a malformed payload can never take the process down.
func (h *Handler) async(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered in event handler",
					"panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
