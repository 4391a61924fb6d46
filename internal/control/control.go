// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package control owns the one control action: replacing the active filter.
// Changes come from the HTTP API or a config file reload; both go through
// Controller.Configure so that listeners (such as the capture prefilter)
// see every change.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/portsample-ebpf/internal/config"
	"github.com/portsample-ebpf/internal/engine"
)

// maxBody bounds PUT /filter request bodies.
const maxBody = 4 << 10

type Controller struct {
	filter *engine.Filter

	mu        sync.Mutex
	listeners []func(*engine.Config)
}

func New(f *engine.Filter) *Controller {
	return &Controller{filter: f}
}

// OnChange registers fn to run after every Configure, with the new config
// (nil when matching is disabled).
func (c *Controller) OnChange(fn func(*engine.Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Configure installs cfg. Concurrent calls are serialized so listeners
// observe changes in the order they were applied.
func (c *Controller) Configure(cfg *engine.Config, origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.filter.Configure(cfg)
	slog.Info("filter configured", "origin", origin,
		"from", describe(prev), "to", describe(cfg))
	for _, fn := range c.listeners {
		fn(cfg)
	}
}

// ConfigureFilter validates f and installs it.
func (c *Controller) ConfigureFilter(f config.FilterConfig, origin string) error {
	cfg, err := f.EngineConfig()
	if err != nil {
		return err
	}
	c.Configure(cfg, origin)
	return nil
}

func (c *Controller) Current() config.FilterConfig {
	return config.FilterFromEngine(c.filter.Snapshot())
}

func describe(cfg *engine.Config) string {
	if cfg == nil {
		return "none"
	}
	return fmt.Sprintf("%s direction=%t addrs=%t", cfg.Policy, cfg.Direction, cfg.CaptureAddresses)
}

// Register mounts GET, PUT and DELETE /filter on mux.
func (c *Controller) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /filter", c.handleGet)
	mux.HandleFunc("PUT /filter", c.handlePut)
	mux.HandleFunc("DELETE /filter", c.handleDelete)
}

func (c *Controller) handleGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.Current())
}

func (c *Controller) handlePut(w http.ResponseWriter, r *http.Request) {
	var f config.FilterConfig
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode filter: %w", err))
		return
	}
	if err := c.ConfigureFilter(f, "http "+r.RemoteAddr); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalidConfig) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Current())
}

func (c *Controller) handleDelete(w http.ResponseWriter, r *http.Request) {
	c.Configure(nil, "http "+r.RemoteAddr)
	writeJSON(w, http.StatusOK, c.Current())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
