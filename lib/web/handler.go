/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package web exposes the sync engine over a small HTTP API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/groupsync/lib/sync"
)

// Syncer runs reconciliation passes. Implemented by sync.Engine.
type Syncer interface {
	Sync(ctx context.Context, req sync.Request) (*sync.Summary, error)
}

// HandlerConfig is the HTTP handler configuration.
type HandlerConfig struct {
	// Syncer runs the reconciliation passes.
	Syncer Syncer
	// LogLevel, when set, can be adjusted per request through the
	// "log_level" request parameter.
	LogLevel *slog.LevelVar
	// Log is the handler logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and sets defaults.
func (c *HandlerConfig) CheckAndSetDefaults() error {
	if c.Syncer == nil {
		return trace.BadParameter("missing parameter Syncer")
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return nil
}

// Handler serves the sync API: GET /healthz and PUT /run.
type Handler struct {
	cfg    HandlerConfig
	router *httprouter.Router
}

// NewHandler returns an http.Handler serving the sync API.
func NewHandler(config HandlerConfig) (*Handler, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		cfg:    config,
		router: httprouter.New(),
	}
	h.router.GET("/healthz", h.health)
	h.router.PUT("/run", h.run)
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	replyJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequest is the PUT /run request body, matching the configuration the
// service accepts per sync request.
type runRequest struct {
	// SQLInstances lists target instance connection names.
	SQLInstances []string `json:"sql_instances"`
	// IAMGroups lists the IAM group emails to sync.
	IAMGroups []string `json:"iam_groups"`
	// GroupRoles optionally overrides the database role per group.
	GroupRoles map[string]string `json:"group_roles"`
	// PrivateIP connects to instances over private IP.
	PrivateIP bool `json:"private_ip"`
	// LogLevel optionally adjusts the service log level for this and
	// subsequent requests.
	LogLevel string `json:"log_level"`
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		replyError(w, trace.BadParameter("invalid request body: %v", err))
		return
	}
	if len(req.SQLInstances) == 0 {
		replyError(w, trace.BadParameter("missing required request parameter: sql_instances"))
		return
	}
	if len(req.IAMGroups) == 0 {
		replyError(w, trace.BadParameter("missing required request parameter: iam_groups"))
		return
	}
	if req.LogLevel != "" {
		h.setLogLevel(r.Context(), req.LogLevel)
	}

	summary, err := h.cfg.Syncer.Sync(r.Context(), sync.Request{
		Groups:       req.IAMGroups,
		Instances:    req.SQLInstances,
		RoleMappings: req.GroupRoles,
		PrivateIP:    req.PrivateIP,
	})
	if err != nil {
		h.cfg.Log.ErrorContext(r.Context(), "Sync failed.", "error", err)
		replyError(w, err)
		return
	}
	replyJSON(w, http.StatusOK, summary)
}

func (h *Handler) setLogLevel(ctx context.Context, level string) {
	if h.cfg.LogLevel == nil {
		return
	}
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		h.cfg.Log.WarnContext(ctx, "Ignoring unrecognized log level.", "log_level", level)
		return
	}
	h.cfg.LogLevel.Set(parsed)
}

// replyError maps trace error types to HTTP status codes and writes the
// error as JSON.
func replyError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case trace.IsBadParameter(err):
		code = http.StatusBadRequest
	case trace.IsNotFound(err):
		code = http.StatusNotFound
	case trace.IsAccessDenied(err):
		code = http.StatusForbidden
	case trace.IsAlreadyExists(err), trace.IsCompareFailed(err):
		code = http.StatusConflict
	case trace.IsNotImplemented(err):
		code = http.StatusNotImplemented
	default:
		code = http.StatusInternalServerError
	}
	replyJSON(w, code, map[string]string{"error": trace.UserMessage(err)})
}

func replyJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Encoding failures past this point can only be logged by the caller's
	// middleware, the status line is already written.
	_ = json.NewEncoder(w).Encode(v)
}
