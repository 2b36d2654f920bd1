// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package httptransport exposes a rpc.Registry over HTTP using
// gorilla/mux: one POST route per registered operation, a GET route for
// discovery, and a WebSocket route streaming the Monitor Feed.
package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/relaycode/overseer/internal/monitor"
	"github.com/relaycode/overseer/internal/overseer"
	"github.com/relaycode/overseer/internal/rpc"
)

// envelope is the response shape every operation call returns, win or
// lose, so API clients never need to branch on HTTP status alone.
type envelope struct {
	Data  interface{}    `json:"data,omitempty"`
	Error *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Server wraps an http.Server bound to a mux.Router built from a
// rpc.Registry.
type Server struct {
	router *mux.Router
	http   *http.Server
}

// NewServer builds a Server listening at addr, with one POST route per
// registered operation (POST /rpc/{operation}) plus a GET /monitor/ws
// WebSocket route streaming feed's events when feed is
// non-nil. The handler is wrapped for h2c (plain-text HTTP/2) via
// golang.org/x/net so long-lived monitor subscribers sharing a
// connection with ordinary RPC calls don't pay HTTP/1.1
// head-of-line blocking.
func NewServer(addr string, reg *rpc.Registry, feed *monitor.Feed) *Server {
	router := mux.NewRouter()

	router.HandleFunc("/rpc/{operation}", func(w http.ResponseWriter, req *http.Request) {
		handleOperation(w, req, reg)
	}).Methods(http.MethodPost)

	router.HandleFunc("/rpc", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Data: reg.Names()})
	}).Methods(http.MethodGet)

	if feed != nil {
		router.HandleFunc("/monitor/ws", monitorWebSocket(feed)).Methods(http.MethodGet)
	}

	h2s := &http2.Server{}

	return &Server{
		router: router,
		http: &http.Server{
			Addr:         addr,
			Handler:      h2c.NewHandler(router, h2s),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

func handleOperation(w http.ResponseWriter, req *http.Request, reg *rpc.Registry) {
	vars := mux.Vars(req)
	name := vars["operation"]

	var input json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil && err.Error() != "EOF" {
		writeError(w, overseer.New(overseer.InvalidArgument, "malformed request body"))
		return
	}

	result, err := reg.Invoke(req.Context(), name, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: result})
}

func writeError(w http.ResponseWriter, err error) {
	oerr, ok := err.(*overseer.Error)
	if !ok {
		oerr = overseer.Wrap(overseer.Internal, "unexpected error", err)
	}

	status := statusForKind(oerr.Kind)
	writeJSON(w, status, envelope{Error: &errorEnvelope{
		Kind:    string(oerr.Kind),
		Message: oerr.Message,
		Hint:    oerr.Hint,
	}})
}

func statusForKind(kind overseer.Kind) int {
	switch kind {
	case overseer.NotFound:
		return http.StatusNotFound
	case overseer.InvalidArgument:
		return http.StatusBadRequest
	case overseer.Timeout:
		return http.StatusGatewayTimeout
	case overseer.QueueFull, overseer.CapacityExceeded:
		return http.StatusTooManyRequests
	case overseer.PaneGone, overseer.SendFailed, overseer.SpawnFailed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the underlying mux.Router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
