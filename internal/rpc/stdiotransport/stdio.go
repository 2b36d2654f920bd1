// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package stdiotransport exposes a rpc.Registry over newline-delimited
// JSON on stdin/stdout, for assistant CLIs whose front-end only speaks
// stdio and for operators who prefer piping an orchestrator process
// directly rather than running its HTTP server.
package stdiotransport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/relaycode/overseer/internal/overseer"
	"github.com/relaycode/overseer/internal/rpc"
)

// request is one line read from stdin.
type request struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Input     json.RawMessage `json:"input"`
}

// response is one line written to stdout, always correlated to its
// request by ID.
type response struct {
	ID     string         `json:"id"`
	Result interface{}    `json:"result,omitempty"`
	Error  *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Serve reads one JSON request per line from r until EOF or ctx is
// canceled, dispatches each to reg, and writes one JSON response per
// line to w. Requests are handled sequentially, in arrival order,
// matching the HTTP transport's per-connection ordering but without
// HTTP's per-request concurrency — a caller wanting concurrent stdio
// calls should run multiple orchestrator stdio processes.
func Serve(ctx context.Context, r io.Reader, w io.Writer, reg *rpc.Registry) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(response{Error: &errorResponse{
				Kind:    string(overseer.InvalidArgument),
				Message: "malformed request line: " + err.Error(),
			}})
			continue
		}

		result, err := reg.Invoke(ctx, req.Operation, req.Input)
		if err != nil {
			_ = enc.Encode(response{ID: req.ID, Error: toErrorResponse(err)})
			continue
		}

		_ = enc.Encode(response{ID: req.ID, Result: result})
	}

	return scanner.Err()
}

func toErrorResponse(err error) *errorResponse {
	oerr, ok := err.(*overseer.Error)
	if !ok {
		return &errorResponse{Kind: string(overseer.Internal), Message: err.Error()}
	}
	return &errorResponse{Kind: string(oerr.Kind), Message: oerr.Message, Hint: oerr.Hint}
}
