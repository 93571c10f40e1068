// Package health serves the liveness and readiness probes.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 only when every [Checker] passes, otherwise 503.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetscribe/pkg/objstore"
)

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// probeKey never exists. Looking it up only proves the object store answers.
const probeKey = ".readyz"

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and must respect ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by the session stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database checks that the session store answers a ping.
func Database(p Pinger) Checker {
	return Checker{Name: "database", Check: p.Ping}
}

// ObjectStore checks that the object store answers an existence lookup.
func ObjectStore(s objstore.Store) Checker {
	return Checker{Name: "objects", Check: func(ctx context.Context) error {
		_, err := s.Exists(ctx, probeKey)
		if err != nil {
			return fmt.Errorf("exists: %w", err)
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes for a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, result{Status: statusOK})
}

// Readyz runs all checkers concurrently, each under its own [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.evaluate(r.Context())
	code := http.StatusOK
	if res.Status != statusOK {
		code = http.StatusServiceUnavailable
		slog.Warn("health: not ready", "checks", res.Checks)
	}
	respond(w, code, res)
}

func (h *Handler) evaluate(ctx context.Context) result {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: statusOK, Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Status = statusFail
			res.Checks[c.Name] = statusFail + ": " + errs[i].Error()
			continue
		}
		res.Checks[c.Name] = statusOK
	}
	return res
}

// respond encodes v before writing the header, so an encoding failure can
// still turn into a 500.
func respond(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
