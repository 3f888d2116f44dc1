// Package server hosts a filter chain over HTTP. Each filter is
// exposed at POST /filters/{name}/inlet and /outlet, and /events is a
// websocket feed of filter activity.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/numberone-ai/filters-go-sdk/core"
	"github.com/numberone-ai/filters-go-sdk/identity"
)

// Config holds host settings.
type Config struct {
	// Addr to listen on. Default: ":9099".
	Addr string

	// ReadTimeout and WriteTimeout for the HTTP server.
	// Defaults: 30s / 60s.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig is the standalone host default.
var DefaultConfig = &Config{
	Addr:         ":9099",
	ReadTimeout:  30 * time.Second,
	WriteTimeout: 60 * time.Second,
}

// hookRequest is the wire shape of one filter invocation: the raw
// message envelope plus the host's user object.
type hookRequest struct {
	Body json.RawMessage `json:"body"`
	User *core.User      `json:"user,omitempty"`
}

// Server exposes a filter chain over HTTP.
type Server struct {
	chain    *Chain
	hub      *hub
	resolver identity.Resolver
	httpSrv  *http.Server
	config   *Config
}

// New creates the host around a chain.
func New(chain *Chain, config *Config) *Server {
	if config == nil {
		config = DefaultConfig
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultConfig.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultConfig.WriteTimeout
	}

	s := &Server{
		chain:  chain,
		hub:    newHub(),
		config: config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /events", s.hub.serve)
	mux.HandleFunc("POST /filters/{name}/inlet", s.handleHook("inlet"))
	mux.HandleFunc("POST /filters/{name}/outlet", s.handleHook("outlet"))

	s.httpSrv = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// ListenAndServe starts the filters and serves until Shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.chain.Startup(ctx)
	log.Printf("[SERVER] Listening on %s with %d filters", s.config.Addr, len(s.chain.Filters()))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains HTTP, closes the event feed and stops the filters,
// all bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.httpSrv.Shutdown(ctx)
	s.hub.close()
	if err := s.chain.Shutdown(ctx); err != nil {
		return err
	}
	if httpErr != nil {
		return fmt.Errorf("http shutdown: %w", httpErr)
	}
	return nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.chain.Filters()))
	for _, f := range s.chain.Filters() {
		names = append(names, f.Name())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"filters": names,
	})
}

// handleHook runs one filter phase against a posted envelope and
// returns the mutated envelope. A malformed body is the caller's
// error; a filter that cannot act passes the envelope through.
func (s *Server) handleHook(phase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		filter, ok := s.chain.Get(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown filter " + name})
			return
		}

		var req hookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request: " + err.Error()})
			return
		}

		env, err := core.ParseEnvelope(req.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body: " + err.Error()})
			return
		}

		started := time.Now()
		if phase == "inlet" {
			env = filter.Inlet(r.Context(), env, req.User)
		} else {
			env = filter.Outlet(r.Context(), env, req.User)
		}

		s.hub.publish(Event{
			Filter:         name,
			Phase:          phase,
			ConversationID: s.resolver.ConversationID(env, req.User),
			DurationMS:     time.Since(started).Milliseconds(),
			Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		out, err := env.MarshalJSON()
		if err != nil {
			log.Printf("[SERVER] Marshal envelope: %v", err)
			out = env.Raw()
		}
		w.Write(out)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
