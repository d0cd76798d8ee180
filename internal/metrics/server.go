// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/buildinfo"
	"github.com/autobrr/sweeparr/internal/strikes"
	"github.com/autobrr/sweeparr/pkg/httphelpers"
)

type MetricsServer struct {
	manager        *Manager
	ledger         *strikes.Ledger
	server         *http.Server
	basePath       string
	basicAuthUsers map[string]string
}

// NewMetricsServer builds the observability listener: /metrics (optionally
// behind basic auth), /healthz and a read-only /api/strikes dump. basePath
// prefixes every route when the server sits behind a reverse proxy.
// basicAuthUsers is a comma-separated "user:password" list; malformed
// entries are skipped.
func NewMetricsServer(manager *Manager, ledger *strikes.Ledger, host string, port int, basePath, basicAuthUsers string) *MetricsServer {
	users := parseBasicAuthUsers(basicAuthUsers)

	s := &MetricsServer{
		manager:        manager,
		ledger:         ledger,
		basePath:       httphelpers.NormalizeBasePath(basePath),
		basicAuthUsers: users,
	}

	r := chi.NewRouter()

	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedOrigins: []string{"*"},
	}).Handler)

	if compressor, err := httpcompression.DefaultAdapter(); err != nil {
		log.Warn().Err(err).Msg("Response compression disabled")
	} else {
		r.Use(compressor)
	}

	metricsHandler := http.Handler(promhttp.HandlerFor(manager.GetRegistry(), promhttp.HandlerOpts{}))
	if len(users) > 0 {
		metricsHandler = BasicAuth("metrics", users)(metricsHandler)
	}
	r.Handle("/metrics", metricsHandler)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/strikes", s.handleStrikes)
	r.Get("/api/version", s.handleVersion)

	handler := http.Handler(r)
	if s.basePath != "" {
		outer := chi.NewRouter()
		outer.Mount(s.basePath, r)
		handler = outer
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: handler,
	}

	return s
}

func parseBasicAuthUsers(raw string) map[string]string {
	users := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, pass, ok := strings.Cut(entry, ":")
		if !ok || user == "" {
			log.Warn().Str("entry", entry).Msg("Skipping malformed basic auth entry")
			continue
		}
		users[strings.TrimSpace(user)] = strings.TrimSpace(pass)
	}
	return users
}

func (s *MetricsServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	cycles, lastCycle := s.manager.Health()

	resp := map[string]any{
		"status": "ok",
		"cycles": cycles,
	}
	if !lastCycle.IsZero() {
		resp["last_cycle"] = lastCycle.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Debug().Err(err).Msg("Failed to write healthz response")
	}
}

func (s *MetricsServer) handleStrikes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.ledger == nil {
		w.Write([]byte("{}"))
		return
	}

	data, err := s.ledger.Dump()
	if err != nil {
		http.Error(w, `{"error":"failed to serialize strikes"}`, http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

func (s *MetricsServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	data, err := buildinfo.JSON()
	if err != nil {
		http.Error(w, `{"error":"failed to serialize build info"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *MetricsServer) ListenAndServe() error {
	log.Info().
		Str("addr", s.server.Addr).
		Str("metrics", httphelpers.JoinBasePath(s.basePath, "/metrics")).
		Msg("Starting metrics server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *MetricsServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// BasicAuth guards a handler with a static credential set.
func BasicAuth(realm string, users map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, realm)
				return
			}

			expected, found := users[user]
			if !found || subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) != 1 {
				unauthorized(w, realm)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, realm))
	w.WriteHeader(http.StatusUnauthorized)
}
