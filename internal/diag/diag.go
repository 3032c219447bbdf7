// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package diag serves the small ops-only HTTP surface a deployed awmkit
// process exposes: /healthz and /metrics. It is not the tool's GUI/API
// (there is none; spec §1 scopes CLI/GUI out), only diagnostics.
package diag

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/awmkit/awmkit/internal/keystore"
	"github.com/awmkit/awmkit/pkg/log"
)

// EvidencePinger is implemented by the evidence store and consulted by the
// health handler so this package never imports database/sql directly.
type EvidencePinger interface {
	Ping() error
}

// Health is what GET /healthz reports.
type Health struct {
	EvidenceDB    string `json:"evidence_db"`
	ActiveKeySlot int    `json:"active_key_slot"`
}

// NewRouter builds the mux.Router serving /healthz and /metrics. reg is
// the Prometheus registerer metrics.New was given; keys and evidence back
// the health check.
func NewRouter(reg prometheus.Gatherer, evidence EvidencePinger, keys *keystore.Store) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		h := Health{EvidenceDB: "ok", ActiveKeySlot: keys.Active()}
		status := http.StatusOK
		if err := evidence.Ping(); err != nil {
			log.Warnf("diag: evidence db ping failed: %v", err)
			h.EvidenceDB = "unreachable"
			status = http.StatusServiceUnavailable
		}

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		_ = json.NewEncoder(rw).Encode(h)
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

// Serve runs the diagnostics router until ctx is cancelled, then shuts the
// server down gracefully.
func Serve(ctx context.Context, addr string, r *mux.Router) error {
	srv := &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
