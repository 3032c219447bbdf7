// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmkit/awmkit/internal/evidence"
	"github.com/awmkit/awmkit/internal/keystore"
	"github.com/awmkit/awmkit/internal/keystore/backend"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping() error { return f.err }

func TestHealthzReportsOKWhenDBReachable(t *testing.T) {
	keys := keystore.New(backend.NewMemory(), nil)
	require.NoError(t, keys.SetActive(3))

	reg := prometheus.NewRegistry()
	r := NewRouter(reg, fakePinger{}, keys)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)

	var h Health
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.EvidenceDB)
	assert.Equal(t, 3, h.ActiveKeySlot)
}

func TestHealthzReportsUnavailableWhenDBUnreachable(t *testing.T) {
	keys := keystore.New(backend.NewMemory(), nil)

	reg := prometheus.NewRegistry()
	r := NewRouter(reg, fakePinger{err: assertErr{"down"}}, keys)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "awmkit_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	keys := keystore.New(backend.NewMemory(), nil)
	r := NewRouter(reg, fakePinger{}, keys)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "awmkit_test_total")
}

func TestRealEvidenceDBSatisfiesPinger(t *testing.T) {
	db, err := evidence.Open(filepath.Join(t.TempDir(), "awmkit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var _ EvidencePinger = db
	assert.NoError(t, db.Ping())
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
