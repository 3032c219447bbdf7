// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes counters and a histogram for embed/detect/clone
// outcomes over Prometheus (spec supplement: runtime metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the metrics this process exports. Callers construct one
// with New and wire it into the registerer that backs their /metrics
// handler (see internal/diag).
type Registry struct {
	EmbedTotal  *prometheus.CounterVec
	DetectTotal *prometheus.CounterVec
	CloneTotal  *prometheus.CounterVec
	SNRDb       prometheus.Histogram
}

// New registers and returns a fresh Registry. reg is typically a
// prometheus.NewRegistry() the caller also hands to promhttp.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		EmbedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "awmkit",
			Name:      "embed_total",
			Help:      "Number of embed invocations by outcome.",
		}, []string{"outcome"}),
		DetectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "awmkit",
			Name:      "detect_total",
			Help:      "Number of detect invocations by outcome.",
		}, []string{"outcome"}),
		CloneTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "awmkit",
			Name:      "clone_total",
			Help:      "Number of clone classifications by kind.",
		}, []string{"kind"}),
		SNRDb: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "awmkit",
			Name:      "embed_snr_db",
			Help:      "SNR in dB of embedded output against its source, when computable.",
			Buckets:   []float64{0, 10, 20, 30, 40, 60, 80, 100, 120},
		}),
	}

	reg.MustRegister(m.EmbedTotal, m.DetectTotal, m.CloneTotal, m.SNRDb)
	return m
}

// ObserveEmbed records one embed outcome ("ok", "error", or an
// awmerr.Kind string) and, if snrDb is non-nil, the resulting SNR.
func (m *Registry) ObserveEmbed(outcome string, snrDb *float64) {
	m.EmbedTotal.WithLabelValues(outcome).Inc()
	if snrDb != nil {
		m.SNRDb.Observe(*snrDb)
	}
}

// ObserveDetect records one detect outcome.
func (m *Registry) ObserveDetect(outcome string) {
	m.DetectTotal.WithLabelValues(outcome).Inc()
}

// ObserveClone records one clone-check classification.
func (m *Registry) ObserveClone(kind string) {
	m.CloneTotal.WithLabelValues(kind).Inc()
}
