// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the daemon's own health over HTTP: peers
// connected, messages decoded/rejected by reason, flushes performed,
// publish attempts/drops, and relay connection state. This is
// operational self-observability about the daemon, not the harvested
// I/O metrics it publishes downstream (spec.md's Non-goals exclude
// persistence/historical querying of the latter, not this).
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
)

// Registry bundles every self-observability metric the daemon exposes,
// plus the last-flush snapshot served at /lastFlush (§12.8's
// in-process substitute for the out-of-scope check.py diagnostic).
type Registry struct {
	reg *prometheus.Registry

	PeersConnected  prometheus.Gauge
	MessagesDecoded *prometheus.CounterVec // labels: dataType
	MessagesRejected *prometheus.CounterVec // labels: reason
	Flushes         prometheus.Counter
	PublishAttempts prometheus.Counter
	PublishDrops    *prometheus.CounterVec // labels: reason
	RelayState      *prometheus.GaugeVec   // labels: destination; 1=connected, 0=broken

	mu        sync.Mutex
	lastFlush model.RateTable
}

// New creates and registers the full metric set under the
// "lustreharvest" namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lustreharvest",
			Name:      "peers_connected",
			Help:      "Number of currently connected client/relay peers.",
		}),
		MessagesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lustreharvest",
			Name:      "messages_decoded_total",
			Help:      "Messages successfully decoded, by dataType.",
		}, []string{"dataType"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lustreharvest",
			Name:      "messages_rejected_total",
			Help:      "Messages rejected during framing/decode, by reason.",
		}, []string{"reason"}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lustreharvest",
			Name:      "flushes_total",
			Help:      "Flush cycles performed by the aggregation engine.",
		}),
		PublishAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lustreharvest",
			Name:      "publish_attempts_total",
			Help:      "Publish calls made to the downstream monitoring bus.",
		}),
		PublishDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lustreharvest",
			Name:      "publish_drops_total",
			Help:      "Data points dropped before publication, by reason.",
		}, []string{"reason"}),
		RelayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lustreharvest",
			Name:      "relay_connected",
			Help:      "1 if the outbound relay connection to a destination cluster is up.",
		}, []string{"destination"}),
	}

	reg.MustRegister(
		r.PeersConnected,
		r.MessagesDecoded,
		r.MessagesRejected,
		r.Flushes,
		r.PublishAttempts,
		r.PublishDrops,
		r.RelayState,
	)
	return r
}

// SetLastFlush records the most recent RateTable for /lastFlush.
func (r *Registry) SetLastFlush(rt model.RateTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFlush = rt
}

func (r *Registry) handleLastFlush(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	rt := r.lastFlush
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if rt == nil {
		rt = model.RateTable{}
	}
	if err := json.NewEncoder(w).Encode(rt); err != nil {
		log.Warnf("metrics: encoding /lastFlush response: %v", err)
	}
}

func (r *Registry) handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Router builds the gorilla/mux router serving /metrics, /healthz and
// /lastFlush.
func (r *Registry) Router() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", r.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/lastFlush", r.handleLastFlush).Methods(http.MethodGet)
	return router
}

// Serve starts the diagnostic HTTP listener and blocks until it exits.
// Callers typically run this in its own goroutine. The router is
// wrapped in a recovery handler so a panic inside any handler (e.g.
// promhttp's internals) logs a stack trace and returns 500 instead of
// taking down the whole daemon process.
func (r *Registry) Serve(addr string) error {
	log.Infof("metrics: listening on %s", addr)
	h := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(r.Router())
	return http.ListenAndServe(addr, h)
}
