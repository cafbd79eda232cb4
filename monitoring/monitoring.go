/*
Copyright (c) Facebook, Inc. and its affiliates.

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

// Package monitoring is the counters + HTTP exposition layer: a
// JSON endpoint at "/" for quick inspection and a Prometheus exporter at
// "/metrics" for scraping, both backed by the same in-memory counter map.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Stats is a thread-safe counter map. The daemon records time-change
// broadcasts (time_changed_total), DST transitions (dst_transitions_total)
// and the current MCC (mcc_current); commits, rejects and DST re-arms are
// not counted separately.
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewStats constructs an empty counter map.
func NewStats() *Stats {
	return &Stats{counters: map[string]int64{}}
}

// Inc increments key by one.
func (s *Stats) Inc(key string) { s.Add(key, 1) }

// Add adds delta to key.
func (s *Stats) Add(key string, delta int64) {
	s.mu.Lock()
	s.counters[key] += delta
	s.mu.Unlock()
}

// Set pins key to val.
func (s *Stats) Set(key string, val int64) {
	s.mu.Lock()
	s.counters[key] = val
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters, safe to marshal or
// iterate without the lock held.
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Server exposes Stats over HTTP, both as raw JSON and as Prometheus
// gauges, on the same listener.
type Server struct {
	stats    *Stats
	registry *prometheus.Registry
	addr     string
	srv      *http.Server
}

// NewServer builds a Server bound to addr (e.g. ":8121").
func NewServer(addr string, stats *Stats) *Server {
	return &Server{stats: stats, registry: prometheus.NewRegistry(), addr: addr}
}

// ListenAndServe starts the HTTP server; it blocks until the server stops
// or ctx is cancelled, mirroring the original's long-lived monitoring
// goroutine.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleJSON)
	metrics := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.scrapeToPrometheus(s.stats.Snapshot())
		metrics.ServeHTTP(w, r)
	}))

	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.stats.Snapshot()
	s.scrapeToPrometheus(snapshot)

	js, err := json.Marshal(snapshot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.WithError(err).Error("monitoring: failed to write JSON response")
	}
}

// scrapeToPrometheus mirrors each JSON counter into a same-named gauge,
// the way ptp/sptp/stats.PrometheusExporter mirrors a fetched counter map.
func (s *Server) scrapeToPrometheus(counters map[string]int64) {
	for key, val := range counters {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: flattenKey(key), Help: key})
		if err := s.registry.Register(gauge); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if ok := asAlreadyRegistered(err, are); ok {
				gauge = are.ExistingCollector.(prometheus.Gauge)
			} else {
				log.WithError(err).Warnf("monitoring: failed to register metric %s", key)
				continue
			}
		}
		gauge.Set(float64(val))
	}
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if !ok {
		return false
	}
	*target = are
	return true
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "=", "_")
	return key
}
