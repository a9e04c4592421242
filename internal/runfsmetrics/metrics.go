// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runfsmetrics exposes runfs's operational counters via
// Prometheus, the metrics toolkit present (if only as a transitive
// exporter dependency) across this family of filesystems.
package runfsmetrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors implements both dre.Metrics and runfs.Metrics, so the same
// instance can be handed to both without either package importing the
// other's interface.
type Collectors struct {
	queueDepth    prometheus.Gauge
	jobsProcessed prometheus.Counter
	jobsRetried   prometheus.Counter
	jobsDropped   prometheus.Counter

	entriesReaped prometheus.Counter
	bytesFreed    prometheus.Counter
}

// New registers runfs's collectors against reg. Pass prometheus.NewRegistry()
// for an isolated registry (as tests should) or nil to use the default
// global registry (as cmd/runfs does).
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		// promauto.With(nil) would register nothing at all.
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collectors{
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "runfs",
			Subsystem: "dre",
			Name:      "queue_depth",
			Help:      "Number of removal jobs currently pending in the Deferred Removal Engine.",
		}),
		jobsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "runfs",
			Subsystem: "dre",
			Name:      "jobs_processed_total",
			Help:      "Removal jobs the DRE has successfully detached.",
		}),
		jobsRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "runfs",
			Subsystem: "dre",
			Name:      "jobs_retried_total",
			Help:      "Removal job attempts that failed transiently (NoMem) and were retried.",
		}),
		jobsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "runfs",
			Subsystem: "dre",
			Name:      "jobs_dropped_total",
			Help:      "Removal jobs discarded after a non-transient detach error.",
		}),
		entriesReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "runfs",
			Name:      "entries_reaped_total",
			Help:      "VFS entries found to have an exited creating process and tagged for removal.",
		}),
		bytesFreed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "runfs",
			Name:      "bytes_freed_total",
			Help:      "Bytes of in-memory file content released by reaped entries.",
		}),
	}
}

// JobEnqueued, JobProcessed, JobRetried and JobDropped implement
// dre.Metrics.
func (c *Collectors) JobEnqueued(depth int)  { c.queueDepth.Set(float64(depth)) }
func (c *Collectors) JobProcessed()          { c.jobsProcessed.Inc() }
func (c *Collectors) JobRetried()            { c.jobsRetried.Inc() }
func (c *Collectors) JobDropped()            { c.jobsDropped.Inc() }

// EntryReaped implements runfs.Metrics.
func (c *Collectors) EntryReaped(bytesFreed int64) {
	c.entriesReaped.Inc()
	if bytesFreed > 0 {
		c.bytesFreed.Add(float64(bytesFreed))
	}
}

// Serve runs a minimal HTTP server exposing /metrics on addr until ctx is
// canceled. A non-empty addr is the one thing that turns metrics on at
// all; see cmd/runfs's --metrics-addr flag.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
