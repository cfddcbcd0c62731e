package database

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// kvOperationsTotal counts storage operations by backend, operation and status.
	//
	// Labels: backend (redis, sqlite), operation (get, set, delete, scan), status (success, miss, error)
	kvOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kv_operations_total",
			Help: "Total number of durable storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// kvOperationDuration measures storage latency.
	kvOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kv_operation_duration_seconds",
			Help:    "Durable storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

func init() {
	prometheus.MustRegister(kvOperationsTotal)
	prometheus.MustRegister(kvOperationDuration)
}

// Instrumented wraps a KV and records Prometheus metrics for every call.
type Instrumented struct {
	KV
	backend string
}

// Instrument returns kv with metrics labelled by backend.
//
// Example:
//
//	kv := database.Instrument(sqliteDB, "sqlite")
func Instrument(kv KV, backend string) *Instrumented {
	return &Instrumented{KV: kv, backend: backend}
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := i.KV.Get(ctx, key)
	i.record("get", start, err)
	return data, err
}

func (i *Instrumented) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := i.KV.Set(ctx, key, value)
	i.record("set", start, err)
	return err
}

func (i *Instrumented) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := i.KV.Delete(ctx, keys...)
	i.record("delete", start, err)
	return err
}

func (i *Instrumented) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	start := time.Now()
	items, err := i.KV.Scan(ctx, prefix)
	i.record("scan", start, err)
	return items, err
}

func (i *Instrumented) record(operation string, start time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "miss"
	case err != nil:
		status = "error"
	}

	kvOperationsTotal.WithLabelValues(i.backend, operation, status).Inc()
	kvOperationDuration.WithLabelValues(i.backend, operation).Observe(time.Since(start).Seconds())
}
