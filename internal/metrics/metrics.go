// Package metrics keeps the service's operational counters and renders
// them in Prometheus text exposition format. The surface is small and
// fixed, so a mutex-guarded map does the job without pulling in a
// metrics framework.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// durationBuckets are the upper bounds, in seconds, of the request
// duration histogram.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type histogram struct {
	counts []uint64
	sum    float64
	total  uint64
}

// Registry holds all metrics. Safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	// http_requests_total{method, path, status}
	requests map[string]uint64
	// http_request_duration_seconds{method, path}
	durations map[string]*histogram
	// document_ingestion_total{outcome}
	ingestions map[string]uint64

	// gauges refreshed by the caller before rendering
	activeKnowledgeBases int64
	totalChunks          int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		requests:   make(map[string]uint64),
		durations:  make(map[string]*histogram),
		ingestions: make(map[string]uint64),
	}
}

// ObserveRequest records one handled HTTP request.
func (r *Registry) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[fmt.Sprintf(`method=%q,path=%q,status="%d"`, method, path, status)]++

	key := fmt.Sprintf(`method=%q,path=%q`, method, path)
	h, ok := r.durations[key]
	if !ok {
		h = &histogram{counts: make([]uint64, len(durationBuckets))}
		r.durations[key] = h
	}
	seconds := elapsed.Seconds()
	for i, bound := range durationBuckets {
		if seconds <= bound {
			h.counts[i]++
		}
	}
	h.sum += seconds
	h.total++
}

// ObserveIngestion records one finished document ingestion by outcome
// (completed or failed).
func (r *Registry) ObserveIngestion(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingestions[outcome]++
}

// SetGauges refreshes the point-in-time gauges. Callers read the
// current values from storage right before rendering.
func (r *Registry) SetGauges(activeKnowledgeBases, totalChunks int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeKnowledgeBases = activeKnowledgeBases
	r.totalChunks = totalChunks
}

// Render returns the Prometheus text exposition of all metrics.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("# HELP http_requests_total Total HTTP requests handled.\n")
	sb.WriteString("# TYPE http_requests_total counter\n")
	for _, key := range sortedKeys(r.requests) {
		fmt.Fprintf(&sb, "http_requests_total{%s} %d\n", key, r.requests[key])
	}

	sb.WriteString("# HELP http_request_duration_seconds HTTP request latency.\n")
	sb.WriteString("# TYPE http_request_duration_seconds histogram\n")
	durationKeys := make([]string, 0, len(r.durations))
	for key := range r.durations {
		durationKeys = append(durationKeys, key)
	}
	sort.Strings(durationKeys)
	for _, key := range durationKeys {
		h := r.durations[key]
		for i, bound := range durationBuckets {
			fmt.Fprintf(&sb, "http_request_duration_seconds_bucket{%s,le=\"%g\"} %d\n", key, bound, h.counts[i])
		}
		fmt.Fprintf(&sb, "http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", key, h.total)
		fmt.Fprintf(&sb, "http_request_duration_seconds_sum{%s} %g\n", key, h.sum)
		fmt.Fprintf(&sb, "http_request_duration_seconds_count{%s} %d\n", key, h.total)
	}

	sb.WriteString("# HELP document_ingestion_total Finished document ingestions by outcome.\n")
	sb.WriteString("# TYPE document_ingestion_total counter\n")
	for _, outcome := range sortedKeys(r.ingestions) {
		fmt.Fprintf(&sb, "document_ingestion_total{outcome=%q} %d\n", outcome, r.ingestions[outcome])
	}

	sb.WriteString("# HELP knowledge_bases_active Enabled knowledge bases.\n")
	sb.WriteString("# TYPE knowledge_bases_active gauge\n")
	fmt.Fprintf(&sb, "knowledge_bases_active %d\n", r.activeKnowledgeBases)

	sb.WriteString("# HELP chunks_total Stored document chunks.\n")
	sb.WriteString("# TYPE chunks_total gauge\n")
	fmt.Fprintf(&sb, "chunks_total %d\n", r.totalChunks)

	return sb.String()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
