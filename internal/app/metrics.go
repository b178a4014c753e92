package app

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ingressRejectReasonOrder fixes the label order in the metrics output so
// scrapes stay diff-friendly.
var ingressRejectReasonOrder = []string{
	"auth",
	"method",
	"policy",
	"validation",
}

type runtimeMetrics struct {
	tracingEnabled           atomic.Int64
	tracingInitFailuresTotal atomic.Int64
	tracingExportErrorsTotal atomic.Int64

	// Ingress counters
	updatesAcceptedTotal atomic.Int64
	updatesRejectedTotal atomic.Int64
	rejectMu             sync.Mutex
	rejectByReason       map[string]int64

	// Conversation counters
	unknownCommandsTotal atomic.Int64
	userErrorsTotal      atomic.Int64
	runtimeErrorsTotal   atomic.Int64

	// Store counters
	dbMu             sync.Mutex
	dbFailuresByKind map[string]int64

	// Provider counters
	providerMu             sync.Mutex
	providerErrorsByStatus map[string]int64

	// Prune reaper counters
	onlineChatsPrunedTotal   atomic.Int64
	onlinePruneRunsTotal     atomic.Int64
	onlinePruneFailuresTotal atomic.Int64
}

func newRuntimeMetrics() *runtimeMetrics {
	m := &runtimeMetrics{
		rejectByReason:         make(map[string]int64),
		dbFailuresByKind:       make(map[string]int64),
		providerErrorsByStatus: make(map[string]int64),
	}
	for _, reason := range ingressRejectReasonOrder {
		m.rejectByReason[reason] = 0
	}
	return m
}

func (m *runtimeMetrics) setTracingEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.tracingEnabled.Store(1)
		return
	}
	m.tracingEnabled.Store(0)
}

func (m *runtimeMetrics) incTracingInitFailures() {
	if m == nil {
		return
	}
	m.tracingInitFailuresTotal.Add(1)
}

func (m *runtimeMetrics) incTracingExportErrors() {
	if m == nil {
		return
	}
	m.tracingExportErrorsTotal.Add(1)
}

func (m *runtimeMetrics) observeUpdateResult(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.updatesAcceptedTotal.Add(1)
		return
	}
	m.updatesRejectedTotal.Add(1)
}

func (m *runtimeMetrics) observeUpdateReject(_ int, reason string) {
	if m == nil {
		return
	}
	m.rejectMu.Lock()
	m.rejectByReason[reason]++
	m.rejectMu.Unlock()
}

func (m *runtimeMetrics) incUnknownCommands() {
	if m == nil {
		return
	}
	m.unknownCommandsTotal.Add(1)
}

func (m *runtimeMetrics) incUserErrors() {
	if m == nil {
		return
	}
	m.userErrorsTotal.Add(1)
}

func (m *runtimeMetrics) incRuntimeErrors() {
	if m == nil {
		return
	}
	m.runtimeErrorsTotal.Add(1)
}

func (m *runtimeMetrics) observeDBFailure(kind string) {
	if m == nil {
		return
	}
	m.dbMu.Lock()
	m.dbFailuresByKind[kind]++
	m.dbMu.Unlock()
}

// observeProviderError buckets weather API errors by status class, so a
// scrape distinguishes quota problems from provider outages.
func (m *runtimeMetrics) observeProviderError(status int) {
	if m == nil {
		return
	}
	class := "other"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	}
	m.providerMu.Lock()
	m.providerErrorsByStatus[class]++
	m.providerMu.Unlock()
}

func (m *runtimeMetrics) observePrune(pruned int64, err error) {
	if m == nil {
		return
	}
	m.onlinePruneRunsTotal.Add(1)
	if err != nil {
		m.onlinePruneFailuresTotal.Add(1)
		return
	}
	m.onlineChatsPrunedTotal.Add(pruned)
}

func (m *runtimeMetrics) rejectSnapshot() map[string]int64 {
	m.rejectMu.Lock()
	defer m.rejectMu.Unlock()
	out := make(map[string]int64, len(m.rejectByReason))
	for k, v := range m.rejectByReason {
		out[k] = v
	}
	return out
}

func (m *runtimeMetrics) dbSnapshot() map[string]int64 {
	m.dbMu.Lock()
	defer m.dbMu.Unlock()
	out := make(map[string]int64, len(m.dbFailuresByKind))
	for k, v := range m.dbFailuresByKind {
		out[k] = v
	}
	return out
}

func (m *runtimeMetrics) providerSnapshot() map[string]int64 {
	m.providerMu.Lock()
	defer m.providerMu.Unlock()
	out := make(map[string]int64, len(m.providerErrorsByStatus))
	for k, v := range m.providerErrorsByStatus {
		out[k] = v
	}
	return out
}

func newMetricsHandler(version string, start time.Time, rm *runtimeMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprintf(w, "# HELP weathergram_up Whether the weathergram process is up.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_up gauge\n")
		_, _ = fmt.Fprintf(w, "weathergram_up 1\n")
		_, _ = fmt.Fprintf(w, "# HELP weathergram_build_info Build information.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_build_info gauge\n")
		_, _ = fmt.Fprintf(w, "weathergram_build_info{version=%q} 1\n", version)
		_, _ = fmt.Fprintf(w, "# HELP weathergram_start_time_seconds Start time since unix epoch.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_start_time_seconds gauge\n")
		_, _ = fmt.Fprintf(w, "weathergram_start_time_seconds %d\n", start.Unix())

		if rm == nil {
			return
		}

		_, _ = fmt.Fprintf(w, "# HELP weathergram_tracing_enabled Whether tracing is enabled.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_tracing_enabled gauge\n")
		_, _ = fmt.Fprintf(w, "weathergram_tracing_enabled %d\n", rm.tracingEnabled.Load())
		_, _ = fmt.Fprintf(w, "# HELP weathergram_tracing_init_failures_total Total number of tracing initialization failures.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_tracing_init_failures_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_tracing_init_failures_total %d\n", rm.tracingInitFailuresTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP weathergram_tracing_export_errors_total Total number of tracing exporter errors.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_tracing_export_errors_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_tracing_export_errors_total %d\n", rm.tracingExportErrorsTotal.Load())

		_, _ = fmt.Fprintf(w, "# HELP weathergram_updates_accepted_total Total number of webhook updates accepted for processing.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_updates_accepted_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_updates_accepted_total %d\n", rm.updatesAcceptedTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP weathergram_updates_rejected_total Total number of webhook updates rejected at the door.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_updates_rejected_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_updates_rejected_total %d\n", rm.updatesRejectedTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP weathergram_updates_rejected_by_reason_total Webhook update rejections by reason.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_updates_rejected_by_reason_total counter\n")
		rejects := rm.rejectSnapshot()
		for _, reason := range sortedKeys(rejects) {
			_, _ = fmt.Fprintf(w, "weathergram_updates_rejected_by_reason_total{reason=%q} %d\n", reason, rejects[reason])
		}

		_, _ = fmt.Fprintf(w, "# HELP weathergram_unknown_commands_total Total number of unrecognized commands.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_unknown_commands_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_unknown_commands_total %d\n", rm.unknownCommandsTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP weathergram_user_errors_total Total number of user inputs answered with a correction prompt.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_user_errors_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_user_errors_total %d\n", rm.userErrorsTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP weathergram_runtime_errors_total Total number of internal faults while handling updates.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_runtime_errors_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_runtime_errors_total %d\n", rm.runtimeErrorsTotal.Load())

		_, _ = fmt.Fprintf(w, "# HELP weathergram_db_failures_total Failed database attempts by failure kind.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_db_failures_total counter\n")
		db := rm.dbSnapshot()
		for _, kind := range sortedKeys(db) {
			_, _ = fmt.Fprintf(w, "weathergram_db_failures_total{kind=%q} %d\n", kind, db[kind])
		}

		_, _ = fmt.Fprintf(w, "# HELP weathergram_provider_errors_total Weather API errors by status class.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_provider_errors_total counter\n")
		provider := rm.providerSnapshot()
		for _, class := range sortedKeys(provider) {
			_, _ = fmt.Fprintf(w, "weathergram_provider_errors_total{class=%q} %d\n", class, provider[class])
		}

		_, _ = fmt.Fprintf(w, "# HELP weathergram_online_prune_runs_total Total number of online-table prune runs.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_online_prune_runs_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_online_prune_runs_total %d\n", rm.onlinePruneRunsTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP weathergram_online_prune_failures_total Total number of failed prune runs.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_online_prune_failures_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_online_prune_failures_total %d\n", rm.onlinePruneFailuresTotal.Load())
		_, _ = fmt.Fprintf(w, "# HELP weathergram_online_chats_pruned_total Total number of stale online rows removed.\n")
		_, _ = fmt.Fprintf(w, "# TYPE weathergram_online_chats_pruned_total counter\n")
		_, _ = fmt.Fprintf(w, "weathergram_online_chats_pruned_total %d\n", rm.onlineChatsPrunedTotal.Load())
	})
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
