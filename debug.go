package unwind

import (
	"encoding/json"
	"net/http"
)

// TraceeStats is the JSON shape returned by Manager.ServeHTTP for one
// tracee: cache size/generation and queue depth, the operator-visible
// analogue of original_source/unwind.c's DPRINTF debug macro (which logs
// "gen=%u, GEN=%u, tcp=%p, cache=%p" but never exposes it outside a debug
// build).
type TraceeStats struct {
	PID               int    `json:"pid"`
	CacheEntries      int    `json:"cache_entries"`
	CacheGeneration   uint32 `json:"cache_generation"`
	CurrentGeneration uint32 `json:"current_generation"`
	QueueDepth        int    `json:"queue_depth"`
}

// Stats reports t's current cache/queue state without mutating it
// (unlike ensureCache, it does not drop a stale cache or build one that
// isn't there: this is purely observational).
func (m *Manager) Stats(t *Tracee) TraceeStats {
	depth := 0
	for line := t.queue.head; line != nil; line = line.next {
		depth++
	}
	return TraceeStats{
		PID:               t.PID,
		CacheEntries:      len(t.cache.clone()),
		CacheGeneration:   t.cache.generation,
		CurrentGeneration: m.generation,
		QueueDepth:        depth,
	}
}

// ServeHTTP exposes the stats for a fixed set of tracees as JSON, grounded
// on the teacher's ProfilerListener.ServeHTTP in http.go. It takes an
// explicit tracee list rather than owning a registry of tracees, since
// spec §5 says there is "no global mutable container of tracees — the
// tracer iterates its own".
func (m *Manager) ServeHTTP(tracees []*Tracee) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := make([]TraceeStats, len(tracees))
		for i, t := range tracees {
			stats[i] = m.Stats(t)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
