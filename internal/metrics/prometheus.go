package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All counters are published as a single metric with an `event` label, which
// keeps the in-process registry trivial while remaining scrapeable.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		events := make([]string, 0, len(snap))
		for event := range snap {
			events = append(events, event)
		}
		sort.Strings(events)

		escaper := strings.NewReplacer("\\", "\\\\", "\"", "\\\"")

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprintln(w, "# HELP peerlink_broker_events_total Internal broker event counters.")
		fmt.Fprintln(w, "# TYPE peerlink_broker_events_total counter")
		for _, event := range events {
			fmt.Fprintf(w, "peerlink_broker_events_total{event=\"%s\"} %d\n", escaper.Replace(event), snap[event])
		}
	})
}
