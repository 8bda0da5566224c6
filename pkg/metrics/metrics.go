// Package metrics is the reference for the Prometheus metrics exported by
// pagefetch. Metrics are defined in their own packages (pagination,
// transport, ratelimit) via promauto to keep those packages independent.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by pagefetch.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Prefix is shared by every pagefetch metric name.
const Prefix = "pagefetch_"

// Metrics Documentation
//
// Controller Metrics (pkg/pagination):
//   - pagefetch_triggers_total{action} (Counter): Triggers accepted into the debounce window
//   - pagefetch_triggers_dropped_total{action} (Counter): Debounced triggers dropped while a fetch was loading
//   - pagefetch_fetches_total{action, outcome} (Counter): Completed fetch cycles by outcome (success, failure)
//   - pagefetch_fetch_duration_seconds{action} (Histogram): Transport call duration per fetch cycle
//
// Transport Metrics (pkg/transport):
//   - pagefetch_transport_requests_total{operation, status} (Counter): Backend requests by operation and HTTP status
//   - pagefetch_transport_request_duration_seconds{operation} (Histogram): Backend request duration
//   - pagefetch_transport_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Error Budget Metrics (pkg/ratelimit):
//   - pagefetch_backend_errors_remaining (Gauge): Errors remaining in the backend budget window
//   - pagefetch_rate_limit_blocks_total (Counter): Requests blocked on a critical budget
//   - pagefetch_rate_limit_throttles_total (Counter): Requests delayed on a low budget
//
// Example Prometheus Queries:
//
//   # Dropped trigger ratio
//   sum(rate(pagefetch_triggers_dropped_total[5m])) / sum(rate(pagefetch_triggers_total[5m]))
//
//   # Fetch failure rate
//   rate(pagefetch_fetches_total{outcome="failure"}[5m])
//
//   # P95 backend latency
//   histogram_quantile(0.95, rate(pagefetch_transport_request_duration_seconds_bucket[5m]))
//
//   # Error budget status
//   pagefetch_backend_errors_remaining < 20

// Summary gathers the pagefetch families from g and folds each into one
// number: counters and gauges are summed over their label sets, histograms
// report their total sample count.
func Summary(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, Prefix) {
			continue
		}

		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[name] = total
	}

	return out, nil
}

// WriteSummary writes Summary(g) as sorted "name value" lines.
func WriteSummary(w io.Writer, g prometheus.Gatherer) error {
	summary, err := Summary(g)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s %g\n", name, summary[name]); err != nil {
			return err
		}
	}
	return nil
}
