// Package metric provides the Prometheus metrics of the mirror worker.
//
//   - prometheus.go: registry, worker metrics and the /metrics handler
//   - collector.go: scrape-time collector for store information
//
// Metrics are exposed at /metrics in Prometheus format when the worker is
// started with a metrics address.
package metric
