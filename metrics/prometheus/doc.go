// Package prometheus exports nodedb operational metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	db, err := nodedb.New(nodedb.WithMetricsCollector(nodedbprom.NewCollector(reg)))
//
// All metric names share the namespace given by WithNamespace, "nodedb"
// by default.
package prometheus
