// Package main implements the SolarEdge optimizer Prometheus exporter.
//
// The exporter logs in to the SolarEdge monitoring portal and polls the
// per-optimizer readings of one site every minute (configurable). Fresh
// readings are exported as power, current and voltage gauges; readings older
// than the staleness threshold have those series removed. Metrics are served
// on port 8083 (configurable).
package main
