// Package collector implements the Prometheus side of the SolarEdge exporter.
//
// OptimizerCollector keeps the current optimizer series keyed by their label
// tuple and exposes them on every scrape. Poller runs the poll cycle: it
// fetches the site layout and lifetime energy, fetches each optimizer's
// reading one at a time, and sets or removes series depending on how old the
// reading is.
package collector
