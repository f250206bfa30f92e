// Package metrics exposes Prometheus metrics for controller exchanges, hub
// polling and the bridge API.
package metrics
