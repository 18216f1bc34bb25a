// Package sinks provides the process-wide consumers of dispatched status
// events: structured logging, Prometheus metrics, and durable transition
// history.
package sinks
