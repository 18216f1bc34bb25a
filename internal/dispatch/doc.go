// Package dispatch fans normalized status events out to per-entity callbacks,
// process-wide subscribers, and pluggable sinks. Per-entity and process-wide
// delivery is synchronous so callers observe a terminal status before the
// watcher that produced it is torn down; sink delivery is buffered on a
// background goroutine and never blocks the dispatching caller.
package dispatch
