// Package watch implements the entity status monitoring core: per-entity
// watchers that receive status updates over a change feed with automatic
// fallback to polling, a registry that owns watcher lifecycles, and a
// reconciliation sweeper that bounds staleness regardless of either fast
// path's health.
//
// All watcher state is confined to the registry's single event-loop
// goroutine. Feed callbacks, poll results, and reconciliation results are
// posted onto that loop as tasks, so observations are applied strictly in
// arrival order and teardown always runs before any later-scheduled callback
// for the same watcher.
package watch
