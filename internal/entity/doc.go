// Package entity defines the core types of the status monitoring subsystem:
// the status lifecycle of a tracked entity, the normalized status events
// delivered to callers, and the interfaces of the external status backend
// this service observes.
package entity
