package entity

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a tracked entity's analysis job.
type Status string

// Status values reported by the status backend.
const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Known reports whether s is one of the statuses the backend may emit.
func (s Status) Known() bool {
	switch s {
	case StatusQueued, StatusActive, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends the entity's job lifecycle. Observing a
// terminal status stops monitoring for the entity.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Rank orders statuses along the lifecycle (queued < active < terminal).
// A transition to a lower rank is a regression in backend data; the backend
// is still trusted as the source of truth, but regressions are logged.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusActive:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Source identifies which delivery path produced a status observation.
type Source string

// Observation sources.
const (
	SourceFeed      Source = "feed"
	SourcePoll      Source = "poll"
	SourceReconcile Source = "reconcile"
)

// StatusEvent is a normalized status observation delivered to callers. All
// sources (feed, poll, reconciliation) produce the same event shape so the
// last applied status wins deterministically.
type StatusEvent struct {
	// EntityID identifies the tracked entity.
	EntityID string
	// GroupID scopes the entity to its owning group (e.g. a workspace).
	GroupID string
	// Status is the newly observed status.
	Status Status
	// Source records which delivery path observed the status.
	Source Source
	// ObservedAt is the UTC time at which the status was observed.
	ObservedAt time.Time
}

// Validate performs coarse validation on StatusEvent payloads.
func (e StatusEvent) Validate() error {
	if e.EntityID == "" {
		return errors.New("entity id is required")
	}
	if !e.Status.Known() {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.ObservedAt.IsZero() {
		return errors.New("observation time is required")
	}
	return nil
}

// Snapshot is the result of a point-in-time status query against the backend.
type Snapshot struct {
	EntityID         string
	GroupID          string
	Status           Status
	LastTransitionAt time.Time
}
