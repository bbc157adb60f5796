// Package conflict implements optimistic concurrency control over
// annotation changes. The lock manager covers the common case with
// explicit leases; this resolver is the safety net for writes that
// bypass or outlive a lease, comparing base versions instead of
// pre-acquiring anything.
package conflict

import (
	"errors"
	"time"
)

// Resolution strategies.
const (
	StrategyLastWriteWins = "last-write-wins"
	StrategyMerge         = "merge"
	StrategyManual        = "manual"
)

// Record statuses.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
)

var (
	ErrUnknownConflict       = errors.New("unknown conflict id")
	ErrAlreadyResolved       = errors.New("conflict already resolved")
	ErrUnknownStrategy       = errors.New("unknown resolution strategy")
	ErrManualPayloadRequired = errors.New("manual resolution requires a payload")
)

// Record captures one detected conflict: a proposal whose base version
// no longer matched when it arrived. Status only ever moves from
// pending to resolved.
type Record struct {
	ID             string         `json:"id"`
	AnnotationID   string         `json:"annotation_id"`
	RoomID         string         `json:"room_id"`
	Proposer       string         `json:"proposer"`
	ProposedChange map[string]any `json:"proposed_change"`
	BaseVersion    int64          `json:"base_version"`
	CurrentVersion int64          `json:"current_version"`
	DetectedAt     time.Time      `json:"detected_at"`
	Status         string         `json:"status"`
	Resolution     *Resolution    `json:"resolution,omitempty"`
}

// Resolution records how a conflict was settled and the payload that
// came out of it.
type Resolution struct {
	Strategy   string         `json:"strategy"`
	Payload    map[string]any `json:"payload"`
	Version    int64          `json:"version"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// Outcome is the result of a proposal: either applied with the new
// version, or rejected with the conflict record that was opened.
type Outcome struct {
	Applied  bool
	Version  int64
	Conflict *Record
}
