package conflict

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Resolver tracks the last-seen version and payload per annotation and
// the open conflict records. It holds no transport references; callers
// broadcast outcomes themselves.
type Resolver struct {
	mu       sync.Mutex
	versions map[string]int64
	states   map[string]map[string]any
	records  map[string]*Record
}

func New() *Resolver {
	return &Resolver{
		versions: make(map[string]int64),
		states:   make(map[string]map[string]any),
		records:  make(map[string]*Record),
	}
}

// Propose applies change when base matches the last-seen version for the
// annotation, bumping the version. A mismatch opens a pending Record
// instead of silently overwriting. An annotation the resolver has never
// seen adopts the caller's base version; the authoritative history lives
// in the document store, and the first proposal after a restart seeds
// the counter.
func (r *Resolver) Propose(annotationID, roomID, identity string, change map[string]any, base int64) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, seen := r.versions[annotationID]
	if !seen {
		cur = base
		r.versions[annotationID] = base
	}
	if base != cur {
		rec := &Record{
			ID:             uuid.New().String(),
			AnnotationID:   annotationID,
			RoomID:         roomID,
			Proposer:       identity,
			ProposedChange: change,
			BaseVersion:    base,
			CurrentVersion: cur,
			DetectedAt:     time.Now().UTC(),
			Status:         StatusPending,
		}
		r.records[rec.ID] = rec
		metricConflictsDetected.Inc()
		cp := *rec
		return Outcome{Conflict: &cp}
	}
	r.applyLocked(annotationID, change, false)
	r.versions[annotationID] = cur + 1
	return Outcome{Applied: true, Version: cur + 1}
}

// Resolve settles a pending conflict with the given strategy. The
// transition is one-way: a resolved record stays resolved. The returned
// record is a copy; the archived original stays private to the resolver.
func (r *Resolver) Resolve(conflictID, strategy string, manual map[string]any) (Resolution, *Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[conflictID]
	if !ok {
		return Resolution{}, nil, ErrUnknownConflict
	}
	if rec.Status == StatusResolved {
		cp := *rec
		return Resolution{}, &cp, ErrAlreadyResolved
	}

	switch strategy {
	case StrategyLastWriteWins:
		// The winning proposal becomes the state wholesale; fields the
		// earlier change touched do not survive.
		r.applyLocked(rec.AnnotationID, rec.ProposedChange, true)
	case StrategyMerge:
		merged := mergeChange(r.states[rec.AnnotationID], rec.ProposedChange)
		r.applyLocked(rec.AnnotationID, merged, true)
	case StrategyManual:
		if manual == nil {
			cp := *rec
			return Resolution{}, &cp, ErrManualPayloadRequired
		}
		r.applyLocked(rec.AnnotationID, manual, true)
	default:
		cp := *rec
		return Resolution{}, &cp, ErrUnknownStrategy
	}

	version := r.versions[rec.AnnotationID] + 1
	r.versions[rec.AnnotationID] = version
	res := Resolution{
		Strategy:   strategy,
		Payload:    copyChange(r.states[rec.AnnotationID]),
		Version:    version,
		ResolvedAt: time.Now().UTC(),
	}
	rec.Status = StatusResolved
	rec.Resolution = &res
	metricConflictsResolved.Inc()
	cp := *rec
	return res, &cp, nil
}

// Get returns a copy of a conflict record.
func (r *Resolver) Get(conflictID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[conflictID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Version reports the last-seen version for an annotation (0 if unseen).
func (r *Resolver) Version(annotationID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions[annotationID]
}

// State returns a copy of the last applied payload for an annotation.
func (r *Resolver) State(annotationID string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyChange(r.states[annotationID])
}

// applyLocked folds change into the annotation's tracked state. replace
// swaps the whole payload (every resolution strategy produces the
// complete final state); proposals overwrite field by field.
func (r *Resolver) applyLocked(annotationID string, change map[string]any, replace bool) {
	if replace {
		r.states[annotationID] = copyChange(change)
		return
	}
	st := r.states[annotationID]
	if st == nil {
		st = make(map[string]any)
		r.states[annotationID] = st
	}
	for k, v := range change {
		st[k] = v
	}
}

func copyChange(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
