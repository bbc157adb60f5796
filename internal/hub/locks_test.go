package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"annotext/collab/internal/protocol"
)

func TestAcquireIsExclusive(t *testing.T) {
	h := newTestHub()
	a, _ := joinAs(t, h, "alice", "doc1")
	b, _ := joinAs(t, h, "bob", "doc1")

	if _, err := h.Acquire(a.ID, "ann1"); err != nil {
		t.Fatalf("alice acquire: %v", err)
	}
	_, err := h.Acquire(b.ID, "ann1")
	var conflict *LockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected LockConflictError, got %v", err)
	}
	if conflict.Holder != "alice" {
		t.Fatalf("conflict holder = %q, want alice", conflict.Holder)
	}
}

func TestReacquireByHolderIsIdempotent(t *testing.T) {
	h := newTestHub()
	a, _ := joinAs(t, h, "alice", "doc1")

	first, err := h.Acquire(a.ID, "ann1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := h.Acquire(a.ID, "ann1")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if !second.AcquiredAt.After(first.AcquiredAt) {
		t.Fatalf("re-acquire did not refresh the lease")
	}
}

func TestReleaseByNonHolderIsRejected(t *testing.T) {
	h := newTestHub()
	a, _ := joinAs(t, h, "alice", "doc1")
	b, _ := joinAs(t, h, "bob", "doc1")

	if _, err := h.Acquire(a.ID, "ann1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := h.Release(b.ID, "ann1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := h.Release(b.ID, "never-locked"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("releasing an absent lock must be rejected, got %v", err)
	}
	if err := h.Release(a.ID, "ann1"); err != nil {
		t.Fatalf("holder release: %v", err)
	}
}

func TestLockEventsReachRoomNotActor(t *testing.T) {
	h := newTestHub()
	a, as := joinAs(t, h, "alice", "doc1")
	_, bs := joinAs(t, h, "bob", "doc1")

	if _, err := h.Acquire(a.ID, "ann1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	waitFor(t, hasType(bs, protocol.TypeAnnotationLocked))
	for _, m := range as.messages() {
		if m.Type == protocol.TypeAnnotationLocked {
			t.Fatalf("actor received its own lock broadcast")
		}
	}
}

func TestLocksInIsRoomScoped(t *testing.T) {
	h := newTestHub()
	a, _ := joinAs(t, h, "alice", "doc1")
	b, _ := joinAs(t, h, "bob", "doc2")

	if _, err := h.Acquire(a.ID, "ann1"); err != nil {
		t.Fatalf("acquire ann1: %v", err)
	}
	if _, err := h.Acquire(b.ID, "ann2"); err != nil {
		t.Fatalf("acquire ann2: %v", err)
	}

	locks := h.LocksIn("doc1")
	if len(locks) != 1 || locks["ann1"] != "alice" {
		t.Fatalf("doc1 locks = %v", locks)
	}
}

// Full walk of the collaboration scenario: A locks, B is denied, A
// disconnects, B observes unlock before presence_left and can then lock.
func TestDisconnectReleasesLocksInOrder(t *testing.T) {
	h := newTestHub()
	a, _ := joinAs(t, h, "alice", "doc1")
	b, bs := joinAs(t, h, "bob", "doc1")

	if _, err := h.Acquire(a.ID, "ann1"); err != nil {
		t.Fatalf("alice acquire: %v", err)
	}
	if _, err := h.Acquire(b.ID, "ann1"); err == nil {
		t.Fatalf("bob acquire should be denied")
	}

	h.Remove(a.ID)

	waitFor(t, hasType(bs, protocol.TypePresenceLeft))
	unlockIdx, leftIdx := -1, -1
	for i, typ := range bs.types() {
		switch typ {
		case protocol.TypeAnnotationUnlocked:
			unlockIdx = i
		case protocol.TypePresenceLeft:
			leftIdx = i
		}
	}
	if unlockIdx == -1 {
		t.Fatalf("bob never observed annotation_unlocked")
	}
	if unlockIdx > leftIdx {
		t.Fatalf("presence_left delivered before annotation_unlocked (unlock=%d, left=%d)", unlockIdx, leftIdx)
	}

	if _, err := h.Acquire(b.ID, "ann1"); err != nil {
		t.Fatalf("bob acquire after alice left: %v", err)
	}
}

func TestExpiredLeaseReleasesThroughNormalPath(t *testing.T) {
	h := New(Options{QueueSize: 16, WriteTimeout: time.Second, LockTTL: 10 * time.Millisecond})
	a, as := joinAs(t, h, "alice", "doc1")

	if _, err := h.Acquire(a.ID, "ann1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	h.ExpireLeases(time.Now().UTC())

	if locks := h.LocksIn("doc1"); len(locks) != 0 {
		t.Fatalf("lease not expired: %v", locks)
	}
	// Expiry notifies the holder too.
	waitFor(t, hasType(as, protocol.TypeAnnotationUnlocked))
}

// Single-writer invariant under contention: many goroutines race for
// the same annotation; at most one distinct identity may hold it at any
// time and every handoff goes through a release.
func TestConcurrentAcquireSingleWriter(t *testing.T) {
	h := newTestHub()
	conns := make([]*Conn, 8)
	for i := range conns {
		c, _ := joinAs(t, h, string(rune('a'+i)), "doc1")
		conns[i] = c
	}

	var wg sync.WaitGroup
	wins := make(chan string, len(conns))
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if _, err := h.Acquire(c.ID, "ann1"); err == nil {
				info, _ := h.Get(c.ID)
				wins <- info.Identity
			}
		}(c)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner without a release, got %v", winners)
	}
	if holder := h.LocksIn("doc1")["ann1"]; holder != winners[0] {
		t.Fatalf("lock table holder %q != winner %q", holder, winners[0])
	}
}
