package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func newLeaseFixture(t *testing.T) (*QueueStore, *Registry, *LeaseManager) {
	t.Helper()
	db := testDB(t)
	qs := NewQueueStore(db)
	reg := NewRegistry(db)
	lm := NewLeaseManager(db, qs, reg, nil)
	return qs, reg, lm
}

func TestGrantAndRelease(t *testing.T) {
	_, _, lm := newLeaseFixture(t)
	ctx := context.Background()

	lease, err := lm.Grant(ctx, "t1", "w1", 5000, 1000)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if lease.DeadlineMs != 6000 || lease.Version != 1 {
		t.Fatalf("lease = %+v", lease)
	}

	ok, err := lm.Release(ctx, "t1", "w1", 2000)
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	// Second release finds no lease.
	ok, err = lm.Release(ctx, "t1", "w1", 2001)
	if err != nil || ok {
		t.Fatalf("double release: ok=%v err=%v", ok, err)
	}
}

func TestGrantWhileActiveFails(t *testing.T) {
	_, _, lm := newLeaseFixture(t)
	ctx := context.Background()

	if _, err := lm.Grant(ctx, "t1", "w1", 5000, 1000); err != nil {
		t.Fatalf("grant: %v", err)
	}
	_, err := lm.Grant(ctx, "t1", "w2", 5000, 2000)
	if !errors.Is(err, ErrAlreadyLeased) {
		t.Fatalf("expected ErrAlreadyLeased, got %v", err)
	}
	// After the deadline, a new grant succeeds with a bumped version.
	lease, err := lm.Grant(ctx, "t1", "w2", 5000, 7000)
	if err != nil {
		t.Fatalf("grant after expiry: %v", err)
	}
	if lease.Version != 2 {
		t.Fatalf("version = %d, want 2", lease.Version)
	}
}

func TestReleaseMismatchedOrExpired(t *testing.T) {
	_, _, lm := newLeaseFixture(t)
	ctx := context.Background()

	if _, err := lm.Grant(ctx, "t1", "w1", 5000, 1000); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// Wrong worker and expired lease both report plain false.
	if ok, _ := lm.Release(ctx, "t1", "w2", 2000); ok {
		t.Fatal("release by wrong worker should fail")
	}
	if ok, _ := lm.Release(ctx, "t1", "w1", 6000); ok {
		t.Fatal("release after deadline should fail")
	}
	// The expired lease is still on disk for the sweeper to reclaim.
	if _, held, _ := lm.read("t1"); !held {
		t.Fatal("expired lease should remain until reclaimed")
	}
}

func enqueueTask(t *testing.T, qs *QueueStore, reg *Registry, taskType, domain, id string, nowMs int64) {
	t.Helper()
	ctx := context.Background()
	rec := &TaskRecord{TaskID: id, TaskType: taskType, Domain: domain, Payload: json.RawMessage(`{}`)}
	if err := reg.Create(ctx, rec, nowMs); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	if err := qs.Enqueue(ctx, taskType, domain, id, nowMs); err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func TestReclaimExpiredRequeuesAtTail(t *testing.T) {
	qs, reg, lm := newLeaseFixture(t)
	ctx := context.Background()

	enqueueTask(t, qs, reg, "encode", "d1", "t1", 1000)
	enqueueTask(t, qs, reg, "encode", "d1", "t2", 1001)

	id, _, _ := qs.DequeueOldest(ctx, "encode", "d1")
	if id != "t1" {
		t.Fatalf("dequeued %s, want t1", id)
	}
	if _, err := lm.Grant(ctx, id, "w1", 1000, 2000); err != nil {
		t.Fatalf("grant: %v", err)
	}
	_ = reg.SetInProgress(ctx, id, "w1", 3000, 2000)

	// Before the deadline nothing is reclaimed.
	n, err := lm.ReclaimExpired(ctx, 2500, 0)
	if err != nil || n != 0 {
		t.Fatalf("early reclaim: n=%d err=%v", n, err)
	}

	n, err = lm.ReclaimExpired(ctx, 3500, 0)
	if err != nil || n != 1 {
		t.Fatalf("reclaim: n=%d err=%v", n, err)
	}

	rec, err := reg.Get("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != StateScheduled || rec.LeaseDeadlineMs != 0 {
		t.Fatalf("record after reclaim = %+v", rec)
	}

	// t1 went to the tail, behind t2.
	first, _, _ := qs.DequeueOldest(ctx, "encode", "d1")
	second, _, _ := qs.DequeueOldest(ctx, "encode", "d1")
	if first != "t2" || second != "t1" {
		t.Fatalf("order after reclaim: %s, %s", first, second)
	}
}

func TestReclaimSkipsReleasedLease(t *testing.T) {
	qs, reg, lm := newLeaseFixture(t)
	ctx := context.Background()

	enqueueTask(t, qs, reg, "encode", "d1", "t1", 1000)
	_, _, _ = qs.DequeueOldest(ctx, "encode", "d1")
	if _, err := lm.Grant(ctx, "t1", "w1", 1000, 2000); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, _ := lm.Release(ctx, "t1", "w1", 2500); !ok {
		t.Fatal("release failed")
	}

	// Exactly one of ack-release and expiry-requeue wins; release already
	// did, so the sweep finds nothing.
	n, err := lm.ReclaimExpired(ctx, 5000, 0)
	if err != nil || n != 0 {
		t.Fatalf("reclaim after release: n=%d err=%v", n, err)
	}
	if queued, _ := qs.IsQueued("t1"); queued {
		t.Fatal("released task must not be requeued")
	}
}

func TestReclaimSkipsRegrantedLease(t *testing.T) {
	qs, reg, lm := newLeaseFixture(t)
	ctx := context.Background()

	enqueueTask(t, qs, reg, "encode", "d1", "t1", 1000)
	_, _, _ = qs.DequeueOldest(ctx, "encode", "d1")
	if _, err := lm.Grant(ctx, "t1", "w1", 1000, 2000); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// The first lease expires and a second worker claims the task before the
	// sweeper runs. The stale index row must not cancel the new lease.
	if _, err := lm.Grant(ctx, "t1", "w2", 10_000, 4000); err != nil {
		t.Fatalf("regrant: %v", err)
	}

	n, err := lm.ReclaimExpired(ctx, 4500, 0)
	if err != nil || n != 0 {
		t.Fatalf("reclaim with live regrant: n=%d err=%v", n, err)
	}
	lease, held, _ := lm.Active("t1", 4500)
	if !held || lease.WorkerID != "w2" {
		t.Fatalf("active lease = %+v held=%v", lease, held)
	}
}

func TestReclaimSkipsTerminalTask(t *testing.T) {
	qs, reg, lm := newLeaseFixture(t)
	ctx := context.Background()

	enqueueTask(t, qs, reg, "encode", "d1", "t1", 1000)
	_, _, _ = qs.DequeueOldest(ctx, "encode", "d1")
	if _, err := lm.Grant(ctx, "t1", "w1", 1000, 2000); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := reg.Complete(ctx, "t1", nil, StateCompleted, "w1", 2500); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := lm.ReclaimExpired(ctx, 5000, 0); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if queued, _ := qs.IsQueued("t1"); queued {
		t.Fatal("completed task must not be requeued")
	}
	rec, _ := reg.Get("t1")
	if rec.State != StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", rec.State)
	}
}

func TestDiscardRemovesLease(t *testing.T) {
	_, _, lm := newLeaseFixture(t)
	ctx := context.Background()

	if _, err := lm.Grant(ctx, "t1", "w1", 5000, 1000); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := lm.Discard(ctx, "t1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, held, _ := lm.Active("t1", 2000); held {
		t.Fatal("lease should be gone after discard")
	}
	// Discard on an unleased id is a no-op.
	if err := lm.Discard(ctx, "t1"); err != nil {
		t.Fatalf("second discard: %v", err)
	}
}
