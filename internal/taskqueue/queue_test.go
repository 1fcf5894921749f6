package taskqueue

import (
	"context"
	"errors"
	"testing"

	pebblestore "github.com/rzbill/tasq/internal/storage/pebble"
)

func testDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestQueueFIFOOrder(t *testing.T) {
	qs := NewQueueStore(testDB(t))
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		if err := qs.Enqueue(ctx, "encode", "d1", id, 1000); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	for _, want := range []string{"t1", "t2", "t3"} {
		got, ok, err := qs.DequeueOldest(ctx, "encode", "d1")
		if err != nil || !ok {
			t.Fatalf("dequeue: ok=%v err=%v", ok, err)
		}
		if got != want {
			t.Fatalf("dequeue order: got %s, want %s", got, want)
		}
	}

	if _, ok, err := qs.DequeueOldest(ctx, "encode", "d1"); err != nil || ok {
		t.Fatalf("empty queue: ok=%v err=%v", ok, err)
	}
}

func TestEnqueueDuplicateRejected(t *testing.T) {
	qs := NewQueueStore(testDB(t))
	ctx := context.Background()

	if err := qs.Enqueue(ctx, "encode", "d1", "t1", 1000); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	err := qs.Enqueue(ctx, "encode", "d1", "t1", 1001)
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	// Same id in a different queue is also rejected.
	err = qs.Enqueue(ctx, "encode", "d2", "t1", 1002)
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued across queues, got %v", err)
	}
}

func TestQueueSizes(t *testing.T) {
	qs := NewQueueStore(testDB(t))
	ctx := context.Background()

	_ = qs.Enqueue(ctx, "encode", "d1", "t1", 1000)
	_ = qs.Enqueue(ctx, "encode", "d1", "t2", 1001)
	_ = qs.Enqueue(ctx, "encode", "d2", "t3", 1002)
	_ = qs.Enqueue(ctx, "transcode", "d1", "t4", 1003)

	if n, _ := qs.Size("encode", "d1"); n != 2 {
		t.Fatalf("size encode/d1 = %d, want 2", n)
	}
	if n, _ := qs.SizeForType("encode"); n != 3 {
		t.Fatalf("size for type encode = %d, want 3", n)
	}
	if n, _ := qs.SizeForType("unknown"); n != 0 {
		t.Fatalf("size for unknown type = %d, want 0", n)
	}

	if _, ok, _ := qs.DequeueOldest(ctx, "encode", "d1"); !ok {
		t.Fatal("dequeue failed")
	}
	if n, _ := qs.SizeForType("encode"); n != 2 {
		t.Fatalf("size after dequeue = %d, want 2", n)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	qs := NewQueueStore(testDB(t))
	ctx := context.Background()

	// Removing an id never enqueued is a no-op, not an error.
	removed, err := qs.Remove(ctx, "encode", "ghost")
	if err != nil || removed {
		t.Fatalf("remove absent: removed=%v err=%v", removed, err)
	}

	_ = qs.Enqueue(ctx, "encode", "d1", "t1", 1000)
	_ = qs.Enqueue(ctx, "encode", "d1", "t2", 1001)

	removed, err = qs.Remove(ctx, "encode", "t1")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	if n, _ := qs.Size("encode", "d1"); n != 1 {
		t.Fatalf("size after remove = %d, want 1", n)
	}

	// t1 is gone; the head is now t2.
	got, ok, _ := qs.DequeueOldest(ctx, "encode", "d1")
	if !ok || got != "t2" {
		t.Fatalf("dequeue after remove: got %q ok=%v", got, ok)
	}

	// Remove under the wrong type leaves the entry alone.
	_ = qs.Enqueue(ctx, "encode", "d1", "t3", 1002)
	removed, _ = qs.Remove(ctx, "transcode", "t3")
	if removed {
		t.Fatal("remove with wrong type should be a no-op")
	}
	if queued, _ := qs.IsQueued("t3"); !queued {
		t.Fatal("t3 should still be queued")
	}
}

func TestRemoveAfterRequeue(t *testing.T) {
	qs := NewQueueStore(testDB(t))
	ctx := context.Background()

	_ = qs.Enqueue(ctx, "encode", "d1", "t1", 1000)
	if _, ok, _ := qs.DequeueOldest(ctx, "encode", "d1"); !ok {
		t.Fatal("dequeue failed")
	}
	// The id re-enters at a new sequence; Remove must delete the current
	// entry, not the position it held before.
	if err := qs.Enqueue(ctx, "encode", "d1", "t1", 2000); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	removed, err := qs.Remove(ctx, "encode", "t1")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	if queued, _ := qs.IsQueued("t1"); queued {
		t.Fatal("t1 still queued after remove")
	}
	if n, _ := qs.Size("encode", "d1"); n != 0 {
		t.Fatalf("size = %d, want 0", n)
	}
	if _, ok, _ := qs.DequeueOldest(ctx, "encode", "d1"); ok {
		t.Fatal("orphaned entry left in queue")
	}
	// Same id in a different domain afterwards still works.
	if err := qs.Enqueue(ctx, "encode", "d2", "t1", 3000); err != nil {
		t.Fatalf("enqueue after remove: %v", err)
	}
}

func TestRequeuePreservesArrivalOrder(t *testing.T) {
	qs := NewQueueStore(testDB(t))
	ctx := context.Background()

	_ = qs.Enqueue(ctx, "encode", "d1", "t1", 1000)
	_ = qs.Enqueue(ctx, "encode", "d1", "t2", 1001)

	id, _, _ := qs.DequeueOldest(ctx, "encode", "d1")
	if id != "t1" {
		t.Fatalf("head = %s, want t1", id)
	}
	// Requeued work goes to the tail, behind t2.
	if err := qs.Enqueue(ctx, "encode", "d1", "t1", 2000); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	id, _, _ = qs.DequeueOldest(ctx, "encode", "d1")
	if id != "t2" {
		t.Fatalf("head after requeue = %s, want t2", id)
	}
	id, _, _ = qs.DequeueOldest(ctx, "encode", "d1")
	if id != "t1" {
		t.Fatalf("tail after requeue = %s, want t1", id)
	}
}
