package taskqueue

import (
	"context"
	"testing"
)

func TestPollDataRecordAndList(t *testing.T) {
	ps := NewPollDataStore(testDB(t))
	ctx := context.Background()

	if _, ok, err := ps.Get("encode", "d1"); err != nil || ok {
		t.Fatalf("unpolled queue: ok=%v err=%v", ok, err)
	}

	_ = ps.Record(ctx, "encode", "d1", "w1", 1000)
	_ = ps.Record(ctx, "encode", "d2", "w2", 2000)
	// Later poll overwrites.
	_ = ps.Record(ctx, "encode", "d1", "w3", 3000)

	pd, ok, err := ps.Get("encode", "d1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if pd.WorkerID != "w3" || pd.LastPollTime != 3000 {
		t.Fatalf("poll data = %+v", pd)
	}

	all, err := ps.List("encode")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2", len(all))
	}
}
