package taskqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/tasq/internal/storage/pebble"
)

// queueLoc records where a queued task id currently sits.
type queueLoc struct {
	TaskType string `json:"taskType"`
	Domain   string `json:"domain"`
	Seq      uint64 `json:"seq"`
}

// QueueStore is the durable FIFO of unleased task ids, keyed by
// (taskType, domain). Insertion order is arrival order; a task id appears in
// at most one queue at a time.
type QueueStore struct {
	db    *pebblestore.DB
	locks keyedMutex
}

// NewQueueStore creates a QueueStore over the given database.
func NewQueueStore(db *pebblestore.DB) *QueueStore {
	return &QueueStore{db: db}
}

func queueLockKey(taskType, domain string) string {
	return taskType + "/" + domain
}

// Enqueue appends the task id at the tail of the (taskType, domain) queue.
// Fails with ErrAlreadyQueued if the id is already present in any queue.
func (qs *QueueStore) Enqueue(ctx context.Context, taskType, domain, taskID string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	defer qs.locks.lock(queueLockKey(taskType, domain)).Unlock()

	if _, err := qs.db.Get(queueIdxKey(taskID)); err == nil {
		return fmt.Errorf("task %s: %w", taskID, ErrAlreadyQueued)
	} else if !pebblestore.IsNotFound(err) {
		return err
	}

	lastSeq, depth, err := qs.readMeta(taskType, domain)
	if err != nil {
		return err
	}
	seq := lastSeq + 1

	loc, err := json.Marshal(queueLoc{TaskType: taskType, Domain: domain, Seq: seq})
	if err != nil {
		return err
	}

	b := qs.db.NewBatch()
	defer b.Close()
	if err := b.Set(queueKey(taskType, domain, seq), []byte(taskID), nil); err != nil {
		return err
	}
	if err := b.Set(queueIdxKey(taskID), loc, nil); err != nil {
		return err
	}
	if err := b.Set(queueMetaKey(taskType, domain), encodeQueueMeta(seq, depth+1), nil); err != nil {
		return err
	}
	return qs.db.CommitBatch(ctx, b)
}

// DequeueOldest removes and returns the head of the (taskType, domain) queue.
// An empty queue returns ok=false with no error.
func (qs *QueueStore) DequeueOldest(ctx context.Context, taskType, domain string) (string, bool, error) {
	defer qs.locks.lock(queueLockKey(taskType, domain)).Unlock()

	lo, hi := keyRange(queuePrefix(taskType, domain))
	iter, err := qs.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return "", false, err
	}
	defer iter.Close()

	if !iter.First() {
		return "", false, nil
	}
	taskID := string(iter.Value())
	key := append([]byte(nil), iter.Key()...)

	lastSeq, depth, err := qs.readMeta(taskType, domain)
	if err != nil {
		return "", false, err
	}
	if depth > 0 {
		depth--
	}

	b := qs.db.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return "", false, err
	}
	if err := b.Delete(queueIdxKey(taskID), nil); err != nil {
		return "", false, err
	}
	if err := b.Set(queueMetaKey(taskType, domain), encodeQueueMeta(lastSeq, depth), nil); err != nil {
		return "", false, err
	}
	if err := qs.db.CommitBatch(ctx, b); err != nil {
		return "", false, err
	}
	return taskID, true, nil
}

// Size returns the count of queued (non-leased) ids for one (taskType, domain).
func (qs *QueueStore) Size(taskType, domain string) (int, error) {
	_, depth, err := qs.readMeta(taskType, domain)
	return int(depth), err
}

// SizeForType sums queue depth across all domains of the type. An unknown
// type reports zero.
func (qs *QueueStore) SizeForType(taskType string) (int, error) {
	lo, hi := keyRange(queueMetaTypePrefix(taskType))
	iter, err := qs.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	total := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		val := iter.Value()
		if len(val) >= 12 {
			total += int(binary.BigEndian.Uint32(val[8:12]))
		}
	}
	return total, nil
}

// Remove deletes the id from the named queue wherever it sits. Returns false
// if the id is not queued under taskType; absence is not an error.
func (qs *QueueStore) Remove(ctx context.Context, taskType, taskID string) (bool, error) {
	for {
		locBytes, err := qs.db.Get(queueIdxKey(taskID))
		if err != nil {
			if pebblestore.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		var loc queueLoc
		if err := json.Unmarshal(locBytes, &loc); err != nil {
			return false, err
		}

		mu := qs.locks.lock(queueLockKey(loc.TaskType, loc.Domain))

		// Re-read the locator under the queue lock; a concurrent dequeue may
		// have won, or a dequeue plus requeue may have moved the entry to a
		// new position (or queue). The locator that was current before the
		// lock decides nothing.
		curBytes, err := qs.db.Get(queueIdxKey(taskID))
		if err != nil {
			mu.Unlock()
			if pebblestore.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		var cur queueLoc
		if err := json.Unmarshal(curBytes, &cur); err != nil {
			mu.Unlock()
			return false, err
		}
		if cur != loc {
			mu.Unlock()
			continue
		}
		if cur.TaskType != taskType {
			mu.Unlock()
			return false, nil
		}

		removed, err := qs.removeLocked(ctx, cur, taskID)
		mu.Unlock()
		return removed, err
	}
}

// removeLocked deletes the located entry. Caller holds the queue lock.
func (qs *QueueStore) removeLocked(ctx context.Context, loc queueLoc, taskID string) (bool, error) {
	lastSeq, depth, err := qs.readMeta(loc.TaskType, loc.Domain)
	if err != nil {
		return false, err
	}
	if depth > 0 {
		depth--
	}

	b := qs.db.NewBatch()
	defer b.Close()
	if err := b.Delete(queueKey(loc.TaskType, loc.Domain, loc.Seq), nil); err != nil {
		return false, err
	}
	if err := b.Delete(queueIdxKey(taskID), nil); err != nil {
		return false, err
	}
	if err := b.Set(queueMetaKey(loc.TaskType, loc.Domain), encodeQueueMeta(lastSeq, depth), nil); err != nil {
		return false, err
	}
	if err := qs.db.CommitBatch(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

// IsQueued reports whether the task id currently sits in any queue.
func (qs *QueueStore) IsQueued(taskID string) (bool, error) {
	if _, err := qs.db.Get(queueIdxKey(taskID)); err != nil {
		if pebblestore.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// readMeta returns lastSeq and depth for a queue, zeroes if absent.
func (qs *QueueStore) readMeta(taskType, domain string) (uint64, uint32, error) {
	meta, err := qs.db.Get(queueMetaKey(taskType, domain))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	if len(meta) < 12 {
		return 0, 0, nil
	}
	return binary.BigEndian.Uint64(meta[0:8]), binary.BigEndian.Uint32(meta[8:12]), nil
}

// encodeQueueMeta packs metadata as lastSeq (8B) | depth (4B).
func encodeQueueMeta(lastSeq uint64, depth uint32) []byte {
	var meta [12]byte
	binary.BigEndian.PutUint64(meta[0:8], lastSeq)
	binary.BigEndian.PutUint32(meta[8:12], depth)
	return meta[:]
}
