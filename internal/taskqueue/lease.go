package taskqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/tasq/internal/storage/pebble"
	"github.com/rzbill/tasq/pkg/log"
)

// LeaseManager grants exclusive, time-bounded custody of task ids and
// guarantees eventual requeue when custody is not released. Grant, release
// and expiry for one task id are serialized; distinct ids proceed
// independently. The ack/expiry race is decided by the lease version carried
// in the deadline index: exactly one side wins.
type LeaseManager struct {
	db       *pebblestore.DB
	queues   *QueueStore
	registry *Registry
	logger   log.Logger
	locks    keyedMutex

	onReclaim func(int)

	sweepStop chan struct{}
	sweepIntv time.Duration
	sweepMax  int
}

// NewLeaseManager creates a LeaseManager that requeues expired work through
// the given queue store and registry.
func NewLeaseManager(db *pebblestore.DB, queues *QueueStore, registry *Registry, logger log.Logger) *LeaseManager {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &LeaseManager{
		db:       db,
		queues:   queues,
		registry: registry,
		logger:   logger.With(log.F("component", "lease-manager")),
	}
}

// SetReclaimObserver registers a callback invoked with the number of leases
// reclaimed on each sweep. Used for metrics wiring.
func (lm *LeaseManager) SetReclaimObserver(fn func(int)) {
	lm.onReclaim = fn
}

// Grant creates a lease for workerId lasting durationMs. Fails with
// ErrAlreadyLeased if an active lease exists for the id.
func (lm *LeaseManager) Grant(ctx context.Context, taskID, workerID string, durationMs, nowMs int64) (*Lease, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if durationMs <= 0 {
		durationMs = 30_000
	}
	defer lm.locks.lock(taskID).Unlock()

	prev, ok, err := lm.read(taskID)
	if err != nil {
		return nil, err
	}
	version := uint64(1)
	if ok {
		if prev.DeadlineMs > nowMs {
			return nil, fmt.Errorf("task %s held by %s until %d: %w", taskID, prev.WorkerID, prev.DeadlineMs, ErrAlreadyLeased)
		}
		version = prev.Version + 1
	}

	lease := &Lease{TaskID: taskID, WorkerID: workerID, DeadlineMs: nowMs + durationMs, Version: version}
	val, err := json.Marshal(lease)
	if err != nil {
		return nil, err
	}

	b := lm.db.NewBatch()
	defer b.Close()
	if ok {
		if err := b.Delete(leaseIdxKey(prev.DeadlineMs, taskID), nil); err != nil {
			return nil, err
		}
	}
	if err := b.Set(leaseKey(taskID), val, nil); err != nil {
		return nil, err
	}
	if err := b.Set(leaseIdxKey(lease.DeadlineMs, taskID), encodeVersion(version), nil); err != nil {
		return nil, err
	}
	if err := lm.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	return lease, nil
}

// Release drops the lease if it is still active and held by workerId.
// Returns false, with no error, when the lease expired or belongs to another
// worker; the caller must not retry after a false result.
func (lm *LeaseManager) Release(ctx context.Context, taskID, workerID string, nowMs int64) (bool, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	defer lm.locks.lock(taskID).Unlock()

	lease, ok, err := lm.read(taskID)
	if err != nil {
		return false, err
	}
	if !ok || lease.WorkerID != workerID || lease.DeadlineMs <= nowMs {
		return false, nil
	}

	if err := lm.drop(ctx, lease); err != nil {
		return false, err
	}
	return true, nil
}

// Active returns the lease for the task id if one is active at nowMs.
func (lm *LeaseManager) Active(taskID string, nowMs int64) (*Lease, bool, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	lease, ok, err := lm.read(taskID)
	if err != nil || !ok {
		return nil, false, err
	}
	if lease.DeadlineMs <= nowMs {
		return nil, false, nil
	}
	return lease, true, nil
}

// Discard removes any lease for the task id regardless of worker or expiry.
// Used when a task reaches a terminal state or is evicted.
func (lm *LeaseManager) Discard(ctx context.Context, taskID string) error {
	defer lm.locks.lock(taskID).Unlock()

	lease, ok, err := lm.read(taskID)
	if err != nil || !ok {
		return err
	}
	return lm.drop(ctx, lease)
}

// ReclaimExpired scans the deadline index and returns expired work to its
// queue tail, reverting each record to SCHEDULED. Stale index rows whose
// version no longer matches the live lease are dropped without requeue.
func (lm *LeaseManager) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	lo, hi := keyRange(prefixLeaseIdx)
	iter, err := lm.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}

	type candidate struct {
		taskID   string
		version  uint64
		deadline int64
	}
	var due []candidate
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(prefixLeaseIdx)+8+1 {
			continue
		}
		deadline := int64(binary.BigEndian.Uint64(k[len(prefixLeaseIdx) : len(prefixLeaseIdx)+8]))
		if deadline > nowMs {
			break
		}
		due = append(due, candidate{
			taskID:   string(k[len(prefixLeaseIdx)+8:]),
			version:  decodeVersion(iter.Value()),
			deadline: deadline,
		})
		if max > 0 && len(due) >= max {
			break
		}
	}
	iter.Close()

	reclaimed := 0
	for _, c := range due {
		won, err := lm.reclaimOne(ctx, c.taskID, c.version, c.deadline, nowMs)
		if err != nil {
			lm.logger.Error("lease reclaim failed", log.F("taskId", c.taskID), log.Err(err))
			continue
		}
		if won {
			reclaimed++
		}
	}
	if reclaimed > 0 && lm.onReclaim != nil {
		lm.onReclaim(reclaimed)
	}
	return reclaimed, nil
}

// reclaimOne requeues a single expired lease under the task lock. Returns
// false when the index row was stale (the lease was released or re-granted).
func (lm *LeaseManager) reclaimOne(ctx context.Context, taskID string, version uint64, deadline, nowMs int64) (bool, error) {
	defer lm.locks.lock(taskID).Unlock()

	lease, ok, err := lm.read(taskID)
	if err != nil {
		return false, err
	}
	if !ok || lease.Version != version || lease.DeadlineMs > nowMs {
		// Released or re-granted since the scan; drop the stale row only.
		_ = lm.db.Delete(leaseIdxKey(deadline, taskID))
		return false, nil
	}

	if err := lm.drop(ctx, lease); err != nil {
		return false, err
	}

	rec, err := lm.registry.Get(taskID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if rec.State.Terminal() {
		return false, nil
	}
	// Revert and requeue only if the record is still non-terminal; a result
	// submitted after the Get above must not see its task requeued.
	reverted, err := lm.registry.RevertToScheduled(ctx, taskID, nowMs)
	if err != nil {
		return false, err
	}
	if !reverted {
		return false, nil
	}
	if err := lm.queues.Enqueue(ctx, rec.TaskType, rec.Domain, taskID, nowMs); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			return true, nil
		}
		return false, err
	}
	lm.logger.Debug("expired lease requeued",
		log.F("taskId", taskID),
		log.F("taskType", rec.TaskType),
		log.F("domain", rec.Domain),
		log.F("worker", lease.WorkerID))
	return true, nil
}

// StartSweeper runs a background loop reclaiming expired leases.
func (lm *LeaseManager) StartSweeper(interval time.Duration, maxPerTick int) {
	if lm.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxPerTick <= 0 {
		maxPerTick = 1024
	}
	lm.sweepIntv = interval
	lm.sweepMax = maxPerTick
	lm.sweepStop = make(chan struct{})
	go func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-lm.sweepStop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				_, _ = lm.ReclaimExpired(context.Background(), time.Now().UnixMilli(), maxPerTick)
			}
		}
	}()
}

// StopSweeper stops the background sweeper.
func (lm *LeaseManager) StopSweeper() {
	if lm.sweepStop != nil {
		close(lm.sweepStop)
		lm.sweepStop = nil
	}
}

// read loads the lease record for a task id.
func (lm *LeaseManager) read(taskID string) (*Lease, bool, error) {
	val, err := lm.db.Get(leaseKey(taskID))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var lease Lease
	if err := json.Unmarshal(val, &lease); err != nil {
		return nil, false, err
	}
	return &lease, true, nil
}

// drop removes the lease record and its deadline index row atomically.
func (lm *LeaseManager) drop(ctx context.Context, lease *Lease) error {
	b := lm.db.NewBatch()
	defer b.Close()
	if err := b.Delete(leaseKey(lease.TaskID), nil); err != nil {
		return err
	}
	if err := b.Delete(leaseIdxKey(lease.DeadlineMs, lease.TaskID), nil); err != nil {
		return err
	}
	return lm.db.CommitBatch(ctx, b)
}

func encodeVersion(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeVersion(val []byte) uint64 {
	if len(val) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(val)
}
