package taskqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/tasq/internal/storage/pebble"
)

// Registry stores task records, the (workflowId, taskRefName) backlink index
// and append-only execution logs.
type Registry struct {
	db    *pebblestore.DB
	locks keyedMutex
}

// NewRegistry creates a Registry over the given database.
func NewRegistry(db *pebblestore.DB) *Registry {
	return &Registry{db: db}
}

// Create writes a new task record in state SCHEDULED and its workflow
// backlink if the record carries one.
func (r *Registry) Create(ctx context.Context, rec *TaskRecord, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	rec.State = StateScheduled
	rec.ScheduledAtMs = nowMs
	rec.UpdatedAtMs = nowMs

	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Set(taskKey(rec.TaskID), val, nil); err != nil {
		return err
	}
	if rec.WorkflowID != "" && rec.TaskRefName != "" {
		if err := b.Set(workflowKey(rec.WorkflowID, rec.TaskRefName), []byte(rec.TaskID), nil); err != nil {
			return err
		}
	}
	return r.db.CommitBatch(ctx, b)
}

// Get returns the task record or ErrNotFound.
func (r *Registry) Get(taskID string) (*TaskRecord, error) {
	val, err := r.db.Get(taskKey(taskID))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return nil, err
	}
	var rec TaskRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Registry) put(ctx context.Context, rec *TaskRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Set(taskKey(rec.TaskID), val)
}

// SetInProgress marks the record leased by workerId until deadlineMs.
// Terminal records are write-once and fail with ErrInvalidTransition.
func (r *Registry) SetInProgress(ctx context.Context, taskID, workerID string, deadlineMs, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	defer r.locks.lock(taskID).Unlock()

	rec, err := r.Get(taskID)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		return fmt.Errorf("task %s already %s: %w", taskID, rec.State, ErrInvalidTransition)
	}
	rec.State = StateInProgress
	rec.WorkerID = workerID
	rec.LeaseDeadlineMs = deadlineMs
	if rec.StartedAtMs == 0 {
		rec.StartedAtMs = nowMs
	}
	rec.UpdatedAtMs = nowMs
	return r.put(ctx, rec)
}

// RevertToScheduled returns an expired task to SCHEDULED and clears its lease
// deadline. The last claimant's worker id is kept for inspection. Returns
// false without touching the record when it already reached a terminal state,
// so callers do not requeue finished work.
func (r *Registry) RevertToScheduled(ctx context.Context, taskID string, nowMs int64) (bool, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	defer r.locks.lock(taskID).Unlock()

	rec, err := r.Get(taskID)
	if err != nil {
		return false, err
	}
	if rec.State.Terminal() {
		return false, nil
	}
	rec.State = StateScheduled
	rec.LeaseDeadlineMs = 0
	rec.UpdatedAtMs = nowMs
	if err := r.put(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// ClearLeaseDeadline drops the lease deadline after an ack while keeping the
// task IN_PROGRESS.
func (r *Registry) ClearLeaseDeadline(ctx context.Context, taskID string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	defer r.locks.lock(taskID).Unlock()

	rec, err := r.Get(taskID)
	if err != nil {
		return err
	}
	rec.LeaseDeadlineMs = 0
	rec.UpdatedAtMs = nowMs
	return r.put(ctx, rec)
}

// Complete writes output and transitions the record to a terminal state.
// Terminal states are write-once: resubmitting the same final state is a
// no-op, a conflicting one fails with ErrInvalidTransition.
func (r *Registry) Complete(ctx context.Context, taskID string, output json.RawMessage, finalState TaskState, workerID string, nowMs int64) (*TaskRecord, error) {
	if !finalState.Terminal() {
		return nil, fmt.Errorf("state %s is not terminal: %w", finalState, ErrInvalidArgument)
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	defer r.locks.lock(taskID).Unlock()

	rec, err := r.Get(taskID)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		if rec.State == finalState {
			return rec, nil
		}
		return nil, fmt.Errorf("task %s already %s, cannot become %s: %w", taskID, rec.State, finalState, ErrInvalidTransition)
	}
	rec.State = finalState
	rec.Output = output
	if workerID != "" {
		rec.WorkerID = workerID
	}
	rec.LeaseDeadlineMs = 0
	rec.UpdatedAtMs = nowMs
	if err := r.put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AppendLog adds a log entry for the task. Allowed while the record exists,
// including after completion.
func (r *Registry) AppendLog(ctx context.Context, taskID, message string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	defer r.locks.lock("log/" + taskID).Unlock()

	if _, err := r.Get(taskID); err != nil {
		return err
	}

	seq, err := r.lastLogSeq(taskID)
	if err != nil {
		return err
	}
	seq++

	entry := LogEntry{TaskID: taskID, Seq: seq, Message: message, CreatedAtMs: nowMs}
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.db.Set(logKey(taskID, seq), val)
}

// Logs returns the task's execution log in append order.
func (r *Registry) Logs(taskID string) ([]LogEntry, error) {
	if _, err := r.Get(taskID); err != nil {
		return nil, err
	}
	lo, hi := keyRange(logPrefix(taskID))
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []LogEntry
	for ok := iter.First(); ok; ok = iter.Next() {
		var entry LogEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Delete removes the record, its backlink and its logs. Unknown ids are a
// no-op.
func (r *Registry) Delete(ctx context.Context, taskID string) error {
	defer r.locks.lock(taskID).Unlock()

	rec, err := r.Get(taskID)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Delete(taskKey(taskID), nil); err != nil {
		return err
	}
	if rec.WorkflowID != "" && rec.TaskRefName != "" {
		if err := b.Delete(workflowKey(rec.WorkflowID, rec.TaskRefName), nil); err != nil {
			return err
		}
	}
	lo, hi := keyRange(logPrefix(taskID))
	if err := b.DeleteRange(lo, hi, nil); err != nil {
		return err
	}
	return r.db.CommitBatch(ctx, b)
}

// PendingForWorkflow resolves the non-terminal task occupying a workflow's
// task slot. Terminal or missing tasks report ErrNotFound.
func (r *Registry) PendingForWorkflow(workflowID, taskRefName string) (*TaskRecord, error) {
	idBytes, err := r.db.Get(workflowKey(workflowID, taskRefName))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, fmt.Errorf("workflow %s task %s: %w", workflowID, taskRefName, ErrNotFound)
		}
		return nil, err
	}
	rec, err := r.Get(string(idBytes))
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return nil, fmt.Errorf("workflow %s task %s: %w", workflowID, taskRefName, ErrNotFound)
	}
	return rec, nil
}

// PendingForType lists non-terminal tasks of the type in task id order.
// Paging: startKey is the last task id of the previous page (exclusive, blank
// for the first page) and count caps the page size.
func (r *Registry) PendingForType(taskType, startKey string, count int) ([]TaskRecord, error) {
	if count <= 0 {
		count = 100
	}
	lo, hi := keyRange(prefixTask)
	if startKey != "" {
		// Resume just past the last id of the previous page.
		lo = append(taskKey(startKey), 0x00)
	}
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []TaskRecord
	for ok := iter.First(); ok && len(out) < count; ok = iter.Next() {
		var rec TaskRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.TaskType != taskType || rec.State.Terminal() {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// lastLogSeq returns the highest log sequence for the task, 0 when empty.
func (r *Registry) lastLogSeq(taskID string) (uint64, error) {
	lo, hi := keyRange(logPrefix(taskID))
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, nil
	}
	k := iter.Key()
	if len(k) < 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(k[len(k)-8:]), nil
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
