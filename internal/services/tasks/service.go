package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rzbill/tasq/internal/taskqueue"
	"github.com/rzbill/tasq/internal/telemetry"
	"github.com/rzbill/tasq/pkg/id"
	logpkg "github.com/rzbill/tasq/pkg/log"
)

// Service is the broker facade. It validates arguments, then coordinates the
// queue store, lease manager, task registry and poll-data registry under one
// protocol per task id. All external mutation of broker state goes through
// here.
type Service struct {
	queues   *taskqueue.QueueStore
	registry *taskqueue.Registry
	leases   *taskqueue.LeaseManager
	pollData *taskqueue.PollDataStore
	ids      *id.Generator
	logger   logpkg.Logger
	metrics  *telemetry.Metrics

	defaultLeaseMs int64
}

// Options configures the tasks service.
type Options struct {
	Queues   *taskqueue.QueueStore
	Registry *taskqueue.Registry
	Leases   *taskqueue.LeaseManager
	PollData *taskqueue.PollDataStore
	Logger   logpkg.Logger
	Metrics  *telemetry.Metrics

	// DefaultLeaseMs bounds a poll's custody when the caller does not ask
	// for a specific duration.
	DefaultLeaseMs int64
}

// New creates a tasks service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	leaseMs := opts.DefaultLeaseMs
	if leaseMs <= 0 {
		leaseMs = 30_000
	}
	return &Service{
		queues:         opts.Queues,
		registry:       opts.Registry,
		leases:         opts.Leases,
		pollData:       opts.PollData,
		ids:            id.NewGenerator(),
		logger:         logger.With(logpkg.F("component", "tasks")),
		metrics:        opts.Metrics,
		defaultLeaseMs: leaseMs,
	}
}

// EnqueueRequest is the scheduler-facing entry point payload.
type EnqueueRequest struct {
	TaskID      string          `json:"taskId,omitempty"`
	TaskType    string          `json:"taskType"`
	Domain      string          `json:"domain"`
	WorkflowID  string          `json:"workflowId,omitempty"`
	TaskRefName string          `json:"taskRefName,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Enqueue registers a new task record and queues it for polling. A blank task
// id gets a generated one.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*taskqueue.TaskRecord, error) {
	if err := requireFields(map[string]string{
		"taskType": req.TaskType,
		"domain":   req.Domain,
	}); err != nil {
		return nil, err
	}
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		taskID = s.ids.NextString()
	}
	nowMs := time.Now().UnixMilli()

	// An id with a live, non-terminal record is still executing (queued,
	// leased, or acked and awaiting its result); resubmitting it must not
	// reset that record to SCHEDULED. Terminal ids may be reused.
	if prev, err := s.registry.Get(taskID); err == nil {
		if !prev.State.Terminal() {
			return nil, fmt.Errorf("task %s is %s: %w", taskID, prev.State, taskqueue.ErrAlreadyQueued)
		}
	} else if !taskqueue.IsNotFound(err) {
		return nil, err
	}

	if err := s.queues.Enqueue(ctx, req.TaskType, req.Domain, taskID, nowMs); err != nil {
		return nil, err
	}
	rec := &taskqueue.TaskRecord{
		TaskID:      taskID,
		TaskType:    req.TaskType,
		Domain:      req.Domain,
		WorkflowID:  req.WorkflowID,
		TaskRefName: req.TaskRefName,
		Payload:     req.Payload,
	}
	if err := s.registry.Create(ctx, rec, nowMs); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TasksEnqueued.Inc()
	}
	s.logger.Debug("enqueued task",
		logpkg.F("taskId", taskID),
		logpkg.F("taskType", req.TaskType),
		logpkg.F("domain", req.Domain),
	)
	return rec.Clone(), nil
}

// Poll claims the oldest queued task of (taskType, domain) for workerId. An
// empty queue returns nil with no error; callers repoll on their own
// schedule.
func (s *Service) Poll(ctx context.Context, taskType, workerID, domain string) (*taskqueue.TaskRecord, error) {
	if err := requireFields(map[string]string{
		"taskType": taskType,
		"workerId": workerID,
		"domain":   domain,
	}); err != nil {
		return nil, err
	}
	nowMs := time.Now().UnixMilli()

	if s.pollData != nil {
		if err := s.pollData.Record(ctx, taskType, domain, workerID, nowMs); err != nil {
			s.logger.Warn("poll data update failed", logpkg.Err(err))
		}
	}

	for {
		taskID, ok, err := s.queues.DequeueOldest(ctx, taskType, domain)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.countPoll("empty")
			return nil, nil
		}

		lease, err := s.leases.Grant(ctx, taskID, workerID, s.defaultLeaseMs, nowMs)
		if err != nil {
			if errors.Is(err, taskqueue.ErrAlreadyLeased) {
				// Queued ids are never leased; this is a consistency
				// defect and fails the request.
				s.logger.Error("dequeued task already leased",
					logpkg.F("taskId", taskID),
					logpkg.Err(err),
				)
			}
			return nil, err
		}

		if err := s.registry.SetInProgress(ctx, taskID, workerID, lease.DeadlineMs, nowMs); err != nil {
			if taskqueue.IsNotFound(err) {
				// Orphaned queue entry; drop it and keep scanning.
				_ = s.leases.Discard(ctx, taskID)
				s.logger.Warn("dropped queue entry without record", logpkg.F("taskId", taskID))
				continue
			}
			if errors.Is(err, taskqueue.ErrInvalidTransition) {
				// The task finished while still queued (expiry requeue lost
				// to a late result). Never hand out finished work.
				_ = s.leases.Discard(ctx, taskID)
				s.logger.Warn("dropped queue entry for finished task", logpkg.F("taskId", taskID))
				continue
			}
			return nil, err
		}

		rec, err := s.registry.Get(taskID)
		if err != nil {
			return nil, err
		}
		s.countPoll("hit")
		s.logger.Debug("polled task",
			logpkg.F("taskId", taskID),
			logpkg.F("taskType", taskType),
			logpkg.F("domain", domain),
			logpkg.F("worker", workerID),
			logpkg.F("leaseDeadlineMs", lease.DeadlineMs),
		)
		return rec.Clone(), nil
	}
}

// Ack releases workerId's lease on the task. Returns true only when a live
// lease held by workerId was released by this call; a false result is
// terminal for the attempt and must not be retried.
func (s *Service) Ack(ctx context.Context, taskID, workerID string) (bool, error) {
	if err := requireFields(map[string]string{"taskId": taskID}); err != nil {
		return false, err
	}
	nowMs := time.Now().UnixMilli()

	released, err := s.leases.Release(ctx, taskID, workerID, nowMs)
	if err != nil {
		return false, err
	}
	if !released {
		s.countAck("rejected")
		return false, nil
	}
	if err := s.registry.ClearLeaseDeadline(ctx, taskID, nowMs); err != nil && !taskqueue.IsNotFound(err) {
		return true, err
	}
	s.countAck("released")
	return true, nil
}

// UpdateTask writes a worker's terminal result. An active lease is not
// required: late completions are accepted as long as nobody closed the task
// first. A terminal update pulls the task out of its queue and discards any
// lease.
func (s *Service) UpdateTask(ctx context.Context, result taskqueue.TaskResult) (*taskqueue.TaskRecord, error) {
	if err := requireFields(map[string]string{"taskId": result.TaskID}); err != nil {
		return nil, err
	}
	if !result.State.Terminal() {
		return nil, fmt.Errorf("state %q is not terminal: %w", result.State, taskqueue.ErrInvalidArgument)
	}
	nowMs := time.Now().UnixMilli()

	rec, err := s.registry.Complete(ctx, result.TaskID, result.Output, result.State, result.WorkerID, nowMs)
	if err != nil {
		return nil, err
	}

	// The task may still sit in a queue (lease expired and it was requeued)
	// or under a lease; both are closed out now.
	if _, err := s.queues.Remove(ctx, rec.TaskType, result.TaskID); err != nil {
		return nil, err
	}
	if err := s.leases.Discard(ctx, result.TaskID); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Updates.WithLabelValues(string(result.State)).Inc()
	}
	s.logger.Debug("task updated",
		logpkg.F("taskId", result.TaskID),
		logpkg.F("state", string(result.State)),
	)
	return rec.Clone(), nil
}

// AddLog appends a line to the task's execution log.
func (s *Service) AddLog(ctx context.Context, taskID, message string) error {
	if err := requireFields(map[string]string{"taskId": taskID}); err != nil {
		return err
	}
	return s.registry.AppendLog(ctx, taskID, message, time.Now().UnixMilli())
}

// GetTaskLogs returns the task's execution log in append order.
func (s *Service) GetTaskLogs(ctx context.Context, taskID string) ([]taskqueue.LogEntry, error) {
	if err := requireFields(map[string]string{"taskId": taskID}); err != nil {
		return nil, err
	}
	return s.registry.Logs(taskID)
}

// GetTaskDetails returns the task record.
func (s *Service) GetTaskDetails(ctx context.Context, taskID string) (*taskqueue.TaskRecord, error) {
	if err := requireFields(map[string]string{"taskId": taskID}); err != nil {
		return nil, err
	}
	rec, err := s.registry.Get(taskID)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// GetPendingTaskForWorkflow returns the non-terminal task occupying the
// workflow's task slot.
func (s *Service) GetPendingTaskForWorkflow(ctx context.Context, workflowID, taskRefName string) (*taskqueue.TaskRecord, error) {
	if err := requireFields(map[string]string{
		"workflowId":  workflowID,
		"taskRefName": taskRefName,
	}); err != nil {
		return nil, err
	}
	rec, err := s.registry.PendingForWorkflow(workflowID, taskRefName)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// ListPendingForType pages through non-terminal tasks of the type in task id
// order. startKey is the last id of the previous page, blank for the first.
func (s *Service) ListPendingForType(ctx context.Context, taskType, startKey string, count int) ([]taskqueue.TaskRecord, error) {
	if err := requireFields(map[string]string{"taskType": taskType}); err != nil {
		return nil, err
	}
	return s.registry.PendingForType(taskType, startKey, count)
}

// RemoveTaskFromQueue evicts the task from its queue and deletes the record.
// Unknown tasks are a no-op.
func (s *Service) RemoveTaskFromQueue(ctx context.Context, taskType, taskID string) error {
	if err := requireFields(map[string]string{
		"taskType": taskType,
		"taskId":   taskID,
	}); err != nil {
		return err
	}
	if _, err := s.queues.Remove(ctx, taskType, taskID); err != nil {
		return err
	}
	if err := s.leases.Discard(ctx, taskID); err != nil {
		return err
	}
	return s.registry.Delete(ctx, taskID)
}

// GetQueueSizeForTask reports queued (non-leased) tasks of the type across
// all domains. Unknown types report zero.
func (s *Service) GetQueueSizeForTask(ctx context.Context, taskType string) (int, error) {
	if err := requireFields(map[string]string{"taskType": taskType}); err != nil {
		return 0, err
	}
	return s.queues.SizeForType(taskType)
}

// GetPollData returns last-poll observations for every domain of the type.
func (s *Service) GetPollData(ctx context.Context, taskType string) ([]taskqueue.PollData, error) {
	if err := requireFields(map[string]string{"taskType": taskType}); err != nil {
		return nil, err
	}
	if s.pollData == nil {
		return nil, nil
	}
	return s.pollData.List(taskType)
}

func (s *Service) countPoll(result string) {
	if s.metrics != nil {
		s.metrics.Polls.WithLabelValues(result).Inc()
	}
}

func (s *Service) countAck(result string) {
	if s.metrics != nil {
		s.metrics.Acks.WithLabelValues(result).Inc()
	}
}

// requireFields rejects blank identifiers before any state change.
func requireFields(fields map[string]string) error {
	for name, val := range fields {
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("%s required: %w", name, taskqueue.ErrInvalidArgument)
		}
	}
	return nil
}
