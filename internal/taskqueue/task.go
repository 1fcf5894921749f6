package taskqueue

import "encoding/json"

// TaskState is the lifecycle state of a task record.
type TaskState string

const (
	StateScheduled  TaskState = "SCHEDULED"
	StateInProgress TaskState = "IN_PROGRESS"
	StateCompleted  TaskState = "COMPLETED"
	StateFailed     TaskState = "FAILED"
	StateTimedOut   TaskState = "TIMED_OUT"
)

// Terminal reports whether the state is write-once final.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s TaskState) Valid() bool {
	switch s {
	case StateScheduled, StateInProgress, StateCompleted, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// TaskRecord is the durable record for one unit of work.
type TaskRecord struct {
	TaskID      string          `json:"taskId"`
	TaskType    string          `json:"taskType"`
	Domain      string          `json:"domain"`
	WorkflowID  string          `json:"workflowId,omitempty"`
	TaskRefName string          `json:"taskRefName,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	State       TaskState       `json:"state"`
	Output      json.RawMessage `json:"output,omitempty"`

	// WorkerID is the current or last claimant.
	WorkerID string `json:"workerId,omitempty"`
	// LeaseDeadlineMs is the active lease deadline, 0 when unleased.
	LeaseDeadlineMs int64 `json:"leaseDeadlineMs,omitempty"`

	ScheduledAtMs int64 `json:"scheduledAtMs"`
	StartedAtMs   int64 `json:"startedAtMs,omitempty"`
	UpdatedAtMs   int64 `json:"updatedAtMs"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = append(json.RawMessage(nil), r.Payload...)
	out.Output = append(json.RawMessage(nil), r.Output...)
	return &out
}

// TaskResult carries a worker's terminal report for a task.
type TaskResult struct {
	TaskID   string          `json:"taskId"`
	WorkerID string          `json:"workerId,omitempty"`
	State    TaskState       `json:"state"`
	Output   json.RawMessage `json:"output,omitempty"`
}

// LogEntry is one line of a task's execution log.
type LogEntry struct {
	TaskID      string `json:"taskId"`
	Seq         uint64 `json:"seq"`
	Message     string `json:"message"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Lease is a time-bounded exclusive claim on a task id.
type Lease struct {
	TaskID     string `json:"taskId"`
	WorkerID   string `json:"workerId"`
	DeadlineMs int64  `json:"deadlineMs"`
	// Version increments on each grant for the same task id. The deadline
	// index entry carries it so a stale index row never reclaims a newer
	// lease.
	Version uint64 `json:"version"`
}

// PollData records the last observed poll for a (taskType, domain) queue.
type PollData struct {
	TaskType     string `json:"taskType"`
	Domain       string `json:"domain"`
	WorkerID     string `json:"workerId"`
	LastPollTime int64  `json:"lastPollTimeMs"`
}
