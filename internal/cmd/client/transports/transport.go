// Package transports provides pluggable transport implementations for the CLI.
package transports

import (
	"context"

	"github.com/rzbill/tasq/internal/services/tasks"
	"github.com/rzbill/tasq/internal/taskqueue"
)

// TaskAPI abstracts the worker-facing broker surface used by the CLI, so
// commands stay transport-agnostic.
type TaskAPI interface {
	Enqueue(ctx context.Context, req tasks.EnqueueRequest) (*taskqueue.TaskRecord, error)
	// Poll returns nil when the queue is empty.
	Poll(ctx context.Context, taskType, workerID, domain string) (*taskqueue.TaskRecord, error)
	Ack(ctx context.Context, taskID, workerID string) (bool, error)
	UpdateTask(ctx context.Context, result taskqueue.TaskResult) (*taskqueue.TaskRecord, error)
	AddLog(ctx context.Context, taskID, message string) error
	GetTaskLogs(ctx context.Context, taskID string) ([]taskqueue.LogEntry, error)
	GetTaskDetails(ctx context.Context, taskID string) (*taskqueue.TaskRecord, error)
	GetPendingTaskForWorkflow(ctx context.Context, workflowID, taskRefName string) (*taskqueue.TaskRecord, error)
	ListPendingForType(ctx context.Context, taskType, startKey string, count int) ([]taskqueue.TaskRecord, error)
	RemoveTaskFromQueue(ctx context.Context, taskType, taskID string) error
	GetQueueSizes(ctx context.Context, taskTypes []string) (map[string]int, error)
	GetPollData(ctx context.Context, taskType string) ([]taskqueue.PollData, error)
}
