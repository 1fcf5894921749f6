// Package client contains Cobra CLI commands for Tasq.
package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/tasq/internal/services/tasks"
	"github.com/rzbill/tasq/internal/taskqueue"
)

// NewTaskCommand constructs the `task` command group and subcommands.
func NewTaskCommand(baseURL BaseURLFunc) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Task queue operations (poll, ack, update)",
		Long: `Task queue operations following the poll-lease-ack cycle.

Task Lifecycle:
  SCHEDULED → [poll] → IN_PROGRESS → [update] → COMPLETED / FAILED / TIMED_OUT
                          ↓ (lease expires)
                      SCHEDULED (requeued at tail)

Worker Loop:
  poll        Lease the oldest queued task of a type
  ack         Release the lease after picking up the work
  update      Submit a terminal result
  log         Append an execution log line

Producer / Introspection:
  enqueue     Queue a new task
  get         Fetch a task record by id
  logs        List a task's execution log
  pending     Look up the pending task for a workflow reference
  list-pending  List non-terminal tasks of a type (paged)
  remove      Withdraw a task from its queue
  queue-size  Show pending depth per task type
  polldata    Show last-poll telemetry for a task type`,
	}

	taskCmd.AddCommand(
		newTaskEnqueueCommand(baseURL),
		newTaskPollCommand(baseURL),
		newTaskAckCommand(baseURL),
		newTaskUpdateCommand(baseURL),
		newTaskLogCommand(baseURL),
		newTaskLogsCommand(baseURL),
		newTaskGetCommand(baseURL),
		newTaskPendingCommand(baseURL),
		newTaskListPendingCommand(baseURL),
		newTaskRemoveCommand(baseURL),
		newTaskQueueSizeCommand(baseURL),
		newTaskPollDataCommand(baseURL),
	)

	return taskCmd
}

// newTaskEnqueueCommand constructs the `task enqueue` subcommand.
func newTaskEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a new task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskType, _ := cmd.Flags().GetString("type")
			domain, _ := cmd.Flags().GetString("domain")
			taskID, _ := cmd.Flags().GetString("task-id")
			workflowID, _ := cmd.Flags().GetString("workflow-id")
			refName, _ := cmd.Flags().GetString("ref-name")
			payload, _ := cmd.Flags().GetString("payload")

			req := tasks.EnqueueRequest{
				TaskID:      taskID,
				TaskType:    taskType,
				Domain:      domain,
				WorkflowID:  workflowID,
				TaskRefName: refName,
			}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("invalid --payload, expected JSON")
				}
				req.Payload = json.RawMessage(payload)
			}
			rec, err := getTransport(baseURL).Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "taskId:", rec.TaskID)
			return nil
		},
	}
	enqueueCmd.Flags().String("type", "", "Task type")
	enqueueCmd.Flags().String("domain", "", "Domain partition")
	enqueueCmd.Flags().String("task-id", "", "Task id (generated when empty)")
	enqueueCmd.Flags().String("workflow-id", "", "Owning workflow id")
	enqueueCmd.Flags().String("ref-name", "", "Task reference name within the workflow")
	enqueueCmd.Flags().String("payload", "", "Task input as JSON")
	return enqueueCmd
}

// newTaskPollCommand constructs the `task poll` subcommand.
func newTaskPollCommand(baseURL BaseURLFunc) *cobra.Command {
	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Lease the oldest queued task of a type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskType, _ := cmd.Flags().GetString("type")
			workerID, _ := cmd.Flags().GetString("worker")
			domain, _ := cmd.Flags().GetString("domain")
			if workerID == "" {
				workerID = defaultWorkerID()
			}
			rec, err := getTransport(baseURL).Poll(cmd.Context(), taskType, workerID, domain)
			if err != nil {
				return err
			}
			if rec == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "empty")
				return nil
			}
			return printJSON(cmd, rec)
		},
	}
	pollCmd.Flags().String("type", "", "Task type")
	pollCmd.Flags().String("worker", "", "Worker id (defaults to hostname-derived id)")
	pollCmd.Flags().String("domain", "", "Domain partition")
	return pollCmd
}

// newTaskAckCommand constructs the `task ack` subcommand.
func newTaskAckCommand(baseURL BaseURLFunc) *cobra.Command {
	ackCmd := &cobra.Command{
		Use:   "ack",
		Short: "Release the lease on a polled task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskID, _ := cmd.Flags().GetString("task-id")
			workerID, _ := cmd.Flags().GetString("worker")
			if workerID == "" {
				workerID = defaultWorkerID()
			}
			acked, err := getTransport(baseURL).Ack(cmd.Context(), taskID, workerID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "acked:", acked)
			return nil
		},
	}
	ackCmd.Flags().String("task-id", "", "Task id")
	ackCmd.Flags().String("worker", "", "Worker id that holds the lease")
	return ackCmd
}

// newTaskUpdateCommand constructs the `task update` subcommand.
func newTaskUpdateCommand(baseURL BaseURLFunc) *cobra.Command {
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Submit a terminal result for a task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskID, _ := cmd.Flags().GetString("task-id")
			workerID, _ := cmd.Flags().GetString("worker")
			state, _ := cmd.Flags().GetString("state")
			output, _ := cmd.Flags().GetString("output")

			result := taskqueue.TaskResult{
				TaskID:   taskID,
				WorkerID: workerID,
				State:    taskqueue.TaskState(state),
			}
			if output != "" {
				if !json.Valid([]byte(output)) {
					return fmt.Errorf("invalid --output, expected JSON")
				}
				result.Output = json.RawMessage(output)
			}
			rec, err := getTransport(baseURL).UpdateTask(cmd.Context(), result)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "state:", rec.State)
			return nil
		},
	}
	updateCmd.Flags().String("task-id", "", "Task id")
	updateCmd.Flags().String("worker", "", "Worker id reporting the result")
	updateCmd.Flags().String("state", "COMPLETED", "Terminal state (COMPLETED, FAILED, TIMED_OUT)")
	updateCmd.Flags().String("output", "", "Task output as JSON")
	return updateCmd
}

// newTaskLogCommand constructs the `task log` subcommand.
func newTaskLogCommand(baseURL BaseURLFunc) *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Append an execution log line to a task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskID, _ := cmd.Flags().GetString("task-id")
			message, _ := cmd.Flags().GetString("message")
			if err := getTransport(baseURL).AddLog(cmd.Context(), taskID, message); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	logCmd.Flags().String("task-id", "", "Task id")
	logCmd.Flags().String("message", "", "Log line")
	return logCmd
}

// newTaskLogsCommand constructs the `task logs` subcommand.
func newTaskLogsCommand(baseURL BaseURLFunc) *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "List a task's execution log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskID, _ := cmd.Flags().GetString("task-id")
			logs, err := getTransport(baseURL).GetTaskLogs(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			for _, entry := range logs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", entry.Seq, entry.Message)
			}
			return nil
		},
	}
	logsCmd.Flags().String("task-id", "", "Task id")
	return logsCmd
}

// newTaskGetCommand constructs the `task get` subcommand.
func newTaskGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a task record by id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskID, _ := cmd.Flags().GetString("task-id")
			rec, err := getTransport(baseURL).GetTaskDetails(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
	getCmd.Flags().String("task-id", "", "Task id")
	return getCmd
}

// newTaskPendingCommand constructs the `task pending` subcommand.
func newTaskPendingCommand(baseURL BaseURLFunc) *cobra.Command {
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "Look up the pending task for a workflow reference",
		RunE: func(cmd *cobra.Command, _ []string) error {
			workflowID, _ := cmd.Flags().GetString("workflow-id")
			refName, _ := cmd.Flags().GetString("ref-name")
			rec, err := getTransport(baseURL).GetPendingTaskForWorkflow(cmd.Context(), workflowID, refName)
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
	pendingCmd.Flags().String("workflow-id", "", "Workflow id")
	pendingCmd.Flags().String("ref-name", "", "Task reference name")
	return pendingCmd
}

// newTaskListPendingCommand constructs the `task list-pending` subcommand.
func newTaskListPendingCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list-pending",
		Short: "List non-terminal tasks of a type (paged)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskType, _ := cmd.Flags().GetString("type")
			startKey, _ := cmd.Flags().GetString("start-key")
			count, _ := cmd.Flags().GetInt("count")
			recs, err := getTransport(baseURL).ListPendingForType(cmd.Context(), taskType, startKey, count)
			if err != nil {
				return err
			}
			return printJSON(cmd, recs)
		},
	}
	listCmd.Flags().String("type", "", "Task type")
	listCmd.Flags().String("start-key", "", "Last task id of the previous page")
	listCmd.Flags().Int("count", 0, "Page size (default 100)")
	return listCmd
}

// newTaskRemoveCommand constructs the `task remove` subcommand.
func newTaskRemoveCommand(baseURL BaseURLFunc) *cobra.Command {
	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Withdraw a task from its queue and delete it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskType, _ := cmd.Flags().GetString("type")
			taskID, _ := cmd.Flags().GetString("task-id")
			if err := getTransport(baseURL).RemoveTaskFromQueue(cmd.Context(), taskType, taskID); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	removeCmd.Flags().String("type", "", "Task type")
	removeCmd.Flags().String("task-id", "", "Task id")
	return removeCmd
}

// newTaskQueueSizeCommand constructs the `task queue-size` subcommand.
func newTaskQueueSizeCommand(baseURL BaseURLFunc) *cobra.Command {
	sizeCmd := &cobra.Command{
		Use:   "queue-size",
		Short: "Show pending depth per task type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			types, _ := cmd.Flags().GetStringArray("type")
			sizes, err := getTransport(baseURL).GetQueueSizes(cmd.Context(), types)
			if err != nil {
				return err
			}
			for _, tt := range types {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", tt, sizes[tt])
			}
			return nil
		},
	}
	sizeCmd.Flags().StringArray("type", nil, "Task type (repeatable)")
	return sizeCmd
}

// newTaskPollDataCommand constructs the `task polldata` subcommand.
func newTaskPollDataCommand(baseURL BaseURLFunc) *cobra.Command {
	pdCmd := &cobra.Command{
		Use:   "polldata",
		Short: "Show last-poll telemetry for a task type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			taskType, _ := cmd.Flags().GetString("type")
			pds, err := getTransport(baseURL).GetPollData(cmd.Context(), taskType)
			if err != nil {
				return err
			}
			return printJSON(cmd, pds)
		},
	}
	pdCmd.Flags().String("type", "", "Task type")
	return pdCmd
}
