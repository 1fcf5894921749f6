// Package client provides the `tasq` command-line client.
//
// The CLI talks to the Tasq HTTP endpoint to drive the poll-lease-ack
// cycle from a terminal. It is primarily intended for developers and
// operators.
//
// Installation
//
//	go install github.com/rzbill/tasq/cmd/tasq@latest
//
// Or build from this repo and use the embedded `tasq` binary.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it is
// read from the TASQ_HTTP environment variable and defaults to
// http://127.0.0.1:7410.
//
// Usage
//
//	tasq task enqueue --type encode --domain media \
//	    --payload '{"file":"a.mp4"}'
//
//	# Worker loop: poll, ack, then report the result
//	tasq task poll --type encode --domain media --worker w1
//	tasq task ack --task-id TASK_ID --worker w1
//	tasq task update --task-id TASK_ID --state COMPLETED \
//	    --output '{"bytes":1024}'
//
//	tasq task logs --task-id TASK_ID
//	tasq task queue-size --type encode --type transcode
//	tasq task polldata --type encode
//
// Notes
//
//   - poll returns "empty" when no task is queued; an empty queue is
//     not an error.
//   - ack releases the lease without changing task state. A lease that
//     is never acked expires and the task is requeued at the tail.
//   - update accepts only terminal states. Repeating the same terminal
//     state is a no-op; conflicting terminal states are rejected.
package client
