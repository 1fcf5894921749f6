// Package taskqueue implements the broker core: durable FIFO queues of task
// ids keyed by (taskType, domain), task records with append-only execution
// logs, and versioned time-bounded leases with a background expiry sweeper.
//
// Delivery is at-least-once: a task whose lease expires without an ack is
// requeued at the tail of its original queue and reverts to SCHEDULED, so a
// worker that dies mid-processing never loses work, at the cost of possible
// duplicate delivery.
//
// All state lives in Pebble under fixed key prefixes (see keys.go).
// Synchronization is scoped per task id for lease operations and per
// (taskType, domain) queue for ordering; there is no global lock.
package taskqueue
