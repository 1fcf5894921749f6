// Package pebblestore wraps a Pebble database with a fixed fsync policy and
// small helpers used by the queue and task stores. Callers that need range
// scans or multi-key atomic updates use NewIter and NewBatch/CommitBatch
// directly; point operations go through Get/Set/Delete.
package pebblestore
