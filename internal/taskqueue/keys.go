package taskqueue

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for broker data structures
const (
	prefixTask      = "task/"      // Task records
	prefixQueue     = "queue/"     // Per-(type,domain) FIFO entries
	prefixQueueMeta = "queue_meta/" // Per-(type,domain) lastSeq + depth
	prefixQueueIdx  = "queue_idx/" // taskId -> queue locator
	prefixLease     = "lease/"     // Active leases
	prefixLeaseIdx  = "lease_idx/" // Lease deadline index
	prefixWorkflow  = "wf/"        // (workflowId, taskRefName) -> taskId
	prefixLog       = "log/"       // Execution log entries
	prefixPollData  = "polldata/"  // Last poll per (type,domain)
)

// taskKey returns the key for a task record.
// Format: task/{taskId}
func taskKey(taskID string) []byte {
	return []byte(prefixTask + taskID)
}

// queuePrefix returns the base prefix for a (taskType, domain) queue.
// Format: queue/{type}/{domain}/
func queuePrefix(taskType, domain string) string {
	return fmt.Sprintf("%s%s/%s/", prefixQueue, taskType, domain)
}

// queueKey returns the FIFO entry key for a sequence number.
// Format: queue/{type}/{domain}/{seq_be8}
func queueKey(taskType, domain string, seq uint64) []byte {
	prefix := queuePrefix(taskType, domain)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// queueMetaKey returns the metadata key for a queue.
// Format: queue_meta/{type}/{domain}
// Value layout: lastSeq (8B) | depth (4B)
func queueMetaKey(taskType, domain string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixQueueMeta, taskType, domain))
}

// queueMetaTypePrefix returns the scan prefix for all queue metadata of a type.
// Format: queue_meta/{type}/
func queueMetaTypePrefix(taskType string) string {
	return prefixQueueMeta + taskType + "/"
}

// queueIdxKey returns the locator key for a queued task id.
// Format: queue_idx/{taskId}
func queueIdxKey(taskID string) []byte {
	return []byte(prefixQueueIdx + taskID)
}

// leaseKey returns the key for an active lease.
// Format: lease/{taskId}
func leaseKey(taskID string) []byte {
	return []byte(prefixLease + taskID)
}

// leaseIdxKey returns the lease deadline index key.
// Format: lease_idx/{deadline_ms_be8}{taskId}
func leaseIdxKey(deadlineMs int64, taskID string) []byte {
	key := make([]byte, len(prefixLeaseIdx)+8+len(taskID))
	copy(key, prefixLeaseIdx)
	binary.BigEndian.PutUint64(key[len(prefixLeaseIdx):], uint64(deadlineMs))
	copy(key[len(prefixLeaseIdx)+8:], taskID)
	return key
}

// workflowKey returns the backlink key for a workflow task slot.
// Format: wf/{workflowId}/{taskRefName}
func workflowKey(workflowID, taskRefName string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixWorkflow, workflowID, taskRefName))
}

// logPrefix returns the scan prefix for a task's execution log.
// Format: log/{taskId}/
func logPrefix(taskID string) string {
	return prefixLog + taskID + "/"
}

// logKey returns the key for a single log entry.
// Format: log/{taskId}/{seq_be8}
func logKey(taskID string, seq uint64) []byte {
	prefix := logPrefix(taskID)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// pollDataKey returns the key for a queue's poll data.
// Format: polldata/{type}/{domain}
func pollDataKey(taskType, domain string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixPollData, taskType, domain))
}

// pollDataTypePrefix returns the scan prefix for a type's poll data.
func pollDataTypePrefix(taskType string) string {
	return prefixPollData + taskType + "/"
}

// keyRange returns start and end keys for scanning with a prefix.
// The end key is exclusive (prefix + 0xFF suffix).
func keyRange(prefix string) ([]byte, []byte) {
	start := []byte(prefix)
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return start, end
}
