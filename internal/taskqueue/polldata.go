package taskqueue

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/tasq/internal/storage/pebble"
)

// PollDataStore records the last observed poll per (taskType, domain) so
// operators can tell which queues have live workers.
type PollDataStore struct {
	db *pebblestore.DB
}

// NewPollDataStore creates a PollDataStore over the given database.
func NewPollDataStore(db *pebblestore.DB) *PollDataStore {
	return &PollDataStore{db: db}
}

// Record overwrites the poll data for the queue with the latest poll.
func (ps *PollDataStore) Record(ctx context.Context, taskType, domain, workerID string, nowMs int64) error {
	val, err := json.Marshal(PollData{
		TaskType:     taskType,
		Domain:       domain,
		WorkerID:     workerID,
		LastPollTime: nowMs,
	})
	if err != nil {
		return err
	}
	return ps.db.Set(pollDataKey(taskType, domain), val)
}

// Get returns the poll data for one queue, ok=false when never polled.
func (ps *PollDataStore) Get(taskType, domain string) (*PollData, bool, error) {
	val, err := ps.db.Get(pollDataKey(taskType, domain))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var pd PollData
	if err := json.Unmarshal(val, &pd); err != nil {
		return nil, false, err
	}
	return &pd, true, nil
}

// List returns poll data for every domain of the type.
func (ps *PollDataStore) List(taskType string) ([]PollData, error) {
	lo, hi := keyRange(pollDataTypePrefix(taskType))
	iter, err := ps.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []PollData
	for ok := iter.First(); ok; ok = iter.Next() {
		var pd PollData
		if err := json.Unmarshal(iter.Value(), &pd); err != nil {
			continue
		}
		out = append(out, pd)
	}
	return out, nil
}
