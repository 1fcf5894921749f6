package taskqueue

import (
	"hash/fnv"
	"sync"
)

// keyedMutex serializes operations per string key using striped locks.
// Operations on distinct keys that hash to different stripes proceed
// independently.
type keyedMutex struct {
	stripes [64]sync.Mutex
}

func (km *keyedMutex) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &km.stripes[h.Sum32()%uint32(len(km.stripes))]
	m.Lock()
	return m
}
