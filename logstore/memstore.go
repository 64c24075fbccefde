// Package logstore provides concrete implementations of raft.LogStorage:
// MemStore, an in-memory implementation for engine unit tests and
// simulated multi-node tests, and FileStore, a durable file-backed
// implementation adapted from the teacher's write-ahead log.
package logstore

import (
	"context"
	"sort"
	"sync"

	"raftcore/raft"
)

// MemStore is a mutex-guarded, map-backed raft.LogStorage. It never
// touches disk, so multi-node engine tests can exercise election and
// replication without paying real I/O latency.
type MemStore struct {
	mu      sync.RWMutex
	entries map[uint64]raft.Entry
	vote    raft.Vote
	init    bool
}

// NewMemStore returns an empty, uninitialized store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[uint64]raft.Entry)}
}

func (m *MemStore) Append(ctx context.Context, entries []raft.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.LogID.Index] = e
	}
	return nil
}

func (m *MemStore) Truncate(ctx context.Context, fromIndex uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx := range m.entries {
		if idx >= fromIndex {
			delete(m.entries, idx)
		}
	}
	return nil
}

func (m *MemStore) Read(ctx context.Context, index uint64) (raft.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[index]
	return e, ok, nil
}

func (m *MemStore) ReadRange(ctx context.Context, lo, hi uint64) ([]raft.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]raft.Entry, 0, hi-lo+1)
	for idx := lo; idx <= hi; idx++ {
		if e, ok := m.entries[idx]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogID.Index < out[j].LogID.Index })
	return out, nil
}

func (m *MemStore) LastLogID(ctx context.Context) (*raft.LogID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *raft.LogID
	for _, e := range m.entries {
		id := e.LogID
		if last == nil || id.Index > last.Index {
			last = &id
		}
	}
	return last, nil
}

func (m *MemStore) SaveVote(ctx context.Context, v raft.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vote = v
	return nil
}

func (m *MemStore) ReadVote(ctx context.Context) (raft.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vote, nil
}

func (m *MemStore) Initialize(ctx context.Context, members map[raft.NodeID]raft.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.init || len(m.entries) > 0 {
		return raft.ErrAlreadyInitialized
	}
	m.init = true
	m.entries[0] = raft.Entry{LogID: raft.LogID{Term: 0, Index: 0}}
	return nil
}

var _ raft.LogStorage = (*MemStore)(nil)
