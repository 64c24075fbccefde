package logstore

import (
	"context"
	"testing"

	"raftcore/raft"
)

func TestMemStoreAppendAndRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	entry := raft.Entry{LogID: raft.LogID{Term: 1, Index: 1}, Payload: [][]byte{[]byte("a")}}
	if err := m.Append(ctx, []raft.Entry{entry}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, ok, err := m.Read(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("Read: got=%v ok=%v err=%v", got, ok, err)
	}
	if got.LogID != entry.LogID {
		t.Fatalf("LogID mismatch: got %v want %v", got.LogID, entry.LogID)
	}
}

func TestMemStoreTruncateRemovesSuffix(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	for i := uint64(1); i <= 5; i++ {
		if err := m.Append(ctx, []raft.Entry{{LogID: raft.LogID{Term: 1, Index: i}}}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := m.Truncate(ctx, 3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if _, ok, _ := m.Read(ctx, 3); ok {
		t.Fatalf("expected index 3 to be truncated")
	}
	if _, ok, _ := m.Read(ctx, 2); !ok {
		t.Fatalf("expected index 2 to survive truncation")
	}
	last, err := m.LastLogID(ctx)
	if err != nil {
		t.Fatalf("LastLogID: %v", err)
	}
	if last == nil || last.Index != 2 {
		t.Fatalf("expected last index 2, got %v", last)
	}
}

func TestMemStoreReadRangeSkipsGapsAndSorts(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	_ = m.Append(ctx, []raft.Entry{
		{LogID: raft.LogID{Term: 1, Index: 5}},
		{LogID: raft.LogID{Term: 1, Index: 2}},
	})
	entries, err := m.ReadRange(ctx, 1, 5)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(entries) != 2 || entries[0].LogID.Index != 2 || entries[1].LogID.Index != 5 {
		t.Fatalf("unexpected range result: %+v", entries)
	}
}

func TestMemStoreVoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	v := raft.Vote{Term: 3, VotedFor: "n1", Committed: true}
	if err := m.SaveVote(ctx, v); err != nil {
		t.Fatalf("SaveVote: %v", err)
	}
	got, err := m.ReadVote(ctx)
	if err != nil || got != v {
		t.Fatalf("ReadVote: got %v want %v (err=%v)", got, v, err)
	}
}

func TestMemStoreInitializeOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	members := map[raft.NodeID]raft.Node{"n1": {ID: "n1", Address: "localhost:1"}}
	if err := m.Initialize(ctx, members); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Initialize(ctx, members); err != raft.ErrAlreadyInitialized {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	last, err := m.LastLogID(ctx)
	if err != nil || last == nil || last.Index != 0 {
		t.Fatalf("expected sentinel at index 0, got %v (err=%v)", last, err)
	}
}
