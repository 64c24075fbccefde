package raft

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"raftcore/membership"
)

// memStoreForTest is a tiny in-memory LogStorage for raft package-internal
// tests. It can't reuse raftcore/logstore.MemStore here since logstore
// imports raft to implement LogStorage and package raft's own tests may
// not import back into logstore without a cycle.
type memStoreForTest struct {
	entries map[uint64]Entry
	vote    Vote
}

func newMemStoreForTest() *memStoreForTest {
	return &memStoreForTest{entries: make(map[uint64]Entry)}
}

func (m *memStoreForTest) Append(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		m.entries[e.LogID.Index] = e
	}
	return nil
}

func (m *memStoreForTest) Truncate(ctx context.Context, fromIndex uint64) error {
	for idx := range m.entries {
		if idx >= fromIndex {
			delete(m.entries, idx)
		}
	}
	return nil
}

func (m *memStoreForTest) Read(ctx context.Context, index uint64) (Entry, bool, error) {
	e, ok := m.entries[index]
	return e, ok, nil
}

func (m *memStoreForTest) ReadRange(ctx context.Context, lo, hi uint64) ([]Entry, error) {
	var out []Entry
	for idx := lo; idx <= hi; idx++ {
		if e, ok := m.entries[idx]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStoreForTest) LastLogID(ctx context.Context) (*LogID, error) {
	var last *LogID
	for _, e := range m.entries {
		id := e.LogID
		if last == nil || id.Index > last.Index {
			last = &id
		}
	}
	return last, nil
}

func (m *memStoreForTest) SaveVote(ctx context.Context, v Vote) error {
	m.vote = v
	return nil
}

func (m *memStoreForTest) ReadVote(ctx context.Context) (Vote, error) {
	return m.vote, nil
}

func (m *memStoreForTest) Initialize(ctx context.Context, members map[NodeID]Node) error {
	m.entries[0] = Entry{LogID: LogID{Term: 0, Index: 0}}
	return nil
}

var _ LogStorage = (*memStoreForTest)(nil)

func testMembers(ids ...membership.NodeID) *membership.Membership {
	nodes := make(map[membership.NodeID]membership.Node, len(ids))
	for _, id := range ids {
		nodes[id] = membership.Node{ID: id, Address: string(id)}
	}
	return membership.New(nodes)
}

type nullNetwork struct{}

func (nullNetwork) RequestVote(ctx context.Context, target NodeID, req RequestVoteRequest) (RequestVoteReply, error) {
	return RequestVoteReply{}, ErrStaleRPC
}

func (nullNetwork) AppendEntries(ctx context.Context, target NodeID, req AppendEntriesRequest) (AppendEntriesReply, error) {
	return AppendEntriesReply{}, ErrStaleRPC
}

func newTestEngine(t *testing.T, id NodeID, members *membership.Membership) (*Engine, *memStoreForTest) {
	t.Helper()
	store := newMemStoreForTest()
	if err := store.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	cfg := DefaultConfig()
	cfg.EnableTick = false
	engine := NewEngine(id, members, store, nullNetwork{}, cfg, NewFakeClock(time.Unix(0, 0)), zap.NewNop())
	return engine, store
}

func TestAcceptForeignVoteOnlyAcceptsStrictlyGreater(t *testing.T) {
	engine, _ := newTestEngine(t, "n1", testMembers("n1", "n2"))
	ctx := context.Background()

	v1 := Vote{Term: 1, VotedFor: "n2", Committed: false}
	if !engine.acceptForeignVote(ctx, v1) {
		t.Fatalf("expected first vote to be accepted")
	}
	if engine.vote != v1 {
		t.Fatalf("expected engine vote to be %v, got %v", v1, engine.vote)
	}

	if engine.acceptForeignVote(ctx, v1) {
		t.Fatalf("expected an equal vote to be rejected")
	}

	stale := Vote{Term: 0, VotedFor: "n1", Committed: false}
	if engine.acceptForeignVote(ctx, stale) {
		t.Fatalf("expected a lesser vote to be rejected")
	}
}

func TestAcceptForeignVoteStepsDownALeader(t *testing.T) {
	engine, _ := newTestEngine(t, "n1", testMembers("n1", "n2"))
	ctx := context.Background()
	engine.role = Leader
	engine.vote = Vote{Term: 1, VotedFor: "n1", Committed: true}

	higher := Vote{Term: 2, VotedFor: "n2", Committed: false}
	if !engine.acceptForeignVote(ctx, higher) {
		t.Fatalf("expected higher vote to be accepted")
	}
	if engine.role != Follower {
		t.Fatalf("expected leader to step down to Follower, got %v", engine.role)
	}
}

func TestOnRequestVoteRejectsStaleLog(t *testing.T) {
	engine, store := newTestEngine(t, "n1", testMembers("n1", "n2"))
	ctx := context.Background()
	_ = store.Append(ctx, []Entry{{LogID: LogID{Term: 1, Index: 1}}})

	req := RequestVoteRequest{
		Vote:      Vote{Term: 2, VotedFor: "n2"},
		LastLogID: nil, // candidate's log is empty, ours is not
	}
	reply, err := engine.onRequestVote(ctx, req)
	if err != nil {
		t.Fatalf("onRequestVote: %v", err)
	}
	if reply.VoteGranted {
		t.Fatalf("expected vote to be denied to a candidate with a stale log")
	}
}

func TestOnRequestVoteGrantsWhenLogIsCurrent(t *testing.T) {
	engine, _ := newTestEngine(t, "n1", testMembers("n1", "n2"))
	ctx := context.Background()

	req := RequestVoteRequest{
		Vote:      Vote{Term: 1, VotedFor: "n2"},
		LastLogID: &LogID{Term: 0, Index: 0}, // matches the sentinel Initialize wrote
	}
	reply, err := engine.onRequestVote(ctx, req)
	if err != nil {
		t.Fatalf("onRequestVote: %v", err)
	}
	if !reply.VoteGranted {
		t.Fatalf("expected vote to be granted")
	}
	if engine.vote.VotedFor != "n2" {
		t.Fatalf("expected vote recorded for n2, got %v", engine.vote)
	}
}

func TestOnAppendEntriesRejectsStaleTerm(t *testing.T) {
	engine, _ := newTestEngine(t, "n1", testMembers("n1", "n2"))
	ctx := context.Background()
	engine.vote = Vote{Term: 5, VotedFor: "n1", Committed: true}

	req := AppendEntriesRequest{Vote: Vote{Term: 2, VotedFor: "n2", Committed: true}}
	reply, err := engine.onAppendEntries(ctx, req)
	if err != nil {
		t.Fatalf("onAppendEntries: %v", err)
	}
	if reply.Success {
		t.Fatalf("expected AppendEntries from a stale term to be rejected")
	}
}

func TestOnAppendEntriesAppliesEntriesAndAdvancesCommit(t *testing.T) {
	engine, store := newTestEngine(t, "n1", testMembers("n1", "n2"))
	ctx := context.Background()

	leaderVote := Vote{Term: 1, VotedFor: "n2", Committed: true}
	req := AppendEntriesRequest{
		Vote:         leaderVote,
		Entries:      []Entry{{LogID: LogID{Term: 1, Index: 1}, Payload: [][]byte{[]byte("x")}}},
		LeaderCommit: &LogID{Term: 1, Index: 1},
	}
	reply, err := engine.onAppendEntries(ctx, req)
	if err != nil {
		t.Fatalf("onAppendEntries: %v", err)
	}
	if !reply.Success {
		t.Fatalf("expected AppendEntries to succeed")
	}
	if engine.committed == nil || engine.committed.Index != 1 {
		t.Fatalf("expected commit index 1, got %v", engine.committed)
	}
	entry, ok, err := store.Read(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("expected entry 1 to be stored: ok=%v err=%v", ok, err)
	}
	if string(entry.Payload[0]) != "x" {
		t.Fatalf("unexpected payload: %q", entry.Payload[0])
	}
}

func TestOnAppendEntriesReapplyIsNoOp(t *testing.T) {
	engine, _ := newTestEngine(t, "n1", testMembers("n1", "n2"))
	ctx := context.Background()
	leaderVote := Vote{Term: 1, VotedFor: "n2", Committed: true}
	req := AppendEntriesRequest{
		Vote:    leaderVote,
		Entries: []Entry{{LogID: LogID{Term: 1, Index: 1}, Payload: [][]byte{[]byte("x")}}},
	}
	if _, err := engine.onAppendEntries(ctx, req); err != nil {
		t.Fatalf("first AppendEntries: %v", err)
	}
	reply, err := engine.onAppendEntries(ctx, req)
	if err != nil {
		t.Fatalf("second AppendEntries: %v", err)
	}
	if !reply.Success {
		t.Fatalf("expected reapplying an identical entry to succeed as a no-op")
	}
}

func TestOnAppendEntriesRejectsOnPrevLogMismatch(t *testing.T) {
	engine, _ := newTestEngine(t, "n1", testMembers("n1", "n2"))
	ctx := context.Background()
	leaderVote := Vote{Term: 1, VotedFor: "n2", Committed: true}

	req := AppendEntriesRequest{
		Vote:      leaderVote,
		PrevLogID: &LogID{Term: 1, Index: 5},
		Entries:   []Entry{{LogID: LogID{Term: 1, Index: 6}}},
	}
	reply, err := engine.onAppendEntries(ctx, req)
	if err != nil {
		t.Fatalf("onAppendEntries: %v", err)
	}
	if reply.Success {
		t.Fatalf("expected rejection on prevLogId mismatch")
	}
}
