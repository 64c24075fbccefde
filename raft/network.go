package raft

import "context"

// RequestVoteRequest is the wire shape of a RequestVote RPC (spec §6).
type RequestVoteRequest struct {
	Vote      Vote
	LastLogID *LogID
}

// RequestVoteReply carries the receiver's stored vote after handling the
// request, and whether it was granted.
type RequestVoteReply struct {
	Vote        Vote
	VoteGranted bool
}

// AppendEntriesRequest is the wire shape of an AppendEntries RPC. Vote must
// be committed=true for normal replication; a non-committed vote in this
// position is rejected by the receiver (it is not a leader's vote).
type AppendEntriesRequest struct {
	Vote         Vote
	PrevLogID    *LogID
	Entries      []Entry
	LeaderCommit *LogID
}

// AppendEntriesReply reports whether the append succeeded, and on failure a
// conflict hint (the receiver's own last log id) for backoff.
type AppendEntriesReply struct {
	Vote     Vote
	Success  bool
	Conflict *LogID
}

// Network is the request/reply capability the engine and its controllers
// consume to reach a named peer (spec §4.7). Implementations own framing,
// transport, and timeouts; reordering and duplication are permitted — the
// protocol tolerates both, so Network is responsible for no more than
// best-effort delivery.
type Network interface {
	RequestVote(ctx context.Context, target NodeID, req RequestVoteRequest) (RequestVoteReply, error)
	AppendEntries(ctx context.Context, target NodeID, req AppendEntriesRequest) (AppendEntriesReply, error)
}

// RPCHandler is implemented by Engine and invoked by a Network's server
// side when a peer's request arrives for this node.
type RPCHandler interface {
	HandleRequestVote(ctx context.Context, req RequestVoteRequest) (RequestVoteReply, error)
	HandleAppendEntries(ctx context.Context, req AppendEntriesRequest) (AppendEntriesReply, error)
}
