package transport

import (
	"context"
	"fmt"
	"sync"

	"raftcore/raft"
)

// Loopback is an in-process raft.Network that dispatches directly to a
// registered peer's raft.RPCHandler — no sockets, no serialization. It
// plays the role the teacher's RPCClient/RPCServer interface split plays
// in production (raft/election.go), but collapsed to direct Go calls,
// which is what lets engine-level tests exercise real goroutine
// concurrency and real timeouts without binding ports.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[raft.NodeID]raft.RPCHandler
}

// NewLoopback returns an empty registry. Register every node that should
// be reachable before the engines using this Loopback start running.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[raft.NodeID]raft.RPCHandler)}
}

// Register binds id's RPCHandler (normally its *raft.Engine) so other
// nodes sharing this Loopback can reach it.
func (l *Loopback) Register(id raft.NodeID, handler raft.RPCHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[id] = handler
}

// Unregister removes id, simulating a crashed or partitioned node: calls
// targeting it now fail instead of silently succeeding.
func (l *Loopback) Unregister(id raft.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, id)
}

func (l *Loopback) handlerFor(target raft.NodeID) (raft.RPCHandler, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.handlers[target]
	if !ok {
		return nil, fmt.Errorf("transport: no loopback peer registered for %q", target)
	}
	return h, nil
}

func (l *Loopback) RequestVote(ctx context.Context, target raft.NodeID, req raft.RequestVoteRequest) (raft.RequestVoteReply, error) {
	h, err := l.handlerFor(target)
	if err != nil {
		return raft.RequestVoteReply{}, err
	}
	return h.HandleRequestVote(ctx, req)
}

func (l *Loopback) AppendEntries(ctx context.Context, target raft.NodeID, req raft.AppendEntriesRequest) (raft.AppendEntriesReply, error) {
	h, err := l.handlerFor(target)
	if err != nil {
		return raft.AppendEntriesReply{}, err
	}
	return h.HandleAppendEntries(ctx, req)
}

var _ raft.Network = (*Loopback)(nil)
