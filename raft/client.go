package raft

import (
	"context"
	"fmt"
)

// writeResult is the outcome delivered to a client write's responder: a
// committed LogID, or an error (ForwardToLeaderError, ErrFatal).
type writeResult struct {
	LogID LogID
	Err   error
}

// clientWriteEnvelope carries a single write(cmd) call onto the engine
// inbox, per spec §4.5.
type clientWriteEnvelope struct {
	ctx     context.Context
	payload [][]byte
	reply   chan writeResult
}

// Write implements the client write path from spec §4.5: a follower
// returns ForwardToLeaderError immediately; a candidate holds the write until
// its election resolves; a leader appends the command at the next log index
// and resolves the call once that index commits (or the leader loses
// leadership first).
func (e *Engine) Write(ctx context.Context, cmd []byte) (LogID, error) {
	if e.fatal.Load() {
		return LogID{}, ErrFatal
	}
	env := &clientWriteEnvelope{ctx: ctx, payload: [][]byte{cmd}, reply: make(chan writeResult, 1)}
	select {
	case e.inbox <- env:
	case <-ctx.Done():
		return LogID{}, ctx.Err()
	case <-e.done:
		return LogID{}, ErrShuttingDown
	}
	select {
	case res := <-env.reply:
		return res.LogID, res.Err
	case <-ctx.Done():
		return LogID{}, ctx.Err()
	case <-e.done:
		return LogID{}, ErrShuttingDown
	}
}

// onClientWrite runs on the engine goroutine. A write arriving while
// Candidate is buffered until the election resolves (spec §9 open
// question), rather than rejected immediately, so writes issued on what
// turns out to be the winning leader still commit in issue order.
func (e *Engine) onClientWrite(ctx context.Context, env *clientWriteEnvelope) {
	switch e.role {
	case Leader:
		e.appendClientWrite(ctx, env)
	case Candidate:
		e.bufferedWrites = append(e.bufferedWrites, env)
	default:
		env.reply <- writeResult{Err: &ForwardToLeaderError{LeaderID: e.leaderID}}
	}
}

func (e *Engine) appendClientWrite(ctx context.Context, env *clientWriteEnvelope) {
	last, err := e.storage.LastLogID(ctx)
	if err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: read last log id: %w", err))
		env.reply <- writeResult{Err: ErrFatal}
		return
	}
	index := uint64(1)
	if last != nil {
		index = last.Index + 1
	}
	entry := Entry{LogID: LogID{Term: e.vote.Term, Index: index}, Payload: env.payload}
	if err := e.storage.Append(ctx, []Entry{entry}); err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: append client entry: %w", err))
		env.reply <- writeResult{Err: ErrFatal}
		return
	}
	e.pendingWrites[index] = env.reply
	e.notifyReplicas(&entry.LogID)
	e.advanceLeaderCommit(ctx)
}
