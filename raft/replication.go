package raft

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// replicationController is the leader-side per-peer loop from spec §4.2:
// one instance per follower per leader-term, owning nextIndex for that peer
// and reporting acks back to the engine over its inbox (the engine keeps
// matchIndex). It
// never touches engine state directly — only notifyNewLog (non-blocking)
// and the engine's inbox cross the goroutine boundary, matching the
// "owned handles plus a weak notification channel" guidance in spec §9.
type replicationController struct {
	peer    NodeID
	term    Term
	storage LogStorage
	network Network
	config  Config
	logger  *zap.Logger
	inbox   chan<- interface{}

	notifyCh chan LogID
	doneCh   chan struct{}

	nextIndex      uint64
	committedIndex atomic.Uint64
}

// startIndex is the first log index the leader believes this peer might be
// missing — ordinarily one past the leader's own last log index, so a
// freshly elected leader starts by probing from where its own log ends
// rather than renegotiating from index 1 against a peer that may already be
// fully caught up.
func newReplicationController(peer NodeID, term Term, startIndex uint64, storage LogStorage, network Network, config Config, logger *zap.Logger, inbox chan<- interface{}) *replicationController {
	if startIndex < 1 {
		startIndex = 1
	}
	return &replicationController{
		peer:      peer,
		term:      term,
		storage:   storage,
		network:   network,
		config:    config,
		logger:    logger.With(zap.String("peer", string(peer)), zap.Uint64("term", uint64(term))),
		inbox:     inbox,
		notifyCh:  make(chan LogID, 1),
		doneCh:    make(chan struct{}),
		nextIndex: startIndex,
	}
}

// notifyNewLog hints that entries up to upto are available. Non-blocking:
// a pending hint is coalesced since the controller always sends the
// freshest tail of the log regardless of which hint woke it.
func (r *replicationController) notifyNewLog(upto LogID) {
	select {
	case r.notifyCh <- upto:
	default:
		select {
		case <-r.notifyCh:
		default:
		}
		select {
		case r.notifyCh <- upto:
		default:
		}
	}
}

// setCommitted records the leader's current commit index so the next
// AppendEntries carries an up to date leaderCommit field; it may be called
// concurrently with run from the engine goroutine.
func (r *replicationController) setCommitted(index uint64) {
	r.committedIndex.Store(index)
}

func (r *replicationController) shutdown() {
	select {
	case <-r.doneCh:
	default:
		close(r.doneCh)
	}
}

func (r *replicationController) run(ctx context.Context) {
	heartbeat := time.Duration(r.config.HeartbeatIntervalMs) * time.Millisecond
	timer := time.NewTimer(heartbeat)
	defer timer.Stop()

	backoff := time.Duration(0)
	tick := func() {
		if r.replicateOnce(ctx) {
			backoff = 0
			return
		}
		if backoff == 0 {
			backoff = r.config.electionTimeoutMin() / 4
		} else {
			backoff *= 2
		}
		if backoff > heartbeat {
			backoff = heartbeat
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.doneCh:
			return
		case <-r.notifyCh:
			tick()
			resetTimer(timer, heartbeat)
		case <-timer.C:
			tick()
			resetTimer(timer, heartbeat)
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return
			case <-r.doneCh:
				return
			case <-time.After(backoff):
			}
		}
	}
}

const replicationBatchSize = 64

// replicateOnce sends one AppendEntries to the peer and reports the outcome
// upstream. It returns false on a transport error, telling run to back off
// exponentially (bounded by the heartbeat interval) instead of hammering an
// unreachable peer every tick; a rejected-but-delivered reply (stale term,
// log mismatch) is not a transport failure and returns true.
func (r *replicationController) replicateOnce(ctx context.Context) bool {
	last, err := r.storage.LastLogID(ctx)
	if err != nil {
		r.logger.Error("read last log id failed", zap.Error(err))
		return true
	}

	var prevLogID *LogID
	if r.nextIndex > 1 {
		prevEntry, ok, err := r.storage.Read(ctx, r.nextIndex-1)
		if err != nil {
			r.logger.Error("read prev entry failed", zap.Error(err))
			return true
		}
		if ok {
			prevLogID = &prevEntry.LogID
		}
	}

	var entries []Entry
	if last != nil && last.Index >= r.nextIndex {
		hi := last.Index
		if hi > r.nextIndex+replicationBatchSize-1 {
			hi = r.nextIndex + replicationBatchSize - 1
		}
		entries, err = r.storage.ReadRange(ctx, r.nextIndex, hi)
		if err != nil {
			r.logger.Error("read range failed", zap.Error(err))
			return true
		}
	}

	req := AppendEntriesRequest{
		Entries: entries,
	}
	// the leader's own vote (committed=true) is read from storage, where
	// the engine persisted it, so the controller never needs a
	// back-reference into engine state.
	vote, err := r.storage.ReadVote(ctx)
	if err != nil {
		r.logger.Error("read vote failed", zap.Error(err))
		return true
	}
	if vote.Term != r.term {
		r.reportTermBumped(vote)
		return true
	}
	req.Vote = vote
	req.PrevLogID = prevLogID
	if ci := r.committedIndex.Load(); ci > 0 {
		req.LeaderCommit = &LogID{Term: r.term, Index: ci}
	}

	rctx, cancel := context.WithTimeout(ctx, r.config.electionTimeoutMin())
	reply, err := r.network.AppendEntries(rctx, r.peer, req)
	cancel()
	if err != nil {
		r.logger.Debug("append entries transport error", zap.Error(err))
		return false
	}

	if reply.Vote.Greater(vote) {
		r.reportTermBumped(reply.Vote)
		return true
	}

	if !reply.Success {
		if reply.Conflict != nil {
			if reply.Conflict.Index+1 < r.nextIndex {
				r.nextIndex = reply.Conflict.Index + 1
			} else if r.nextIndex > 1 {
				r.nextIndex--
			}
		} else if r.nextIndex > 1 {
			r.nextIndex--
		}
		return true
	}

	if len(entries) > 0 {
		r.nextIndex = entries[len(entries)-1].LogID.Index + 1
		match := entries[len(entries)-1].LogID
		r.reportAck(match, reply.Vote.Committed)
	} else if last != nil {
		r.reportAck(*last, reply.Vote.Committed)
	} else {
		r.reportAck(LogID{}, reply.Vote.Committed)
	}
	return true
}

func (r *replicationController) reportAck(match LogID, quorumEchoed bool) {
	select {
	case r.inbox <- replicationAck{peer: r.peer, term: r.term, match: match, quorumVoteEchoed: quorumEchoed}:
	case <-r.doneCh:
	}
}

func (r *replicationController) reportTermBumped(vote Vote) {
	select {
	case r.inbox <- replicationTermBumped{vote: vote}:
	case <-r.doneCh:
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
