package raft

import (
	"context"
	"sort"
	"time"
)

// leaderLease computes the quorum-lease freshness signal from spec §4.4:
// among the per-peer timestamps (including self) at which the leader last
// observed its own committed=true vote echoed back, the oldest one within
// the freshest quorum. It is surfaced in metrics and used to decide whether
// the leader should proactively step down.
func leaderLease(acked map[NodeID]time.Time, quorumSize func(int) bool) (oldest time.Time, fresh bool) {
	times := make([]time.Time, 0, len(acked))
	for _, t := range acked {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })
	for i, t := range times {
		if quorumSize(i + 1) {
			return t, true
		}
	}
	return time.Time{}, false
}

// checkQuorumLease implements the proactive step-down half of §4.4: if the
// oldest acked timestamp among a quorum (including self) is older than the
// configured bound (default election_timeout_max), the leader steps down
// rather than continue serving stale reads. Freshness earned from a
// RequestVote reply does not count — only AppendEntries acks update
// quorumAckedAt (see onReplicationAck).
func (e *Engine) checkQuorumLease(ctx context.Context) {
	if e.role != Leader {
		return
	}
	e.quorumAckedAt[e.id] = e.clock.Now()
	oldest, fresh := leaderLease(e.quorumAckedAt, e.members.HasQuorum)
	if !fresh {
		return
	}
	bound := e.config.electionTimeoutMax()
	if e.clock.Now().Sub(oldest) > bound {
		e.logger.Warn("quorum lease expired, stepping down")
		e.stepDownTo(ctx, Follower)
	}
}
