package raft

import (
	"sync"
	"time"
)

// Snapshot is the latest-value payload the metrics watcher publishes on
// every observable engine change (spec §4.8).
type Snapshot struct {
	RunningState RunningState
	Role         Role
	Vote         Vote
	Committed    *LogID
	LeaderID     *NodeID
	Err          error

	// LastQuorumAcked is the oldest committed-vote-echo timestamp among a
	// quorum (including self), i.e. the value checkQuorumLease compares
	// against electionTimeoutMax. Zero when not currently leader or when no
	// quorum of acks has been observed yet.
	LastQuorumAcked time.Time
	// Heartbeats is the leader's per-peer view of when it last heard an
	// AppendEntries ack from that peer (self included). Nil on a follower
	// or candidate, where there is no such view to report.
	Heartbeats map[NodeID]time.Time
}

// Metrics is a single-producer, many-consumer latest-value channel: the
// engine is the sole publisher, and any number of consumers (typically an
// applier) can call Watch to get a channel that always holds the most
// recent Snapshot, coalescing intermediate values the consumer didn't get
// around to reading. This mirrors a Go-idiomatic "watch" channel — there is
// no such primitive in the standard library, and nothing in the retrieved
// corpus implements one either, so this is built directly from the
// mutex + buffered-channel-of-size-1 pattern common for latest-value
// broadcast in Go (see DESIGN.md for why no third-party library fits here).
type Metrics struct {
	mu   sync.Mutex
	last Snapshot
	subs []chan Snapshot
}

func newMetrics() *Metrics {
	return &Metrics{}
}

// Watch returns a channel that immediately holds the current Snapshot and
// then receives the Snapshots published after it, buffered to size 1 so a
// slow consumer observes the latest value rather than blocking the
// publisher; intermediate values may be dropped in favor of the newest one.
func (m *Metrics) Watch() <-chan Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Snapshot, 1)
	ch <- m.last
	m.subs = append(m.subs, ch)
	return ch
}

// Latest returns the most recently published snapshot without waiting.
func (m *Metrics) Latest() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Metrics) publish(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = s
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
