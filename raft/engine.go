package raft

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"raftcore/membership"
)

// Engine is the per-node consensus state machine: it owns the current vote,
// role, and (indirectly, through LogStorage) the log, and is the only
// goroutine that ever mutates them. Every other goroutine — RPC handlers,
// replication controllers, the election controller, client callers —
// communicates with it exclusively by sending a message on its inbox and,
// where a reply is expected, waiting on a oneshot channel carried inside
// that message.
//
// This collapses the separate runFollower/runCandidate/runLeader loops a
// mutex-guarded node would need into a single select loop keyed on e.role;
// the role-specific behavior lives in the handlers it dispatches to, not in
// three copies of the same channel plumbing.
type Engine struct {
	id      NodeID
	members *membership.Membership
	storage LogStorage
	network Network
	config  Config
	clock   Clock
	rng     *electionRand
	logger  *zap.Logger
	metrics *Metrics

	inbox chan interface{}
	done  chan struct{}
	fatal atomic.Bool

	role     Role
	vote     Vote
	leaderID *NodeID

	electionCh  <-chan time.Time
	heartbeatCh <-chan time.Time

	// leader-only state, reset on every Follower/Candidate -> Leader
	// transition.
	replicas      map[NodeID]*replicationController
	matchIndex    map[NodeID]uint64
	quorumAckedAt map[NodeID]time.Time
	pendingWrites map[uint64]chan writeResult

	// candidate-only state.
	electionCancel context.CancelFunc

	// buffered client writes received while Candidate, resolved once the
	// election settles one way or the other (spec §9 open question).
	bufferedWrites []*clientWriteEnvelope

	committed *LogID
}

// NewEngine constructs a node in the Follower role with a zero vote. Call
// Run to start processing; the engine does nothing until then.
func NewEngine(id NodeID, members *membership.Membership, storage LogStorage, network Network, config Config, clock Clock, logger *zap.Logger) *Engine {
	return &Engine{
		id:            id,
		members:       members,
		storage:       storage,
		network:       network,
		config:        config,
		clock:         clock,
		rng:           newElectionRand(config.Seed),
		logger:        logger.With(zap.String("node", string(id))),
		metrics:       newMetrics(),
		inbox:         make(chan interface{}, 256),
		done:          make(chan struct{}),
		role:          Follower,
		pendingWrites: make(map[uint64]chan writeResult),
	}
}

// Metrics returns the watch-style publisher consumers read committed log
// ids, role, and running state from.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Run drives the engine's main loop until ctx is canceled or Shutdown is
// called. It must be started in its own goroutine; it is the engine's only
// goroutine and the sole writer of vote, log, and role.
func (e *Engine) Run(ctx context.Context) error {
	vote, err := e.storage.ReadVote(ctx)
	if err != nil {
		return fmt.Errorf("raft: read stored vote: %w", err)
	}
	e.vote = vote
	e.resetElectionTimer()
	e.publishMetrics()

	e.logger.Info("engine starting", zap.Uint64("term", uint64(vote.Term)))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped", zap.Error(ctx.Err()))
			e.stopLeading(ctx)
			return nil
		case <-e.done:
			e.stopLeading(ctx)
			return nil
		case msg := <-e.inbox:
			e.dispatch(ctx, msg)
		case <-e.electionCh:
			e.onElectionTimeout(ctx)
		case <-e.heartbeatCh:
			e.onHeartbeatTimeout(ctx)
		}
	}
}

// Shutdown stops the engine at its next suspension point. On the closed done
// channel Run shuts down the replication controllers and returns; an
// election controller already in flight ends its own fan-out within its
// per-election timeout.
func (e *Engine) Shutdown() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func (e *Engine) dispatch(ctx context.Context, msg interface{}) {
	switch m := msg.(type) {
	case *requestVoteEnvelope:
		reply, err := e.onRequestVote(ctx, m.req)
		m.errCh <- err
		if err == nil {
			m.reply <- reply
		}
	case *appendEntriesEnvelope:
		reply, err := e.onAppendEntries(ctx, m.req)
		m.errCh <- err
		if err == nil {
			m.reply <- reply
		}
	case *clientWriteEnvelope:
		e.onClientWrite(ctx, m)
	case replicationAck:
		e.onReplicationAck(ctx, m)
	case replicationTermBumped:
		e.stepDown(ctx, m.vote)
	case electionWon:
		e.becomeLeader(ctx, m.term)
	case electionStepdown:
		e.stepDown(ctx, m.vote)
	case electionStalled:
		e.startElection(ctx)
	}
}

// --- vote acceptance & role transitions -----------------------------------

// acceptForeignVote applies the vote-acceptance rule from spec §4.1: a
// strictly greater vote is persisted, observed, and may trigger a step
// down; an equal or lesser vote is left alone. It returns whether v was
// accepted.
func (e *Engine) acceptForeignVote(ctx context.Context, v Vote) bool {
	if !v.Greater(e.vote) {
		return false
	}
	if err := e.storage.SaveVote(ctx, v); err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: persist vote %s: %w", v, err))
		return false
	}
	e.vote = v
	if e.role != Follower {
		e.stepDownTo(ctx, Follower)
	}
	e.publishMetrics()
	return true
}

// stepDown drops to Follower on observing vote, if it is in fact greater
// than the current one (a stale notification is ignored).
func (e *Engine) stepDown(ctx context.Context, vote Vote) {
	if vote.Greater(e.vote) {
		e.acceptForeignVote(ctx, vote)
	}
}

func (e *Engine) stepDownTo(ctx context.Context, role Role) {
	old := e.role
	e.role = role
	e.leaderID = nil
	e.stopLeading(ctx)
	if e.electionCancel != nil {
		e.electionCancel()
		e.electionCancel = nil
	}
	e.resetElectionTimer()
	e.heartbeatCh = nil
	if old != role {
		e.logger.Info("role change", zap.String("from", old.String()), zap.String("to", role.String()))
	}
	if role == Follower {
		e.failPendingWrites(&ForwardToLeaderError{LeaderID: e.leaderID})
	}
}

func (e *Engine) stopLeading(ctx context.Context) {
	for _, r := range e.replicas {
		r.shutdown()
	}
	e.replicas = nil
	e.matchIndex = nil
	e.quorumAckedAt = nil
}

// --- election --------------------------------------------------------------

func (e *Engine) onElectionTimeout(ctx context.Context) {
	if !e.config.EnableTick || !e.config.EnableElect {
		e.resetElectionTimer()
		return
	}
	if e.role == Leader {
		return
	}
	e.startElection(ctx)
}

// startElection implements Follower -> Candidate and Candidate -> Candidate
// (restart with term+1), per spec §4.1.
func (e *Engine) startElection(ctx context.Context) {
	newVote := Vote{Term: e.vote.Term + 1, VotedFor: e.id, Committed: false}
	if err := e.storage.SaveVote(ctx, newVote); err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: persist candidate vote: %w", err))
		return
	}
	e.vote = newVote
	e.role = Candidate
	e.leaderID = nil
	e.resetElectionTimer()
	e.publishMetrics()
	e.logger.Info("starting election", zap.Uint64("term", uint64(newVote.Term)))

	if e.electionCancel != nil {
		e.electionCancel()
	}
	lastLogID, err := e.storage.LastLogID(ctx)
	if err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: read last log id: %w", err))
		return
	}
	electionCtx, cancel := context.WithCancel(ctx)
	e.electionCancel = cancel
	go runElectionController(electionCtx, electionControllerDeps{
		self:      e.id,
		term:      newVote.Term,
		lastLogID: lastLogID,
		members:   e.members,
		network:   e.network,
		timeout:   e.config.electionTimeoutMin(),
		inbox:     e.inbox,
		logger:    e.logger,
	})
}

func (e *Engine) becomeLeader(ctx context.Context, term Term) {
	if e.role != Candidate || e.vote.Term != term {
		return
	}
	leaderVote := Vote{Term: term, VotedFor: e.id, Committed: true}
	if err := e.storage.SaveVote(ctx, leaderVote); err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: persist leader vote: %w", err))
		return
	}
	e.vote = leaderVote
	e.role = Leader
	self := e.id
	e.leaderID = &self
	e.electionCh = nil
	if e.electionCancel != nil {
		e.electionCancel()
		e.electionCancel = nil
	}

	lastLogID, err := e.storage.LastLogID(ctx)
	if err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: read last log id: %w", err))
		return
	}
	startIndex := uint64(0)
	if lastLogID != nil {
		startIndex = lastLogID.Index
	}

	peers := e.members.Peers(e.id)
	e.replicas = make(map[NodeID]*replicationController, len(peers))
	e.matchIndex = make(map[NodeID]uint64, len(peers))
	e.quorumAckedAt = make(map[NodeID]time.Time, len(peers))
	now := e.clock.Now()
	e.quorumAckedAt[e.id] = now

	for _, peer := range peers {
		e.matchIndex[peer] = 0
		rc := newReplicationController(peer, term, startIndex+1, e.storage, e.network, e.config, e.logger, e.inbox)
		e.replicas[peer] = rc
		go rc.run(ctx)
	}

	e.resetHeartbeatTimer()
	e.logger.Info("became leader", zap.Uint64("term", uint64(term)))
	e.publishMetrics()
	e.notifyReplicas(lastLogID)
	// With zero peers (a single-node cluster) no replicationAck will ever
	// arrive to trigger advanceLeaderCommit, so entries written in this
	// term would otherwise never commit; self alone already satisfies
	// quorum in that case.
	e.advanceLeaderCommit(ctx)

	for _, w := range e.bufferedWrites {
		e.appendClientWrite(ctx, w)
	}
	e.bufferedWrites = nil
}

// --- RPC handlers ------------------------------------------------------------

// HandleRequestVote implements RPCHandler for external callers: it submits
// the request to the engine inbox and blocks for the reply, preserving
// single-writer semantics even though the caller runs on a different
// goroutine (a Network server handler).
func (e *Engine) HandleRequestVote(ctx context.Context, req RequestVoteRequest) (RequestVoteReply, error) {
	env := &requestVoteEnvelope{req: req, reply: make(chan RequestVoteReply, 1), errCh: make(chan error, 1)}
	select {
	case e.inbox <- env:
	case <-ctx.Done():
		return RequestVoteReply{}, ctx.Err()
	case <-e.done:
		return RequestVoteReply{}, ErrShuttingDown
	}
	select {
	case err := <-env.errCh:
		if err != nil {
			return RequestVoteReply{}, err
		}
	case <-ctx.Done():
		return RequestVoteReply{}, ctx.Err()
	}
	select {
	case reply := <-env.reply:
		return reply, nil
	case <-ctx.Done():
		return RequestVoteReply{}, ctx.Err()
	}
}

// HandleAppendEntries is the AppendEntries analogue of HandleRequestVote.
func (e *Engine) HandleAppendEntries(ctx context.Context, req AppendEntriesRequest) (AppendEntriesReply, error) {
	env := &appendEntriesEnvelope{req: req, reply: make(chan AppendEntriesReply, 1), errCh: make(chan error, 1)}
	select {
	case e.inbox <- env:
	case <-ctx.Done():
		return AppendEntriesReply{}, ctx.Err()
	case <-e.done:
		return AppendEntriesReply{}, ErrShuttingDown
	}
	select {
	case err := <-env.errCh:
		if err != nil {
			return AppendEntriesReply{}, err
		}
	case <-ctx.Done():
		return AppendEntriesReply{}, ctx.Err()
	}
	select {
	case reply := <-env.reply:
		return reply, nil
	case <-ctx.Done():
		return AppendEntriesReply{}, ctx.Err()
	}
}

// onRequestVote runs on the engine goroutine. It implements §4.1's grant
// rule: grant iff the candidate's vote is strictly greater than ours and
// its log is at least as up to date.
func (e *Engine) onRequestVote(ctx context.Context, req RequestVoteRequest) (RequestVoteReply, error) {
	if !req.Vote.Greater(e.vote) {
		return RequestVoteReply{Vote: e.vote, VoteGranted: false}, nil
	}
	lastLogID, err := e.storage.LastLogID(ctx)
	if err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: read last log id: %w", err))
		return RequestVoteReply{}, ErrFatal
	}
	if !GreaterOrEqualLogID(req.LastLogID, lastLogID) {
		return RequestVoteReply{Vote: e.vote, VoteGranted: false}, nil
	}
	if !e.acceptForeignVote(ctx, req.Vote) {
		return RequestVoteReply{Vote: e.vote, VoteGranted: false}, nil
	}
	e.resetElectionTimer()
	return RequestVoteReply{Vote: e.vote, VoteGranted: true}, nil
}

// onAppendEntries implements the five-step follower-side handling in
// spec §4.1.
func (e *Engine) onAppendEntries(ctx context.Context, req AppendEntriesRequest) (AppendEntriesReply, error) {
	if req.Vote.Less(e.vote) {
		return AppendEntriesReply{Vote: e.vote, Success: false}, nil
	}
	if req.Vote.Greater(e.vote) {
		e.acceptForeignVote(ctx, req.Vote)
	} else if e.role != Follower {
		e.stepDownTo(ctx, Follower)
	}
	if !req.Vote.Committed {
		return AppendEntriesReply{Vote: e.vote, Success: false}, nil
	}
	leader := req.Vote.VotedFor
	e.leaderID = &leader
	e.resetElectionTimer()

	if req.PrevLogID != nil {
		entry, ok, err := e.storage.Read(ctx, req.PrevLogID.Index)
		if err != nil {
			e.failFatal(ctx, fmt.Errorf("raft: read prev log entry: %w", err))
			return AppendEntriesReply{}, ErrFatal
		}
		if !ok || entry.LogID.Term != req.PrevLogID.Term {
			last, err := e.storage.LastLogID(ctx)
			if err != nil {
				e.failFatal(ctx, fmt.Errorf("raft: read last log id: %w", err))
				return AppendEntriesReply{}, ErrFatal
			}
			return AppendEntriesReply{Vote: e.vote, Success: false, Conflict: last}, nil
		}
	}

	if len(req.Entries) > 0 {
		firstNewIndex := req.Entries[0].LogID.Index
		if existing, ok, err := e.storage.Read(ctx, firstNewIndex); err == nil && ok && existing.LogID.Term != req.Entries[0].LogID.Term {
			if err := e.storage.Truncate(ctx, firstNewIndex); err != nil {
				e.failFatal(ctx, fmt.Errorf("raft: truncate conflicting suffix: %w", err))
				return AppendEntriesReply{}, ErrFatal
			}
		} else if err != nil {
			e.failFatal(ctx, fmt.Errorf("raft: read existing entry: %w", err))
			return AppendEntriesReply{}, ErrFatal
		}
		toAppend := make([]Entry, 0, len(req.Entries))
		for _, entry := range req.Entries {
			existing, ok, err := e.storage.Read(ctx, entry.LogID.Index)
			if err != nil {
				e.failFatal(ctx, fmt.Errorf("raft: read existing entry: %w", err))
				return AppendEntriesReply{}, ErrFatal
			}
			if ok && existing.LogID == entry.LogID {
				continue
			}
			toAppend = append(toAppend, entry)
		}
		if len(toAppend) > 0 {
			if err := e.storage.Append(ctx, toAppend); err != nil {
				e.failFatal(ctx, fmt.Errorf("raft: append entries: %w", err))
				return AppendEntriesReply{}, ErrFatal
			}
		}
	}

	lastNew, err := e.storage.LastLogID(ctx)
	if err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: read last log id: %w", err))
		return AppendEntriesReply{}, ErrFatal
	}
	if req.LeaderCommit != nil && (e.committed == nil || req.LeaderCommit.Index > e.committed.Index) {
		newCommitted := req.LeaderCommit
		if lastNew != nil && lastNew.Index < newCommitted.Index {
			newCommitted = lastNew
		}
		e.advanceCommitted(newCommitted)
	}
	e.publishMetrics()
	return AppendEntriesReply{Vote: e.vote, Success: true}, nil
}

func (e *Engine) failPendingWrites(err error) {
	for idx, ch := range e.pendingWrites {
		ch <- writeResult{Err: err}
		delete(e.pendingWrites, idx)
	}
	for _, w := range e.bufferedWrites {
		w.reply <- writeResult{Err: err}
	}
	e.bufferedWrites = nil
}

// --- replication & commit ----------------------------------------------------

func (e *Engine) notifyReplicas(upto *LogID) {
	if upto == nil {
		return
	}
	for _, r := range e.replicas {
		r.notifyNewLog(*upto)
	}
}

func (e *Engine) onReplicationAck(ctx context.Context, ack replicationAck) {
	if e.role != Leader || ack.term != e.vote.Term {
		return
	}
	if ack.match.Index > e.matchIndex[ack.peer] {
		e.matchIndex[ack.peer] = ack.match.Index
	}
	if ack.quorumVoteEchoed {
		e.quorumAckedAt[ack.peer] = e.clock.Now()
	}
	e.advanceLeaderCommit(ctx)
	e.checkQuorumLease(ctx)
	e.publishMetrics()
}

// advanceLeaderCommit implements the leader-side commit rule in §4.1: find
// the largest M such that a strict majority of match_index values are >= M
// and the entry at M was written in the leader's own current term.
func (e *Engine) advanceLeaderCommit(ctx context.Context) {
	last, err := e.storage.LastLogID(ctx)
	if err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: read last log id: %w", err))
		return
	}
	if last == nil {
		return
	}
	floor := uint64(0)
	if e.committed != nil {
		floor = e.committed.Index
	}
	for idx := last.Index; idx > floor; idx-- {
		entry, ok, err := e.storage.Read(ctx, idx)
		if err != nil {
			e.failFatal(ctx, fmt.Errorf("raft: read entry %d: %w", idx, err))
			return
		}
		if !ok || entry.LogID.Term != e.vote.Term {
			continue
		}
		count := 1 // self
		for peer, match := range e.matchIndex {
			if peer != e.id && match >= idx {
				count++
			}
		}
		if e.members.HasQuorum(count) {
			e.advanceCommitted(&entry.LogID)
			e.resolvePendingWritesUpTo(idx)
			return
		}
	}
}

func (e *Engine) advanceCommitted(id *LogID) {
	if id == nil {
		return
	}
	if e.committed != nil && LessLogID(id, e.committed) {
		return
	}
	e.committed = id
	for _, r := range e.replicas {
		r.setCommitted(id.Index)
	}
	e.resolvePendingWritesUpTo(id.Index)
}

func (e *Engine) resolvePendingWritesUpTo(index uint64) {
	if e.committed == nil {
		return
	}
	for idx, ch := range e.pendingWrites {
		if idx <= index {
			ch <- writeResult{LogID: LogID{Term: e.vote.Term, Index: idx}}
			delete(e.pendingWrites, idx)
		}
	}
}

// --- timers & fatal handling --------------------------------------------------

func (e *Engine) resetElectionTimer() {
	if !e.config.EnableTick || !e.config.EnableElect || e.role == Leader {
		e.electionCh = nil
		return
	}
	d := e.rng.electionTimeout(e.config.ElectionTimeoutMin, e.config.ElectionTimeoutMax)
	e.electionCh = e.clock.After(d)
}

func (e *Engine) resetHeartbeatTimer() {
	if !e.config.EnableTick || !e.config.EnableHeartbeat || e.role != Leader {
		e.heartbeatCh = nil
		return
	}
	e.heartbeatCh = e.clock.After(e.config.heartbeatInterval())
}

func (e *Engine) onHeartbeatTimeout(ctx context.Context) {
	if e.role != Leader {
		return
	}
	last, err := e.storage.LastLogID(ctx)
	if err != nil {
		e.failFatal(ctx, fmt.Errorf("raft: read last log id: %w", err))
		return
	}
	e.notifyReplicas(last)
	e.resetHeartbeatTimer()
}

func (e *Engine) failFatal(ctx context.Context, err error) {
	if e.fatal.Swap(true) {
		return
	}
	e.logger.Error("fatal error", zap.Error(err))
	e.metrics.publish(Snapshot{RunningState: FatalState, Err: err})
	e.failPendingWrites(&ForwardToLeaderError{LeaderID: nil})
	e.stopLeading(ctx)
	e.Shutdown()
}

func (e *Engine) publishMetrics() {
	snap := Snapshot{
		RunningState: Running,
		Role:         e.role,
		Vote:         e.vote,
		Committed:    e.committed,
		LeaderID:     e.leaderID,
	}
	if e.fatal.Load() {
		snap.RunningState = FatalState
	}
	if e.role == Leader {
		heartbeats := make(map[NodeID]time.Time, len(e.quorumAckedAt))
		for peer, t := range e.quorumAckedAt {
			heartbeats[peer] = t
		}
		snap.Heartbeats = heartbeats
		if oldest, fresh := leaderLease(e.quorumAckedAt, e.members.HasQuorum); fresh {
			snap.LastQuorumAcked = oldest
		}
	}
	e.metrics.publish(snap)
}

var _ RPCHandler = (*Engine)(nil)
