package raft

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"raftcore/membership"
)

// electionControllerDeps is the immutable snapshot the election controller
// needs; it never reaches back into Engine state directly (spec §9:
// "a back reference to the engine... model as owned handles plus a weak
// notification channel").
type electionControllerDeps struct {
	self      NodeID
	term      Term
	lastLogID *LogID
	members   *membership.Membership
	network   Network
	timeout   time.Duration
	inbox     chan<- interface{}
	logger    *zap.Logger
}

// runElectionController implements spec §4.3: broadcast RequestVote to
// every peer concurrently with a per-request timeout, aggregate grants
// including self, and report exactly one outcome back to the engine.
// Cancellation of ctx (engine shutdown, or a newer election starting)
// stops the fan-out at its next suspension point and swallows the
// controller's own report.
func runElectionController(ctx context.Context, deps electionControllerDeps) {
	peers := deps.members.Peers(deps.self)
	grants := 1 // vote for self
	if deps.members.HasQuorum(grants) {
		report(ctx, deps.inbox, electionWon{term: deps.term})
		return
	}
	results := make(chan RequestVoteReply, len(peers))
	errs := make(chan error, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, deps.timeout)
			defer cancel()
			reply, err := deps.network.RequestVote(rctx, peer, RequestVoteRequest{
				Vote:      Vote{Term: deps.term, VotedFor: deps.self, Committed: false},
				LastLogID: deps.lastLogID,
			})
			if err != nil {
				deps.logger.Debug("request vote transport error", zap.String("peer", string(peer)), zap.Error(err))
				errs <- err
				return nil
			}
			results <- reply
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
		close(errs)
	}()

	deadline := time.After(deps.timeout)
	for i := 0; i < len(peers); i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			report(ctx, deps.inbox, electionStalled{term: deps.term})
			return
		case reply, ok := <-results:
			if !ok {
				continue
			}
			if reply.Vote.Term > deps.term {
				report(ctx, deps.inbox, electionStepdown{vote: reply.Vote})
				return
			}
			if reply.VoteGranted {
				grants++
				if deps.members.HasQuorum(grants) {
					report(ctx, deps.inbox, electionWon{term: deps.term})
					return
				}
			}
		}
	}
	report(ctx, deps.inbox, electionStalled{term: deps.term})
}

func report(ctx context.Context, inbox chan<- interface{}, msg interface{}) {
	select {
	case inbox <- msg:
	case <-ctx.Done():
	}
}
