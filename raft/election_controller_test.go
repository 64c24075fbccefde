package raft

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"raftcore/membership"
)

func TestRunElectionControllerWinsImmediatelyInASingleNodeCluster(t *testing.T) {
	members := testMembers("n1")
	inbox := make(chan interface{}, 4)

	runElectionController(context.Background(), electionControllerDeps{
		self:      "n1",
		term:      1,
		lastLogID: nil,
		members:   members,
		network:   nullNetwork{},
		timeout:   50 * time.Millisecond,
		inbox:     inbox,
		logger:    zap.NewNop(),
	})

	select {
	case msg := <-inbox:
		if _, ok := msg.(electionWon); !ok {
			t.Fatalf("expected electionWon for a single-node cluster, got %T", msg)
		}
	default:
		t.Fatalf("expected a message on the inbox, got none")
	}
}

type votingNetwork struct {
	grant bool
}

func (v votingNetwork) RequestVote(ctx context.Context, target NodeID, req RequestVoteRequest) (RequestVoteReply, error) {
	return RequestVoteReply{Vote: req.Vote, VoteGranted: v.grant}, nil
}

func (v votingNetwork) AppendEntries(ctx context.Context, target NodeID, req AppendEntriesRequest) (AppendEntriesReply, error) {
	return AppendEntriesReply{}, nil
}

func TestRunElectionControllerWinsWithGrantedQuorum(t *testing.T) {
	members := testMembers("n1", "n2", "n3")
	inbox := make(chan interface{}, 4)

	runElectionController(context.Background(), electionControllerDeps{
		self:      "n1",
		term:      1,
		lastLogID: nil,
		members:   members,
		network:   votingNetwork{grant: true},
		timeout:   time.Second,
		inbox:     inbox,
		logger:    zap.NewNop(),
	})

	select {
	case msg := <-inbox:
		if _, ok := msg.(electionWon); !ok {
			t.Fatalf("expected electionWon once a quorum of peers grants, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for electionWon")
	}
}

func TestRunElectionControllerStallsWithoutQuorum(t *testing.T) {
	members := testMembers("n1", "n2", "n3")
	inbox := make(chan interface{}, 4)

	runElectionController(context.Background(), electionControllerDeps{
		self:      "n1",
		term:      1,
		lastLogID: nil,
		members:   members,
		network:   votingNetwork{grant: false},
		timeout:   100 * time.Millisecond,
		inbox:     inbox,
		logger:    zap.NewNop(),
	})

	select {
	case msg := <-inbox:
		if _, ok := msg.(electionStalled); !ok {
			t.Fatalf("expected electionStalled when no peer grants, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for electionStalled")
	}
}
