package transport

import (
	"context"
	"testing"

	"raftcore/raft"
)

type stubHandler struct {
	voteReply   raft.RequestVoteReply
	appendReply raft.AppendEntriesReply
	err         error
}

func (s *stubHandler) HandleRequestVote(ctx context.Context, req raft.RequestVoteRequest) (raft.RequestVoteReply, error) {
	return s.voteReply, s.err
}

func (s *stubHandler) HandleAppendEntries(ctx context.Context, req raft.AppendEntriesRequest) (raft.AppendEntriesReply, error) {
	return s.appendReply, s.err
}

func TestLoopbackDispatchesToRegisteredPeer(t *testing.T) {
	lb := NewLoopback()
	handler := &stubHandler{voteReply: raft.RequestVoteReply{VoteGranted: true}}
	lb.Register("n2", handler)

	reply, err := lb.RequestVote(context.Background(), "n2", raft.RequestVoteRequest{})
	if err != nil {
		t.Fatalf("RequestVote: %v", err)
	}
	if !reply.VoteGranted {
		t.Fatalf("expected VoteGranted=true from stub handler")
	}
}

func TestLoopbackUnknownPeerErrors(t *testing.T) {
	lb := NewLoopback()
	if _, err := lb.RequestVote(context.Background(), "ghost", raft.RequestVoteRequest{}); err == nil {
		t.Fatalf("expected error dialing an unregistered peer")
	}
}

func TestLoopbackUnregisterStopsDelivery(t *testing.T) {
	lb := NewLoopback()
	handler := &stubHandler{appendReply: raft.AppendEntriesReply{Success: true}}
	lb.Register("n3", handler)
	lb.Unregister("n3")

	if _, err := lb.AppendEntries(context.Background(), "n3", raft.AppendEntriesRequest{}); err == nil {
		t.Fatalf("expected error after unregistering peer")
	}
}
