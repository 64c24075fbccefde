package raft

// requestVoteEnvelope and appendEntriesEnvelope carry an inbound RPC plus
// its reply channels onto the engine inbox, preserving the single-writer
// invariant for goroutines (Network server handlers) that did not
// originate on the engine goroutine.
type requestVoteEnvelope struct {
	req   RequestVoteRequest
	reply chan RequestVoteReply
	errCh chan error
}

type appendEntriesEnvelope struct {
	req   AppendEntriesRequest
	reply chan AppendEntriesReply
	errCh chan error
}

// replicationAck is sent by a replication controller to report progress
// against one peer.
type replicationAck struct {
	peer             NodeID
	term             Term
	match            LogID
	quorumVoteEchoed bool
}

// replicationTermBumped is sent by a replication controller when a peer's
// reply carries a vote strictly greater than the leader's, or when the
// stored vote no longer has the term the controller was started with.
type replicationTermBumped struct {
	vote Vote
}

// electionWon, electionStepdown, and electionStalled are the three outcomes
// the election controller reports to the engine (spec §4.3).
type electionWon struct {
	term Term
}

type electionStepdown struct {
	vote Vote
}

type electionStalled struct {
	term Term
}
