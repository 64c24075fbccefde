// Package membership holds the static cluster membership table consumed by
// the consensus engine: a fixed NodeID -> Node mapping established at
// initialization time, plus the quorum arithmetic derived from it.
//
// Adapted from the teacher's cluster.NodeRegistry, which additionally
// supported RegisterNode/UnregisterNode and a consistent-hash ring for
// routing keys across a dynamically resized cluster. Dynamic membership
// changes are an explicit non-goal of this consensus core, so only the
// static table and quorum helpers survive here; the hash ring did not.
package membership

import "fmt"

// NodeID is an opaque, totally-ordered, comparable identifier for a member
// of the cluster.
type NodeID string

// Node is a member of the cluster: its id and the address a Network
// implementation dials to reach it.
type Node struct {
	ID      NodeID
	Address string
}

// Membership is the static set of cluster members, fixed for the lifetime
// of the engines built against it (no dynamic add/remove — see package
// doc).
type Membership struct {
	nodes map[NodeID]Node
}

// New builds a Membership from a fixed node set. It panics if nodes is
// empty, since a cluster with zero members has no well-defined quorum.
func New(nodes map[NodeID]Node) *Membership {
	if len(nodes) == 0 {
		panic("membership: cannot construct an empty membership")
	}
	cp := make(map[NodeID]Node, len(nodes))
	for id, n := range nodes {
		cp[id] = n
	}
	return &Membership{nodes: cp}
}

// Get returns the Node record for id, if present.
func (m *Membership) Get(id NodeID) (Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// Contains reports whether id is a member of the cluster.
func (m *Membership) Contains(id NodeID) bool {
	_, ok := m.nodes[id]
	return ok
}

// Size returns the total number of members, including self.
func (m *Membership) Size() int {
	return len(m.nodes)
}

// Quorum returns the size of a strict majority of the membership: the
// number of (possibly-overlapping) votes/acks needed to make progress.
func (m *Membership) Quorum() int {
	return len(m.nodes)/2 + 1
}

// Peers returns every member other than self, in no particular order.
func (m *Membership) Peers(self NodeID) []NodeID {
	peers := make([]NodeID, 0, len(m.nodes)-1)
	for id := range m.nodes {
		if id != self {
			peers = append(peers, id)
		}
	}
	return peers
}

// All returns every member's Node record, including self.
func (m *Membership) All() []Node {
	all := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		all = append(all, n)
	}
	return all
}

func (m *Membership) String() string {
	return fmt.Sprintf("Membership{%d members}", len(m.nodes))
}

// HasQuorum reports whether count (a number of acks/votes, including self)
// meets or exceeds the membership's quorum threshold.
func (m *Membership) HasQuorum(count int) bool {
	return count >= m.Quorum()
}
