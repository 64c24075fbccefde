package membership

import "testing"

func threeNode() *Membership {
	return New(map[NodeID]Node{
		"node1": {ID: "node1", Address: "localhost:50051"},
		"node2": {ID: "node2", Address: "localhost:50052"},
		"node3": {ID: "node3", Address: "localhost:50053"},
	})
}

func TestMembership_Get(t *testing.T) {
	m := threeNode()

	node, ok := m.Get("node1")
	if !ok {
		t.Fatalf("expected node1 to be present")
	}
	if node.Address != "localhost:50051" {
		t.Errorf("expected localhost:50051, got %s", node.Address)
	}

	if _, ok := m.Get("node9"); ok {
		t.Error("expected node9 to be absent")
	}
}

func TestMembership_Size(t *testing.T) {
	m := threeNode()
	if m.Size() != 3 {
		t.Errorf("expected 3 members, got %d", m.Size())
	}
}

func TestMembership_Quorum(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 3},
	}
	for _, tc := range cases {
		nodes := make(map[NodeID]Node, tc.n)
		for i := 0; i < tc.n; i++ {
			id := NodeID(string(rune('a' + i)))
			nodes[id] = Node{ID: id, Address: string(id)}
		}
		m := New(nodes)
		if got := m.Quorum(); got != tc.want {
			t.Errorf("Quorum() for %d nodes = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestMembership_Peers(t *testing.T) {
	m := threeNode()
	peers := m.Peers("node1")
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
	for _, p := range peers {
		if p == "node1" {
			t.Error("Peers must not include self")
		}
	}
}

func TestMembership_HasQuorum(t *testing.T) {
	m := threeNode()
	if m.HasQuorum(1) {
		t.Error("1 ack should not be a quorum of 3")
	}
	if !m.HasQuorum(2) {
		t.Error("2 acks should be a quorum of 3")
	}
}

func TestMembership_New_EmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected New(nil) to panic")
		}
	}()
	New(nil)
}
