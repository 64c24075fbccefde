package raft

import "testing"

func TestMetricsWatchDeliversLatestOnSubscribe(t *testing.T) {
	m := newMetrics()
	m.publish(Snapshot{Role: Leader})

	ch := m.Watch()
	snap := <-ch
	if snap.Role != Leader {
		t.Fatalf("expected subscriber to immediately receive the latest snapshot, got %+v", snap)
	}
}

func TestMetricsPublishCoalescesUnreadUpdates(t *testing.T) {
	m := newMetrics()
	ch := m.Watch()
	<-ch // drain the initial zero-value snapshot

	m.publish(Snapshot{Role: Candidate})
	m.publish(Snapshot{Role: Leader})

	snap := <-ch
	if snap.Role != Leader {
		t.Fatalf("expected the coalesced read to return the latest snapshot, got %+v", snap)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected no second buffered snapshot, got %+v", extra)
	default:
	}
}

func TestMetricsLatestReturnsMostRecentSnapshot(t *testing.T) {
	m := newMetrics()
	m.publish(Snapshot{Role: Follower})
	m.publish(Snapshot{Role: Leader})
	if got := m.Latest().Role; got != Leader {
		t.Fatalf("Latest(): got role %v, want %v", got, Leader)
	}
}
