package memory

import "testing"

func TestStoreItemAndRetrieve(t *testing.T) {
	s := NewStore()
	if err := s.StoreItem("sess-1", "github-analysis", "snapshot-payload", "inspector"); err != nil {
		t.Fatalf("StoreItem error: %v", err)
	}

	got, found, err := s.Retrieve("sess-1", "github-analysis", "context-analyzer")
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if !found {
		t.Fatalf("expected item to be found")
	}
	if got != "snapshot-payload" {
		t.Fatalf("unexpected content: %v", got)
	}
}

func TestRetrieveMissingKeyIsNotFound(t *testing.T) {
	s := NewStore()
	_, found, err := s.Retrieve("sess-1", "does-not-exist", "someone")
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if found {
		t.Fatalf("expected missing key to report not found")
	}
}

// TestEveryStoreHasMatchingEvent is P4: for every item, there's exactly one
// store event in the session event log with matching key and producer.
func TestEveryStoreHasMatchingEvent(t *testing.T) {
	s := NewStore()
	_ = s.StoreItem("sess-1", "github-analysis", "a", "inspector")
	_ = s.StoreItem("sess-1", "repository-context", "b", "context-analyzer")

	items, err := s.Items("sess-1")
	if err != nil {
		t.Fatalf("Items error: %v", err)
	}
	events := s.Events("sess-1")

	for _, item := range items {
		count := 0
		for _, e := range events {
			if e.Kind == "store" && e.Key == item.Key && e.Producer == item.Producer {
				count++
			}
		}
		if count != 1 {
			t.Errorf("expected exactly one store event for key %q, found %d", item.Key, count)
		}
	}
}

func TestEventLogRetainsFullHistoryAcrossOverwrites(t *testing.T) {
	s := NewStore()
	_ = s.StoreItem("sess-1", "repository-context", "v1", "context-analyzer")
	_ = s.StoreItem("sess-1", "repository-context", "v2", "context-analyzer")

	events := s.Events("sess-1")
	storeEvents := 0
	for _, e := range events {
		if e.Kind == "store" && e.Key == "repository-context" {
			storeEvents++
		}
	}
	if storeEvents != 2 {
		t.Fatalf("expected both writes to appear in the event log, got %d", storeEvents)
	}

	content, found, _ := s.Retrieve("sess-1", "repository-context", "reader")
	if !found || content != "v2" {
		t.Fatalf("expected the keyed item to hold only the latest value, got %v (found=%v)", content, found)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	s := NewStore()
	_ = s.StoreItem("sess-1", "k", "one", "p")
	_ = s.StoreItem("sess-2", "k", "two", "p")

	v1, _, _ := s.Retrieve("sess-1", "k", "r")
	v2, _, _ := s.Retrieve("sess-2", "k", "r")
	if v1 == v2 {
		t.Fatalf("expected independent session memories, got equal values %v / %v", v1, v2)
	}
}

func TestReapDropsSession(t *testing.T) {
	s := NewStore()
	_ = s.StoreItem("sess-1", "k", "v", "p")
	s.Reap("sess-1")

	if _, err := s.Items("sess-1"); err == nil {
		t.Fatalf("expected Items to error after Reap")
	}
}
