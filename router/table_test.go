package router

import "testing"

func subs(t *testing.T, got []Subscriber) map[string]bool {
	t.Helper()
	m := make(map[string]bool, len(got))
	for _, s := range got {
		m[s.ClientID] = true
	}
	return m
}

func TestTableWildcardBoundary(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Insert("a/+", "c1", SubscriptionOptions{}); err != nil {
		t.Fatalf("insert a/+: %v", err)
	}
	if err := tbl.Insert("a/#", "c2", SubscriptionOptions{}); err != nil {
		t.Fatalf("insert a/#: %v", err)
	}
	if err := tbl.Insert("+/+", "c3", SubscriptionOptions{}); err != nil {
		t.Fatalf("insert +/+: %v", err)
	}

	// filter a/+ does NOT match a/b/c
	if got := subs(t, tbl.Match("a/b/c")); got["c1"] {
		t.Errorf("a/+ matched a/b/c, want no match")
	}
	// filter a/# matches a, a/b, a/b/c
	for _, topic := range []string{"a", "a/b", "a/b/c"} {
		if got := subs(t, tbl.Match(topic)); !got["c2"] {
			t.Errorf("a/# did not match %s", topic)
		}
	}
	// filter +/+ does NOT match a (single level)
	if got := subs(t, tbl.Match("a")); got["c3"] {
		t.Errorf("+/+ matched a, want no match")
	}
	// +/+ matches a/b
	if got := subs(t, tbl.Match("a/b")); !got["c3"] {
		t.Errorf("+/+ did not match a/b")
	}
}

func TestTableDollarPrefixExcludedFromWildcards(t *testing.T) {
	tbl := NewTable()
	tbl.Insert("#", "c1", SubscriptionOptions{})
	tbl.Insert("+/status", "c2", SubscriptionOptions{})
	tbl.Insert("$SYS/status", "c3", SubscriptionOptions{})

	got := subs(t, tbl.Match("$SYS/status"))
	if got["c1"] {
		t.Errorf("# matched $SYS/status, want no match per $-prefix rule")
	}
	if got["c2"] {
		t.Errorf("+/status matched $SYS/status, want no match per $-prefix rule")
	}
	if !got["c3"] {
		t.Errorf("$SYS/status did not match its own exact filter")
	}
}

func TestTableRemovePrunesNodes(t *testing.T) {
	tbl := NewTable()
	tbl.Insert("a/b/c", "c1", SubscriptionOptions{})
	if !tbl.Remove("a/b/c", "c1") {
		t.Fatalf("Remove reported no existing subscription")
	}
	if got := subs(t, tbl.Match("a/b/c")); len(got) != 0 {
		t.Errorf("expected no subscribers after removal, got %v", got)
	}
	tbl.root.mu.RLock()
	empty := len(tbl.root.children) == 0
	tbl.root.mu.RUnlock()
	if !empty {
		t.Errorf("expected trie to prune back to an empty root")
	}
}

func TestTableRemoveClientAcrossFilters(t *testing.T) {
	tbl := NewTable()
	tbl.Insert("a/b", "c1", SubscriptionOptions{})
	tbl.Insert("x/y", "c1", SubscriptionOptions{})
	tbl.RemoveClient("c1")
	if got := subs(t, tbl.Match("a/b")); len(got) != 0 {
		t.Errorf("expected c1 removed from a/b, got %v", got)
	}
	if got := subs(t, tbl.Match("x/y")); len(got) != 0 {
		t.Errorf("expected c1 removed from x/y, got %v", got)
	}
}

func TestTableRejectsMalformedFilter(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Insert("a/#/b", "c1", SubscriptionOptions{}); err == nil {
		t.Errorf("expected error for # not in last position")
	}
	if err := tbl.Insert("a/b+", "c1", SubscriptionOptions{}); err == nil {
		t.Errorf("expected error for + mixed with other characters in a level")
	}
}
