package router

import "testing"

func TestRetainedStoreStoreAndClear(t *testing.T) {
	store := NewRetainedStore()
	store.Store(RetainedMessage{Topic: "a/b", Payload: []byte("hello"), QoS: 1})

	got := store.MatchForSubscribe("a/+")
	if len(got) != 1 || string(got[0].Payload) != "hello" {
		t.Fatalf("expected one retained message for a/+, got %v", got)
	}

	// empty payload clears the retained row [MQTT-3.3.1-10/11]
	store.Store(RetainedMessage{Topic: "a/b", Payload: nil})
	if got := store.MatchForSubscribe("a/+"); len(got) != 0 {
		t.Errorf("expected retained row cleared, got %v", got)
	}
}

func TestRetainedStoreDollarPrefixExcludedFromWildcard(t *testing.T) {
	store := NewRetainedStore()
	store.Store(RetainedMessage{Topic: "$SYS/uptime", Payload: []byte("42")})

	if got := store.MatchForSubscribe("#"); len(got) != 0 {
		t.Errorf("expected # to skip $SYS topics, got %v", got)
	}
	if got := store.MatchForSubscribe("$SYS/uptime"); len(got) != 1 {
		t.Errorf("expected exact $SYS/uptime match, got %v", got)
	}
}
