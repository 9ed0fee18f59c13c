package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/fieldwatch/broker/packet"
)

// Pool itself only fans jobs out across workers; per-session ordering is a
// property of Broker.dispatch's session mutex (exercised in broker_test.go),
// not of Pool. These tests cover Pool's own contract: every submitted job
// eventually runs, and Depth reflects queue backlog.
func TestPoolDrainsAllSubmittedJobs(t *testing.T) {
	var mu sync.Mutex
	count := 0

	p := NewPool(4, func(sessionID string, pkt packet.Packet) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	p.Start()
	defer p.Stop()

	const n = 50
	for i := 0; i < n; i++ {
		p.Submit("s", &packet.PINGREQ{FixedHeader: &packet.FixedHeader{}})
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		done := count == n
		mu.Unlock()
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d/%d jobs drained", count, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPoolDepthReflectsQueuedJobs(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(1, func(string, packet.Packet) { <-block })
	p.Start()
	defer func() {
		close(block)
		p.Stop()
	}()

	p.Submit("s1", &packet.PINGREQ{FixedHeader: &packet.FixedHeader{}}) // occupies the single worker
	p.Submit("s2", &packet.PINGREQ{FixedHeader: &packet.FixedHeader{}})
	p.Submit("s3", &packet.PINGREQ{FixedHeader: &packet.FixedHeader{}})

	deadline := time.Now().Add(time.Second)
	for p.Depth() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d := p.Depth(); d != 2 {
		t.Fatalf("Depth() = %d, want 2", d)
	}
}

func TestPoolStopStopsAcceptingNewWork(t *testing.T) {
	p := NewPool(1, func(string, packet.Packet) {})
	p.Start()
	p.Stop()

	done := make(chan struct{})
	go func() {
		p.Submit("s", &packet.PINGREQ{FixedHeader: &packet.FixedHeader{}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Submit blocked forever after Stop")
	}
}
