package broker

import (
	"github.com/fieldwatch/broker/packet"
)

// job is one unit of work submitted by a session's reader: a packet to
// dispatch, stamped with the id of the session it arrived on. spec.md §9:
// "submit (session_id, packet) values, not closures, so the queue remains
// introspectable and testable."
type job struct {
	sessionID string
	pkt       packet.Packet
}

// Pool is the bounded worker pool draining the shared job queue. The
// teacher has no equivalent: mem_topic.go's Exchange fans out with an ad
// hoc errgroup per publish instead of a real queue. This is grounded on
// that errgroup idiom for the *fan-out* half (see publish.go's use of
// errgroup) and on the channel-of-jobs shape of the Rust reference
// thread_pool.rs/server_pool.rs for the worker-pool half.
type Pool struct {
	queue   chan job
	handle  func(sessionID string, pkt packet.Packet)
	workers int
	done    chan struct{}
}

// NewPool builds a pool with the given worker count and a bounded queue.
// A non-positive size falls back to 1 worker so misconfiguration never
// silently drops all processing.
func NewPool(workers int, handle func(string, packet.Packet)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		queue:   make(chan job, workers*64),
		handle:  handle,
		workers: workers,
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutines. Idempotent calls are not supported;
// call once per Pool.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		go p.run()
	}
}

func (p *Pool) run() {
	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(j.sessionID, j.pkt)
		case <-p.done:
			return
		}
	}
}

// Submit enqueues a job, blocking if the queue is full. spec.md §4.3:
// "queue backpressure is applied by making the submit operation block when
// the queue is full (which in turn slows the reader and therefore the TCP
// socket)."
func (p *Pool) Submit(sessionID string, pkt packet.Packet) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- job{sessionID: sessionID, pkt: pkt}:
	case <-p.done:
	}
}

// Depth reports the current queue occupancy, for Metrics.
func (p *Pool) Depth() int { return len(p.queue) }

// Stop closes the pool: once done is closed, Submit no longer enqueues and
// workers exit; a job already running completes, jobs still queued may
// never run.
func (p *Pool) Stop() {
	close(p.done)
}
