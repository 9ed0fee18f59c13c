// Package broker implements the MQTT v5 broker core: connection transport,
// per-client session state, the bounded worker pool that dispatches inbound
// packets, and the PUBLISH/SUBSCRIBE handling that drives the topic router
// and retained-message store.
//
// Grounded on the teacher's Server/conn split in server.go/conn.go, with the
// ad hoc per-publish errgroup fan-out in mem_topic.go replaced by a real
// bounded worker pool (pool.go) and the teacher's topic.MemoryTrie replaced
// by router.Table/router.RetainedStore.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldwatch/broker/packet"
	"github.com/fieldwatch/broker/router"
)

// shutdownPollIntervalMax bounds the backoff used while Shutdown waits for
// in-flight sessions to quiesce. Carried from the teacher's server.go.
const shutdownPollIntervalMax = 500 * time.Millisecond

// Broker owns every piece of shared broker state: the session table, the
// topic router, the retained-message store, the worker pool, and the
// auxiliary config/auth/log/metrics services.
type Broker struct {
	Config *Config
	Auth   *AuthTable
	Log    *EventLog

	Router   *router.Table
	Retained *router.RetainedStore
	pool     *Pool
	metrics  *Metrics

	mu         sync.RWMutex
	sessions   map[string]*Session
	listeners  map[net.Listener]struct{}
	lnGroup    sync.WaitGroup
	inShutdown atomic.Bool

	sweeperStop chan struct{}
}

// New builds a Broker ready to accept connections. cfg and auth may be nil
// defaults (see DefaultConfig/NewAuthTable); evlog may be nil to disable the
// event-log sink.
func New(cfg *Config, auth *AuthTable, evlog *EventLog) *Broker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if auth == nil {
		auth = NewAuthTable()
	}
	b := &Broker{
		Config:      cfg,
		Auth:        auth,
		Log:         evlog,
		Router:      router.NewTable(),
		Retained:    router.NewRetainedStore(),
		sessions:    make(map[string]*Session),
		listeners:   make(map[net.Listener]struct{}),
		sweeperStop: make(chan struct{}),
		metrics:     NewMetrics(),
	}
	b.pool = NewPool(cfg.MaximumThreads, b.dispatch)
	b.pool.Start()
	go b.sweepKeepAlive()
	return b
}

// dispatch is the worker-pool job body: look up the session by id, skip if
// it has been torn down since the job was submitted, otherwise lock the
// session and run the packet-kind handler. This is where §4.3's "per-session
// ordering via the session mutex, not worker identity" invariant lives.
func (b *Broker) dispatch(sessionID string, pkt packet.Packet) {
	s := b.session(sessionID)
	if s == nil || !s.active.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return
	}
	s.resetDeadline()

	switch p := pkt.(type) {
	case *packet.PUBLISH:
		b.handlePublish(s, p)
	case *packet.PUBACK:
		s.clearInFlight(p.PacketID)
	case *packet.SUBSCRIBE:
		b.handleSubscribe(s, p)
	case *packet.UNSUBSCRIBE:
		b.handleUnsubscribe(s, p)
	case *packet.PINGREQ:
		b.logEvent(s.ClientID, "PINGREQ", "")
		pong := &packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: s.Version, Kind: packet.PINGRESP}}
		if err := s.write(pong); err != nil {
			log.Printf("broker: pingresp write failed: clientId=%s, err=%v", s.ClientID, err)
		}
		b.logEvent(s.ClientID, "PINGRESP", "")
	case *packet.DISCONNECT:
		b.handleDisconnect(s, p)
	case *packet.AUTH:
		// Only CONNECT-time credentials are supported; any AUTH received
		// afterward is answered with DISCONNECT NotAuthorized. spec.md §4.7.
		b.logEvent(s.ClientID, "DISCONNECT", "auth exchange not supported")
		_ = s.write(packet.NewDISCONNECT(s.Version, packet.ErrNotAuthorized))
		s.teardownLocked(b, false, "")
		s.close()
	default:
		log.Printf("broker: unexpected packet in dispatch: %T", p)
	}
}

func (b *Broker) session(id string) *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[id]
}

// admit registers a newly-admitted session, evicting any prior live session
// for the same ClientId per §4.3 step 4 / §8 scenario "Takeover".
func (b *Broker) admit(s *Session) {
	b.mu.Lock()
	prior, had := b.sessions[s.ClientID]
	b.sessions[s.ClientID] = s
	b.mu.Unlock()

	if had {
		prior.mu.Lock()
		prior.teardownLocked(b, false, "")
		prior.mu.Unlock()
		_ = prior.write(packet.NewDISCONNECT(prior.Version, packet.ErrSessionTakenOver))
		prior.close()
		b.logEvent(s.ClientID, "DISCONNECT", "session taken over")
	} else {
		// A takeover replaces a counted session, so only a new ClientId
		// raises the gauge.
		b.metrics.ActiveSessions.Inc()
	}
}

// remove drops a session from the table if it is still the one registered
// for that ClientId (a takeover may already have replaced it).
func (b *Broker) remove(s *Session) {
	b.mu.Lock()
	if cur, ok := b.sessions[s.ClientID]; ok && cur == s {
		delete(b.sessions, s.ClientID)
		b.metrics.ActiveSessions.Dec()
	}
	b.mu.Unlock()
	b.Router.RemoveClient(s.ClientID)
}

func (b *Broker) logEvent(clientID, kind, detail string) {
	if b.Log != nil {
		b.Log.Record(clientID, kind, detail)
	}
}

// sweepKeepAlive periodically tears down sessions whose keep-alive deadline
// has passed. spec.md §4.3's "periodic sweeper (single task)".
func (b *Broker) sweepKeepAlive() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.sweeperStop:
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.RLock()
			var expired []*Session
			for _, s := range b.sessions {
				if s.active.Load() && now.After(s.deadline()) {
					expired = append(expired, s)
				}
			}
			b.mu.RUnlock()
			for _, s := range expired {
				s.mu.Lock()
				s.teardownLocked(b, true, "keep-alive timeout")
				s.mu.Unlock()
				s.close()
				b.logEvent(s.ClientID, "DISCONNECT", "keep-alive timeout")
			}
		}
	}
}

// Shutdown closes all listeners and waits (bounded by ctx) for active
// sessions to close. Grounded on the teacher's server.go Shutdown, which is
// itself modeled on net/http.Server.Shutdown.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.inShutdown.Store(true)
	close(b.sweeperStop)
	b.mu.Lock()
	var lnErr error
	for ln := range b.listeners {
		if err := ln.Close(); err != nil && lnErr == nil {
			lnErr = err
		}
	}
	b.mu.Unlock()
	b.lnGroup.Wait()
	b.logEvent(b.Config.ID, "SHUTDOWN", "")
	b.pool.Stop()

	pollBase := time.Millisecond
	next := func() time.Duration {
		interval := pollBase + time.Duration(rand.Intn(int(pollBase/10+1)))
		pollBase *= 2
		if pollBase > shutdownPollIntervalMax {
			pollBase = shutdownPollIntervalMax
		}
		return interval
	}
	timer := time.NewTimer(next())
	defer timer.Stop()
	for {
		b.mu.RLock()
		n := len(b.sessions)
		b.mu.RUnlock()
		if n == 0 {
			return lnErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(next())
		}
	}
}

func (b *Broker) shuttingDown() bool { return b.inShutdown.Load() }

func (b *Broker) trackListener(ln net.Listener, add bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if add {
		if b.shuttingDown() {
			return false
		}
		b.listeners[ln] = struct{}{}
		b.lnGroup.Add(1)
	} else {
		delete(b.listeners, ln)
		b.lnGroup.Done()
	}
	return true
}

// Serve accepts connections from l and hands each to newSession. Mirrors
// the teacher's Server.Serve loop shape (server.go).
func (b *Broker) Serve(l net.Listener) error {
	defer l.Close()
	if !b.trackListener(l, true) {
		return ErrServerClosed
	}
	defer b.trackListener(l, false)

	for {
		rwc, err := l.Accept()
		if err != nil {
			if b.shuttingDown() {
				return ErrServerClosed
			}
			return err
		}
		go b.serveConn(context.Background(), rwc)
	}
}

// ServeTLS wraps l with the broker's configured TLS identity before
// accepting. spec.md §4.2.
func (b *Broker) ServeTLS(l net.Listener, tlsCfg *tls.Config) error {
	return b.Serve(tls.NewListener(l, tlsCfg))
}

func (b *Broker) serveConn(ctx context.Context, rwc net.Conn) {
	defer func() {
		if r := recover(); r != nil && !errors.Is(toErr(r), ErrAbortSession) {
			log.Printf("broker: panic serving %v: %v", rwc.RemoteAddr(), r)
		}
	}()
	s, err := b.admitConnection(ctx, rwc)
	if err != nil {
		if !errors.Is(err, errSilentClose) {
			log.Printf("broker: admission failed: remote=%s, err=%v", rwc.RemoteAddr(), err)
		}
		_ = rwc.Close()
		return
	}
	s.readLoop(ctx, b)
}

func toErr(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}
