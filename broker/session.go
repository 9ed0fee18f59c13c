package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldwatch/broker/packet"
	"github.com/fieldwatch/broker/router"
)

// errSilentClose marks an admission failure that should close the
// transport without logging — e.g. a non-CONNECT first packet, which
// spec.md §4.3 says to drop with no CONNACK and no noise.
var errSilentClose = errors.New("broker: silent close")

// WillMessage is the publication the broker performs on a session's behalf
// when it ends abnormally. spec.md §3.
type WillMessage struct {
	Topic         string
	Payload       []byte
	QoS           uint8
	Retain        bool
	DelayInterval uint32
	Props         *packet.Properties
}

// Session is the per-client state held across a transport connection's
// lifetime. Grounded on the teacher's conn type in conn.go, generalized per
// spec.md §3: a real in_flight map (outbound QoS-1 tracking, not the
// teacher's inbound QoS-2 placeholder), a keep-alive deadline, and a will
// message carried as a value rather than two loose fields.
type Session struct {
	ClientID   string
	Version    byte
	conn       net.Conn
	remoteAddr string

	writeMu sync.Mutex
	mu      sync.Mutex // guards the fields below up to idMu; held for one packet's handling

	active    atomic.Bool
	keepAlive uint16 // seconds, as negotiated
	deadlineNs int64 // unix nanoseconds, read via atomic

	sessionExpiryInterval uint32
	will                  *WillMessage

	// idMu guards nextPacketID/inFlight independently of mu: outbound
	// delivery (fan-out to subscribers, retained replay) allocates packet
	// ids on sessions other than the one mu's "one packet's handling"
	// scope covers, and two sessions can be delivering to each other
	// concurrently. Locking idMu alone (never nested under another
	// session's mu) avoids the A-waits-B/B-waits-A cycle that sharing mu
	// for this would create.
	idMu         sync.Mutex
	nextPacketID uint16
	inFlight     map[uint16]*packet.PUBLISH

	closeOnce sync.Once
}

func newSession(conn net.Conn, clientID string, version byte, keepAlive uint16) *Session {
	s := &Session{
		ClientID:   clientID,
		Version:    version,
		conn:       conn,
		keepAlive:  keepAlive,
		inFlight:   make(map[uint16]*packet.PUBLISH),
	}
	if ra := conn.RemoteAddr(); ra != nil {
		s.remoteAddr = ra.String()
	}
	s.active.Store(true)
	s.resetDeadline()
	return s
}

func (s *Session) deadline() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.deadlineNs))
}

// resetDeadline pushes the keep-alive deadline out to 1.5x keep_alive from
// now, per spec.md §4.3. A zero keep_alive disables the timeout (deadline
// parked far in the future).
func (s *Session) resetDeadline() {
	if s.keepAlive == 0 {
		atomic.StoreInt64(&s.deadlineNs, time.Now().Add(24*time.Hour).UnixNano())
		return
	}
	d := time.Duration(float64(s.keepAlive) * 1.5 * float64(time.Second))
	atomic.StoreInt64(&s.deadlineNs, time.Now().Add(d).UnixNano())
}

// write serializes pkt onto the connection under the session's write mutex,
// preserving per-session outbound ordering per spec.md §4.4's "outbound
// write ordering per subscriber session is enforced by that session's write
// mutex".
func (s *Session) write(pkt packet.Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return pkt.Pack(s.conn)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// trackOutbound allocates the next nonzero, non-in-flight packet id for an
// outbound QoS-1 PUBLISH, assigns it to pkt, and records pkt as in flight —
// all under idMu, independent of s.mu, so callers never need to hold this
// session's (or any session's) big per-packet mutex just to send a message.
func (s *Session) trackOutbound(pkt *packet.PUBLISH) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	for {
		s.nextPacketID++
		if s.nextPacketID == 0 {
			s.nextPacketID = 1
		}
		if _, busy := s.inFlight[s.nextPacketID]; !busy {
			break
		}
	}
	pkt.PacketID = s.nextPacketID
	s.inFlight[pkt.PacketID] = pkt
}

func (s *Session) clearInFlight(id uint16) {
	s.idMu.Lock()
	delete(s.inFlight, id)
	s.idMu.Unlock()
}

// teardownLocked marks the session inactive and, if it still holds a will
// message and preserveWill is set, schedules its publication. Must be called
// with s.mu held. It removes the session from the broker's table itself (via
// Broker.remove); the caller is responsible for closing the transport.
func (s *Session) teardownLocked(b *Broker, preserveWill bool, reason string) {
	if !s.active.Swap(false) {
		return
	}
	will := s.will
	s.will = nil
	b.remove(s)
	if !preserveWill || will == nil {
		return
	}
	go b.publishWill(will)
}

// admitConnection reads exactly one CONNECT packet (bounded by the
// handshake timeout), validates it, and either registers a new Session or
// fails the connection. Grounded on the teacher's conn.go CONNECT handling
// in defaultHandler.ServeMQTT, moved earlier in the pipeline per spec.md
// §4.3 ("a short-lived reader task... reads one CONNECT packet").
func (b *Broker) admitConnection(ctx context.Context, conn net.Conn) (*Session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(b.Config.HandshakeTimeout))
	pkt, err := packet.Unpack(packet.VERSION500, conn)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errSilentClose, err)
	}
	connect, ok := pkt.(*packet.CONNECT)
	if !ok {
		return nil, fmt.Errorf("%w: first packet was not CONNECT", errSilentClose)
	}
	if connect.Version != packet.VERSION500 {
		_ = (&packet.CONNACK{
			FixedHeader:       &packet.FixedHeader{Version: connect.Version, Kind: packet.CONNACK},
			ConnectReturnCode: packet.ErrUnsupportedProtocolVersion,
		}).Pack(conn)
		return nil, fmt.Errorf("%w: unsupported protocol version %d", errSilentClose, connect.Version)
	}

	connack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: connect.Version, Kind: packet.CONNACK}, Props: &packet.Properties{}}

	if connect.ConnectFlags.UserNameFlag() && b.Auth.Enabled() {
		if !b.Auth.Check(connect.Username, connect.Password) {
			connack.ConnectReturnCode = packet.ErrBadUsernameOrPassword
			_ = connack.Pack(conn)
			b.logEvent(connect.ClientID, "CONNECT", "bad username or password")
			return nil, fmt.Errorf("%w: bad credentials for %s", errSilentClose, connect.ClientID)
		}
	}

	if connect.ClientIDAssigned {
		connack.Props.SetAssignedClientIdentifier(connect.ClientID)
	}

	keepAlive := connect.KeepAlive
	if b.Config.KeepAliveMax > 0 && keepAlive > b.Config.KeepAliveMax {
		keepAlive = b.Config.KeepAliveMax
	}

	s := newSession(conn, connect.ClientID, connect.Version, keepAlive)
	if expiry, ok := connect.Props.SessionExpiryInterval(); ok {
		s.sessionExpiryInterval = expiry
	}
	if connect.ConnectFlags.WillFlag() {
		s.will = &WillMessage{
			Topic:   connect.WillTopic,
			Payload: connect.WillPayload,
			QoS:     connect.WillQoS,
			Retain:  connect.WillRetain,
			Props:   connect.WillProps,
		}
		if connect.WillProps != nil {
			s.will.DelayInterval, _ = connect.WillProps.WillDelayInterval()
		}
	}

	connack.SessionPresent = 0
	connack.ConnectReturnCode = packet.CodeSuccess
	if err := connack.Pack(conn); err != nil {
		return nil, err
	}

	b.admit(s)
	b.logEvent(s.ClientID, "CONNECT", s.remoteAddr)
	return s, nil
}

// readLoop reads one full packet at a time and submits it to the worker
// pool, never blocking on downstream work itself. spec.md §4.3 "Main loop".
func (s *Session) readLoop(ctx context.Context, b *Broker) {
	defer func() {
		s.mu.Lock()
		s.teardownLocked(b, true, "transport closed")
		s.mu.Unlock()
		s.close()
		b.logEvent(s.ClientID, "DISCONNECT", "transport closed")
	}()

	for s.active.Load() {
		pkt, err := packet.Unpack(s.Version, s.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("broker: read error: clientId=%s, remote=%s, err=%v", s.ClientID, s.remoteAddr, err)
			}
			return
		}
		if _, isConnect := pkt.(*packet.CONNECT); isConnect {
			// [MQTT-3.1.0-2] a second CONNECT on the same transport is a
			// protocol violation; tear down rather than process it as a job.
			log.Printf("broker: second CONNECT on session: clientId=%s", s.ClientID)
			return
		}
		b.pool.Submit(s.ClientID, pkt)
	}
}

// publishWill runs the will-message delivery spec.md §3 describes: after
// its delay interval (if any), publish it exactly as an ordinary PUBLISH.
func (b *Broker) publishWill(will *WillMessage) {
	if will.DelayInterval > 0 {
		time.Sleep(time.Duration(will.DelayInterval) * time.Second)
	}
	if will.Retain {
		b.Retained.Store(router.RetainedMessage{Topic: will.Topic, Payload: will.Payload, QoS: will.QoS, Properties: will.Props})
	}
	msg := &packet.Message{TopicName: will.Topic, Content: will.Payload}
	b.fanOut(msg, will.QoS, will.Retain, will.Props, "")
}

func (b *Broker) handleDisconnect(s *Session, pkt *packet.DISCONNECT) {
	b.logEvent(s.ClientID, "DISCONNECT", fmt.Sprintf("reason=0x%02x", pkt.ReasonCode.Code))
	// [MQTT-3.14.4-3] a NormalDisconnection discards any will message.
	preserveWill := pkt.ReasonCode.Code != packet.CodeDisconnect.Code
	s.teardownLocked(b, preserveWill, "client disconnect")
	// Force the reader loop's blocked Unpack to return so it runs its own
	// (now-idempotent) teardown and exits.
	s.close()
}
