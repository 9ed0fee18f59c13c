package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fieldwatch/broker/packet"
)

func testBroker(t *testing.T) *Broker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaximumThreads = 2
	b := New(cfg, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b
}

// dial hands one half of an in-memory pipe to the broker as an accepted
// connection and returns the other half for the test to drive.
func dial(b *Broker) net.Conn {
	client, server := net.Pipe()
	go b.serveConn(context.Background(), server)
	return client
}

func connect(t *testing.T, conn net.Conn, clientID string, keepAlive uint16) *packet.CONNACK {
	t.Helper()
	req := &packet.CONNECT{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: packet.CONNECT},
		ClientID:    clientID,
		KeepAlive:   keepAlive,
	}
	if err := req.Pack(conn); err != nil {
		t.Fatalf("pack CONNECT: %v", err)
	}
	pkt, err := packet.Unpack(packet.VERSION500, conn)
	if err != nil {
		t.Fatalf("read CONNACK: %v", err)
	}
	ack, ok := pkt.(*packet.CONNACK)
	if !ok {
		t.Fatalf("expected CONNACK, got %T", pkt)
	}
	return ack
}

func subscribe(t *testing.T, conn net.Conn, packetID uint16, filter string, maxQoS uint8) *packet.SUBACK {
	t.Helper()
	req := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: packet.VERSION500, Kind: packet.SUBSCRIBE, QoS: 1},
		PacketID:      packetID,
		Subscriptions: []packet.Subscription{{TopicFilter: filter, MaximumQoS: maxQoS}},
	}
	if err := req.Pack(conn); err != nil {
		t.Fatalf("pack SUBSCRIBE: %v", err)
	}
	pkt, err := packet.Unpack(packet.VERSION500, conn)
	if err != nil {
		t.Fatalf("read SUBACK: %v", err)
	}
	ack, ok := pkt.(*packet.SUBACK)
	if !ok {
		t.Fatalf("expected SUBACK, got %T", pkt)
	}
	return ack
}

func publish(t *testing.T, conn net.Conn, packetID uint16, topicName string, payload []byte, qos uint8, retain uint8) {
	t.Helper()
	req := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: packet.PUBLISH, QoS: qos, Retain: retain},
		PacketID:    packetID,
		Message:     &packet.Message{TopicName: topicName, Content: payload},
	}
	if err := req.Pack(conn); err != nil {
		t.Fatalf("pack PUBLISH: %v", err)
	}
}

// TestBrokerEcho covers spec.md §8 "Echo-1": a QoS-1 publish is delivered
// to a matching subscriber and the publisher receives a Success PUBACK.
func TestBrokerEcho(t *testing.T) {
	b := testBroker(t)

	sub := dial(b)
	if ack := connect(t, sub, "subscriber", 0); ack.ConnectReturnCode.Code != packet.CodeSuccess.Code {
		t.Fatalf("subscriber CONNACK code = 0x%02x", ack.ConnectReturnCode.Code)
	}
	if sa := subscribe(t, sub, 1, "t/1", 1); sa.ReasonCode[0].Code != packet.CodeGrantedQos1.Code {
		t.Fatalf("SUBACK reason = 0x%02x", sa.ReasonCode[0].Code)
	}

	pub := dial(b)
	if ack := connect(t, pub, "publisher", 0); ack.ConnectReturnCode.Code != packet.CodeSuccess.Code {
		t.Fatalf("publisher CONNACK code = 0x%02x", ack.ConnectReturnCode.Code)
	}
	publish(t, pub, 7, "t/1", []byte("hello"), 1, 0)

	pkt, err := packet.Unpack(packet.VERSION500, sub)
	if err != nil {
		t.Fatalf("subscriber read: %v", err)
	}
	got, ok := pkt.(*packet.PUBLISH)
	if !ok {
		t.Fatalf("expected PUBLISH, got %T", pkt)
	}
	if got.Message.TopicName != "t/1" || string(got.Message.Content) != "hello" {
		t.Errorf("unexpected delivered message: %+v", got.Message)
	}

	pkt, err = packet.Unpack(packet.VERSION500, pub)
	if err != nil {
		t.Fatalf("publisher read: %v", err)
	}
	ack, ok := pkt.(*packet.PUBACK)
	if !ok {
		t.Fatalf("expected PUBACK, got %T", pkt)
	}
	if ack.ReasonCode.Code != packet.CodeSuccess.Code {
		t.Errorf("PUBACK reason = 0x%02x, want Success", ack.ReasonCode.Code)
	}
}

// TestBrokerRetainDeliverAndClear covers spec.md §8 "Retain-deliver" and
// "Retain-clear": a retained message is replayed to a new subscriber, and
// an empty-payload retained publish clears it for subsequent subscribers.
func TestBrokerRetainDeliverAndClear(t *testing.T) {
	b := testBroker(t)

	pub := dial(b)
	connect(t, pub, "publisher", 0)
	publish(t, pub, 1, "sensors/temp", []byte("21C"), 0, 1)
	time.Sleep(20 * time.Millisecond)

	sub := dial(b)
	connect(t, sub, "subscriber", 0)
	subscribe(t, sub, 1, "sensors/temp", 1)

	pkt, err := packet.Unpack(packet.VERSION500, sub)
	if err != nil {
		t.Fatalf("read retained replay: %v", err)
	}
	got, ok := pkt.(*packet.PUBLISH)
	if !ok || got.Retain != 1 || string(got.Message.Content) != "21C" {
		t.Fatalf("expected retained replay of 21C, got %+v (%T)", pkt, pkt)
	}
	// Close this subscriber before the next publish so the fan-out write
	// doesn't block forever on an unread in-memory pipe.
	_ = sub.Close()

	// Clear the retained message with a zero-length retained publish.
	publish(t, pub, 2, "sensors/temp", nil, 0, 1)
	time.Sleep(20 * time.Millisecond)

	sub2 := dial(b)
	connect(t, sub2, "subscriber2", 0)
	subscribe(t, sub2, 1, "sensors/temp", 1)

	_ = sub2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := packet.Unpack(packet.VERSION500, sub2); err == nil {
		t.Fatalf("expected no retained replay after clear, but got a packet")
	}
}

// TestBrokerTakeover covers spec.md §8 "Takeover": a second CONNECT with
// the same ClientId evicts the first session with DISCONNECT SessionTakenOver.
func TestBrokerTakeover(t *testing.T) {
	b := testBroker(t)

	first := dial(b)
	connect(t, first, "dup-client", 0)

	second := dial(b)
	connect(t, second, "dup-client", 0)

	pkt, err := packet.Unpack(packet.VERSION500, first)
	if err != nil {
		t.Fatalf("expected DISCONNECT on evicted session: %v", err)
	}
	dc, ok := pkt.(*packet.DISCONNECT)
	if !ok {
		t.Fatalf("expected DISCONNECT, got %T", pkt)
	}
	if dc.ReasonCode.Code != packet.ErrSessionTakenOver.Code {
		t.Errorf("DISCONNECT reason = 0x%02x, want SessionTakenOver", dc.ReasonCode.Code)
	}
}

// TestBrokerKeepAliveTimeout covers spec.md §8 "Keep-alive timeout": a
// session that sends nothing past 1.5x its keep-alive interval is torn down.
func TestBrokerKeepAliveTimeout(t *testing.T) {
	b := testBroker(t)
	conn := dial(b)
	connect(t, conn, "idle-client", 1) // 1s keep-alive -> 1.5s deadline

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after keep-alive timeout")
	}
}
