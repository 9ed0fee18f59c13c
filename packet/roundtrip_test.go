package packet

import (
	"bytes"
	"testing"
)

// Pack-then-Unpack round trips for the per-kind packets that don't carry
// their own dedicated _test.go file (publish, ack variants, subscribe
// family, disconnect, auth).

func unpackOne(t *testing.T, buf *bytes.Buffer) Packet {
	t.Helper()
	pkt, err := Unpack(VERSION500, buf)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	return pkt
}

func TestPublishRoundTrip(t *testing.T) {
	want := &PUBLISH{
		FixedHeader: &FixedHeader{Version: VERSION500, Kind: PUBLISH, QoS: 1},
		PacketID:    42,
		Message:     &Message{TopicName: "a/b", Content: []byte("payload")},
	}
	var buf bytes.Buffer
	if err := want.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, ok := unpackOne(t, &buf).(*PUBLISH)
	if !ok {
		t.Fatalf("unpacked wrong type")
	}
	if got.PacketID != want.PacketID || got.Message.TopicName != want.Message.TopicName ||
		!bytes.Equal(got.Message.Content, want.Message.Content) {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestPublishRejectsQoS3(t *testing.T) {
	pkt := &PUBLISH{
		FixedHeader: &FixedHeader{Version: VERSION500, Kind: PUBLISH, QoS: 3},
		Message:     &Message{TopicName: "a"},
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err == nil {
		t.Fatalf("expected error packing QoS 3 publish")
	}
}

func TestPubackRoundTrip(t *testing.T) {
	want := &PUBACK{
		FixedHeader: &FixedHeader{Version: VERSION500, Kind: PUBACK},
		PacketID:    7,
		ReasonCode:  CodeSuccess,
	}
	var buf bytes.Buffer
	if err := want.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, ok := unpackOne(t, &buf).(*PUBACK)
	if !ok || got.PacketID != 7 || got.ReasonCode.Code != CodeSuccess.Code {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	want := &SUBSCRIBE{
		FixedHeader: &FixedHeader{Version: VERSION500, Kind: SUBSCRIBE, QoS: 1},
		PacketID:    9,
		Subscriptions: []Subscription{
			{TopicFilter: "x/+", MaximumQoS: 1},
			{TopicFilter: "y/#", MaximumQoS: 0},
		},
	}
	var buf bytes.Buffer
	if err := want.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, ok := unpackOne(t, &buf).(*SUBSCRIBE)
	if !ok || len(got.Subscriptions) != 2 || got.Subscriptions[0].TopicFilter != "x/+" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestSubscribeRejectsEmptyFilterList(t *testing.T) {
	pkt := &SUBSCRIBE{
		FixedHeader: &FixedHeader{Version: VERSION500, Kind: SUBSCRIBE, QoS: 1},
		PacketID:    1,
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err == nil {
		t.Fatalf("expected error packing SUBSCRIBE with no filters")
	}
}

func TestSubackRoundTrip(t *testing.T) {
	want := &SUBACK{
		FixedHeader: &FixedHeader{Version: VERSION500, Kind: SUBACK},
		PacketID:    9,
		ReasonCode:  []ReasonCode{CodeGrantedQos1, CodeGrantedQos0},
	}
	var buf bytes.Buffer
	if err := want.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, ok := unpackOne(t, &buf).(*SUBACK)
	if !ok || len(got.ReasonCode) != 2 || got.ReasonCode[0].Code != CodeGrantedQos1.Code {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	want := &UNSUBSCRIBE{
		FixedHeader:   &FixedHeader{Version: VERSION500, Kind: UNSUBSCRIBE, QoS: 1},
		PacketID:      11,
		Subscriptions: []Subscription{{TopicFilter: "x/+"}},
	}
	var buf bytes.Buffer
	if err := want.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, ok := unpackOne(t, &buf).(*UNSUBSCRIBE)
	if !ok || len(got.Subscriptions) != 1 || got.Subscriptions[0].TopicFilter != "x/+" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestUnsubackRoundTrip(t *testing.T) {
	want := &UNSUBACK{
		FixedHeader: &FixedHeader{Version: VERSION500, Kind: UNSUBACK},
		PacketID:    11,
		ReasonCode:  []ReasonCode{CodeSuccess},
	}
	var buf bytes.Buffer
	if err := want.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, ok := unpackOne(t, &buf).(*UNSUBACK)
	if !ok || len(got.ReasonCode) != 1 {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestDisconnectRoundTrip(t *testing.T) {
	want := NewDISCONNECT(VERSION500, ErrSessionTakenOver)
	var buf bytes.Buffer
	if err := want.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, ok := unpackOne(t, &buf).(*DISCONNECT)
	if !ok || got.ReasonCode.Code != ErrSessionTakenOver.Code {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestAuthRejectsNonV5(t *testing.T) {
	pkt := NewAUTH(VERSION311, CodeSuccess)
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err == nil {
		t.Fatalf("expected error packing AUTH at protocol version 3.1.1")
	}
}

func TestAuthRejectsInvalidReasonCode(t *testing.T) {
	pkt := NewAUTH(VERSION500, ReasonCode{Code: 0x42, Reason: "bogus"})
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err == nil {
		t.Fatalf("expected error packing AUTH with invalid reason code")
	}
}
