package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// SUBSCRIBE requests one or more topic subscriptions. MQTT v5.0 3.8.
// Flags are fixed: DUP=0, QoS=1, RETAIN=0 [MQTT-3.8.1-1].
type SUBSCRIBE struct {
	*FixedHeader

	PacketID      uint16
	Props         *Properties
	Subscriptions []Subscription
}

func (pkt *SUBSCRIBE) Kind() byte { return SUBSCRIBE }

func (pkt *SUBSCRIBE) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(i2b(pkt.PacketID))

	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Pack(buf, SUBSCRIBE); err != nil {
			return err
		}
	}

	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoTopic
	}
	for _, subscription := range pkt.Subscriptions {
		if subscription.TopicFilter == "" {
			return ErrProtocolViolationNoTopic
		}
		if subscription.MaximumQoS > 2 {
			return ErrProtocolViolationQosOutOfRange
		}
		buf.Write(s2b(subscription.TopicFilter))
		options := subscription.MaximumQoS&0b11 | subscription.NoLocal<<2 | subscription.RetainAsPublished<<3 | subscription.RetainHandling<<4
		buf.WriteByte(options)
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	// [MQTT-3.8.1-1] bits 3,2,1,0 of the fixed header byte must be 0,0,1,0.
	if pkt.Dup != 0x0 || pkt.QoS != 0x1 || pkt.Retain != 0x0 {
		return ErrMalformedFlags
	}
	if buf.Len() < 2 {
		return fmt.Errorf("%w: missing packet identifier", ErrProtocolViolationNoPacketID)
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	if pkt.Version == VERSION500 {
		pkt.Props = &Properties{}
		if err := pkt.Props.Unpack(buf, SUBSCRIBE); err != nil {
			return err
		}
	}
	for buf.Len() != 0 {
		subscription := Subscription{}
		subscription.TopicFilter = decodeUTF8[string](buf)
		if subscription.TopicFilter == "" {
			return ErrProtocolViolationNoTopic
		}
		options := buf.Next(1)[0]
		subscription.MaximumQoS = options & 0b00000011
		if subscription.MaximumQoS > 0x02 {
			return ErrProtocolViolationQosOutOfRange
		}
		subscription.NoLocal = options & 0b00000100 >> 2
		subscription.RetainAsPublished = options & 0b00001000 >> 3
		subscription.RetainHandling = options & 0b00110000 >> 4
		if subscription.RetainHandling > 0x02 || options&0b11000000 != 0 {
			return ErrMalformedFlags
		}
		pkt.Subscriptions = append(pkt.Subscriptions, subscription)
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoTopic
	}
	return nil
}

// Subscription is one topic filter and its options from a SUBSCRIBE
// payload. MQTT v5.0 3.8.3.1.
type Subscription struct {
	TopicFilter string

	// MaximumQoS is the subscriber's requested delivery QoS (0-2); this
	// broker never grants above 1 [MQTT-3.3.1-4 / Non-goal: QoS 2].
	MaximumQoS uint8

	// NoLocal, when 1, forbids forwarding a publisher its own messages.
	NoLocal uint8

	// RetainAsPublished, when 1, preserves the RETAIN flag on forwarded
	// messages instead of clearing it.
	RetainAsPublished uint8

	// RetainHandling controls whether retained messages are sent on
	// subscribe: 0 always, 1 only for a new subscription, 2 never.
	RetainHandling uint8
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s@%d", s.TopicFilter, s.MaximumQoS)
}
