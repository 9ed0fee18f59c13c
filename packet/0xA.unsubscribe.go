package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// UNSUBSCRIBE removes one or more topic subscriptions. MQTT v5.0 3.10.
// Flags are fixed: DUP=0, QoS=1, RETAIN=0.
type UNSUBSCRIBE struct {
	*FixedHeader

	PacketID      uint16
	Props         *Properties
	Subscriptions []Subscription
}

func (pkt *UNSUBSCRIBE) Kind() byte { return UNSUBSCRIBE }

func (pkt *UNSUBSCRIBE) Pack(w io.Writer) error {
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoTopic
	}

	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))

	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Pack(buf, UNSUBSCRIBE); err != nil {
			return err
		}
	}

	for _, subscription := range pkt.Subscriptions {
		if subscription.TopicFilter == "" {
			return ErrProtocolViolationNoTopic
		}
		buf.Write(s2b(subscription.TopicFilter))
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *UNSUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedPacketID
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))

	if pkt.Version == VERSION500 {
		pkt.Props = &Properties{}
		if err := pkt.Props.Unpack(buf, UNSUBSCRIBE); err != nil {
			return err
		}
	}

	for buf.Len() != 0 {
		topicFilter := decodeUTF8[string](buf)
		if topicFilter == "" {
			return ErrProtocolViolationNoTopic
		}
		pkt.Subscriptions = append(pkt.Subscriptions, Subscription{TopicFilter: topicFilter})
	}

	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoTopic
	}
	return nil
}
