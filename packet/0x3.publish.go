package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Message is the application payload of a PUBLISH packet: a topic name and
// its content. MQTT v5.0 3.3.3.
type Message struct {
	TopicName string
	Content   []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("%s # %s", m.TopicName, m.Content)
}

// PUBLISH carries an application message. MQTT v5.0 3.3. Flags: DUP
// (bit 3), QoS (bits 2-1), RETAIN (bit 0) in the fixed header.
type PUBLISH struct {
	*FixedHeader

	// PacketID is present only for QoS > 0 [MQTT-2.3.1-5].
	PacketID uint16
	Message  *Message
	Props    *Properties
}

func (pkt *PUBLISH) Kind() byte { return PUBLISH }

func (pkt *PUBLISH) String() string {
	return fmt.Sprintf("PUBLISH{Topic:%s, QoS:%d, Retain:%v}", pkt.Message.TopicName, pkt.QoS, pkt.Retain == 1)
}

func validateTopicName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty topic name [MQTT-3.3.2-1]", ErrMalformedTopic)
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("%w: wildcard in topic name [MQTT-3.3.2-2]", ErrProtocolViolationSurplusWildcard)
	}
	return nil
}

func (pkt *PUBLISH) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if pkt.FixedHeader == nil {
		return fmt.Errorf("FixedHeader is nil")
	}
	// [MQTT-3.3.1-4] the two QoS bits must never both be 1.
	if pkt.QoS == 3 {
		return ErrProtocolViolationQosOutOfRange
	}
	if err := validateTopicName(pkt.Message.TopicName); err != nil {
		return err
	}
	// [MQTT-3.3.1-2] QoS 0 publishes must not set DUP.
	if pkt.QoS == 0 && pkt.Dup != 0 {
		return ErrProtocolViolationDupNoQos
	}

	buf.Write(s2b(pkt.Message.TopicName))
	if pkt.QoS > 0 {
		if pkt.PacketID == 0 {
			return fmt.Errorf("%w: packet id required for QoS > 0", ErrProtocolViolationNoPacketID)
		}
		buf.Write(i2b(pkt.PacketID))
	}

	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Pack(buf, PUBLISH); err != nil {
			return err
		}
	}

	buf.Write(pkt.Message.Content)
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBLISH) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return fmt.Errorf("%w: truncated topic name", ErrMalformedTopic)
	}
	topicLength := int(binary.BigEndian.Uint16(buf.Next(2)))
	if buf.Len() < topicLength {
		return fmt.Errorf("%w: truncated topic name", ErrMalformedTopic)
	}
	pkt.Message = &Message{TopicName: string(buf.Next(topicLength))}
	if err := validateTopicName(pkt.Message.TopicName); err != nil {
		return err
	}
	if pkt.QoS == 3 {
		return ErrProtocolViolationQosOutOfRange
	}
	if pkt.QoS == 0 && pkt.Dup != 0 {
		return ErrProtocolViolationDupNoQos
	}

	if pkt.QoS > 0 {
		if buf.Len() < 2 {
			return fmt.Errorf("%w: missing packet identifier", ErrProtocolViolationNoPacketID)
		}
		pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
		if pkt.PacketID == 0 {
			return fmt.Errorf("%w: packet id must be nonzero", ErrMalformedPacketID)
		}
	}

	if pkt.Version == VERSION500 {
		pkt.Props = &Properties{}
		if err := pkt.Props.Unpack(buf, PUBLISH); err != nil {
			return err
		}
	}

	// Copy out of the pooled buffer: buf.Bytes() aliases the pool's backing
	// array, which is reused as soon as this Unpack call returns.
	pkt.Message.Content = append([]byte{}, buf.Bytes()...)
	return nil
}
