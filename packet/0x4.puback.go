package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PUBACK acknowledges a QoS 1 PUBLISH. MQTT v5.0 3.4. Flags must be 0.
type PUBACK struct {
	*FixedHeader

	PacketID   uint16
	ReasonCode ReasonCode
	Props      *Properties
}

func (pkt *PUBACK) Kind() byte { return PUBACK }

func (pkt *PUBACK) String() string {
	return fmt.Sprintf("PUBACK{PacketID:%d, Code:0x%02x}", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(i2b(pkt.PacketID))

	// [MQTT-3.4.2-1] the reason code and properties may be omitted entirely
	// when the reason code is Success and there are no properties.
	if pkt.Version == VERSION500 && (pkt.ReasonCode.Code != 0 || (pkt.Props != nil && len(pkt.Props.entries) > 0)) {
		buf.WriteByte(pkt.ReasonCode.Code)
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Pack(buf, PUBACK); err != nil {
			return err
		}
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return fmt.Errorf("%w: missing packet identifier", ErrProtocolViolationNoPacketID)
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))

	if pkt.Version == VERSION500 {
		// Per [MQTT-3.4.2-1], a PUBACK with nothing left in the buffer
		// implies reason code Success and no properties.
		if buf.Len() == 0 {
			return nil
		}
		pkt.ReasonCode.Code = buf.Next(1)[0]
		pkt.Props = &Properties{}
		if err := pkt.Props.Unpack(buf, PUBACK); err != nil {
			return err
		}
	}
	return nil
}
