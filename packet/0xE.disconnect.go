package packet

import (
	"bytes"
	"fmt"
	"io"
)

// DISCONNECT ends a connection without closing the network connection
// first. MQTT v5.0 3.14. Flags must be 0 [MQTT-3.14.1-1]. A server must
// not send DISCONNECT before the CONNACK that admitted the session
// [MQTT-3.14.0-1].
type DISCONNECT struct {
	*FixedHeader

	// ReasonCode is Normal disconnection (0x00) if the remaining length
	// is 0 [MQTT v5.0 3.14.2.1].
	ReasonCode ReasonCode
	Props      *Properties
}

func NewDISCONNECT(version byte, reasonCode ReasonCode) *DISCONNECT {
	return &DISCONNECT{
		FixedHeader: &FixedHeader{Kind: DISCONNECT, Version: version},
		ReasonCode:  reasonCode,
		Props:       &Properties{},
	}
}

func (pkt *DISCONNECT) Kind() byte { return DISCONNECT }

func (pkt *DISCONNECT) String() string {
	return fmt.Sprintf("DISCONNECT{Code:0x%02x}", pkt.ReasonCode.Code)
}

func (pkt *DISCONNECT) Pack(w io.Writer) error {
	if pkt.Dup != 0 || pkt.QoS != 0 || pkt.Retain != 0 {
		return ErrMalformedFlags
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	// A DISCONNECT with Normal disconnection and no properties may omit
	// the variable header entirely.
	if pkt.Version == VERSION500 && (pkt.ReasonCode.Code != 0 || (pkt.Props != nil && len(pkt.Props.entries) > 0)) {
		buf.WriteByte(pkt.ReasonCode.Code)
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		// [MQTT-3.14.2-2] a server must not send SessionExpiryInterval here.
		if pkt.Props.has(propSessionExpiryInterval) {
			return fmt.Errorf("%w: server must not send SessionExpiryInterval in DISCONNECT", ErrProtocolViolation)
		}
		if err := pkt.Props.Pack(buf, DISCONNECT); err != nil {
			return err
		}
	} else if pkt.Version != VERSION500 && pkt.ReasonCode.Code != 0 {
		buf.WriteByte(pkt.ReasonCode.Code)
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *DISCONNECT) Unpack(buf *bytes.Buffer) error {
	if pkt.Dup != 0 || pkt.QoS != 0 || pkt.Retain != 0 {
		return ErrMalformedFlags
	}
	if buf.Len() == 0 {
		pkt.ReasonCode = ReasonCode{Code: 0x00}
		return nil
	}
	pkt.ReasonCode = ReasonCode{Code: buf.Next(1)[0]}

	if pkt.Version == VERSION500 && buf.Len() > 0 {
		pkt.Props = &Properties{}
		if err := pkt.Props.Unpack(buf, DISCONNECT); err != nil {
			return err
		}
	}
	return nil
}
