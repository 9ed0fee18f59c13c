package packet

import (
	"bytes"
	"fmt"
	"io"
)

// AUTH carries an extended authentication exchange. MQTT v5.0 3.15; only
// valid at protocol level 5. Flags must be 0 [MQTT-3.15.1-1].
type AUTH struct {
	*FixedHeader

	ReasonCode ReasonCode
	Props      *Properties
}

func NewAUTH(version byte, reasonCode ReasonCode) *AUTH {
	return &AUTH{
		FixedHeader: &FixedHeader{Kind: AUTH, Version: version},
		ReasonCode:  reasonCode,
		Props:       &Properties{},
	}
}

func (pkt *AUTH) Kind() byte { return AUTH }

func (pkt *AUTH) String() string {
	return fmt.Sprintf("AUTH{Code:0x%02x}", pkt.ReasonCode.Code)
}

func isValidAuthReasonCode(code uint8) bool {
	switch code {
	case 0x00, 0x18, 0x19: // Success, Continue authentication, Re-authenticate
		return true
	default:
		return false
	}
}

func (pkt *AUTH) Pack(w io.Writer) error {
	if pkt.Version != VERSION500 {
		return ErrUnsupportedProtocolVersion
	}
	if pkt.Dup != 0 || pkt.QoS != 0 || pkt.Retain != 0 {
		return ErrMalformedFlags
	}
	if !isValidAuthReasonCode(pkt.ReasonCode.Code) {
		return fmt.Errorf("%w: invalid AUTH reason code 0x%02x", ErrMalformedReasonCode, pkt.ReasonCode.Code)
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.WriteByte(pkt.ReasonCode.Code)
	if pkt.Props == nil {
		pkt.Props = &Properties{}
	}
	if err := pkt.Props.Pack(buf, AUTH); err != nil {
		return err
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *AUTH) Unpack(buf *bytes.Buffer) error {
	if pkt.Dup != 0 || pkt.QoS != 0 || pkt.Retain != 0 {
		return ErrMalformedFlags
	}
	if buf.Len() < 1 {
		return fmt.Errorf("%w: missing AUTH reason code", ErrMalformedReasonCode)
	}
	pkt.ReasonCode = ReasonCode{Code: buf.Next(1)[0]}
	if !isValidAuthReasonCode(pkt.ReasonCode.Code) {
		return fmt.Errorf("%w: invalid AUTH reason code 0x%02x", ErrMalformedReasonCode, pkt.ReasonCode.Code)
	}

	if buf.Len() > 0 {
		pkt.Props = &Properties{}
		if err := pkt.Props.Unpack(buf, AUTH); err != nil {
			return err
		}
	}
	return nil
}
