package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang-io/requests"
)

// NAME is the fixed MQTT protocol name written at the start of every
// CONNECT variable header. MQTT v5.0 3.1.2.1.
var NAME = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

// ConnectFlags is the single flag byte in the CONNECT variable header.
// MQTT v5.0 3.1.2.2.
type ConnectFlags uint8

func (f ConnectFlags) Reserved() uint8    { return uint8(f) & 0x01 }
func (f ConnectFlags) CleanStart() bool   { return uint8(f)&0x02 != 0 }
func (f ConnectFlags) WillFlag() bool     { return uint8(f)&0x04 != 0 }
func (f ConnectFlags) WillQoS() uint8     { return (uint8(f) & 0x18) >> 3 }
func (f ConnectFlags) WillRetain() bool   { return uint8(f)&0x20 != 0 }
func (f ConnectFlags) PasswordFlag() bool { return uint8(f)&0x40 != 0 }
func (f ConnectFlags) UserNameFlag() bool { return uint8(f)&0x80 != 0 }

// CONNECT is the first packet a client must send; it carries credentials,
// the will message (if any), and session options. MQTT v5.0 3.1.
type CONNECT struct {
	*FixedHeader

	ConnectFlags ConnectFlags
	KeepAlive    uint16
	Props        *Properties

	ClientID string
	// ClientIDAssigned is set by Unpack when the wire ClientID was empty
	// and a server-generated id was substituted in its place [MQTT-3.1.3-4],
	// so callers can tell a generated id from one the client actually sent.
	ClientIDAssigned bool

	// Will fields, present only when ConnectFlags.WillFlag() is true.
	WillProps    *Properties
	WillTopic    string
	WillPayload  []byte
	WillQoS      uint8
	WillRetain   bool

	Username string
	Password string
}

func (pkt *CONNECT) Kind() byte { return CONNECT }

func (pkt *CONNECT) String() string {
	return fmt.Sprintf("CONNECT{ClientID:%s, CleanStart:%v, KeepAlive:%d}", pkt.ClientID, pkt.ConnectFlags.CleanStart(), pkt.KeepAlive)
}

// Pack serializes the CONNECT packet. MQTT v5.0 3.1.
func (pkt *CONNECT) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(NAME)
	buf.WriteByte(pkt.FixedHeader.Version)

	uf := s2i(pkt.Username)
	pf := s2i(pkt.Password)
	wf, wq, wr := uint8(0), uint8(0), uint8(0)
	if pkt.WillTopic != "" {
		wf, wq = 1, pkt.WillQoS
		if pkt.WillRetain {
			wr = 1
		}
	}
	cs := uint8(0)
	if pkt.ConnectFlags.CleanStart() {
		cs = 1
	}
	buf.WriteByte(uf<<7 | pf<<6 | wr<<5 | wq<<3 | wf<<2 | cs<<1)
	buf.Write(i2b(pkt.KeepAlive))

	if pkt.Version == VERSION500 {
		if pkt.Props == nil {
			pkt.Props = &Properties{}
		}
		if err := pkt.Props.Pack(buf, CONNECT); err != nil {
			return err
		}
	}

	if len(pkt.ClientID) > 23 {
		return fmt.Errorf("client ID too long: %d characters, maximum allowed is 23", len(pkt.ClientID))
	}
	buf.Write(s2b(pkt.ClientID))

	if wf == 1 {
		if pkt.Version == VERSION500 {
			if pkt.WillProps == nil {
				pkt.WillProps = &Properties{}
			}
			if err := pkt.WillProps.Pack(buf, PUBLISH); err != nil {
				return err
			}
		}
		buf.Write(s2b(pkt.WillTopic))
		buf.Write(s2b(pkt.WillPayload))
	}

	if pkt.Username != "" {
		buf.Write(s2b(pkt.Username))
	}
	if pkt.Password != "" {
		buf.Write(s2b(pkt.Password))
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// Unpack parses a CONNECT packet. MQTT v5.0 3.1; CONNECT validation steps
// here cover the wire-format half of a session's admission checks — the
// identity/credential half runs afterward in the broker.
func (pkt *CONNECT) Unpack(buf *bytes.Buffer) error {
	name := buf.Next(6)
	if !bytes.Equal(name, NAME) {
		return fmt.Errorf("%w: %v", ErrMalformedProtocolName, name)
	}

	pkt.Version, pkt.ConnectFlags = buf.Next(1)[0], ConnectFlags(buf.Next(1)[0])

	// [MQTT-3.1.2-3] the reserved flag must be 0.
	if pkt.ConnectFlags.Reserved() != 0 {
		return ErrMalformedFlags
	}
	// [MQTT-3.1.2-14] will QoS must not be 3.
	if pkt.ConnectFlags.WillQoS() > 2 {
		return ErrProtocolViolationQosOutOfRange
	}
	// [MQTT-3.1.2-11] without a will flag, QoS/retain must be 0.
	if !pkt.ConnectFlags.WillFlag() && (pkt.ConnectFlags.WillRetain() || pkt.ConnectFlags.WillQoS() != 0) {
		return ErrProtocolViolation
	}

	pkt.KeepAlive = binary.BigEndian.Uint16(buf.Next(2))

	switch pkt.Version {
	case VERSION500:
		pkt.Props = &Properties{}
		if err := pkt.Props.Unpack(buf, CONNECT); err != nil {
			return err
		}
	case VERSION311:
	case VERSION310:
		return ErrUnsupportedProtocolVersion
	default:
		return ErrMalformedProtocolVersion
	}

	pkt.ClientID = decodeUTF8[string](buf)
	if pkt.ClientID == "" {
		pkt.ClientID = requests.GenId()
		pkt.ClientIDAssigned = true
	}

	if pkt.ConnectFlags.WillFlag() {
		// [MQTT-3.1.2-9] the payload must contain will topic and message.
		if pkt.Version == VERSION500 {
			pkt.WillProps = &Properties{}
			if err := pkt.WillProps.Unpack(buf, CONNECT); err != nil {
				return err
			}
		}
		pkt.WillTopic = decodeUTF8[string](buf)
		pkt.WillPayload = decodeUTF8[[]byte](buf)
		pkt.WillQoS = pkt.ConnectFlags.WillQoS()
		pkt.WillRetain = pkt.ConnectFlags.WillRetain()
		if pkt.WillTopic == "" {
			return ErrProtocolViolationWillFlagNoPayload
		}
	}

	if pkt.ConnectFlags.UserNameFlag() {
		// [MQTT-3.1.2-19]
		pkt.Username = decodeUTF8[string](buf)
	} else if pkt.ConnectFlags.PasswordFlag() {
		// [MQTT-3.1.2-22] password flag requires username flag.
		return ErrMalformedPassword
	}

	if pkt.ConnectFlags.PasswordFlag() {
		// [MQTT-3.1.2-21]
		pkt.Password = decodeUTF8[string](buf)
	}

	return nil
}
