package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Property identifiers, MQTT v5.0 section 2.2.2.2.
const (
	propPayloadFormatIndicator          byte = 0x01
	propMessageExpiryInterval           byte = 0x02
	propContentType                     byte = 0x03
	propResponseTopic                   byte = 0x08
	propCorrelationData                 byte = 0x09
	propSubscriptionIdentifier          byte = 0x0B
	propSessionExpiryInterval           byte = 0x11
	propAssignedClientIdentifier        byte = 0x12
	propServerKeepAlive                 byte = 0x13
	propAuthenticationMethod            byte = 0x15
	propAuthenticationData              byte = 0x16
	propRequestProblemInformation       byte = 0x17
	propWillDelayInterval               byte = 0x18
	propRequestResponseInformation      byte = 0x19
	propResponseInformation             byte = 0x1A
	propServerReference                 byte = 0x1C
	propReasonString                    byte = 0x1F
	propReceiveMaximum                  byte = 0x21
	propTopicAliasMaximum               byte = 0x22
	propTopicAlias                      byte = 0x23
	propMaximumQoS                      byte = 0x24
	propRetainAvailable                 byte = 0x25
	propUserProperty                    byte = 0x26
	propMaximumPacketSize               byte = 0x27
	propWildcardSubscriptionAvailable   byte = 0x28
	propSubscriptionIdentifiersAvail    byte = 0x29
	propSharedSubscriptionAvailable     byte = 0x2A
)

// propKind classifies how a property's value is encoded on the wire, so a
// single decode loop can read any property without a dedicated struct.
type propKind int

const (
	kindByte propKind = iota
	kindTwoByteInt
	kindFourByteInt
	kindVarInt
	kindUTF8String
	kindBinaryData
	kindUTF8Pair
)

var propKindOf = map[byte]propKind{
	propPayloadFormatIndicator:        kindByte,
	propMessageExpiryInterval:         kindFourByteInt,
	propContentType:                   kindUTF8String,
	propResponseTopic:                 kindUTF8String,
	propCorrelationData:               kindBinaryData,
	propSubscriptionIdentifier:        kindVarInt,
	propSessionExpiryInterval:         kindFourByteInt,
	propAssignedClientIdentifier:      kindUTF8String,
	propServerKeepAlive:               kindTwoByteInt,
	propAuthenticationMethod:          kindUTF8String,
	propAuthenticationData:            kindBinaryData,
	propRequestProblemInformation:     kindByte,
	propWillDelayInterval:             kindFourByteInt,
	propRequestResponseInformation:    kindByte,
	propResponseInformation:           kindUTF8String,
	propServerReference:               kindUTF8String,
	propReasonString:                  kindUTF8String,
	propReceiveMaximum:                kindTwoByteInt,
	propTopicAliasMaximum:             kindTwoByteInt,
	propTopicAlias:                    kindTwoByteInt,
	propMaximumQoS:                    kindByte,
	propRetainAvailable:               kindByte,
	propUserProperty:                  kindUTF8Pair,
	propMaximumPacketSize:             kindFourByteInt,
	propWildcardSubscriptionAvailable: kindByte,
	propSubscriptionIdentifiersAvail:  kindByte,
	propSharedSubscriptionAvailable:   kindByte,
}

// UserProperty is a free-form name/value pair, the one property MQTT v5
// allows to repeat.
type UserProperty struct {
	Name  string
	Value string
}

// Properties is the consolidated MQTT v5 property list. Every packet kind
// that carries properties owns exactly one of these instead of a bespoke
// per-packet-type properties struct; validity of a given identifier for a
// given packet kind is enforced by the allow-list table below, not by the
// Go type system.
type Properties struct {
	entries []propEntry
}

type propEntry struct {
	id  byte
	raw []byte
}

func (p *Properties) set(id byte, raw []byte) {
	for i := range p.entries {
		if p.entries[i].id == id && propKindOf[id] != kindUTF8Pair {
			p.entries[i].raw = raw
			return
		}
	}
	p.entries = append(p.entries, propEntry{id: id, raw: raw})
}

func (p *Properties) get(id byte) ([]byte, bool) {
	for _, e := range p.entries {
		if e.id == id {
			return e.raw, true
		}
	}
	return nil, false
}

func (p *Properties) has(id byte) bool {
	_, ok := p.get(id)
	return ok
}

// --- typed accessors used by the broker and by tests ---

func (p *Properties) PayloadFormatIndicator() (uint8, bool) {
	v, ok := p.get(propPayloadFormatIndicator)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func (p *Properties) SetPayloadFormatIndicator(v uint8) { p.set(propPayloadFormatIndicator, []byte{v}) }

func (p *Properties) MessageExpiryInterval() (uint32, bool) {
	v, ok := p.get(propMessageExpiryInterval)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func (p *Properties) SetMessageExpiryInterval(v uint32) {
	p.set(propMessageExpiryInterval, i4b(v))
}

func (p *Properties) ContentType() (string, bool) {
	v, ok := p.get(propContentType)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Properties) SetContentType(v string) { p.set(propContentType, []byte(v)) }

func (p *Properties) ResponseTopic() (string, bool) {
	v, ok := p.get(propResponseTopic)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Properties) SetResponseTopic(v string) { p.set(propResponseTopic, []byte(v)) }

func (p *Properties) CorrelationData() ([]byte, bool) {
	return p.get(propCorrelationData)
}

func (p *Properties) SetCorrelationData(v []byte) { p.set(propCorrelationData, v) }

func (p *Properties) SubscriptionIdentifier() (uint32, bool) {
	v, ok := p.get(propSubscriptionIdentifier)
	if !ok {
		return 0, false
	}
	return decodeVarIntBytes(v), true
}

func (p *Properties) SetSubscriptionIdentifier(v uint32) {
	enc, _ := encodeLength(v)
	p.set(propSubscriptionIdentifier, enc)
}

func (p *Properties) SessionExpiryInterval() (uint32, bool) {
	v, ok := p.get(propSessionExpiryInterval)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func (p *Properties) SetSessionExpiryInterval(v uint32) {
	p.set(propSessionExpiryInterval, i4b(v))
}

func (p *Properties) AssignedClientIdentifier() (string, bool) {
	v, ok := p.get(propAssignedClientIdentifier)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Properties) SetAssignedClientIdentifier(v string) {
	p.set(propAssignedClientIdentifier, []byte(v))
}

func (p *Properties) ServerKeepAlive() (uint16, bool) {
	v, ok := p.get(propServerKeepAlive)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

func (p *Properties) SetServerKeepAlive(v uint16) { p.set(propServerKeepAlive, i2b(v)) }

func (p *Properties) AuthenticationMethod() (string, bool) {
	v, ok := p.get(propAuthenticationMethod)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Properties) SetAuthenticationMethod(v string) {
	p.set(propAuthenticationMethod, []byte(v))
}

func (p *Properties) AuthenticationData() ([]byte, bool) {
	return p.get(propAuthenticationData)
}

func (p *Properties) SetAuthenticationData(v []byte) { p.set(propAuthenticationData, v) }

func (p *Properties) RequestProblemInformation() (uint8, bool) {
	v, ok := p.get(propRequestProblemInformation)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func (p *Properties) SetRequestProblemInformation(v uint8) {
	p.set(propRequestProblemInformation, []byte{v})
}

func (p *Properties) WillDelayInterval() (uint32, bool) {
	v, ok := p.get(propWillDelayInterval)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func (p *Properties) SetWillDelayInterval(v uint32) { p.set(propWillDelayInterval, i4b(v)) }

func (p *Properties) RequestResponseInformation() (uint8, bool) {
	v, ok := p.get(propRequestResponseInformation)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func (p *Properties) SetRequestResponseInformation(v uint8) {
	p.set(propRequestResponseInformation, []byte{v})
}

func (p *Properties) ResponseInformation() (string, bool) {
	v, ok := p.get(propResponseInformation)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Properties) ServerReference() (string, bool) {
	v, ok := p.get(propServerReference)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Properties) SetServerReference(v string) { p.set(propServerReference, []byte(v)) }

func (p *Properties) ReasonString() (string, bool) {
	v, ok := p.get(propReasonString)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Properties) SetReasonString(v string) { p.set(propReasonString, []byte(v)) }

func (p *Properties) ReceiveMaximum() (uint16, bool) {
	v, ok := p.get(propReceiveMaximum)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

func (p *Properties) SetReceiveMaximum(v uint16) { p.set(propReceiveMaximum, i2b(v)) }

func (p *Properties) TopicAliasMaximum() (uint16, bool) {
	v, ok := p.get(propTopicAliasMaximum)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

func (p *Properties) TopicAlias() (uint16, bool) {
	v, ok := p.get(propTopicAlias)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

func (p *Properties) MaximumQoS() (uint8, bool) {
	v, ok := p.get(propMaximumQoS)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func (p *Properties) SetMaximumQoS(v uint8) { p.set(propMaximumQoS, []byte{v}) }

func (p *Properties) RetainAvailable() (uint8, bool) {
	v, ok := p.get(propRetainAvailable)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func (p *Properties) SetRetainAvailable(v uint8) { p.set(propRetainAvailable, []byte{v}) }

func (p *Properties) UserProperties() []UserProperty {
	var out []UserProperty
	for _, e := range p.entries {
		if e.id != propUserProperty {
			continue
		}
		nlen := binary.BigEndian.Uint16(e.raw[0:2])
		name := string(e.raw[2 : 2+nlen])
		rest := e.raw[2+nlen:]
		vlen := binary.BigEndian.Uint16(rest[0:2])
		value := string(rest[2 : 2+vlen])
		out = append(out, UserProperty{Name: name, Value: value})
	}
	return out
}

func (p *Properties) AddUserProperty(name, value string) {
	raw := make([]byte, 0, 4+len(name)+len(value))
	raw = append(raw, i2b(uint16(len(name)))...)
	raw = append(raw, name...)
	raw = append(raw, i2b(uint16(len(value)))...)
	raw = append(raw, value...)
	p.entries = append(p.entries, propEntry{id: propUserProperty, raw: raw})
}

func (p *Properties) MaximumPacketSize() (uint32, bool) {
	v, ok := p.get(propMaximumPacketSize)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func (p *Properties) WildcardSubscriptionAvailable() (uint8, bool) {
	v, ok := p.get(propWildcardSubscriptionAvailable)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func (p *Properties) SubscriptionIdentifiersAvailable() (uint8, bool) {
	v, ok := p.get(propSubscriptionIdentifiersAvail)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func (p *Properties) SharedSubscriptionAvailable() (uint8, bool) {
	v, ok := p.get(propSharedSubscriptionAvailable)
	if !ok {
		return 0, false
	}
	return v[0], true
}

func decodeVarIntBytes(b []byte) uint32 {
	v, shift := uint32(0), 0
	for _, c := range b {
		v |= uint32(c&0x7F) << shift
		shift += 7
	}
	return v
}

// allowedProperties enumerates, per packet kind, the property identifiers
// that packet is permitted to carry. Anything else is a protocol violation
// even though the identifier itself is otherwise well-known.
var allowedProperties = map[byte]map[byte]bool{
	CONNECT: set(propSessionExpiryInterval, propAuthenticationMethod, propAuthenticationData,
		propRequestProblemInformation, propRequestResponseInformation, propReceiveMaximum,
		propTopicAliasMaximum, propUserProperty, propMaximumPacketSize,
		propPayloadFormatIndicator, propMessageExpiryInterval, propContentType,
		propResponseTopic, propCorrelationData, propWillDelayInterval),
	CONNACK: set(propSessionExpiryInterval, propAssignedClientIdentifier, propServerKeepAlive,
		propAuthenticationMethod, propAuthenticationData, propResponseInformation,
		propServerReference, propReasonString, propReceiveMaximum, propTopicAliasMaximum,
		propMaximumQoS, propRetainAvailable, propUserProperty, propMaximumPacketSize,
		propWildcardSubscriptionAvailable, propSubscriptionIdentifiersAvail,
		propSharedSubscriptionAvailable),
	PUBLISH: set(propPayloadFormatIndicator, propMessageExpiryInterval, propContentType,
		propResponseTopic, propCorrelationData, propSubscriptionIdentifier, propTopicAlias,
		propUserProperty),
	PUBACK: set(propReasonString, propUserProperty),
	SUBSCRIBE: set(propSubscriptionIdentifier, propUserProperty),
	SUBACK: set(propReasonString, propUserProperty),
	UNSUBSCRIBE: set(propUserProperty),
	UNSUBACK: set(propReasonString, propUserProperty),
	DISCONNECT: set(propSessionExpiryInterval, propServerReference, propReasonString,
		propUserProperty),
	AUTH: set(propAuthenticationMethod, propAuthenticationData, propReasonString,
		propUserProperty),
}

func set(ids ...byte) map[byte]bool {
	m := make(map[byte]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Pack encodes the property list (length prefix + entries) for the given
// packet kind.
func (p *Properties) Pack(buf *bytes.Buffer, kind byte) error {
	var body bytes.Buffer
	for _, e := range p.entries {
		body.WriteByte(e.id)
		body.Write(e.raw)
	}
	length, err := encodeLength(uint32(body.Len()))
	if err != nil {
		return err
	}
	buf.Write(length)
	buf.Write(body.Bytes())
	return nil
}

// Unpack reads a property list for the given packet kind, validating every
// identifier against that kind's allow-list.
func (p *Properties) Unpack(buf *bytes.Buffer, kind byte) error {
	length, err := decodeLength(buf)
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	body := buf.Next(int(length))
	if len(body) != int(length) {
		return io.ErrUnexpectedEOF
	}
	r := bytes.NewBuffer(body)
	allowed := allowedProperties[kind]
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: truncated property", ErrMalformedProperties)
		}
		k, known := propKindOf[id]
		if !known {
			return fmt.Errorf("%w: identifier 0x%02x", ErrMalformedBadProperty, id)
		}
		if allowed != nil && !allowed[id] {
			return fmt.Errorf("%w: identifier 0x%02x not valid here", ErrProtocolViolationUnsupportedProperty, id)
		}
		var raw []byte
		switch k {
		case kindByte:
			raw = r.Next(1)
		case kindTwoByteInt:
			raw = r.Next(2)
		case kindFourByteInt:
			raw = r.Next(4)
		case kindVarInt:
			sub, err := decodeLength(r)
			if err != nil {
				return err
			}
			enc, err := encodeLength(sub)
			if err != nil {
				return err
			}
			raw = enc
		case kindUTF8String, kindBinaryData:
			if r.Len() < 2 {
				return fmt.Errorf("%w: truncated property value", ErrMalformedProperties)
			}
			n := int(binary.BigEndian.Uint16(r.Bytes()[:2]))
			r.Next(2)
			if r.Len() < n {
				return fmt.Errorf("%w: truncated property value", ErrMalformedProperties)
			}
			raw = r.Next(n)
		case kindUTF8Pair:
			nameLen := int(binary.BigEndian.Uint16(r.Bytes()[:2]))
			r.Next(2)
			name := r.Next(nameLen)
			valLen := int(binary.BigEndian.Uint16(r.Bytes()[:2]))
			r.Next(2)
			value := r.Next(valLen)
			entry := make([]byte, 0, 4+len(name)+len(value))
			entry = append(entry, i2b(uint16(len(name)))...)
			entry = append(entry, name...)
			entry = append(entry, i2b(uint16(len(value)))...)
			entry = append(entry, value...)
			p.entries = append(p.entries, propEntry{id: id, raw: entry})
			continue
		}
		if k != kindVarInt {
			cp := make([]byte, len(raw))
			copy(cp, raw)
			raw = cp
		}
		p.set(id, raw)
	}
	return nil
}
