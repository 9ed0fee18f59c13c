package packet

import (
	"bytes"
	"io"
)

// PINGRESP answers a PINGREQ. MQTT v5.0 3.13. No variable header or
// payload.
type PINGRESP struct {
	*FixedHeader
}

func (pkt *PINGRESP) Kind() byte { return PINGRESP }

func (pkt *PINGRESP) Pack(w io.Writer) error {
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGRESP) Unpack(_ *bytes.Buffer) error {
	return nil
}
