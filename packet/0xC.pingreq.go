package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PINGREQ is a client keep-alive heartbeat. MQTT v5.0 3.12. No variable
// header or payload; the server must answer with PINGRESP.
type PINGREQ struct {
	*FixedHeader
}

func (pkt *PINGREQ) Kind() byte { return PINGREQ }

// Pack writes the two-byte PINGREQ header. The flag bits are reserved and
// always written as 0, whatever Dup/QoS/Retain hold.
func (pkt *PINGREQ) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		return fmt.Errorf("FixedHeader is nil")
	}
	fh := *pkt.FixedHeader
	fh.Dup, fh.QoS, fh.Retain = 0, 0, 0
	return fh.Pack(w)
}

func (pkt *PINGREQ) Unpack(_ *bytes.Buffer) error {
	return nil
}
