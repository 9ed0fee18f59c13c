package broker

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/fieldwatch/broker/packet"
	"github.com/fieldwatch/broker/router"
	"golang.org/x/sync/errgroup"
)

// handlePublish implements spec.md §4.4. Grounded on the teacher's
// defaultHandler.ServeMQTT PUBLISH case in conn.go and mem_topic.go's
// Exchange, generalized to honor no_local, retain_as_published, and
// per-subscriber granted QoS (the teacher hardcoded outbound QoS to 1
// regardless of subscription options) and to maintain the retained store
// the teacher never implemented.
func (b *Broker) handlePublish(s *Session, pkt *packet.PUBLISH) {
	b.logEvent(s.ClientID, "PUBLISH", pkt.Message.TopicName)

	if pkt.Retain == 1 {
		b.Retained.Store(router.RetainedMessage{
			Topic:      pkt.Message.TopicName,
			Payload:    pkt.Message.Content,
			QoS:        pkt.QoS,
			Properties: pkt.Props,
		})
	}

	delivered := b.fanOut(pkt.Message, pkt.QoS, pkt.Retain == 1, pkt.Props, s.ClientID)

	if pkt.QoS != 1 {
		return
	}
	reason := packet.CodeSuccess
	if !delivered {
		reason = packet.CodeNoMatchingSubscribers
	}
	puback := &packet.PUBACK{
		FixedHeader: &packet.FixedHeader{Version: s.Version, Kind: packet.PUBACK},
		PacketID:    pkt.PacketID,
		ReasonCode:  reason,
	}
	if err := s.write(puback); err != nil {
		log.Printf("broker: puback write failed: clientId=%s, err=%v", s.ClientID, err)
	}
	b.logEvent(s.ClientID, "PUBACK", fmt.Sprintf("topic=%s", pkt.Message.TopicName))
}

// fanOut matches msg against the subscription table and delivers a copy to
// each matching, currently-connected subscriber, honoring no_local and
// retain_as_published. publisherID is "" for will/retained-only publishes
// that have no live publisher session (no_local never applies to those). It
// reports whether a delivery was attempted to at least one live matching
// subscriber; a failed write still counts.
func (b *Broker) fanOut(msg *packet.Message, qos uint8, retain bool, props *packet.Properties, publisherID string) bool {
	subs := b.Router.Match(msg.TopicName)
	if len(subs) == 0 {
		return false
	}

	group, _ := errgroup.WithContext(context.Background())
	var delivered atomic.Bool
	for _, sub := range subs {
		sub := sub
		if sub.Options.NoLocal && sub.ClientID == publisherID {
			continue
		}
		target := b.session(sub.ClientID)
		if target == nil || !target.active.Load() {
			continue
		}
		group.Go(func() error {
			b.deliverOne(target, sub, msg, qos, retain, props)
			delivered.Store(true)
			return nil
		})
	}
	_ = group.Wait()
	return delivered.Load()
}

func (b *Broker) deliverOne(target *Session, sub router.Subscriber, msg *packet.Message, qos uint8, retain bool, props *packet.Properties) {
	effectiveQoS := qos
	if sub.Options.MaximumQoS < effectiveQoS {
		effectiveQoS = sub.Options.MaximumQoS
	}
	outRetain := uint8(0)
	if retain && sub.Options.RetainAsPublished {
		outRetain = 1
	}

	out := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: target.Version, Kind: packet.PUBLISH, QoS: effectiveQoS, Retain: outRetain},
		Message:     &packet.Message{TopicName: msg.TopicName, Content: msg.Content},
		Props:       props,
	}

	if effectiveQoS == 1 {
		target.trackOutbound(out)
	}

	if err := target.write(out); err != nil {
		log.Printf("broker: publish fan-out write failed: clientId=%s, err=%v", target.ClientID, err)
	}
}
