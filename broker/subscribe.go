package broker

import (
	"fmt"
	"log"

	"github.com/fieldwatch/broker/packet"
	"github.com/fieldwatch/broker/router"
)

// handleSubscribe implements spec.md §4.5. Grounded on the teacher's
// defaultHandler.ServeMQTT SUBSCRIBE case in conn.go, generalized to run
// filter validation through router.Table.Insert, compute per-filter
// GrantedQoS reason codes (the teacher echoed the requested MaximumQoS
// verbatim instead of the granted one), and replay matching retained
// messages (the teacher had no retained store at all).
func (b *Broker) handleSubscribe(s *Session, pkt *packet.SUBSCRIBE) {
	reasons := make([]packet.ReasonCode, 0, len(pkt.Subscriptions))
	var accepted []string
	type replay struct {
		filter     string
		grantedQoS uint8
	}
	var replays []replay

	for _, sub := range pkt.Subscriptions {
		grantedQoS := sub.MaximumQoS
		if grantedQoS > 1 {
			// Open question resolved in spec.md §9: clamp silently to 1
			// rather than reject with QoSNotSupported.
			grantedQoS = 1
		}
		opts := router.SubscriptionOptions{
			MaximumQoS:        grantedQoS,
			NoLocal:           sub.NoLocal != 0,
			RetainAsPublished: sub.RetainAsPublished != 0,
			RetainHandling:    sub.RetainHandling,
		}
		if err := b.Router.Insert(sub.TopicFilter, s.ClientID, opts); err != nil {
			reasons = append(reasons, packet.ErrTopicFilterInvalid)
			continue
		}
		accepted = append(accepted, sub.TopicFilter)
		if grantedQoS == 0 {
			reasons = append(reasons, packet.CodeGrantedQos0)
		} else {
			reasons = append(reasons, packet.CodeGrantedQos1)
		}

		// RetainHandling: 0 = always send, 2 = never. 1 is handled like 0:
		// Insert does not report whether the filter+client pair already
		// existed, so retained messages are replayed on every SUBSCRIBE
		// whose RetainHandling is not 2, new subscription or not.
		if sub.RetainHandling != 2 {
			replays = append(replays, replay{sub.TopicFilter, grantedQoS})
		}
	}

	suback := &packet.SUBACK{
		FixedHeader: &packet.FixedHeader{Version: s.Version, Kind: packet.SUBACK},
		PacketID:    pkt.PacketID,
		ReasonCode:  reasons,
	}
	if err := s.write(suback); err != nil {
		log.Printf("broker: suback write failed: clientId=%s, err=%v", s.ClientID, err)
	}
	// Retained replay follows the SUBACK on the wire.
	for _, r := range replays {
		b.replayRetained(s, r.filter, r.grantedQoS)
	}
	if len(accepted) > 0 {
		b.logEvent(s.ClientID, "SUBSCRIBE", fmt.Sprintf("%v", accepted))
	}
	b.logEvent(s.ClientID, "SUBACK", "")
}

// replayRetained delivers every retained message matching filter to s, at
// the subscription's granted QoS. spec.md §3 "RetainedStore". Called from
// handleSubscribe while dispatch holds s.mu for this same session, so
// packet-id allocation goes through trackOutbound (its own idMu) rather
// than s.mu, which a reentrant lock attempt here would deadlock on.
func (b *Broker) replayRetained(s *Session, filter string, grantedQoS uint8) {
	for _, rm := range b.Retained.MatchForSubscribe(filter) {
		qos := rm.QoS
		if grantedQoS < qos {
			qos = grantedQoS
		}
		out := &packet.PUBLISH{
			FixedHeader: &packet.FixedHeader{Version: s.Version, Kind: packet.PUBLISH, QoS: qos, Retain: 1},
			Message:     &packet.Message{TopicName: rm.Topic, Content: rm.Payload},
			Props:       rm.Properties,
		}
		if qos == 1 {
			s.trackOutbound(out)
		}
		if err := s.write(out); err != nil {
			log.Printf("broker: retained replay write failed: clientId=%s, err=%v", s.ClientID, err)
		}
	}
}

// handleUnsubscribe implements spec.md §4.5's UNSUBSCRIBE half. Grounded on
// the teacher's UNSUBSCRIBE case in conn.go, which discarded per-filter
// results entirely; this reports Success/NoSubscriptionExisted per filter.
func (b *Broker) handleUnsubscribe(s *Session, pkt *packet.UNSUBSCRIBE) {
	reasons := make([]packet.ReasonCode, 0, len(pkt.Subscriptions))
	var removed []string

	for _, sub := range pkt.Subscriptions {
		if b.Router.Remove(sub.TopicFilter, s.ClientID) {
			reasons = append(reasons, packet.CodeSuccess)
			removed = append(removed, sub.TopicFilter)
		} else {
			reasons = append(reasons, packet.CodeNoSubscriptionExisted)
		}
	}

	unsuback := &packet.UNSUBACK{
		FixedHeader: &packet.FixedHeader{Version: s.Version, Kind: packet.UNSUBACK},
		PacketID:    pkt.PacketID,
		ReasonCode:  reasons,
	}
	if err := s.write(unsuback); err != nil {
		log.Printf("broker: unsuback write failed: clientId=%s, err=%v", s.ClientID, err)
	}
	if len(removed) > 0 {
		b.logEvent(s.ClientID, "UNSUBSCRIBE", fmt.Sprintf("%v", removed))
	}
	b.logEvent(s.ClientID, "UNSUBACK", "")
}
