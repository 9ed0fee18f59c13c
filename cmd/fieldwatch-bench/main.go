// Command fieldwatch-bench drives a fleet of simulated clients against a
// running broker: each dials in, subscribes to a wildcard filter, and
// publishes on a timer. Grounded on the teacher's cmd/benchmark/main.go
// (the errgroup-per-client fan-out shape) and cmd/mqtt-client/main.go (the
// signal-driven shutdown, folded in here rather than kept as its own demo).
//
// The teacher's root Client type round-trips QoS-2 PUBREC/PUBCOMP packets
// that this broker's wire codec no longer has types for, so this tool talks
// the wire protocol directly with packet.Pack/Unpack instead of reusing it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldwatch/broker/packet"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	addr := flag.String("addr", "127.0.0.1:1883", "broker address to connect to")
	clients := flag.Int("clients", 20, "number of simulated clients")
	interval := flag.Duration("interval", time.Second, "publish interval per client")
	filter := flag.String("filter", "fieldwatch/+/reading", "subscription topic filter")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *clients; i++ {
		i := i
		group.Go(func() error {
			return runClient(gctx, *addr, fmt.Sprintf("bench-%03d", i), *filter, *interval)
		})
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Printf("fieldwatch-bench: %v", err)
		os.Exit(1)
	}
}

func runClient(ctx context.Context, addr, clientID, filter string, interval time.Duration) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: dial: %w", clientID, err)
	}
	defer conn.Close()

	if err := (&packet.CONNECT{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: packet.CONNECT},
		ClientID:    clientID,
		KeepAlive:   30,
	}).Pack(conn); err != nil {
		return fmt.Errorf("%s: pack CONNECT: %w", clientID, err)
	}
	pkt, err := packet.Unpack(packet.VERSION500, conn)
	if err != nil {
		return fmt.Errorf("%s: read CONNACK: %w", clientID, err)
	}
	ack, ok := pkt.(*packet.CONNACK)
	if !ok {
		return fmt.Errorf("%s: expected CONNACK, got %T", clientID, pkt)
	}
	if ack.ConnectReturnCode.Code != packet.CodeSuccess.Code {
		return fmt.Errorf("%s: CONNACK reason 0x%02x", clientID, ack.ConnectReturnCode.Code)
	}

	if err := (&packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: packet.VERSION500, Kind: packet.SUBSCRIBE, QoS: 1},
		PacketID:      1,
		Subscriptions: []packet.Subscription{{TopicFilter: filter, MaximumQoS: 1}},
	}).Pack(conn); err != nil {
		return fmt.Errorf("%s: pack SUBSCRIBE: %w", clientID, err)
	}
	if pkt, err = packet.Unpack(packet.VERSION500, conn); err != nil {
		return fmt.Errorf("%s: read SUBACK: %w", clientID, err)
	}
	if _, ok := pkt.(*packet.SUBACK); !ok {
		return fmt.Errorf("%s: expected SUBACK, got %T", clientID, pkt)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return recvLoop(gctx, conn, clientID) })
	group.Go(func() error { return publishLoop(gctx, conn, clientID, interval) })
	return group.Wait()
}

func recvLoop(ctx context.Context, conn net.Conn, clientID string) error {
	for {
		pkt, err := packet.Unpack(packet.VERSION500, conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s: recv: %w", clientID, err)
		}
		switch p := pkt.(type) {
		case *packet.PUBLISH:
			log.Printf("%s: recv topic=%s payload=%q", clientID, p.Message.TopicName, p.Message.Content)
		case *packet.DISCONNECT:
			return fmt.Errorf("%s: disconnected by broker: reason 0x%02x", clientID, p.ReasonCode.Code)
		}
	}
}

func publishLoop(ctx context.Context, conn net.Conn, clientID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var packetID uint16 = 2
	topic := fmt.Sprintf("fieldwatch/%s/reading", clientID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			req := &packet.PUBLISH{
				FixedHeader: &packet.FixedHeader{Version: packet.VERSION500, Kind: packet.PUBLISH, QoS: 1},
				PacketID:    packetID,
				Message:     &packet.Message{TopicName: topic, Content: []byte(time.Now().Format(time.RFC3339))},
			}
			if err := req.Pack(conn); err != nil {
				return fmt.Errorf("%s: pack PUBLISH: %w", clientID, err)
			}
			packetID++
		}
	}
}
