// Command fieldwatch-loadtest exercises a running broker from a standard
// third-party MQTT client instead of this repository's own wire codec, so a
// protocol-level regression in the broker can't hide behind a bug shared
// with the in-house client. Grounded on the teacher's cmd/benchmark/main2.go
// (paho.mqtt.golang client pool) and the go.mod the teacher left behind at
// cmd/paho-client/ with no main.go to go with it — this is that main.go,
// finally written, pointed at the new broker's domain instead of a bare
// connectivity smoke test. Kept as its own module since paho's dependency
// graph (golang.org/x/net et al.) has nothing to do with the broker itself.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang-io/requests"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	broker := flag.String("broker", "tcp://127.0.0.1:1883", "broker URL (tcp://host:port)")
	clients := flag.Int("clients", 50, "number of simulated clients")
	interval := flag.Duration("interval", time.Second, "publish interval per client")
	filter := flag.String("filter", "fieldwatch/+/reading", "subscription topic filter")
	flag.Parse()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient(*broker, i, *filter, *interval, done)
		}()
	}

	<-stop
	log.Printf("fieldwatch-loadtest: shutting down %d clients", *clients)
	close(done)
	wg.Wait()
}

func onMessage(client paho.Client, msg paho.Message) {
	log.Printf("topic=%s payload=%q", msg.Topic(), msg.Payload())
}

func runClient(broker string, index int, filter string, interval time.Duration, done <-chan struct{}) {
	id := fmt.Sprintf("loadtest-%s", requests.GenId())
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(id).
		SetCleanSession(true).
		SetAutoReconnect(true)

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("%s: connect: %v", id, token.Error())
		return
	}
	defer client.Disconnect(250)

	if token := client.Subscribe(filter, 1, onMessage); token.Wait() && token.Error() != nil {
		log.Printf("%s: subscribe: %v", id, token.Error())
		return
	}

	topic := fmt.Sprintf("fieldwatch/%d/reading", index)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			payload := time.Now().Format(time.RFC3339)
			if token := client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
				log.Printf("%s: publish: %v", id, token.Error())
			}
		}
	}
}
