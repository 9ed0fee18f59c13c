// Command fieldwatchd runs the broker as a standalone process. Grounded on
// the teacher's cmd/mqtt-server/main.go: an errgroup fanning listener
// goroutines out across the configured transports, switched from JSON
// config (encoding/json against mqtt.CONFIG) to the line-oriented config
// file broker.LoadConfigFile parses.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldwatch/broker/broker"
	"golang.org/x/sync/errgroup"
)

// Exit codes per the configuration/transport contract: 0 normal exit, 3
// configuration error, 4 listener/bind error.
const (
	exitOK            = 0
	exitConfigError   = 3
	exitListenerError = 4
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "/etc/fieldwatchd/fieldwatchd.conf", "path to the broker config file")
	wsAddr := flag.String("ws-addr", "", "optional host:port to also serve MQTT-over-WebSocket on (disabled if empty)")
	adminAddr := flag.String("admin-addr", "", "optional host:port to serve Prometheus metrics + pprof on (disabled if empty)")
	flag.Parse()

	cfg, err := broker.LoadConfigFile(*configPath)
	if err != nil {
		log.Printf("fieldwatchd: config error: %v", err)
		os.Exit(exitConfigError)
	}

	var auth *broker.AuthTable
	if cfg.AuthFile != "" {
		auth, err = broker.LoadAuthFile(cfg.AuthFile)
		if err != nil {
			log.Printf("fieldwatchd: auth file error: %v", err)
			os.Exit(exitConfigError)
		}
	}

	evlog, err := broker.NewEventLog(cfg.LogPath, cfg.LogInTerminal)
	if err != nil {
		log.Printf("fieldwatchd: event log error: %v", err)
		os.Exit(exitConfigError)
	}
	defer evlog.Close()

	b := broker.New(cfg, auth, evlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return b.ListenAndServe()
	})
	if cfg.TLSIdentity != "" {
		group.Go(func() error {
			return b.ListenAndServeTLS()
		})
	}
	if *wsAddr != "" {
		group.Go(func() error {
			return b.ListenAndServeWebsocket(*wsAddr)
		})
	}
	if *adminAddr != "" {
		group.Go(func() error {
			return b.ServeAdmin(*adminAddr)
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout*3)
		defer cancel()
		return b.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != broker.ErrServerClosed {
		log.Printf("fieldwatchd: %v", err)
		os.Exit(exitListenerError)
	}
	os.Exit(exitOK)
}
