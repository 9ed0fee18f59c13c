package broker

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// tcpKeepAlivePeriod is the socket-level keep-alive interval applied to
// every accepted TCP connection, per spec.md §4.2. Grounded on the
// teacher's net.Listen("tcp", ...) call in server.go's ListenAndServe,
// which left keep-alive at the OS default; a net.ListenConfig lets this be
// set explicitly so half-dead peers behind a NAT are reclaimed even when
// MQTT keep-alive is itself disabled (keep_alive == 0).
const tcpKeepAlivePeriod = 30 * time.Second

// ListenAndServe opens a TCP listener on Config.Addr() and serves it.
// Grounded on the teacher's Server.ListenAndServe (server.go), replacing
// its bare net.Listen with a net.ListenConfig carrying KeepAlive.
func (b *Broker) ListenAndServe() error {
	if b.shuttingDown() {
		return ErrServerClosed
	}
	lc := net.ListenConfig{KeepAlive: tcpKeepAlivePeriod}
	ln, err := lc.Listen(context.Background(), "tcp", b.Config.Addr())
	if err != nil {
		return fmt.Errorf("broker: listen %s: %w", b.Config.Addr(), err)
	}
	log.Printf("broker: mqtt serve: %s", b.Config.Addr())
	return b.Serve(ln)
}

// ListenAndServeTLS loads the configured PKCS#12 identity and serves TLS on
// Config.Addr(). Grounded on the teacher's Server.ListenAndServeTLS, with
// tls.LoadX509KeyPair replaced by loadTLSIdentity (tls.go).
func (b *Broker) ListenAndServeTLS() error {
	if b.shuttingDown() {
		return ErrServerClosed
	}
	if b.Config.TLSIdentity == "" {
		return fmt.Errorf("broker: ListenAndServeTLS: no tls_identity configured")
	}
	tlsCfg, err := loadTLSIdentity(b.Config.TLSIdentity, b.Config.TLSPassphrase)
	if err != nil {
		return err
	}
	lc := net.ListenConfig{KeepAlive: tcpKeepAlivePeriod}
	ln, err := lc.Listen(context.Background(), "tcp", b.Config.Addr())
	if err != nil {
		return fmt.Errorf("broker: listen %s: %w", b.Config.Addr(), err)
	}
	log.Printf("broker: mqtt(s) serve: %s", b.Config.Addr())
	return b.ServeTLS(ln, tlsCfg)
}
