package broker

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to net.Conn so the same Session/readLoop
// machinery serves WebSocket transports as plain TCP ones. Grounded on the
// teacher's server.go ListenAndServeWebsocket, which used the stdlib
// golang.org/x/net/websocket package (left as a TODO stub, never wired to
// a real conn type); this broker uses the go.mod's already-declared
// gorilla/websocket instead, which needed this adapter since it has no
// built-in net.Conn view.
type wsConn struct {
	*websocket.Conn
	reader io.Reader
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{Conn: c}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.Conn.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			c.reader = nil
			if err == io.EOF {
				continue
			}
			return 0, err
		}
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}

var wsUpgrader = websocket.Upgrader{
	Subprotocols:    []string{"mqtt"},
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsListener turns an http.Server's upgraded connections into a net.Listener
// Broker.Serve can accept from, via a handoff channel.
type wsListener struct {
	addr   net.Addr
	accept chan net.Conn
	closed chan struct{}
}

func newWSListener(addr net.Addr) *wsListener {
	return &wsListener{addr: addr, accept: make(chan net.Conn), closed: make(chan struct{})}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, ErrServerClosed
	}
}

func (l *wsListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *wsListener) Addr() net.Addr { return l.addr }

// ListenAndServeWebsocket upgrades HTTP connections on addr to WebSocket
// and feeds them through the normal Broker.Serve/Session path. Replaces the
// teacher's unimplemented ListenAndServeWebsocket stub. addr is distinct
// from Config.Addr() since the plain-TCP and WebSocket listeners cannot
// share one port.
func (b *Broker) ListenAndServeWebsocket(addr string) error {
	ln := newWSListener(&net.TCPAddr{})
	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", func(w http.ResponseWriter, r *http.Request) {
		c, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case ln.accept <- newWSConn(c):
		case <-ln.closed:
			_ = c.Close()
		}
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ln.closed
		_ = srv.Close()
	}()
	go func() { _ = b.Serve(ln) }()
	return srv.ListenAndServe()
}
