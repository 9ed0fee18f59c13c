package broker

import "errors"

// ErrServerClosed is returned by Broker.Serve after a call to Shutdown.
// Named after the teacher's net/http-flavored ErrServerClosed in server.go.
var ErrServerClosed = errors.New("broker: server closed")

// ErrAbortSession is a sentinel panic value a packet handler can use to
// unwind a session's reader loop immediately, mirroring the teacher's
// ErrAbortHandler idiom in server.go/conn.go.
var ErrAbortSession = errors.New("broker: abort session")

var (
	ErrConfigMissingKey  = errors.New("broker: config missing required key")
	ErrConfigUnknownKey  = errors.New("broker: config has unknown key")
	ErrConfigInvalidType = errors.New("broker: config value has wrong type")
)
