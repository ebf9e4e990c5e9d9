package session

import (
	"fmt"

	"github.com/hazyhaar/domveil/wire"
)

// ErrTransportClosed is returned by Send on a closed transport.
type ErrTransportClosed struct{}

func (e *ErrTransportClosed) Error() string {
	return "session: transport closed"
}

// ErrNotConnected is returned by Send when the channel is not in the
// connected state.
type ErrNotConnected struct {
	Addr wire.Address
}

func (e *ErrNotConnected) Error() string {
	return fmt.Sprintf("session: channel %s not connected", e.Addr)
}

// ErrConnectFailed wraps a dial failure during Connect.
type ErrConnectFailed struct {
	Addr  wire.Address
	Cause error
}

func (e *ErrConnectFailed) Error() string {
	return fmt.Sprintf("session: connect %s: %v", e.Addr, e.Cause)
}

func (e *ErrConnectFailed) Unwrap() error { return e.Cause }

// ErrSendFailed wraps a transport-level send failure. The channel
// treats the failure as an implicit disconnect; the payload itself is
// not retried (at-most-once delivery).
type ErrSendFailed struct {
	Addr   wire.Address
	Target wire.Address
	Cause  error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("session: send %s -> %s: %v", e.Addr, e.Target, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }
