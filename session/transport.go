package session

import (
	"context"
	"sync"

	"github.com/hazyhaar/domveil/wire"
)

// Transport is one end of a reliable, ordered duplex byte stream.
// Listen returns a channel of inbound frames that is closed when the
// transport drops (either side closed, or the underlying carrier died).
// Implementations must be safe for one sender and one listener.
type Transport interface {
	// Send writes one frame. Returns ErrTransportClosed after close.
	Send(data []byte) error

	// Listen returns a read-only channel of inbound frames. The channel
	// is closed when ctx is cancelled or the transport closes.
	Listen(ctx context.Context) <-chan []byte

	// Close tears down both directions. Idempotent.
	Close() error
}

// Dialer opens a transport toward the coordinator, registering the far
// end under the caller's logical address.
type Dialer interface {
	Dial(ctx context.Context, from wire.Address) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, from wire.Address) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, from wire.Address) (Transport, error) {
	return f(ctx, from)
}

// pipe is a pair of in-process transports joined back to back. Frames
// sent on one end arrive on the other, in order. Closing either end
// drops both.
type pipe struct {
	aToB chan []byte
	bToA chan []byte
	done chan struct{}
	once sync.Once
}

// NewPipe returns two connected in-process transports with the given
// per-direction buffer. This is the transport used between contexts
// living in one process; it is also what tests drop on demand.
func NewPipe(buffer int) (a, b Transport) {
	p := &pipe{
		aToB: make(chan []byte, buffer),
		bToA: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	return &pipeEnd{p: p, out: p.aToB, in: p.bToA},
		&pipeEnd{p: p, out: p.bToA, in: p.aToB}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

type pipeEnd struct {
	p   *pipe
	out chan<- []byte
	in  <-chan []byte
}

func (e *pipeEnd) Send(data []byte) error {
	select {
	case <-e.p.done:
		return &ErrTransportClosed{}
	default:
	}
	select {
	case <-e.p.done:
		return &ErrTransportClosed{}
	case e.out <- data:
		return nil
	}
}

func (e *pipeEnd) Listen(ctx context.Context) <-chan []byte {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.p.done:
				return
			case data := <-e.in:
				select {
				case ch <- data:
				case <-ctx.Done():
					return
				case <-e.p.done:
					return
				}
			}
		}
	}()
	return ch
}

func (e *pipeEnd) Close() error {
	e.p.close()
	return nil
}
