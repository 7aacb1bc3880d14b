package messenger

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Transport is the wire a Connection writes to. Emit is only ever called from
// the connection's writer goroutine.
type Transport interface {
	Emit(event string, payload any) error
	Close() error
}

type outbound struct {
	room    uint
	event   string
	payload any
}

// Connection is one authenticated live socket. Inbound envelopes are handled
// sequentially by Gateway.Serve; outbound events are written by a single
// writer goroutine.
type Connection struct {
	ID     string
	UserID uint

	transport Transport
	inbound   chan Envelope
	outbound  chan outbound
	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func newConnection(userID uint, t Transport, opts Options, log zerolog.Logger) *Connection {
	limit := rate.Inf
	if opts.InboundRate > 0 {
		limit = rate.Limit(opts.InboundRate)
	}
	id := uuid.NewString()
	return &Connection{
		ID:        id,
		UserID:    userID,
		transport: t,
		inbound:   make(chan Envelope, opts.OutboundBuffer),
		outbound:  make(chan outbound, opts.OutboundBuffer),
		limiter:   rate.NewLimiter(limit, opts.InboundBurst),
		done:      make(chan struct{}),
		log:       log.With().Str("conn", id).Uint("user", userID).Logger(),
	}
}

// Deliver queues an inbound envelope for the connection's actor. It blocks
// while the queue is full and returns false once the connection is closed.
func (c *Connection) Deliver(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbound <- env:
		return true
	case <-c.done:
		return false
	}
}

// Push queues an event that is not tied to a room.
func (c *Connection) Push(event string, payload any) bool {
	return c.enqueue(outbound{event: event, payload: payload})
}

func (c *Connection) enqueue(out outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbound <- out:
		return true
	default:
		c.log.Warn().Str("event", out.event).Msg("outbound buffer full, event dropped")
		return false
	}
}

// Done is closed when the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// close reports whether this call performed the close.
func (c *Connection) close() bool {
	closed := false
	c.closeOnce.Do(func() {
		close(c.done)
		closed = true
	})
	return closed
}

func (c *Connection) writeLoop(stillIn func(room uint, c *Connection) bool) {
	for {
		select {
		case <-c.done:
			return
		case out := <-c.outbound:
			if c.Closed() {
				return
			}
			if out.room != 0 && !stillIn(out.room, c) {
				continue
			}
			if err := c.transport.Emit(out.event, out.payload); err != nil {
				c.log.Warn().Err(err).Str("event", out.event).Msg("emit failed")
			}
		}
	}
}
