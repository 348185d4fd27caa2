package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const endpointBuffer = 64

// Endpoint is an in-process SignalingChannel bound directly to a Hub.
type Endpoint struct {
	hub   *Hub
	party domain.PartyID
}

// Endpoint returns a SignalingChannel for party that skips the network.
func (h *Hub) Endpoint(party domain.PartyID) *Endpoint {
	return &Endpoint{hub: h, party: party}
}

func (e *Endpoint) Party() domain.PartyID { return e.party }

func (e *Endpoint) Send(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.hub.DeliverFrom(e.party, msg)
}

// Subscribe binds the endpoint on the hub, replacing any other connection
// of the same party.
func (e *Endpoint) Subscribe() (core.Subscription, error) {
	conn := &localConn{ch: make(chan domain.Message, endpointBuffer)}
	conn.unbind = func() { e.hub.Unbind(e.party, conn) }
	e.hub.Bind(e.party, conn, nil)
	return conn, nil
}

// localConn is both the hub-side connection and the subscriber side.
type localConn struct {
	mu     sync.Mutex
	ch     chan domain.Message
	closed bool
	unbind func()
}

func (c *localConn) TrySend(f core.Frame) error {
	var msg domain.Message
	if err := json.Unmarshal(f, &msg); err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("endpoint decode")
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrChannelClosed
	}
	select {
	case c.ch <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *localConn) C() <-chan domain.Message { return c.ch }

// Close is called by the subscriber or by the hub on replacement.
func (c *localConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()
	c.unbind()
}
