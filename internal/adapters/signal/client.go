package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

var ErrNotConnected = errors.New("signaling not connected")

const subscriberBuffer = 64

// Client is the agent side of the relay websocket. It implements
// core.SignalingChannel and keeps subscriptions across reconnects.
type Client struct {
	url            string
	party          domain.PartyID
	token          string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer

	writeMu sync.Mutex
	mu      sync.RWMutex
	conn    *websocket.Conn
	subs    map[*clientSub]struct{}
	closed  bool
}

func NewClient(url string, party domain.PartyID, token string, reconnectDelay time.Duration) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &Client{
		url:            url,
		party:          party,
		token:          token,
		reconnectDelay: reconnectDelay,
		dialer:         websocket.DefaultDialer,
		subs:           make(map[*clientSub]struct{}),
	}
}

func (c *Client) Party() domain.PartyID { return c.party }

// Connected reports whether a relay connection is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Run dials the relay and reads until ctx is done, redialing after every
// drop. Subscriptions are closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Str("module", "signal.client").Dur("retry_in", c.reconnectDelay).Msg("relay connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	ws, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	c.mu.Lock()
	c.conn = ws
	c.mu.Unlock()
	log.Info().Str("module", "signal.client").Str("party", string(c.party)).Msg("relay connected")

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal.client").Msg("bad json")
		return
	}
	switch msg.Kind {
	case domain.KindOffer, domain.KindAnswer, domain.KindCandidate, domain.KindEnd:
	default:
		// control replies (pong, whoami, error)
		log.Debug().Str("module", "signal.client").RawJSON("frame", data).Msg("relay control frame")
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for s := range c.subs {
		s.push(msg)
	}
}

// Send writes msg to the relay. It fails fast when the connection is down.
func (c *Client) Send(ctx context.Context, msg domain.Message) error {
	if msg.From == "" {
		msg.From = c.party
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Kind, err)
	}

	c.mu.RLock()
	ws := c.conn
	c.mu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Kind, err)
	}
	return nil
}

func (c *Client) Subscribe() (core.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domain.ErrChannelClosed
	}
	s := &clientSub{client: c, ch: make(chan domain.Message, subscriberBuffer)}
	c.subs[s] = struct{}{}
	return s, nil
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for s := range c.subs {
		s.closeLocked()
	}
	c.subs = make(map[*clientSub]struct{})
}

type clientSub struct {
	client *Client
	ch     chan domain.Message
	once   sync.Once
}

func (s *clientSub) C() <-chan domain.Message { return s.ch }

// push never blocks the read loop; a full subscriber loses the message.
func (s *clientSub) push(msg domain.Message) {
	select {
	case s.ch <- msg:
	default:
		log.Warn().Str("module", "signal.client").Str("type", string(msg.Kind)).Msg("subscriber full, message dropped")
	}
}

func (s *clientSub) Close() {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if _, ok := s.client.subs[s]; ok {
		delete(s.client.subs, s)
		s.closeLocked()
	}
}

func (s *clientSub) closeLocked() {
	s.once.Do(func() { close(s.ch) })
}
