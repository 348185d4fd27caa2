package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceDesk/internal/app/relay"
	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	defaultReadLimit  = 32768
	defaultPingPeriod = 54 * time.Second
	defaultSendBuffer = 32
	writeWait         = 5 * time.Second
)

// PartyKey is the gin context key holding the authenticated party.
const PartyKey = "party"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

// SignalWSController serves the relay side of the signaling websocket.
type SignalWSController struct {
	Hub     *relay.Hub
	Limiter *RateLimiter
	opts    Options
}

func NewSignalWSController(hub *relay.Hub, limiter *RateLimiter, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &SignalWSController{Hub: hub, Limiter: limiter, opts: opts}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an authenticated request and binds the party on the hub.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	party := domain.PartyID(c.GetString(PartyKey))
	if party == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	log.Info().Str("module", "signal").Str("party", string(party)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Bind(party, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, party, conn)
}
