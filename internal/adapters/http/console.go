package http

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceDesk/internal/app/call"
	"github.com/dkeye/VoiceDesk/internal/config"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

const feedBuffer = 16

type consoleEvent struct {
	Name string
	Data any
}

type endedEvent struct {
	Call  domain.CallInfo `json:"call"`
	Cause string          `json:"cause,omitempty"`
}

// eventFeed fans lifecycle events out to SSE subscribers. Slow subscribers
// lose events rather than block the session notifier.
type eventFeed struct {
	mu   sync.Mutex
	subs map[chan consoleEvent]struct{}
}

func newEventFeed() *eventFeed {
	return &eventFeed{subs: make(map[chan consoleEvent]struct{})}
}

func (f *eventFeed) subscribe() (<-chan consoleEvent, func()) {
	ch := make(chan consoleEvent, feedBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}

func (f *eventFeed) publish(ev consoleEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("module", "adapters.http").Str("event", ev.Name).Msg("console subscriber lagging, event dropped")
		}
	}
}

// SignalStatus reports whether the agent is attached to the relay.
type SignalStatus interface {
	Connected() bool
}

// ConsoleController exposes the agent's call host to the console UI.
type ConsoleController struct {
	Host   *call.Host
	Signal SignalStatus
	feed   *eventFeed
}

func NewConsoleController(host *call.Host, sig SignalStatus) *ConsoleController {
	ctl := &ConsoleController{Host: host, Signal: sig, feed: newEventFeed()}
	host.OnStateChanged(func(c call.StateChange) {
		ctl.feed.publish(consoleEvent{Name: "state", Data: c})
	})
	host.OnEnded(func(s call.Summary) {
		ctl.feed.publish(consoleEvent{Name: "ended", Data: endedEvent{Call: s.Info, Cause: s.Cause()}})
	})
	return ctl
}

type placeCallRequest struct {
	PartnerID   string `json:"partner_id" binding:"required"`
	PartnerName string `json:"partner_name"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func (ctl *ConsoleController) placeCall(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	remote, err := domain.ParsePartyID(req.PartnerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := ctl.Host.PlaceCall(c.Request.Context(), remote, req.PartnerName)
	switch {
	case errors.Is(err, domain.ErrAlreadyInCall):
		c.JSON(http.StatusConflict, gin.H{"error": "already_in_call"})
		return
	case errors.Is(err, domain.ErrMediaUnavailable):
		log.Warn().Err(err).Str("module", "adapters.http").Msg("place call")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media_unavailable"})
		return
	case errors.Is(err, domain.ErrInvalidParty):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_party"})
		return
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Msg("place call")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusCreated, s.Info())
}

func (ctl *ConsoleController) current(c *gin.Context) {
	s, ok := ctl.Host.Active()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_call"})
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

func (ctl *ConsoleController) mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	s, ok := ctl.Host.Active()
	if !ok || !s.SetMuted(*req.Muted) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_call"})
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

func (ctl *ConsoleController) hangup(c *gin.Context) {
	if !ctl.Host.Hangup() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_call"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *ConsoleController) status(c *gin.Context) {
	_, inCall := ctl.Host.Active()
	connected := ctl.Signal != nil && ctl.Signal.Connected()
	c.JSON(http.StatusOK, gin.H{"party": ctl.Host.Local(), "signaling": connected, "in_call": inCall})
}

// events streams lifecycle events; the live call, if any, comes first.
func (ctl *ConsoleController) events(c *gin.Context) {
	ch, cancel := ctl.feed.subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeaderNow()
	if s, ok := ctl.Host.Active(); ok {
		c.SSEvent("current", s.Info())
	}
	c.Writer.Flush()
	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// SetupConsoleRouter builds the local agent console surface.
func SetupConsoleRouter(cfg *config.Config, ctl *ConsoleController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", ctl.status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/status", ctl.status)
	api.POST("/calls", ctl.placeCall)
	api.GET("/calls/current", ctl.current)
	api.PUT("/calls/current/mute", ctl.mute)
	api.DELETE("/calls/current", ctl.hangup)
	api.GET("/calls/events", ctl.events)

	log.Info().Str("module", "adapters.http").Str("party", string(ctl.Host.Local())).Msg("console router setup")
	return r
}
