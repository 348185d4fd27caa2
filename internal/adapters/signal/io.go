package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, party domain.PartyID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("party", string(party)).Msg("readPump closing")
		if ctl.Hub.Unbind(party, c) && ctl.Limiter != nil {
			ctl.Limiter.Forget(party)
		}
		c.Close()
	}()

	// a missed pong within two ping periods drops the connection
	deadline := 2 * ctl.opts.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("party", string(party)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("party", string(party)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
			ctl.handleSignal(party, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(party domain.PartyID, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_json")
		return
	}

	switch domain.Kind(env.Type) {
	case domain.KindOffer, domain.KindAnswer, domain.KindCandidate, domain.KindEnd:
		ctl.handleRelay(party, c, data)
	default:
		switch env.Type {
		case "ping":
			ctl.handlePing(c)
		case "whoami":
			ctl.handleWhoAmI(party, c)
		default:
			log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
			ctl.sendError(c, "unknown_type")
		}
	}
}

func (ctl *SignalWSController) handleRelay(party domain.PartyID, c *WsSignalConn, data []byte) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(party) {
		log.Warn().Str("module", "signal").Str("party", string(party)).Msg("rate limited")
		ctl.sendError(c, "rate_limited")
		return
	}
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad message payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Hub.DeliverFrom(party, msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("party", string(party)).Msg("relay rejected")
		switch {
		case errors.Is(err, domain.ErrInvalidMessage):
			ctl.sendError(c, "invalid_message")
		default:
			ctl.sendError(c, "forbidden")
		}
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
