package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
	"github.com/dkeye/VoiceDesk/internal/metrics"
)

var ErrSpoofed = errors.New("sender does not match bound party")

type partyEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Hub routes addressed signaling messages between bound parties.
// One connection per party; binding again replaces the old connection.
type Hub struct {
	Policy Policy

	mu      sync.RWMutex
	parties map[domain.PartyID]*partyEntry
}

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		Policy:  policy,
		parties: make(map[domain.PartyID]*partyEntry),
	}
}

// Bind registers conn for party. A previous connection of the same party is
// cancelled and closed.
func (h *Hub) Bind(party domain.PartyID, conn core.SignalConnection, cancel context.CancelFunc) {
	h.mu.Lock()
	old := h.parties[party]
	h.parties[party] = &partyEntry{Conn: conn, Cancel: cancel}
	if old == nil {
		metrics.RelayParties.Inc()
	}
	h.mu.Unlock()

	if old != nil {
		log.Info().Str("module", "app.relay").Str("party", string(party)).Msg("replaced connection")
		old.close()
	}
	log.Info().Str("module", "app.relay").Str("party", string(party)).Msg("bound party")
}

// Unbind removes party only if conn is still the bound connection.
func (h *Hub) Unbind(party domain.PartyID, conn core.SignalConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.parties[party]
	if !ok || e.Conn != conn {
		return false
	}
	delete(h.parties, party)
	metrics.RelayParties.Dec()
	log.Info().Str("module", "app.relay").Str("party", string(party)).Msg("unbind party")
	return true
}

// Disconnect cancels and closes the connection of party.
func (h *Hub) Disconnect(party domain.PartyID) bool {
	h.mu.Lock()
	e, ok := h.parties[party]
	if ok {
		delete(h.parties, party)
		metrics.RelayParties.Dec()
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	e.close()
	log.Info().Str("module", "app.relay").Str("party", string(party)).Msg("disconnected party")
	return true
}

func (h *Hub) Online(party domain.PartyID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.parties[party]
	return ok
}

func (h *Hub) Parties() []domain.PartyID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.PartyID, 0, len(h.parties))
	for p := range h.parties {
		out = append(out, p)
	}
	return out
}

// Deliver routes msg to its recipient. When nobody is bound for msg.To the
// sender gets End{reason: unavailable} back.
func (h *Hub) Deliver(msg domain.Message) error {
	if err := msg.Validate(); err != nil {
		metrics.RelayMessagesTotal.WithLabelValues(string(msg.Kind), "invalid").Inc()
		return err
	}
	if !h.deliverTo(msg.To, msg) {
		metrics.RelayMessagesTotal.WithLabelValues(string(msg.Kind), "unavailable").Inc()
		log.Debug().Str("module", "app.relay").
			Str("from", string(msg.From)).
			Str("to", string(msg.To)).
			Msg("recipient offline")
		// never answer an End with an End
		if msg.Kind != domain.KindEnd {
			h.deliverTo(msg.From, domain.NewEnd(msg.To, msg.From, domain.CauseUnavailable))
		}
		return nil
	}
	metrics.RelayMessagesTotal.WithLabelValues(string(msg.Kind), "delivered").Inc()
	return nil
}

// DeliverFrom checks that msg claims to come from party before routing it.
func (h *Hub) DeliverFrom(party domain.PartyID, msg domain.Message) error {
	if msg.From == "" {
		msg.From = party
	}
	if msg.From != party {
		metrics.RelayMessagesTotal.WithLabelValues(string(msg.Kind), "spoofed").Inc()
		return fmt.Errorf("%w: %q as %q", ErrSpoofed, party, msg.From)
	}
	return h.Deliver(msg)
}

func (h *Hub) deliverTo(party domain.PartyID, msg domain.Message) bool {
	h.mu.RLock()
	e, ok := h.parties[party]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("marshal message")
		return true
	}
	if err := e.Conn.TrySend(data); err != nil {
		h.onBackPressure(party, msg, err)
	}
	return true
}

func (h *Hub) onBackPressure(party domain.PartyID, msg domain.Message, err error) {
	log.Warn().Err(err).Str("module", "app.relay").Str("party", string(party)).Str("type", string(msg.Kind)).Msg("send queue full")
	switch h.Policy.OnBackPressure(party, msg) {
	case DisconnectParty:
		metrics.RelayMessagesTotal.WithLabelValues(string(msg.Kind), "disconnected").Inc()
		h.Disconnect(party)
	case DropMessage, NoAction:
		metrics.RelayMessagesTotal.WithLabelValues(string(msg.Kind), "dropped").Inc()
	}
}

func (e *partyEntry) close() {
	if e.Cancel != nil {
		e.Cancel()
	}
	e.Conn.Close()
}
