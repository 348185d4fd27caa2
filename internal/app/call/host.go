package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
	"github.com/dkeye/VoiceDesk/internal/metrics"
)

// Host owns at most one live Session for the local party and routes
// inbound signaling to it.
type Host struct {
	local domain.PartyID
	sig   core.SignalingChannel
	media core.MediaFactory
	cfg   Config
	clock clock.Clock

	logger zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	active  *Session
	early   *earlyCandidates
	onState []func(StateChange)
	onEnded []func(Summary)
}

func NewHost(sig core.SignalingChannel, media core.MediaFactory, cfg Config, opts ...Option) *Host {
	cfg = cfg.withDefaults()
	h := &Host{
		local:  sig.Party(),
		sig:    sig,
		media:  media,
		cfg:    cfg,
		clock:  clock.New(),
		logger: defaultLogger(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("local", string(h.local)).Logger()
	h.early = newEarlyCandidates(cfg.EarlyCandidateLimit, cfg.NegotiationTimeout)
	return h
}

func (h *Host) Local() domain.PartyID { return h.local }

// OnStateChanged registers a listener for every transition of every session.
// Listeners run on a per-session goroutine, in transition order.
func (h *Host) OnStateChanged(fn func(StateChange)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onState = append(h.onState, fn)
}

// OnEnded registers a listener for the single ended summary of every session.
func (h *Host) OnEnded(fn func(Summary)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnded = append(h.onEnded, fn)
}

// Active returns the live session, if any.
func (h *Host) Active() (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active, h.active != nil
}

// PlaceCall starts an outbound call. Errors are returned only when no
// session was created; later failures surface through OnEnded.
func (h *Host) PlaceCall(ctx context.Context, remote domain.PartyID, remoteName string) (*Session, error) {
	if remote == "" || remote == h.local {
		metrics.CallsRejectedTotal.WithLabelValues("invalid_party").Inc()
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidParty, remote)
	}
	s, err := h.open(ctx, domain.RoleCaller, remote, remoteName, "")
	if err != nil {
		return nil, err
	}
	s.startOutbound()
	return s, nil
}

// AcceptInboundOffer creates a callee session for an Offer. Candidates the
// host kept for remote are handed to the session before the offer is applied.
func (h *Host) AcceptInboundOffer(ctx context.Context, remote domain.PartyID, offer string) (*Session, error) {
	if remote == "" || remote == h.local {
		metrics.CallsRejectedTotal.WithLabelValues("invalid_party").Inc()
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidParty, remote)
	}
	s, err := h.open(ctx, domain.RoleCallee, remote, "", offer)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	early := h.early.take(remote, iceUfrag(offer), h.clock.Now())
	h.mu.Unlock()
	s.acceptInbound(early)
	return s, nil
}

// open claims the slot, acquires media and builds the session.
func (h *Host) open(ctx context.Context, role domain.Role, remote domain.PartyID, remoteName, offer string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil {
		metrics.CallsRejectedTotal.WithLabelValues("already_in_call").Inc()
		return nil, domain.ErrAlreadyInCall
	}

	sid := domain.NewSessionID()
	media, err := h.media.NewMedia(sid)
	if err != nil {
		metrics.CallsRejectedTotal.WithLabelValues("media_unavailable").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, err)
	}
	stream, err := media.CaptureAudio(ctx)
	if err != nil {
		if cerr := media.Close(); cerr != nil {
			h.logger.Warn().Err(cerr).Msg("media close after capture failure")
		}
		metrics.CallsRejectedTotal.WithLabelValues("media_unavailable").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, err)
	}

	onState := append([]func(StateChange){}, h.onState...)
	onEnded := append([]func(Summary){}, h.onEnded...)
	s := newSession(sessionParams{
		id:         sid,
		role:       role,
		local:      h.local,
		remote:     remote,
		remoteName: remoteName,
		offerSDP:   offer,
		sig:        h.sig,
		media:      media,
		stream:     stream,
		cfg:        h.cfg,
		clock:      h.clock,
		logger:     h.logger,
		hooks: hooks{
			onState: func(c StateChange) {
				for _, fn := range onState {
					fn(c)
				}
			},
			onEnded: func(sum Summary) {
				for _, fn := range onEnded {
					fn(sum)
				}
			},
			onTerminal: h.release,
		},
	})
	h.active = s
	return s, nil
}

// release frees the slot if s still holds it and starts dropping
// candidates that trail the ended call. Runs on the session actor.
func (h *Host) release(s *Session) {
	ufrag := s.remoteICEUfrag()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == s {
		h.active = nil
	}
	h.early.markEnded(s.Remote(), ufrag, h.clock.Now())
}

// Hangup ends the live session, if any.
func (h *Host) Hangup() bool {
	s, ok := h.Active()
	if !ok {
		return false
	}
	s.Hangup()
	return true
}

// Close stops dispatch and hangs up the live session.
func (h *Host) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.Hangup()
}

// Run subscribes to the signaling channel and dispatches until ctx is done,
// Close is called or the subscription closes. The live session is hung up
// on the way out.
func (h *Host) Run(ctx context.Context) error {
	sub, err := h.sig.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()
	defer h.Hangup()

	h.logger.Info().Msg("host started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("host stopped")
			return nil
		case <-h.stop:
			h.logger.Info().Msg("host closed")
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return domain.ErrChannelClosed
			}
			h.dispatch(ctx, msg)
		}
	}
}

func (h *Host) dispatch(ctx context.Context, msg domain.Message) {
	if msg.To != h.local {
		h.drop(msg, "misaddressed")
		return
	}
	if err := msg.Validate(); err != nil {
		h.logger.Warn().Err(err).Msg("invalid message")
		h.drop(msg, "invalid")
		return
	}

	s, live := h.Active()
	if msg.Kind == domain.KindOffer {
		h.handleOffer(ctx, s, msg)
		return
	}
	if live && s.Remote() == msg.From {
		s.handle(msg)
		return
	}

	switch msg.Kind {
	case domain.KindCandidate:
		now := h.clock.Now()
		h.mu.Lock()
		stale := h.early.stale(msg.From, *msg.Candidate, now)
		kept := !stale && h.early.add(msg.From, *msg.Candidate, now)
		h.mu.Unlock()
		switch {
		case stale:
			h.drop(msg, "stale")
		case !kept:
			h.drop(msg, "early_overflow")
		}
	case domain.KindEnd:
		h.mu.Lock()
		h.early.drop(msg.From)
		h.mu.Unlock()
		h.drop(msg, "stale")
	default:
		h.drop(msg, "stale")
	}
}

func (h *Host) handleOffer(ctx context.Context, s *Session, msg domain.Message) {
	if s != nil {
		if s.Remote() == msg.From && s.offerSDP == msg.SDP {
			h.logger.Debug().Str("from", string(msg.From)).Msg("duplicate offer ignored")
			return
		}
		h.reject(ctx, msg.From, domain.CauseBusy)
		return
	}
	_, err := h.AcceptInboundOffer(ctx, msg.From, msg.SDP)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyInCall):
		h.reject(ctx, msg.From, domain.CauseBusy)
	default:
		h.logger.Warn().Err(err).Str("from", string(msg.From)).Msg("inbound offer refused")
		h.reject(ctx, msg.From, domain.CauseHangup)
	}
}

func (h *Host) reject(ctx context.Context, to domain.PartyID, cause domain.EndCause) {
	sendCtx, cancel := context.WithTimeout(ctx, h.cfg.SendTimeout)
	defer cancel()
	if err := h.sig.Send(sendCtx, domain.NewEnd(h.local, to, cause)); err != nil {
		h.logger.Warn().Err(err).Str("to", string(to)).Msg("reject not delivered")
	}
	h.mu.Lock()
	h.early.drop(to)
	h.mu.Unlock()
}

func (h *Host) drop(msg domain.Message, cause string) {
	metrics.SignalDroppedTotal.WithLabelValues(cause).Inc()
	h.logger.Debug().
		Str("type", string(msg.Kind)).
		Str("from", string(msg.From)).
		Str("cause", cause).
		Msg("message dropped")
}
