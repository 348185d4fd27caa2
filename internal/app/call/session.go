package call

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
	"github.com/dkeye/VoiceDesk/internal/metrics"
)

type hooks struct {
	onState    func(StateChange)
	onEnded    func(Summary)
	onTerminal func(*Session)
}

type sessionParams struct {
	id         domain.SessionID
	role       domain.Role
	local      domain.PartyID
	remote     domain.PartyID
	remoteName string
	offerSDP   string

	sig    core.SignalingChannel
	media  core.MediaCapability
	stream core.AudioStream

	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
	hooks  hooks
}

// Session is one outbound or inbound call attempt.
//
// All mutation runs on a single actor goroutine fed through inbox; public
// methods hand work to the actor and wait for it. The actor exits on the
// first terminal transition, after media has been released.
type Session struct {
	id         domain.SessionID
	local      domain.PartyID
	remote     domain.PartyID
	remoteName string
	role       domain.Role
	offerSDP   string

	sig    core.SignalingChannel
	media  core.MediaCapability
	stream core.AudioStream
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
	hooks  hooks

	ctx    context.Context
	cancel context.CancelFunc

	inbox       chan func()
	done        chan struct{}
	releaseOnce sync.Once
	notify      *notifier

	// actor-owned
	machine       *fsm.FSM
	localDesc     *domain.Description
	remoteDesc    *domain.Description
	localSent     bool
	pendingLocal  []domain.Candidate
	pendingRemote []domain.Candidate
	seenRemote    map[string]struct{}
	timer         *clock.Timer

	mu          sync.RWMutex
	state       domain.State
	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
	muted       bool
	endReason   domain.EndReason
	endErr      error
}

func newSession(p sessionParams) *Session {
	id := p.id
	if id == "" {
		id = domain.NewSessionID()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		local:      p.local,
		remote:     p.remote,
		remoteName: p.remoteName,
		role:       p.role,
		offerSDP:   p.offerSDP,
		sig:        p.sig,
		media:      p.media,
		stream:     p.stream,
		cfg:        p.cfg,
		clock:      p.clock,
		hooks:      p.hooks,
		ctx:        ctx,
		cancel:     cancel,
		inbox:      make(chan func(), 64),
		done:       make(chan struct{}),
		notify:     newNotifier(),
		seenRemote: make(map[string]struct{}),
		state:      domain.StateIdle,
		startedAt:  p.clock.Now(),
	}
	s.logger = p.logger.With().
		Str("module", "app.call").
		Str("sid", string(id)).
		Str("remote", string(p.remote)).
		Str("role", string(p.role)).
		Logger()
	s.machine = newMachine(s.onEnterState)

	s.media.OnLocalCandidate(func(c domain.Candidate) {
		s.post(func() { s.onLocalCandidate(c) })
	})
	s.media.OnConnectionEstablished(func() { s.post(s.onEstablished) })
	s.media.OnConnectionFailed(func(err error) {
		s.post(func() { s.onMediaFailed(err) })
	})
	s.timer = s.clock.AfterFunc(s.cfg.NegotiationTimeout, func() { s.post(s.onTimeout) })

	metrics.ActiveCalls.Inc()
	metrics.CallsStartedTotal.WithLabelValues(string(p.role)).Inc()
	s.logger.Info().Msg("session created")

	go s.run()
	return s
}

func (s *Session) ID() domain.SessionID   { return s.id }
func (s *Session) Local() domain.PartyID  { return s.local }
func (s *Session) Remote() domain.PartyID { return s.remote }
func (s *Session) RemoteName() string     { return s.remoteName }
func (s *Session) Role() domain.Role      { return s.role }

// Done is closed once the session is terminal and its media released.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) EndReason() domain.EndReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endReason
}

// Err is the qualifying cause of a terminal state, nil for plain hangups.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endErr
}

func (s *Session) Info() domain.CallInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := domain.CallInfo{
		ID:          s.id,
		Local:       s.local,
		Remote:      s.remote,
		RemoteName:  s.remoteName,
		Role:        s.role,
		State:       s.state,
		Muted:       s.muted,
		StartedAt:   s.startedAt,
		ConnectedAt: s.connectedAt,
		EndedAt:     s.endedAt,
		EndReason:   s.endReason,
	}
	if !s.connectedAt.IsZero() {
		end := s.endedAt
		if end.IsZero() {
			end = s.clock.Now()
		}
		info.Duration = end.Sub(s.connectedAt)
	}
	if src, ok := s.media.(core.MediaStats); ok {
		packets, gaps := src.RemoteStats()
		info.Media = &domain.MediaStats{Packets: packets, Gaps: gaps}
	}
	return info
}

// Hangup ends the call and releases media before returning.
// It is a no-op on a terminal session.
func (s *Session) Hangup() {
	s.do(func() {
		s.finish(evHangup, domain.EndReasonLocalHangup, nil, true, domain.CauseHangup)
	})
}

// SetMuted toggles the local track. It never signals and never changes
// state. Returns false when the session is already over.
func (s *Session) SetMuted(muted bool) bool {
	return s.do(func() {
		s.mu.RLock()
		same := s.muted == muted
		s.mu.RUnlock()
		if same {
			return
		}
		s.stream.SetEnabled(!muted)
		s.mu.Lock()
		s.muted = muted
		s.mu.Unlock()
		s.logger.Info().Bool("muted", muted).Msg("mute toggled")
	})
}

// ApplyRemoteCandidate applies c once; duplicates are ignored and
// candidates that arrive before the remote description are buffered.
func (s *Session) ApplyRemoteCandidate(c domain.Candidate) {
	s.do(func() { s.onRemoteCandidate(c) })
}

func (s *Session) run() {
	defer close(s.done)
	defer s.release()
	for {
		fn := <-s.inbox
		fn()
		if s.current().Terminal() {
			return
		}
	}
}

// do runs fn on the actor and waits. Returns false if the session ended
// before fn could run.
func (s *Session) do(fn func()) bool {
	reply := make(chan struct{})
	select {
	case s.inbox <- func() { fn(); close(reply) }:
	case <-s.done:
		return false
	}
	select {
	case <-reply:
		return true
	case <-s.done:
		select {
		case <-reply:
			return true
		default:
			return false
		}
	}
}

// post queues fn without waiting; used by media and timer callbacks.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

func (s *Session) current() domain.State {
	return domain.State(s.machine.Current())
}

func (s *Session) fire(event string) {
	if err := s.machine.Event(context.Background(), event); err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("transition rejected")
	}
}

func (s *Session) onEnterState(from, to domain.State) {
	now := s.clock.Now()
	s.mu.Lock()
	s.state = to
	if to == domain.StateConnected && s.connectedAt.IsZero() {
		s.connectedAt = now
	}
	s.mu.Unlock()

	s.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("state changed")
	if s.hooks.onState == nil {
		return
	}
	change := StateChange{Session: s.id, Remote: s.remote, From: from, To: to, At: now}
	s.notify.emit(func() { s.hooks.onState(change) })
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.stream != nil {
			s.stream.Stop()
		}
		if err := s.media.Close(); err != nil {
			s.logger.Error().Err(err).Msg("media close")
		}
		s.logger.Info().Msg("media released")
	})
}

// finish performs the one terminal transition: stop the timer, optionally
// tell the peer, release media, record why, then publish.
func (s *Session) finish(event string, reason domain.EndReason, cause error, notifyPeer bool, endCause domain.EndCause) {
	if s.current().Terminal() {
		return
	}
	s.stopTimer()
	if notifyPeer {
		end := domain.NewEnd(s.local, s.remote, endCause)
		var err error
		if reason == domain.EndReasonLocalHangup {
			err = s.send(end)
		} else {
			err = s.sendOnce(end)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("end signal not delivered")
		}
	}
	s.release()

	s.mu.Lock()
	s.endedAt = s.clock.Now()
	s.endReason = reason
	s.endErr = cause
	s.mu.Unlock()

	s.fire(event)
	s.cancel()

	metrics.ActiveCalls.Dec()
	metrics.CallsEndedTotal.WithLabelValues(string(reason)).Inc()
	ev := s.logger.Info()
	if cause != nil {
		ev = s.logger.Warn().Err(cause)
	}
	ev.Str("reason", string(reason)).Msg("session over")

	if s.hooks.onEnded != nil {
		summary := Summary{Info: s.Info(), Err: cause}
		s.notify.emit(func() { s.hooks.onEnded(summary) })
	}
	s.notify.close()
	if s.hooks.onTerminal != nil {
		s.hooks.onTerminal(s)
	}
}

func (s *Session) fail(reason domain.EndReason, cause error) {
	notify := reason == domain.EndReasonMediaError && (s.localSent || s.role == domain.RoleCallee)
	s.finish(evFail, reason, cause, notify, domain.CauseHangup)
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
