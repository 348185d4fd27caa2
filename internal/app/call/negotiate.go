package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceDesk/internal/domain"
	"github.com/dkeye/VoiceDesk/internal/metrics"
)

// startOutbound runs the caller side: offer, then trickle.
func (s *Session) startOutbound() {
	s.do(func() {
		s.fire(evStart)
		desc, err := s.media.CreateOffer(s.ctx, s.stream)
		if err != nil {
			s.fail(domain.EndReasonMediaError, fmt.Errorf("%w: create offer: %w", domain.ErrMediaFailure, err))
			return
		}
		s.localDesc = &desc
		if err := s.send(domain.NewOffer(s.local, s.remote, desc.SDP)); err != nil {
			s.fail(domain.EndReasonSignalingError, err)
			return
		}
		s.markLocalSent()
	})
}

// acceptInbound runs the callee side. early holds candidates the host saw
// before the offer; they go through the normal dedupe path.
func (s *Session) acceptInbound(early []domain.Candidate) {
	s.do(func() {
		s.fire(evStart)
		for _, c := range early {
			s.onRemoteCandidate(c)
		}
		offer := domain.Description{Type: domain.DescriptionOffer, SDP: s.offerSDP}
		if err := s.media.ApplyRemoteDescription(offer); err != nil {
			s.fail(domain.EndReasonMediaError, fmt.Errorf("%w: apply offer: %w", domain.ErrMediaFailure, err))
			return
		}
		s.remoteDesc = &offer
		s.flushRemote()
		s.answer(offer)
	})
}

func (s *Session) answer(offer domain.Description) {
	desc, err := s.media.CreateAnswer(s.ctx, s.stream, offer)
	if err != nil {
		s.fail(domain.EndReasonMediaError, fmt.Errorf("%w: create answer: %w", domain.ErrMediaFailure, err))
		return
	}
	s.localDesc = &desc
	if err := s.send(domain.NewAnswer(s.local, s.remote, desc.SDP)); err != nil {
		s.fail(domain.EndReasonSignalingError, err)
		return
	}
	s.markLocalSent()
}

// handle routes one inbound message from the remote party.
func (s *Session) handle(msg domain.Message) {
	s.do(func() {
		switch msg.Kind {
		case domain.KindAnswer:
			s.handleAnswer(msg.SDP)
		case domain.KindCandidate:
			s.onRemoteCandidate(*msg.Candidate)
		case domain.KindEnd:
			s.handleRemoteEnd(msg.Reason)
		default:
			s.logger.Warn().Str("type", string(msg.Kind)).Msg("unexpected message for session")
		}
	})
}

func (s *Session) handleAnswer(sdp string) {
	if s.current().Terminal() {
		return
	}
	if s.role != domain.RoleCaller {
		s.logger.Warn().Msg("answer received by callee, dropped")
		return
	}
	if s.remoteDesc != nil {
		s.logger.Debug().Msg("duplicate answer ignored")
		return
	}
	desc := domain.Description{Type: domain.DescriptionAnswer, SDP: sdp}
	if err := s.media.ApplyRemoteDescription(desc); err != nil {
		s.fail(domain.EndReasonMediaError, fmt.Errorf("%w: apply answer: %w", domain.ErrMediaFailure, err))
		return
	}
	s.remoteDesc = &desc
	if s.machine.Can(evAnswered) {
		s.fire(evAnswered)
	}
	s.flushRemote()
}

func (s *Session) handleRemoteEnd(cause domain.EndCause) {
	switch cause {
	case domain.CauseBusy:
		s.finish(evRemoteEnd, domain.EndReasonRemoteHangup, domain.ErrPeerBusy, false, domain.CauseHangup)
	case domain.CauseUnavailable:
		s.finish(evFail, domain.EndReasonSignalingError, domain.ErrPeerUnavailable, false, domain.CauseHangup)
	case domain.CauseTimeout:
		s.finish(evRemoteEnd, domain.EndReasonRemoteHangup,
			fmt.Errorf("remote: %w", domain.ErrNegotiationTimeout), false, domain.CauseHangup)
	default:
		s.finish(evRemoteEnd, domain.EndReasonRemoteHangup, nil, false, domain.CauseHangup)
	}
}

func (s *Session) onRemoteCandidate(c domain.Candidate) {
	if s.current().Terminal() {
		return
	}
	key := c.Key()
	if _, ok := s.seenRemote[key]; ok {
		return
	}
	s.seenRemote[key] = struct{}{}
	if s.remoteDesc == nil {
		s.pendingRemote = append(s.pendingRemote, c)
		return
	}
	s.applyRemote(c)
}

func (s *Session) applyRemote(c domain.Candidate) {
	if err := s.media.AddRemoteCandidate(c); err != nil {
		s.logger.Warn().Err(err).Msg("remote candidate rejected")
	}
}

func (s *Session) flushRemote() {
	pending := s.pendingRemote
	s.pendingRemote = nil
	for _, c := range pending {
		s.applyRemote(c)
	}
}

func (s *Session) onLocalCandidate(c domain.Candidate) {
	if s.current().Terminal() {
		return
	}
	if !s.localSent {
		s.pendingLocal = append(s.pendingLocal, c)
		return
	}
	s.sendCandidate(c)
}

// markLocalSent opens the gate for local candidates, oldest first.
func (s *Session) markLocalSent() {
	s.localSent = true
	pending := s.pendingLocal
	s.pendingLocal = nil
	for _, c := range pending {
		s.sendCandidate(c)
	}
}

func (s *Session) sendCandidate(c domain.Candidate) {
	if err := s.sendOnce(domain.NewCandidate(s.local, s.remote, c)); err != nil {
		s.logger.Warn().Err(err).Msg("candidate not delivered")
	}
}

func (s *Session) onEstablished() {
	if !s.machine.Can(evEstablished) {
		return
	}
	s.stopTimer()
	s.fire(evEstablished)
	s.mu.RLock()
	setup := s.connectedAt.Sub(s.startedAt)
	s.mu.RUnlock()
	metrics.CallSetupSeconds.Observe(setup.Seconds())
}

func (s *Session) onTimeout() {
	if !s.machine.Can(evTimeout) {
		return
	}
	s.finish(evTimeout, domain.EndReasonTimeout, domain.ErrNegotiationTimeout, true, domain.CauseTimeout)
}

func (s *Session) onMediaFailed(err error) {
	if s.current().Terminal() {
		return
	}
	if !errors.Is(err, domain.ErrMediaFailure) {
		err = fmt.Errorf("%w: %w", domain.ErrMediaFailure, err)
	}
	s.fail(domain.EndReasonMediaError, err)
}

// send delivers msg with up to SendRetries immediate resends.
func (s *Session) send(msg domain.Message) error {
	var err error
	for attempt := 0; attempt <= s.cfg.SendRetries; attempt++ {
		if err = s.sendAttempt(msg); err == nil {
			return nil
		}
		s.logger.Debug().Err(err).Str("type", string(msg.Kind)).Int("attempt", attempt+1).Msg("send failed")
	}
	metrics.SignalSendFailuresTotal.WithLabelValues(string(msg.Kind)).Inc()
	return fmt.Errorf("%w: %s: %w", domain.ErrSignalingSend, msg.Kind, err)
}

func (s *Session) sendOnce(msg domain.Message) error {
	if err := s.sendAttempt(msg); err != nil {
		metrics.SignalSendFailuresTotal.WithLabelValues(string(msg.Kind)).Inc()
		return fmt.Errorf("%w: %s: %w", domain.ErrSignalingSend, msg.Kind, err)
	}
	return nil
}

func (s *Session) sendAttempt(msg domain.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	return s.sig.Send(ctx, msg)
}

// remoteICEUfrag is only valid on the actor.
func (s *Session) remoteICEUfrag() string {
	if s.remoteDesc == nil {
		return ""
	}
	return iceUfrag(s.remoteDesc.SDP)
}
