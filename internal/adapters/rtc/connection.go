package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

var ErrICEFailed = errors.New("peer connection failed")

// WebRTCConnection is the MediaCapability of one call: a PeerConnection
// carrying a single local audio track with trickle ICE.
type WebRTCConnection struct {
	pc       *webrtc.PeerConnection
	sid      domain.SessionID
	capturer Capturer
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	local     *LocalAudio
	sender    *webrtc.RTPSender
	remote    *remoteAudio
	onICE     func(domain.Candidate)
	onUp      func()
	onFailed  func(error)
	upOnce    sync.Once
	failOnce  sync.Once
	closeOnce sync.Once
}

var (
	_ core.MediaCapability = (*WebRTCConnection)(nil)
	_ core.MediaStats      = (*WebRTCConnection)(nil)
)

func newConnection(pc *webrtc.PeerConnection, sid domain.SessionID, capturer Capturer) *WebRTCConnection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{
		pc:       pc,
		sid:      sid,
		capturer: capturer,
		logger:   log.With().Str("module", "webrtc").Str("sid", string(sid)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		remote:   &remoteAudio{},
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(c.onPeerState)
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(fromCandidateInit(cand.ToJSON()))
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go c.remote.loop(c.ctx, track, &c.logger)
	})
	return c
}

func (c *WebRTCConnection) onPeerState(s webrtc.PeerConnectionState) {
	c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		c.upOnce.Do(func() {
			c.mu.Lock()
			fn := c.onUp
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		})
	case webrtc.PeerConnectionStateFailed:
		c.fail(ErrICEFailed)
	}
}

func (c *WebRTCConnection) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		fn := c.onFailed
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

// CaptureAudio starts the capturer and attaches its track.
func (c *WebRTCConnection) CaptureAudio(ctx context.Context) (core.AudioStream, error) {
	local, err := c.capturer.Capture(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := c.pc.AddTrack(local.Track)
	if err != nil {
		local.Stop()
		return nil, fmt.Errorf("add audio track: %w", err)
	}
	local.OnEnded(c.fail)

	c.mu.Lock()
	c.local = local
	c.sender = sender
	c.mu.Unlock()

	go c.drainRTCP(sender)
	return &audioStream{conn: c, local: local}, nil
}

// drainRTCP keeps interceptors (NACK, reports) fed.
func (c *WebRTCConnection) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug().Err(err).Msg("rtcp read")
			}
			return
		}
	}
}

func (c *WebRTCConnection) CreateOffer(_ context.Context, _ core.AudioStream) (domain.Description, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return domain.Description{}, fmt.Errorf("set local offer: %w", err)
	}
	return toDescription(c.pc.LocalDescription()), nil
}

func (c *WebRTCConnection) CreateAnswer(_ context.Context, _ core.AudioStream, remote domain.Description) (domain.Description, error) {
	if c.pc.RemoteDescription() == nil {
		if err := c.ApplyRemoteDescription(remote); err != nil {
			return domain.Description{}, err
		}
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return domain.Description{}, fmt.Errorf("set local answer: %w", err)
	}
	return toDescription(c.pc.LocalDescription()), nil
}

func (c *WebRTCConnection) ApplyRemoteDescription(d domain.Description) error {
	sd, err := validateDescription(d)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote %s: %w", d.Type, err)
	}
	return nil
}

func (c *WebRTCConnection) OnLocalCandidate(fn func(domain.Candidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *WebRTCConnection) AddRemoteCandidate(cand domain.Candidate) error {
	return c.pc.AddICECandidate(toCandidateInit(cand))
}

func (c *WebRTCConnection) OnConnectionEstablished(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUp = fn
}

func (c *WebRTCConnection) OnConnectionFailed(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailed = fn
}

// RemoteStats returns inbound RTP packet and gap counts.
func (c *WebRTCConnection) RemoteStats() (packets, gaps uint64) {
	return c.remote.Stats()
}

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		local := c.local
		c.onFailed = nil
		c.onUp = nil
		c.onICE = nil
		c.mu.Unlock()
		if local != nil {
			local.Stop()
		}
		if err = c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
	})
	return err
}

// audioStream toggles the local track on its RTP sender.
type audioStream struct {
	conn  *WebRTCConnection
	local *LocalAudio
}

func (s *audioStream) SetEnabled(on bool) {
	s.conn.mu.Lock()
	sender := s.conn.sender
	s.conn.mu.Unlock()

	st, track := TrackStateMuted, webrtc.TrackLocal(nil)
	if on {
		st, track = TrackStateOk, s.local.Track
	}
	if !s.local.state.Set(st) || sender == nil {
		return
	}
	if err := sender.ReplaceTrack(track); err != nil {
		s.conn.logger.Warn().Err(err).Bool("enabled", on).Msg("replace track")
	}
}

func (s *audioStream) Stop() {
	s.local.Stop()
}
