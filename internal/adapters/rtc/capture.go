package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var ErrCaptureEnded = errors.New("audio capture ended")

// Capturer produces the local audio track for one call.
type Capturer interface {
	// RegisterCodecs declares the codecs the captured track is encoded with.
	RegisterCodecs(m *webrtc.MediaEngine) error
	Capture(ctx context.Context) (*LocalAudio, error)
}

// LocalAudio is a captured track plus the hooks to release it.
type LocalAudio struct {
	Track webrtc.TrackLocal

	state trackState
	stop  func()
	once  sync.Once

	mu      sync.Mutex
	onEnded func(error)
}

func NewLocalAudio(track webrtc.TrackLocal, stop func()) *LocalAudio {
	return &LocalAudio{Track: track, stop: stop}
}

func (a *LocalAudio) State() TrackState { return a.state.Get() }

// OnEnded sets the callback for a capture that stops on its own.
func (a *LocalAudio) OnEnded(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEnded = fn
}

// End reports a capture loss. Ignored once the track was stopped.
func (a *LocalAudio) End(err error) {
	if a.state.Get() == TrackStateStopped {
		return
	}
	a.mu.Lock()
	fn := a.onEnded
	a.mu.Unlock()
	if fn != nil {
		fn(fmt.Errorf("%w: %w", ErrCaptureEnded, err))
	}
}

func (a *LocalAudio) Stop() {
	a.once.Do(func() {
		a.state.state.Store(int32(TrackStateStopped))
		if a.stop != nil {
			a.stop()
		}
	})
}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// opus TOC byte for a 20ms CELT frame followed by a silence payload
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// SilenceCapturer sends opus silence. Used on hosts without an audio device
// and in tests.
type SilenceCapturer struct{}

func (SilenceCapturer) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opusCapability,
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio)
}

func (SilenceCapturer) Capture(ctx context.Context) (*LocalAudio, error) {
	track, err := webrtc.NewTrackLocalStaticSample(opusCapability, "audio", "voicedesk")
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	// capture outlives the request that started the call
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	local := NewLocalAudio(track, cancel)
	go pace(ctx, local, track)
	return local, nil
}

func pace(ctx context.Context, local *LocalAudio, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if local.State() != TrackStateOk {
			continue
		}
		if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Msg("silence write")
		}
	}
}
