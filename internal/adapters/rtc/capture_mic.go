//go:build mediadevices

package rtc

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// MicrophoneCapturer captures the default input device through
// pion/mediadevices and encodes it with opus.
type MicrophoneCapturer struct {
	selector *mediadevices.CodecSelector
}

func NewMicrophoneCapturer() (*MicrophoneCapturer, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	return &MicrophoneCapturer{
		selector: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams)),
	}, nil
}

func (m *MicrophoneCapturer) RegisterCodecs(me *webrtc.MediaEngine) error {
	m.selector.Populate(me)
	return nil
}

func (m *MicrophoneCapturer) Capture(_ context.Context) (*LocalAudio, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: m.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("get user media: no audio track")
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	track := tracks[0]
	local := NewLocalAudio(track, func() {
		if err := track.Close(); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("microphone close")
		}
	})
	track.OnEnded(func(err error) {
		if err != nil {
			local.End(err)
		}
	})
	log.Info().Str("module", "webrtc").Str("track_id", track.ID()).Msg("microphone captured")
	return local, nil
}

// DefaultCapturer captures the microphone.
func DefaultCapturer() (Capturer, error) {
	return NewMicrophoneCapturer()
}
