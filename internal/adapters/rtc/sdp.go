package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

var ErrNoAudio = errors.New("description has no audio section")

// validateDescription parses d and requires at least one audio m-line.
func validateDescription(d domain.Description) (webrtc.SessionDescription, error) {
	typ := webrtc.NewSDPType(d.Type)
	if typ != webrtc.SDPTypeOffer && typ != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported description type %q", d.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(d.SDP)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("parse sdp: %w", err)
	}
	if !hasAudio(&parsed) {
		return webrtc.SessionDescription{}, ErrNoAudio
	}
	return webrtc.SessionDescription{Type: typ, SDP: d.SDP}, nil
}

func hasAudio(s *sdp.SessionDescription) bool {
	for _, m := range s.MediaDescriptions {
		if m.MediaName.Media == "audio" && m.MediaName.Port.Value != 0 {
			return true
		}
	}
	return false
}

func toDescription(sd *webrtc.SessionDescription) domain.Description {
	return domain.Description{Type: sd.Type.String(), SDP: sd.SDP}
}

func toCandidateInit(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromCandidateInit(ci webrtc.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        ci.Candidate,
		SDPMid:           ci.SDPMid,
		SDPMLineIndex:    ci.SDPMLineIndex,
		UsernameFragment: ci.UsernameFragment,
	}
}
