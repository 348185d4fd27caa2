package core

import (
	"context"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

// AudioStream is the captured local audio attached to a media session.
type AudioStream interface {
	// SetEnabled toggles sending without renegotiation.
	SetEnabled(bool)
	// Stop releases the capture device. Safe to call twice.
	Stop()
}

// MediaCapability wraps one point-to-point audio negotiation.
type MediaCapability interface {
	CaptureAudio(ctx context.Context) (AudioStream, error)
	CreateOffer(ctx context.Context, stream AudioStream) (domain.Description, error)
	// CreateAnswer applies remote first if it has not been applied yet.
	CreateAnswer(ctx context.Context, stream AudioStream, remote domain.Description) (domain.Description, error)
	ApplyRemoteDescription(domain.Description) error
	// OnLocalCandidate sets a callback for newly gathered local candidates.
	OnLocalCandidate(func(domain.Candidate))
	AddRemoteCandidate(domain.Candidate) error
	// OnConnectionEstablished fires once the media path is usable.
	OnConnectionEstablished(func())
	// OnConnectionFailed fires when the media path or capture is lost.
	OnConnectionFailed(func(error))
	// Close stops all underlying media resources. Safe to call twice.
	Close() error
}

// MediaStats is implemented by media that can report inbound RTP counts.
type MediaStats interface {
	RemoteStats() (packets, gaps uint64)
}

// MediaFactory builds a fresh MediaCapability for every session.
type MediaFactory interface {
	NewMedia(sid domain.SessionID) (MediaCapability, error)
}
