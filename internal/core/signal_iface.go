package core

import (
	"context"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

// Frame is an encoded signaling message on a relay connection.
type Frame []byte

// SignalConnection abstracts a relay-side transport endpoint of one party.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingChannel is the per-party conduit for Offer/Answer/Candidate/End.
// Delivery is at-least-once with no ordering across kinds; consumers must
// dedupe and buffer.
type SignalingChannel interface {
	// Party is the local party this channel is authorized for.
	Party() domain.PartyID
	Send(ctx context.Context, msg domain.Message) error
	// Subscribe starts delivery of messages addressed to Party.
	// The caller owns the subscription and must Close it.
	Subscribe() (Subscription, error)
}

type Subscription interface {
	// C is closed when the subscription or the channel ends.
	C() <-chan domain.Message
	Close()
}
