package domain

import "errors"

var (
	// ErrAlreadyInCall is returned when the local party already owns a session.
	ErrAlreadyInCall = errors.New("already in call")
	// ErrMediaUnavailable means audio capture could not start (device or permission).
	ErrMediaUnavailable = errors.New("media unavailable")
	ErrInvalidParty     = errors.New("invalid remote party")

	// Terminal causes reported through the ended summary.
	ErrSignalingSend      = errors.New("signaling send failure")
	ErrPeerBusy           = errors.New("peer busy")
	ErrPeerUnavailable    = errors.New("peer unavailable")
	ErrNegotiationTimeout = errors.New("negotiation timeout")
	ErrMediaFailure       = errors.New("media failure")
	ErrChannelClosed      = errors.New("signaling channel closed")
)
