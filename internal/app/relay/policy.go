package relay

import "github.com/dkeye/VoiceDesk/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	DisconnectParty
)

// Policy decides what happens to a recipient whose outbound queue is full.
type Policy interface {
	OnBackPressure(party domain.PartyID, msg domain.Message) BackpressureAction
}

// SimplePolicy drops candidates and disconnects the recipient for any other kind.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ domain.PartyID, msg domain.Message) BackpressureAction {
	if msg.Kind == domain.KindCandidate {
		return DropMessage
	}
	return DisconnectParty
}

// DropPolicy never disconnects.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.PartyID, domain.Message) BackpressureAction {
	return DropMessage
}
