package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the signaling message type on the wire.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindEnd       Kind = "end"
)

// EndCause qualifies an End message. Empty means a plain hangup.
type EndCause string

const (
	CauseHangup      EndCause = ""
	CauseBusy        EndCause = "busy"
	CauseUnavailable EndCause = "unavailable"
	CauseTimeout     EndCause = "timeout"
)

var ErrInvalidMessage = errors.New("invalid signaling message")

// Description is an opaque session description produced by the media layer.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// Candidate is an opaque network candidate. Field names follow
// RTCIceCandidateInit so browser peers can use the payload as is.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Key is the candidate identity used for duplicate suppression.
func (c Candidate) Key() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.Candidate))
	b.WriteByte('|')
	if c.SDPMid != nil {
		b.WriteString(*c.SDPMid)
	}
	b.WriteByte('|')
	if c.SDPMLineIndex != nil {
		b.WriteString(strconv.Itoa(int(*c.SDPMLineIndex)))
	}
	return b.String()
}

// Message is the single envelope for Offer, Answer, Candidate and End.
type Message struct {
	Kind      Kind       `json:"type"`
	From      PartyID    `json:"from"`
	To        PartyID    `json:"to"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
	Reason    EndCause   `json:"reason,omitempty"`
}

func NewOffer(from, to PartyID, sdp string) Message {
	return Message{Kind: KindOffer, From: from, To: to, SDP: sdp}
}

func NewAnswer(from, to PartyID, sdp string) Message {
	return Message{Kind: KindAnswer, From: from, To: to, SDP: sdp}
}

func NewCandidate(from, to PartyID, c Candidate) Message {
	return Message{Kind: KindCandidate, From: from, To: to, Candidate: &c}
}

func NewEnd(from, to PartyID, reason EndCause) Message {
	return Message{Kind: KindEnd, From: from, To: to, Reason: reason}
}

// Validate checks the envelope shape for its kind.
func (m Message) Validate() error {
	if m.From == "" || m.To == "" {
		return fmt.Errorf("%w: missing from/to", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindOffer, KindAnswer:
		if strings.TrimSpace(m.SDP) == "" {
			return fmt.Errorf("%w: %s without sdp", ErrInvalidMessage, m.Kind)
		}
	case KindCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: candidate without payload", ErrInvalidMessage)
		}
	case KindEnd:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}
