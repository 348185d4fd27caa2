// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxPartyIDLen   = 64
	MaxPartyNameLen = 128
)

var (
	ErrPartyIDEmpty   = errors.New("party id empty")
	ErrPartyIDTooLong = errors.New("party id too long")
	ErrPartyNameLong  = errors.New("party name too long")
)

// PartyID identifies a call participant (agent or customer) on the relay.
type PartyID string

type Party struct {
	ID   PartyID `json:"id"`
	Name string  `json:"name,omitempty"`
}

// ParsePartyID trims and validates a raw identifier coming from a request.
func ParsePartyID(raw string) (PartyID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrPartyIDEmpty
	}
	if len(raw) > MaxPartyIDLen {
		return "", ErrPartyIDTooLong
	}
	return PartyID(raw), nil
}

// NewParty is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParty(id PartyID, name string) (*Party, error) {
	if len(id) == 0 {
		return nil, ErrPartyIDEmpty
	}
	if len(name) > MaxPartyNameLen {
		return nil, ErrPartyNameLong
	}
	return &Party{ID: id, Name: name}, nil
}
