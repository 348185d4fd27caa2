package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// Role is fixed when a session is created.
type Role string

const (
	RoleCaller Role = "CALLER"
	RoleCallee Role = "CALLEE"
)

type State string

const (
	StateIdle          State = "IDLE"
	StateNegotiating   State = "NEGOTIATING"
	StateRingingRemote State = "RINGING_REMOTE"
	StateConnected     State = "CONNECTED"
	StateEnded         State = "ENDED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

type EndReason string

const (
	EndReasonNone           EndReason = ""
	EndReasonLocalHangup    EndReason = "LOCAL_HANGUP"
	EndReasonRemoteHangup   EndReason = "REMOTE_HANGUP"
	EndReasonMediaError     EndReason = "MEDIA_ERROR"
	EndReasonSignalingError EndReason = "SIGNALING_ERROR"
	EndReasonTimeout        EndReason = "TIMEOUT"
)

// CallInfo is a read-only view of a call session for APIs and listeners.
type CallInfo struct {
	ID          SessionID     `json:"id"`
	Local       PartyID       `json:"local"`
	Remote      PartyID       `json:"remote"`
	RemoteName  string        `json:"remote_name,omitempty"`
	Role        Role          `json:"role"`
	State       State         `json:"state"`
	Muted       bool          `json:"muted"`
	StartedAt   time.Time     `json:"started_at"`
	ConnectedAt time.Time     `json:"connected_at,omitzero"`
	EndedAt     time.Time     `json:"ended_at,omitzero"`
	Duration    time.Duration `json:"duration"`
	EndReason   EndReason     `json:"end_reason,omitempty"`
	Media       *MediaStats   `json:"media,omitempty"`
}

// MediaStats counts inbound RTP for the call's remote audio.
type MediaStats struct {
	Packets uint64 `json:"packets"`
	Gaps    uint64 `json:"gaps"`
}
