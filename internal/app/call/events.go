package call

import (
	"time"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

// StateChange is emitted on every transition of a session.
type StateChange struct {
	Session domain.SessionID `json:"session_id"`
	Remote  domain.PartyID   `json:"remote"`
	From    domain.State     `json:"from"`
	To      domain.State     `json:"to"`
	At      time.Time        `json:"at"`
}

// Summary is emitted once, after the terminal transition and media release.
type Summary struct {
	Info domain.CallInfo `json:"call"`
	// Err qualifies the end (ErrPeerBusy, ErrNegotiationTimeout, ...).
	// Nil for plain hangups.
	Err error `json:"-"`
}

// Cause is the text of Err for JSON consumers.
func (s Summary) Cause() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// notifier delivers lifecycle events in order on its own goroutine so
// listeners may call back into the session.
type notifier struct {
	ch chan func()
}

func newNotifier() *notifier {
	n := &notifier{ch: make(chan func(), 32)}
	go func() {
		for fn := range n.ch {
			fn()
		}
	}()
	return n
}

func (n *notifier) emit(fn func()) { n.ch <- fn }

func (n *notifier) close() { close(n.ch) }
