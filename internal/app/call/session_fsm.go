package call

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

const (
	evStart       = "start"
	evAnswered    = "answered"
	evEstablished = "established"
	evHangup      = "hangup"
	evRemoteEnd   = "remote_end"
	evFail        = "fail"
	evTimeout     = "timeout"
)

var (
	live        = []string{string(domain.StateIdle), string(domain.StateNegotiating), string(domain.StateRingingRemote), string(domain.StateConnected)}
	negotiation = []string{string(domain.StateNegotiating), string(domain.StateRingingRemote)}
)

// newMachine builds the lifecycle state machine. Only the session actor
// fires events on it.
func newMachine(onEnter func(from, to domain.State)) *fsm.FSM {
	return fsm.NewFSM(
		string(domain.StateIdle),
		fsm.Events{
			{Name: evStart, Src: []string{string(domain.StateIdle)}, Dst: string(domain.StateNegotiating)},
			// caller only: answer applied, waiting for the media path
			{Name: evAnswered, Src: []string{string(domain.StateNegotiating)}, Dst: string(domain.StateRingingRemote)},
			{Name: evEstablished, Src: negotiation, Dst: string(domain.StateConnected)},
			{Name: evHangup, Src: live, Dst: string(domain.StateEnded)},
			{Name: evRemoteEnd, Src: live, Dst: string(domain.StateEnded)},
			{Name: evFail, Src: live, Dst: string(domain.StateFailed)},
			{Name: evTimeout, Src: negotiation, Dst: string(domain.StateFailed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(domain.State(e.Src), domain.State(e.Dst))
			},
		},
	)
}
