package rtc

import "sync/atomic"

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

// trackState is the send state of the local audio track.
type trackState struct {
	state atomic.Int32 // zero is TrackStateOk
}

func (s *trackState) Get() TrackState {
	return TrackState(s.state.Load())
}

// Set moves to st unless the track is already stopped.
func (s *trackState) Set(st TrackState) bool {
	for {
		cur := s.state.Load()
		if TrackState(cur) == TrackStateStopped {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return true
		}
	}
}
