package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceDesk/internal/metrics"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// remoteAudio watches the inbound audio track. Playback is left to the
// client; the agent side only keeps receive statistics.
type remoteAudio struct {
	packets atomic.Uint64
	gaps    atomic.Uint64

	lastSeq uint16
	started bool
}

// loop reads RTP packets until the track ends or ctx is done.
func (r *remoteAudio) loop(ctx context.Context, src rtpReader, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("remote audio ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).
				Uint64("packets", r.packets.Load()).
				Uint64("gaps", r.gaps.Load()).
				Msg("remote audio ended")
			return
		}
		r.observe(pkt)
	}
}

func (r *remoteAudio) observe(pkt *rtp.Packet) {
	r.packets.Add(1)
	metrics.RTPPacketsTotal.Inc()
	seq := pkt.SequenceNumber
	if !r.started {
		r.started = true
		r.lastSeq = seq
		return
	}
	// uint16 arithmetic handles wrap-around; a large delta is reordering
	delta := seq - r.lastSeq
	if delta == 0 || delta >= 0x8000 {
		return
	}
	if delta > 1 {
		missing := uint64(delta - 1)
		r.gaps.Add(missing)
		metrics.RTPGapsTotal.Add(float64(missing))
	}
	r.lastSeq = seq
}

func (r *remoteAudio) Stats() (packets, gaps uint64) {
	return r.packets.Load(), r.gaps.Load()
}
