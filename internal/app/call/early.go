package call

import (
	"time"

	"github.com/pion/sdp/v3"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

type earlyBatch struct {
	first time.Time
	items []domain.Candidate
}

type endedRemote struct {
	at    time.Time
	ufrag string
}

// earlyCandidates keeps candidates that overtook their Offer, per sender,
// and remembers remotes whose call just ended so their trailing candidates
// are not carried into the next call.
// Not safe for concurrent use; the host guards it.
type earlyCandidates struct {
	limit   int
	ttl     time.Duration
	byParty map[domain.PartyID]*earlyBatch
	ended   map[domain.PartyID]endedRemote
}

func newEarlyCandidates(limit int, ttl time.Duration) *earlyCandidates {
	return &earlyCandidates{
		limit:   limit,
		ttl:     ttl,
		byParty: make(map[domain.PartyID]*earlyBatch),
		ended:   make(map[domain.PartyID]endedRemote),
	}
}

// add returns false when the candidate was dropped because the batch is full.
func (e *earlyCandidates) add(from domain.PartyID, c domain.Candidate, now time.Time) bool {
	e.expire(now)
	b, ok := e.byParty[from]
	if !ok {
		b = &earlyBatch{first: now}
		e.byParty[from] = b
	}
	if len(b.items) >= e.limit {
		return false
	}
	b.items = append(b.items, c)
	return true
}

// take removes and returns what was kept for from, in arrival order. When
// ufrag is known, candidates tagged with a different ufrag are left out.
func (e *earlyCandidates) take(from domain.PartyID, ufrag string, now time.Time) []domain.Candidate {
	e.expire(now)
	delete(e.ended, from)
	b, ok := e.byParty[from]
	if !ok {
		return nil
	}
	delete(e.byParty, from)
	if ufrag == "" {
		return b.items
	}
	kept := b.items[:0]
	for _, c := range b.items {
		if c.UsernameFragment == nil || *c.UsernameFragment == ufrag {
			kept = append(kept, c)
		}
	}
	return kept
}

// markEnded records that the call with from is over. ufrag is the remote
// ICE ufrag of that call, empty when unknown.
func (e *earlyCandidates) markEnded(from domain.PartyID, ufrag string, now time.Time) {
	delete(e.byParty, from)
	e.ended[from] = endedRemote{at: now, ufrag: ufrag}
}

// stale reports whether c most likely belongs to the call that just ended
// with from. Only candidates tagged with another ufrag get the benefit of
// the doubt.
func (e *earlyCandidates) stale(from domain.PartyID, c domain.Candidate, now time.Time) bool {
	e.expire(now)
	r, ok := e.ended[from]
	if !ok {
		return false
	}
	if r.ufrag == "" || c.UsernameFragment == nil || *c.UsernameFragment == "" {
		return true
	}
	return *c.UsernameFragment == r.ufrag
}

func (e *earlyCandidates) drop(from domain.PartyID) {
	delete(e.byParty, from)
}

func (e *earlyCandidates) expire(now time.Time) {
	for p, b := range e.byParty {
		if now.Sub(b.first) > e.ttl {
			delete(e.byParty, p)
		}
	}
	for p, r := range e.ended {
		if now.Sub(r.at) > e.ttl {
			delete(e.ended, p)
		}
	}
}

// iceUfrag returns the first a=ice-ufrag in raw, session level first.
func iceUfrag(raw string) string {
	if raw == "" {
		return ""
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return ""
	}
	if v, ok := parsed.Attribute("ice-ufrag"); ok {
		return v
	}
	for _, m := range parsed.MediaDescriptions {
		if v, ok := m.Attribute("ice-ufrag"); ok {
			return v
		}
	}
	return ""
}
