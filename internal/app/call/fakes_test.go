package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

var errBoom = errors.New("boom")

// fakeSignal records every send and lets tests push inbound messages.
type fakeSignal struct {
	party domain.PartyID

	mu       sync.Mutex
	sent     []domain.Message
	failures map[domain.Kind]int // remaining failures per kind
	inbound  chan domain.Message
}

func newFakeSignal(party domain.PartyID) *fakeSignal {
	return &fakeSignal{
		party:    party,
		failures: make(map[domain.Kind]int),
		inbound:  make(chan domain.Message, 64),
	}
}

func (f *fakeSignal) Party() domain.PartyID { return f.party }

func (f *fakeSignal) Send(_ context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.failures[msg.Kind]; n > 0 {
		f.failures[msg.Kind] = n - 1
		return errBoom
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignal) Subscribe() (core.Subscription, error) {
	return &fakeSub{ch: f.inbound}, nil
}

func (f *fakeSignal) failNext(kind domain.Kind, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[kind] = n
}

func (f *fakeSignal) messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.sent...)
}

func (f *fakeSignal) kinds() []domain.Kind {
	var out []domain.Kind
	for _, m := range f.messages() {
		out = append(out, m.Kind)
	}
	return out
}

func (f *fakeSignal) count(kind domain.Kind) int {
	n := 0
	for _, m := range f.messages() {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeSignal) last(kind domain.Kind) (domain.Message, bool) {
	msgs := f.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == kind {
			return msgs[i], true
		}
	}
	return domain.Message{}, false
}

type fakeSub struct {
	ch chan domain.Message
}

func (s *fakeSub) C() <-chan domain.Message { return s.ch }
func (s *fakeSub) Close()                   {}

type fakeStream struct {
	mu      sync.Mutex
	enabled bool
	stopped int
}

func (s *fakeStream) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = on
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeStream) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// fakeMedia is a scripted MediaCapability. Callbacks registered by the
// session are exposed so tests can drive the media path.
type fakeMedia struct {
	captureErr  error
	offerErr    error
	answerErr   error
	applyErr    error
	// beforeOffer runs inside CreateOffer, on the session goroutine.
	beforeOffer func(m *fakeMedia)

	mu          sync.Mutex
	stream      *fakeStream
	remoteDesc  []domain.Description
	remoteCands []domain.Candidate
	closed      int
	packets     uint64
	gaps        uint64
	onCand      func(domain.Candidate)
	onUp        func()
	onFail      func(error)
}

func (m *fakeMedia) CaptureAudio(context.Context) (core.AudioStream, error) {
	if m.captureErr != nil {
		return nil, m.captureErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream = &fakeStream{enabled: true}
	return m.stream, nil
}

func (m *fakeMedia) CreateOffer(context.Context, core.AudioStream) (domain.Description, error) {
	if m.beforeOffer != nil {
		m.beforeOffer(m)
	}
	if m.offerErr != nil {
		return domain.Description{}, m.offerErr
	}
	return domain.Description{Type: domain.DescriptionOffer, SDP: "v=0 offer"}, nil
}

func (m *fakeMedia) CreateAnswer(context.Context, core.AudioStream, domain.Description) (domain.Description, error) {
	if m.answerErr != nil {
		return domain.Description{}, m.answerErr
	}
	return domain.Description{Type: domain.DescriptionAnswer, SDP: "v=0 answer"}, nil
}

func (m *fakeMedia) ApplyRemoteDescription(d domain.Description) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteDesc = append(m.remoteDesc, d)
	return nil
}

func (m *fakeMedia) OnLocalCandidate(fn func(domain.Candidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCand = fn
}

func (m *fakeMedia) AddRemoteCandidate(c domain.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.remoteDesc) == 0 {
		return errors.New("remote candidate before description")
	}
	m.remoteCands = append(m.remoteCands, c)
	return nil
}

func (m *fakeMedia) OnConnectionEstablished(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUp = fn
}

func (m *fakeMedia) OnConnectionFailed(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFail = fn
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMedia) RemoteStats() (packets, gaps uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packets, m.gaps
}

func (m *fakeMedia) setRemoteStats(packets, gaps uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets, m.gaps = packets, gaps
}

func (m *fakeMedia) gather(c domain.Candidate) {
	m.mu.Lock()
	fn := m.onCand
	m.mu.Unlock()
	fn(c)
}

func (m *fakeMedia) establish() {
	m.mu.Lock()
	fn := m.onUp
	m.mu.Unlock()
	fn()
}

func (m *fakeMedia) breakDown(err error) {
	m.mu.Lock()
	fn := m.onFail
	m.mu.Unlock()
	fn(err)
}

func (m *fakeMedia) appliedCandidates() []domain.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Candidate(nil), m.remoteCands...)
}

func (m *fakeMedia) audio() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	script  func() *fakeMedia
	created []*fakeMedia
	err     error
}

func (f *fakeFactory) NewMedia(domain.SessionID) (core.MediaCapability, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := &fakeMedia{}
	if f.script != nil {
		m = f.script()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, m)
	return m, nil
}

func (f *fakeFactory) lastMedia() *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type recorder struct {
	mu      sync.Mutex
	changes []StateChange
	ended   []Summary
}

func (r *recorder) attach(h *Host) {
	h.OnStateChanged(func(c StateChange) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.changes = append(r.changes, c)
	})
	h.OnEnded(func(s Summary) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ended = append(r.ended, s)
	})
}

func (r *recorder) states() []domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.State, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.To)
	}
	return out
}

func (r *recorder) summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Summary(nil), r.ended...)
}

func (r *recorder) waitEnded(t *testing.T) Summary {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.summaries()) == 1 }, time.Second, 5*time.Millisecond)
	return r.summaries()[0]
}

type harness struct {
	sig     *fakeSignal
	factory *fakeFactory
	clock   *clock.Mock
	host    *Host
	rec     *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sig:     newFakeSignal("agent-1"),
		factory: &fakeFactory{},
		clock:   clock.NewMock(),
		rec:     &recorder{},
	}
	h.host = NewHost(h.sig, h.factory, cfg, WithClock(h.clock), WithLogger(zerolog.Nop()))
	h.rec.attach(h.host)
	return h
}

func candidate(s string) domain.Candidate {
	return domain.Candidate{Candidate: s}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not finish")
	}
}
