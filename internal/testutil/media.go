package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

// MediaFactory hands out in-memory media. Each Media reports its path
// established once both descriptions are in place, unless Hold is set.
type MediaFactory struct {
	CaptureErr error
	Hold       bool

	mu      sync.Mutex
	created []*Media
}

var _ core.MediaFactory = (*MediaFactory)(nil)

func (f *MediaFactory) NewMedia(sid domain.SessionID) (core.MediaCapability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &Media{sid: sid, captureErr: f.CaptureErr, hold: f.Hold}
	f.created = append(f.created, m)
	return m, nil
}

// Last returns the most recently created media, or nil.
func (f *MediaFactory) Last() *Media {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type Media struct {
	sid        domain.SessionID
	captureErr error
	hold       bool

	mu      sync.Mutex
	local   bool
	remote  bool
	up      bool
	enabled bool
	closed  bool
	cands   []domain.Candidate
	onCand  func(domain.Candidate)
	onUp    func()
}

func (m *Media) CaptureAudio(context.Context) (core.AudioStream, error) {
	if m.captureErr != nil {
		return nil, m.captureErr
	}
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	return &stream{m: m}, nil
}

func (m *Media) CreateOffer(context.Context, core.AudioStream) (domain.Description, error) {
	m.setLocal()
	return domain.Description{Type: domain.DescriptionOffer, SDP: fmt.Sprintf("v=0 offer %s", m.sid)}, nil
}

func (m *Media) CreateAnswer(context.Context, core.AudioStream, domain.Description) (domain.Description, error) {
	m.mu.Lock()
	m.remote = true
	m.mu.Unlock()
	m.setLocal()
	return domain.Description{Type: domain.DescriptionAnswer, SDP: fmt.Sprintf("v=0 answer %s", m.sid)}, nil
}

func (m *Media) ApplyRemoteDescription(domain.Description) error {
	m.mu.Lock()
	m.remote = true
	m.mu.Unlock()
	m.maybeUp()
	return nil
}

// setLocal gathers one host candidate, like a real agent would.
func (m *Media) setLocal() {
	m.mu.Lock()
	m.local = true
	fn := m.onCand
	m.mu.Unlock()
	if fn != nil {
		mid := "0"
		go fn(domain.Candidate{Candidate: fmt.Sprintf("candidate:%s 1 udp 1 127.0.0.1 9 typ host", m.sid), SDPMid: &mid})
	}
	m.maybeUp()
}

func (m *Media) maybeUp() {
	m.mu.Lock()
	ready := m.local && m.remote && !m.up && !m.hold && !m.closed
	if ready {
		m.up = true
	}
	fn := m.onUp
	m.mu.Unlock()
	if ready && fn != nil {
		go fn()
	}
}

func (m *Media) OnLocalCandidate(fn func(domain.Candidate)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCand = fn
}

func (m *Media) AddRemoteCandidate(c domain.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cands = append(m.cands, c)
	return nil
}

func (m *Media) OnConnectionEstablished(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUp = fn
}

// OnConnectionFailed is a no-op; in-memory media never fails.
func (m *Media) OnConnectionFailed(func(error)) {}

func (m *Media) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Media) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Media) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Media) RemoteCandidates() []domain.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Candidate(nil), m.cands...)
}

type stream struct {
	m *Media
}

func (s *stream) SetEnabled(on bool) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.enabled = on
}

func (s *stream) Stop() {
	s.SetEnabled(false)
}
