package core

import (
	"context"
	"sync"
	"time"

	"gwi.com/insight-chat/internal/store"
)

// manualScheduler fires timers only when the test advances its clock.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward, running due callbacks in time order.
// Callbacks run without the scheduler lock held so they may schedule more.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var next *manualTimer
		for _, t := range s.timers {
			if t.stopped || t.fired || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.at
		next.fired = true
		s.mu.Unlock()
		next.f()
	}
}

// Active counts timers that have neither fired nor been stopped.
func (s *manualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// memoryStateStore keeps the slots in memory and counts saves.
type memoryStateStore struct {
	mu       sync.Mutex
	messages []store.Message
	analyses []store.Analysis
	sequence int
	saves    int
}

func (m *memoryStateStore) LoadMessages(int64) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Message{}, m.messages...), nil
}

func (m *memoryStateStore) LoadAnalyses(int64) ([]store.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Analysis{}, m.analyses...), nil
}

func (m *memoryStateStore) LoadSequence(int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequence, nil
}

func (m *memoryStateStore) SaveConversation(_ int64, messages []store.Message, analyses []store.Analysis, sequence int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]store.Message{}, messages...)
	m.analyses = append([]store.Analysis{}, analyses...)
	m.sequence = sequence
	m.saves++
	return nil
}

func (m *memoryStateStore) Saved() ([]store.Message, []store.Analysis, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages, m.analyses, m.saves
}

type backendFunc func(ctx context.Context, req AnalysisRequest) AnalysisResult

func (f backendFunc) Analyze(ctx context.Context, req AnalysisRequest) AnalysisResult {
	return f(ctx, req)
}

// gatedBackend answers each request with the next result the test releases.
type gatedBackend struct {
	requests chan AnalysisRequest
	results  chan AnalysisResult
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		requests: make(chan AnalysisRequest, 8),
		results:  make(chan AnalysisResult),
	}
}

func (g *gatedBackend) Analyze(_ context.Context, req AnalysisRequest) AnalysisResult {
	g.requests <- req
	return <-g.results
}

func successResult(summary string, rowCount int) AnalysisResult {
	return newSuccess(Insight{Summary: summary}, nil, rowCount)
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}
