package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// manualTicks hands out one manually driven tick source per clock.
type manualTicks struct {
	mu      sync.Mutex
	sources []*manualTickSource
}

func (m *manualTicks) factory() assessment.TickSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := &manualTickSource{}
	m.sources = append(m.sources, src)
	return src
}

func (m *manualTicks) last() *manualTickSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sources[len(m.sources)-1]
}

type manualTickSource struct {
	mu sync.Mutex
	fn func()
}

func (s *manualTickSource) Start(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fn == nil {
		s.fn = fn
	}
}

func (s *manualTickSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = nil
}

func (s *manualTickSource) Tick(n int) {
	for i := 0; i < n; i++ {
		s.mu.Lock()
		fn := s.fn
		s.mu.Unlock()
		if fn == nil {
			return
		}
		fn()
	}
}

// fakeClock is a settable wall clock for idle eviction.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubQuestionSetService struct {
	sets map[string]*assessment.QuestionSet
}

func (s *stubQuestionSetService) List(context.Context, dto.QuestionSetQuery) ([]dto.QuestionSetSummaryResponse, error) {
	return nil, nil
}

func (s *stubQuestionSetService) Get(_ context.Context, id string) (dto.QuestionSetResponse, error) {
	set, ok := s.sets[id]
	if !ok {
		return dto.QuestionSetResponse{}, ErrQuestionSetNotFound
	}
	return *dto.NewQuestionSetResponse(set, "Biology"), nil
}

func (s *stubQuestionSetService) Load(_ context.Context, id string) (*assessment.QuestionSet, string, error) {
	set, ok := s.sets[id]
	if !ok {
		return nil, "", ErrQuestionSetNotFound
	}
	cp := *set
	cp.Questions = append([]assessment.Question(nil), set.Questions...)
	return &cp, "Biology", nil
}

func biologySet() *assessment.QuestionSet {
	return &assessment.QuestionSet{
		ID:               "bio-101",
		Title:            "Cell transport",
		TimeLimitMinutes: 1,
		Questions: []assessment.Question{
			{ID: "q1", Prompt: "Define osmosis.", Kind: "short", MaxMarks: 10, WordLimit: 5, ModelAnswer: "Movement of water across a partially permeable membrane."},
			{ID: "q2", Prompt: "Name an enzyme that digests starch.", Kind: "short", MaxMarks: 5, ModelAnswer: "Amylase"},
		},
	}
}

type memoryOutcomeRepo struct {
	mu       sync.Mutex
	outcomes []models.SessionOutcome
	results  []models.SessionResult
}

var _ repository.OutcomeRepository = (*memoryOutcomeRepo)(nil)

func (r *memoryOutcomeRepo) CreateOutcome(_ context.Context, outcome *models.SessionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, *outcome)
	return nil
}

func (r *memoryOutcomeRepo) ListOutcomes(_ context.Context, sessionID string, attempt int) ([]models.SessionOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SessionOutcome, 0)
	for _, o := range r.outcomes {
		if o.SessionID == sessionID && o.Attempt == attempt {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memoryOutcomeRepo) SaveResult(_ context.Context, result *models.SessionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, *result)
	return nil
}

func (r *memoryOutcomeRepo) ListResultsByUser(_ context.Context, userID uint, _ int) ([]models.SessionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SessionResult, 0)
	for _, res := range r.results {
		if res.UserID == userID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memoryOutcomeRepo) Results() []models.SessionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SessionResult(nil), r.results...)
}

func (r *memoryOutcomeRepo) Outcomes() []models.SessionOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SessionOutcome(nil), r.outcomes...)
}
