package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/snapshot"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close provides a mock function for releasing the client.
func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Pattern Store Mock --

// MockPatternStore mocks the schemas.PatternStore interface.
type MockPatternStore struct {
	mock.Mock
}

func (m *MockPatternStore) Upsert(ctx context.Context, p schemas.MemoryPattern) (schemas.MemoryPattern, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(schemas.MemoryPattern), args.Error(1)
}

func (m *MockPatternStore) FindExact(ctx context.Context, projectID, actionText, urlPattern string, inModal bool) ([]schemas.MemoryPattern, error) {
	args := m.Called(ctx, projectID, actionText, urlPattern, inModal)
	return patterns(args.Get(0)), args.Error(1)
}

func (m *MockPatternStore) FindPartial(ctx context.Context, projectID, token string, inModal bool) ([]schemas.MemoryPattern, error) {
	args := m.Called(ctx, projectID, token, inModal)
	return patterns(args.Get(0)), args.Error(1)
}

func (m *MockPatternStore) ListScope(ctx context.Context, projectID string, inModal bool) ([]schemas.MemoryPattern, error) {
	args := m.Called(ctx, projectID, inModal)
	return patterns(args.Get(0)), args.Error(1)
}

func (m *MockPatternStore) Top(ctx context.Context, projectID string, limit int) ([]schemas.MemoryPattern, error) {
	args := m.Called(ctx, projectID, limit)
	return patterns(args.Get(0)), args.Error(1)
}

func (m *MockPatternStore) Cleanup(ctx context.Context, projectID string, minSuccess int, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, projectID, minSuccess, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func patterns(v interface{}) []schemas.MemoryPattern {
	if v == nil {
		return nil
	}
	return v.([]schemas.MemoryPattern)
}

// -- Oracle Mocks --

// MockTextOracle mocks the text oracle used by the discovery executor.
type MockTextOracle struct {
	mock.Mock
}

// Decide provides a mock function for text oracle decisions.
func (m *MockTextOracle) Decide(ctx context.Context, snap *snapshot.Snapshot, step schemas.ActionStep) (*schemas.ResolutionDecision, error) {
	args := m.Called(ctx, snap, step)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ResolutionDecision), args.Error(1)
}

// MockVisionOracle mocks the vision oracle.
type MockVisionOracle struct {
	mock.Mock
}

// Locate provides a mock function for vision lookups.
func (m *MockVisionOracle) Locate(ctx context.Context, shot schemas.Screenshot, goal string) (*schemas.VisionResult, error) {
	args := m.Called(ctx, shot, goal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.VisionResult), args.Error(1)
}

// -- Pattern Sink Recorder --

// RecordingSink collects every observation it receives.
type RecordingSink struct {
	mu     sync.Mutex
	Events []schemas.PatternObserved
}

// ObservePattern records ev.
func (s *RecordingSink) ObservePattern(_ context.Context, ev schemas.PatternObserved) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
}

// Observed returns a copy of the recorded events.
func (s *RecordingSink) Observed() []schemas.PatternObserved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.PatternObserved(nil), s.Events...)
}
