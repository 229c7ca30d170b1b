package grades

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryContentStore is an in-memory ContentStore.
type MemoryContentStore struct {
	courses map[string]*Course
	mu      sync.RWMutex
}

// NewMemoryContentStore creates a content store holding courses.
func NewMemoryContentStore(courses ...*Course) *MemoryContentStore {
	s := &MemoryContentStore{courses: make(map[string]*Course)}
	for _, c := range courses {
		s.courses[c.ID] = c
	}
	return s
}

// Put publishes or replaces a course.
func (s *MemoryContentStore) Put(course *Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.ID] = course
}

func (s *MemoryContentStore) Course(_ context.Context, courseID string) (*Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCourseNotFound, courseID)
	}
	return c, nil
}

// MemoryScoreStore is an in-memory ScoreStore and ScoreWriter.
type MemoryScoreStore struct {
	scores map[scoreKey]map[string]RawScore
	mu     sync.RWMutex
}

// NewMemoryScoreStore creates an empty score store.
func NewMemoryScoreStore() *MemoryScoreStore {
	return &MemoryScoreStore{
		scores: make(map[scoreKey]map[string]RawScore),
	}
}

func (s *MemoryScoreStore) Scores(_ context.Context, courseID, learner string) ([]RawScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byBlock := s.scores[scoreKey{courseID, learner}]
	out := make([]RawScore, 0, len(byBlock))
	for _, sc := range byBlock {
		out = append(out, sc)
	}
	return out, nil
}

func (s *MemoryScoreStore) SaveScore(_ context.Context, courseID, learner string, score RawScore) error {
	if score.BlockID == "" {
		return fmt.Errorf("block_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scoreKey{courseID, learner}
	byBlock, ok := s.scores[key]
	if !ok {
		byBlock = make(map[string]RawScore)
		s.scores[key] = byBlock
	}
	if prev, ok := byBlock[score.BlockID]; ok {
		score.FirstAttempted = earliest(prev.FirstAttempted, score.FirstAttempted)
	}
	byBlock[score.BlockID] = score
	return nil
}

type scoreKey struct {
	course, learner string
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.Before(*b) {
		return a
	}
	return b
}
