package grades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StructureCache holds materialised courses between grading runs.
type StructureCache interface {
	Get(ctx context.Context, courseID string) (*Course, bool, error)
	Set(ctx context.Context, course *Course) error
	Invalidate(ctx context.Context, courseID string) error
}

// MemoryStructureCache is an in-process StructureCache.
type MemoryStructureCache struct {
	courses map[string]*Course
	mu      sync.RWMutex
}

func NewMemoryStructureCache() *MemoryStructureCache {
	return &MemoryStructureCache{courses: make(map[string]*Course)}
}

func (c *MemoryStructureCache) Get(_ context.Context, courseID string) (*Course, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	course, ok := c.courses[courseID]
	return course, ok, nil
}

func (c *MemoryStructureCache) Set(_ context.Context, course *Course) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses[course.ID] = course
	return nil
}

func (c *MemoryStructureCache) Invalidate(_ context.Context, courseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.courses, courseID)
	return nil
}

const defaultStructureKeyPrefix = "grades:structure:"

// RedisStructureCache stores JSON encoded courses in Redis/Dragonfly.
type RedisStructureCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedisStructureCache creates a cache on client. A zero ttl keeps entries
// until they are invalidated.
func NewRedisStructureCache(client redis.Cmdable, ttl time.Duration) *RedisStructureCache {
	return &RedisStructureCache{
		client: client,
		ttl:    ttl,
		prefix: defaultStructureKeyPrefix,
	}
}

// Key returns the Redis key for a course.
func (c *RedisStructureCache) Key(courseID string) string {
	return c.prefix + courseID
}

func (c *RedisStructureCache) Get(ctx context.Context, courseID string) (*Course, bool, error) {
	data, err := c.client.Get(ctx, c.Key(courseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached structure: %w", err)
	}

	var course Course
	if err := json.Unmarshal(data, &course); err != nil {
		return nil, false, fmt.Errorf("decode cached structure: %w", err)
	}
	return &course, true, nil
}

func (c *RedisStructureCache) Set(ctx context.Context, course *Course) error {
	data, err := json.Marshal(course)
	if err != nil {
		return fmt.Errorf("encode structure: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(course.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached structure: %w", err)
	}
	return nil
}

func (c *RedisStructureCache) Invalidate(ctx context.Context, courseID string) error {
	if err := c.client.Del(ctx, c.Key(courseID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached structure: %w", err)
	}
	return nil
}

// CachedContentStore reads courses through a StructureCache. Cache failures
// fall through to the underlying store.
type CachedContentStore struct {
	store ContentStore
	cache StructureCache

	// generations counts publishes per course. A fetch that started before
	// a publish must not write its result back.
	generations map[string]uint64
	mu          sync.Mutex
}

func NewCachedContentStore(store ContentStore, cache StructureCache) *CachedContentStore {
	return &CachedContentStore{store: store, cache: cache, generations: make(map[string]uint64)}
}

func (s *CachedContentStore) Course(ctx context.Context, courseID string) (*Course, error) {
	course, ok, err := s.cache.Get(ctx, courseID)
	if err != nil {
		slog.Warn("structure cache read failed", "course_id", courseID, "error", err)
	}
	if ok {
		return course, nil
	}

	s.mu.Lock()
	gen := s.generations[courseID]
	s.mu.Unlock()

	course, err = s.store.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[courseID] != gen {
		slog.Debug("course published during fetch, not caching", "course_id", courseID)
		return course, nil
	}
	if err := s.cache.Set(ctx, course); err != nil {
		slog.Warn("structure cache write failed", "course_id", courseID, "error", err)
	}
	return course, nil
}

// CoursePublished drops the cached structure so the next run rebuilds it.
func (s *CachedContentStore) CoursePublished(ctx context.Context, courseID string) error {
	s.mu.Lock()
	s.generations[courseID]++
	s.mu.Unlock()

	if err := s.cache.Invalidate(ctx, courseID); err != nil {
		return err
	}
	slog.Debug("structure cache invalidated", "course_id", courseID)
	return nil
}

// PublishListener is notified when a course's content changes.
type PublishListener interface {
	CoursePublished(ctx context.Context, courseID string) error
}

// PublishBus fans course publish notifications out to listeners.
type PublishBus struct {
	listeners []PublishListener
	mu        sync.RWMutex
}

func NewPublishBus() *PublishBus {
	return &PublishBus{}
}

// Subscribe registers a listener.
func (b *PublishBus) Subscribe(l PublishListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish notifies every listener and returns their joined errors.
func (b *PublishBus) Publish(ctx context.Context, courseID string) error {
	b.mu.RLock()
	listeners := append([]PublishListener(nil), b.listeners...)
	b.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := l.CoursePublished(ctx, courseID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
