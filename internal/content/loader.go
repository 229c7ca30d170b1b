// Package content loads course definitions from YAML files.
package content

import (
	"context"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-grades/internal/grades"
)

//go:embed course.schema.json
var courseSchema string

// Loader loads and caches course definitions from the filesystem.
type Loader struct {
	rootDir string
	schema  *gojsonschema.Schema
	bus     *grades.PublishBus
	courses map[string]*grades.Course
	digests map[string]string
	mu      sync.RWMutex
}

// NewLoader creates a course loader and loads all content. Reload publishes
// changes on bus when it is not nil.
func NewLoader(rootDir string, bus *grades.PublishBus) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(courseSchema))
	if err != nil {
		return nil, fmt.Errorf("compile course schema: %w", err)
	}

	l := &Loader{
		rootDir: rootDir,
		schema:  schema,
		bus:     bus,
	}

	courses, digests, err := l.loadAll()
	if err != nil {
		return nil, fmt.Errorf("loading courses: %w", err)
	}
	l.courses, l.digests = courses, digests

	slog.Info("courses loaded", "courses", len(courses), "dir", rootDir)
	return l, nil
}

// Course returns a course by ID.
func (l *Loader) Course(_ context.Context, courseID string) (*grades.Course, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", grades.ErrCourseNotFound, courseID)
	}
	return c, nil
}

// AllCourses returns all loaded courses ordered by ID.
func (l *Loader) AllCourses() []*grades.Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]*grades.Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses
}

// Reload re-reads the content directory and publishes every course that was
// added, changed or removed.
func (l *Loader) Reload(ctx context.Context) error {
	courses, digests, err := l.loadAll()
	if err != nil {
		return fmt.Errorf("reloading courses: %w", err)
	}

	l.mu.Lock()
	var changed []string
	for id, d := range digests {
		if l.digests[id] != d {
			changed = append(changed, id)
		}
	}
	for id := range l.digests {
		if _, ok := digests[id]; !ok {
			changed = append(changed, id)
		}
	}
	l.courses, l.digests = courses, digests
	l.mu.Unlock()

	sort.Strings(changed)
	slog.Info("courses reloaded", "courses", len(courses), "changed", len(changed))

	if l.bus == nil {
		return nil
	}
	for _, id := range changed {
		if err := l.bus.Publish(ctx, id); err != nil {
			slog.Warn("course publish notification failed", "course_id", id, "error", err)
		}
	}
	return nil
}

func (l *Loader) loadAll() (map[string]*grades.Course, map[string]string, error) {
	courses := make(map[string]*grades.Course)
	digests := make(map[string]string)

	err := filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		course, digest, err := l.loadCourse(path)
		if err != nil {
			slog.Warn("skipping invalid course file", "path", path, "error", err)
			return nil
		}
		if _, dup := courses[course.ID]; dup {
			slog.Warn("duplicate course id, keeping last", "course_id", course.ID, "path", path)
		}
		courses[course.ID] = course
		digests[course.ID] = digest
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return courses, digests, nil
}

func (l *Loader) loadCourse(path string) (*grades.Course, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("parse yaml: %w", err)
	}
	if err := l.validate(doc); err != nil {
		return nil, "", err
	}

	var file CourseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("decode course: %w", err)
	}
	course, err := file.Build()
	if err != nil {
		return nil, "", err
	}

	sum := blake2b.Sum256(data)
	return course, hex.EncodeToString(sum[:]), nil
}

func (l *Loader) validate(doc any) error {
	res, err := l.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate course: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("course schema: %s", strings.Join(msgs, "; "))
}
