package report

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrNotFound is returned for reports that do not exist.
	ErrNotFound = errors.New("report not found")
	// ErrInvalidName is returned for file names that would escape the store.
	ErrInvalidName = errors.New("invalid report name")
)

// Store keeps report files on the local filesystem, one directory per course.
type Store struct {
	dir string
}

// Entry describes a stored report.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("report dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Filename names a new report file.
func Filename(f Format, now time.Time) string {
	return fmt.Sprintf("grade_report_%s_%s.%s",
		now.UTC().Format("2006-01-02-1504"),
		uuid.NewString()[:8],
		f,
	)
}

// PathTo returns the file path of a report.
func (s *Store) PathTo(courseID, name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.courseDir(courseID), name), nil
}

// Save writes a report through write, replacing any report of the same name
// only once write has succeeded.
func (s *Store) Save(courseID, name string, write func(w io.Writer) error) error {
	path, err := s.PathTo(courseID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create course report dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	return nil
}

// Open opens a stored report for reading.
func (s *Store) Open(courseID, name string) (*os.File, error) {
	path, err := s.PathTo(courseID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	return f, nil
}

// List returns a course's reports, newest first.
func (s *Store) List(courseID string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.courseDir(courseID))
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !validName(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].Name > entries[j].Name
	})
	return entries, nil
}

// courseDir hashes the course ID so arbitrary IDs map to safe directory names.
func (s *Store) courseDir(courseID string) string {
	sum := blake2b.Sum256([]byte(courseID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16]))
}

func validName(name string) bool {
	return name != "" &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, `/\`) &&
		filepath.Base(name) == name
}
