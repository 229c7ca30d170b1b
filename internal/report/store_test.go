package report

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func writeString(s string) func(w io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func TestStore_SaveOpenList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	const course = "course-v1:PAI+RPT+2025"

	if err := store.Save(course, "a.csv", writeString("first")); err != nil {
		t.Fatalf("Save(a) error = %v", err)
	}
	if err := store.Save(course, "b.csv", writeString("second")); err != nil {
		t.Fatalf("Save(b) error = %v", err)
	}

	f, err := store.Open(course, "a.csv")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(f)
	f.Close()
	if string(body) != "first" {
		t.Errorf("body = %q, want first", body)
	}

	entries, err := store.List(course)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() = %+v, want 2 entries", entries)
	}

	other, err := store.List("another-course")
	if err != nil || len(other) != 0 {
		t.Errorf("List(other) = %v, %v; want empty", other, err)
	}
	if _, err := store.Open("another-course", "a.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(other course) error = %v, want ErrNotFound", err)
	}
}

func TestStore_RejectsUnsafeNames(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	for _, name := range []string{"", "../escape.csv", "a/b.csv", `a\b.csv`, ".hidden", ".."} {
		t.Run(name, func(t *testing.T) {
			if err := store.Save("c", name, writeString("x")); !errors.Is(err, ErrInvalidName) {
				t.Errorf("Save(%q) error = %v, want ErrInvalidName", name, err)
			}
			if _, err := store.Open("c", name); !errors.Is(err, ErrInvalidName) {
				t.Errorf("Open(%q) error = %v, want ErrInvalidName", name, err)
			}
		})
	}
}

func TestStore_FailedWriteLeavesNothing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	boom := errors.New("boom")
	err = store.Save("c", "r.csv", func(io.Writer) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Save() error = %v, want boom", err)
	}
	if _, err := store.Open("c", "r.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() error = %v, want ErrNotFound", err)
	}
	entries, _ := store.List("c")
	if len(entries) != 0 {
		t.Errorf("List() = %+v, want no entries", entries)
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	name := Filename(FormatXLSX, now)
	if !strings.HasPrefix(name, "grade_report_2025-03-01-1030_") || !strings.HasSuffix(name, ".xlsx") {
		t.Errorf("Filename() = %q", name)
	}
	if !validName(name) {
		t.Errorf("Filename() = %q is not a valid store name", name)
	}
}

func TestSigner(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	signer, err := NewSigner([]byte("test-signing-key"), time.Hour)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	token := signer.Sign("course", "r.csv", now)
	flip := "0"
	if strings.HasSuffix(token, "0") {
		flip = "1"
	}

	tests := []struct {
		name    string
		course  string
		file    string
		token   string
		at      time.Time
		wantErr bool
	}{
		{"valid", "course", "r.csv", token, now, false},
		{"valid at expiry", "course", "r.csv", token, now.Add(time.Hour), false},
		{"expired", "course", "r.csv", token, now.Add(time.Hour + time.Second), true},
		{"other file", "course", "s.csv", token, now, true},
		{"other course", "course2", "r.csv", token, now, true},
		{"tampered", "course", "r.csv", token[:len(token)-1] + flip, now, true},
		{"no separator", "course", "r.csv", "garbage", now, true},
		{"bad expiry", "course", "r.csv", "soon." + strings.Repeat("0", 64), now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := signer.Verify(tt.course, tt.file, tt.token, tt.at)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewSigner_Validation(t *testing.T) {
	if _, err := NewSigner(nil, time.Hour); err == nil {
		t.Error("empty key should fail")
	}
	if _, err := NewSigner(make([]byte, 65), time.Hour); err == nil {
		t.Error("65 byte key should fail")
	}
	if _, err := NewSigner([]byte("k"), 0); err == nil {
		t.Error("zero ttl should fail")
	}
}
