package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-grades/internal/grades"
	"github.com/p-n-ai/pai-grades/internal/report"
)

const courseID = "alg101"

func ptr(v float64) *float64 { return &v }

func testCourse(t *testing.T) *grades.Course {
	t.Helper()
	s, err := grades.NewStructure("course", []grades.Block{
		{ID: "course", Category: grades.CategoryCourse, Children: []string{"ch1"}},
		{ID: "ch1", Category: grades.CategoryChapter, Children: []string{"hw1", "lesson"}},
		{ID: "hw1", Category: grades.CategorySequential, DisplayName: "Homework 1", Graded: true, Format: "Homework", Children: []string{"p1", "p2"}},
		{ID: "lesson", Category: grades.CategorySequential, Children: []string{"p3"}},
		{ID: "p1", Category: grades.CategoryProblem},
		{ID: "p2", Category: grades.CategoryProblem, Weight: ptr(2)},
		{ID: "p3", Category: grades.CategoryProblem},
	})
	if err != nil {
		t.Fatalf("NewStructure() error = %v", err)
	}
	return &grades.Course{
		ID:        courseID,
		Structure: s,
		Cutoffs:   grades.CutoffTable{{Letter: "A", Threshold: 0.9}, {Letter: "B", Threshold: 0.6}},
	}
}

// flakyScores fails reads for one learner.
type flakyScores struct {
	*grades.MemoryScoreStore
	fail string
}

func (f *flakyScores) Scores(ctx context.Context, course, learner string) ([]grades.RawScore, error) {
	if learner == f.fail {
		return nil, errors.New("score backend timeout")
	}
	return f.MemoryScoreStore.Scores(ctx, course, learner)
}

type recordingListener struct {
	mu        sync.Mutex
	published []string
}

func (r *recordingListener) CoursePublished(_ context.Context, courseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, courseID)
	return nil
}

type stubCheck struct {
	name string
	err  error
}

func (c stubCheck) Name() string                      { return c.name }
func (c stubCheck) HealthCheck(context.Context) error { return c.err }

type testEnv struct {
	handler  http.Handler
	scores   *flakyScores
	listener *recordingListener
}

func newTestEnv(t *testing.T, checks ...Checker) *testEnv {
	t.Helper()
	ctx := t.Context()

	scores := &flakyScores{MemoryScoreStore: grades.NewMemoryScoreStore(), fail: "broken"}
	seed := map[string][]grades.RawScore{
		"alice": {{BlockID: "p1", Earned: 1, Possible: 1}, {BlockID: "p2", Earned: 2, Possible: 2}},
		"bob":   {{BlockID: "p1", Earned: 0, Possible: 1}, {BlockID: "p2", Earned: 1, Possible: 2}},
	}
	for learner, raws := range seed {
		for _, raw := range raws {
			if err := scores.SaveScore(ctx, courseID, learner, raw); err != nil {
				t.Fatalf("SaveScore() error = %v", err)
			}
		}
	}

	bus := grades.NewPublishBus()
	listener := &recordingListener{}
	bus.Subscribe(listener)

	store, err := report.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	signer, err := report.NewSigner([]byte("api-test-key"), time.Hour)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	srv := New(Config{
		Factory: grades.NewFactory(grades.FactoryConfig{
			Content:     grades.NewMemoryContentStore(testCourse(t)),
			Scores:      scores,
			Concurrency: 2,
		}),
		Scores:    scores,
		Bus:       bus,
		Reports:   store,
		Signer:    signer,
		Formatter: report.NewFormatter("en"),
		Checks:    checks,
	})
	return &testEnv{handler: srv.Handler(), scores: scores, listener: listener}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		checks     []Checker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz without dependencies",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name:       "readyz with healthy dependencies",
			path:       "/readyz",
			checks:     []Checker{stubCheck{name: "database"}, stubCheck{name: "cache"}},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name:       "readyz reports failing dependency",
			path:       "/readyz",
			checks:     []Checker{stubCheck{name: "database"}, stubCheck{name: "cache", err: errors.New("connection refused")}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unavailable","checks":{"cache":"connection refused"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newTestEnv(t, tt.checks...).do(t, http.MethodGet, tt.path, "")

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if rec.Header().Get("X-Request-Id") == "" {
				t.Error("missing X-Request-Id header")
			}
		})
	}
}

func TestGrade(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/courses/alg101/learners/alice/grade", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	grade := decode[grades.CourseGrade](t, rec)
	if grade.Percent != 1 || grade.LetterGrade != "A" || !grade.Distinction {
		t.Errorf("grade = %v/%q/%v, want 1/A/true", grade.Percent, grade.LetterGrade, grade.Distinction)
	}
	if len(grade.Subsections) != 2 {
		t.Errorf("subsections = %d, want 2", len(grade.Subsections))
	}

	rec = env.do(t, http.MethodGet, "/courses/alg101/learners/bob/grade", "")
	grade = decode[grades.CourseGrade](t, rec)
	if grade.Percent != 0.33 || grade.LetterGrade != "" {
		t.Errorf("bob grade = %v/%q, want 0.33 with no letter", grade.Percent, grade.LetterGrade)
	}
}

func TestGrade_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"unknown course", "/courses/nope/learners/alice/grade", http.StatusNotFound},
		{"score store failure", "/courses/alg101/learners/broken/grade", http.StatusInternalServerError},
		{"unknown block", "/courses/alg101/learners/alice/blocks/p9/score", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode[map[string]string](t, rec)
			if body["error"] == "" {
				t.Errorf("body = %v, want error message", body)
			}
		})
	}
}

func TestBlockScore(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/courses/alg101/learners/bob/blocks/hw1/score", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[blockScoreResponse](t, rec)
	if got.BlockID != "hw1" || got.Earned != 1 || got.Possible != 3 {
		t.Errorf("score = %+v, want hw1 1/3", got)
	}
}

func TestSaveScore(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/courses/alg101/learners/carol/scores/p3", `{"earned":1,"possible":2}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	raws, err := env.scores.Scores(t.Context(), courseID, "carol")
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if len(raws) != 1 || raws[0].FirstAttempted == nil {
		t.Fatalf("stored = %+v, want one score with first attempt time", raws)
	}

	rec = env.do(t, http.MethodGet, "/courses/alg101/learners/carol/blocks/lesson/score", "")
	got := decode[blockScoreResponse](t, rec)
	if got.Earned != 1 || got.Possible != 2 || got.Percent != 0.5 {
		t.Errorf("lesson score = %+v, want 1/2", got)
	}
}

func TestSaveScore_Rejects(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"negative", "/courses/alg101/learners/carol/scores/p1", `{"earned":-1,"possible":1}`, http.StatusBadRequest},
		{"malformed", "/courses/alg101/learners/carol/scores/p1", `{"earned":`, http.StatusBadRequest},
		{"unknown field", "/courses/alg101/learners/carol/scores/p1", `{"score":1}`, http.StatusBadRequest},
		{"not a leaf", "/courses/alg101/learners/carol/scores/hw1", `{"earned":1,"possible":1}`, http.StatusBadRequest},
		{"unknown block", "/courses/alg101/learners/carol/scores/p9", `{"earned":1,"possible":1}`, http.StatusNotFound},
		{"unknown course", "/courses/nope/learners/carol/scores/p1", `{"earned":1,"possible":1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}

func TestBulkGrades(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/courses/alg101/grades", `{"learners":["bob","broken","alice","nobody"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	results := decode[[]resultResponse](t, rec)

	wantOrder := []string{"bob", "broken", "alice", "nobody"}
	if len(results) != len(wantOrder) {
		t.Fatalf("results = %d, want %d", len(results), len(wantOrder))
	}
	for i, want := range wantOrder {
		if results[i].Learner != want {
			t.Errorf("results[%d].Learner = %q, want %q", i, results[i].Learner, want)
		}
	}
	if results[1].Error == "" || results[1].Grade != nil {
		t.Errorf("broken = %+v, want error only", results[1])
	}
	if results[2].Grade == nil || results[2].Grade.LetterGrade != "A" {
		t.Errorf("alice = %+v, want grade A", results[2])
	}
	if results[3].Grade == nil || results[3].Grade.Percent != 0 {
		t.Errorf("nobody = %+v, want zero grade", results[3])
	}
}

func TestBulkGrades_EdgeCases(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/courses/alg101/grades", `{"learners":[]}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty learners = %d %q, want 200 []", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/courses/nope/grades", `{"learners":["alice"]}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown course status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/courses/alg101/grades", `{"learners":["alice"],"format":"csv"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("format on grades status = %d, want 400", rec.Code)
	}
}

func TestPublish(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/courses/alg101/publish", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(env.listener.published) != 1 || env.listener.published[0] != courseID {
		t.Errorf("published = %v, want [%s]", env.listener.published, courseID)
	}
}

func TestReports(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/courses/alg101/reports", `{"learners":["alice","broken","bob"],"format":"xlsx"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	created := decode[reportResponse](t, rec)
	if !strings.HasSuffix(created.Filename, ".xlsx") {
		t.Errorf("Filename = %q, want .xlsx", created.Filename)
	}
	if created.Summary.Learners != 3 || created.Summary.Failed != 1 {
		t.Errorf("Summary = %+v, want 3 learners with 1 failure", created.Summary)
	}

	rec = env.do(t, http.MethodGet, created.URL, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != report.FormatXLSX.ContentType() {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty report body")
	}

	rec = env.do(t, http.MethodGet, "/courses/alg101/reports/"+created.Filename+"?token=1.deadbeef", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad token status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/courses/alg101/reports", "")
	entries := decode[[]report.Entry](t, rec)
	if len(entries) != 1 || entries[0].Name != created.Filename {
		t.Errorf("entries = %+v, want the created report", entries)
	}
}

// countingContent counts course lookups.
type countingContent struct {
	grades.ContentStore
	mu    sync.Mutex
	calls int
}

func (c *countingContent) Course(ctx context.Context, id string) (*grades.Course, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.ContentStore.Course(ctx, id)
}

func TestReports_LoadsCourseOnce(t *testing.T) {
	content := &countingContent{ContentStore: grades.NewMemoryContentStore(testCourse(t))}
	store, err := report.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	signer, err := report.NewSigner([]byte("api-test-key"), time.Hour)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	h := New(Config{
		Factory:   grades.NewFactory(grades.FactoryConfig{Content: content, Scores: grades.NewMemoryScoreStore()}),
		Reports:   store,
		Signer:    signer,
		Formatter: report.NewFormatter("en"),
	}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/courses/alg101/reports", strings.NewReader(`{"learners":["alice","bob"]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if content.calls != 1 {
		t.Errorf("course loaded %d times, want 1", content.calls)
	}
}

func TestReports_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown format", http.MethodPost, "/courses/alg101/reports", `{"learners":["alice"],"format":"pdf"}`, http.StatusBadRequest},
		{"unknown course", http.MethodPost, "/courses/nope/reports", `{"learners":["alice"]}`, http.StatusNotFound},
		{"missing token", http.MethodGet, "/courses/alg101/reports/grade_report.csv", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}
