// Package api serves grades, score submissions and grade reports over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-grades/internal/grades"
	"github.com/p-n-ai/pai-grades/internal/report"
)

const maxBodyBytes = 1 << 20

// Checker is a dependency probed by /readyz.
type Checker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// Reloader re-reads course content. Loaders that publish their own changes
// implement it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Config holds the server's dependencies.
type Config struct {
	Factory *grades.Factory
	Scores  grades.ScoreWriter
	Bus     *grades.PublishBus
	Content Reloader // optional

	Reports      *report.Store
	Signer       *report.Signer
	Formatter    report.Formatter
	ReportFormat report.Format // default when a request names none

	Checks []Checker
	Now    func() time.Time
}

// Server is the HTTP API.
type Server struct {
	factory      *grades.Factory
	scores       grades.ScoreWriter
	bus          *grades.PublishBus
	content      Reloader
	reports      *report.Store
	signer       *report.Signer
	formatter    report.Formatter
	reportFormat report.Format
	checks       []Checker
	now          func() time.Time
}

// New creates a server.
func New(cfg Config) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	format := cfg.ReportFormat
	if format == "" {
		format = report.FormatCSV
	}
	bus := cfg.Bus
	if bus == nil {
		bus = grades.NewPublishBus()
	}
	return &Server{
		factory:      cfg.Factory,
		scores:       cfg.Scores,
		bus:          bus,
		content:      cfg.Content,
		reports:      cfg.Reports,
		signer:       cfg.Signer,
		formatter:    cfg.Formatter,
		reportFormat: format,
		checks:       cfg.Checks,
		now:          now,
	}
}

// Handler returns the routed handler wrapped in request logging and panic
// recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("GET /courses/{course}/learners/{learner}/grade", s.handleGrade)
	mux.HandleFunc("GET /courses/{course}/learners/{learner}/blocks/{block}/score", s.handleBlockScore)
	mux.HandleFunc("PUT /courses/{course}/learners/{learner}/scores/{block}", s.handleSaveScore)
	mux.HandleFunc("POST /courses/{course}/grades", s.handleBulkGrades)
	mux.HandleFunc("GET /courses/{course}/grades/stream", s.handleGradeStream)
	mux.HandleFunc("POST /courses/{course}/publish", s.handlePublish)

	mux.HandleFunc("POST /courses/{course}/reports", s.handleCreateReport)
	mux.HandleFunc("GET /courses/{course}/reports", s.handleListReports)
	mux.HandleFunc("GET /courses/{course}/reports/{filename}", s.handleDownloadReport)

	return recoverMiddleware(accessLogMiddleware(mux))
}
