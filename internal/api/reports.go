package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/p-n-ai/pai-grades/internal/grades"
	"github.com/p-n-ai/pai-grades/internal/report"
)

type reportResponse struct {
	Filename  string         `json:"filename"`
	URL       string         `json:"url"`
	ExpiresAt time.Time      `json:"expires_at"`
	Summary   report.Summary `json:"summary"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil || s.signer == nil {
		writeJSONError(w, http.StatusNotImplemented, "reports are not configured")
		return
	}
	courseID := r.PathValue("course")

	var req learnersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	format := s.reportFormat
	if req.Format != "" {
		f, err := report.ParseFormat(req.Format)
		if err != nil {
			writeError(w, r, badRequest("%v", err))
			return
		}
		format = f
	}

	course, err := s.factory.Course(r.Context(), courseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results := make([]grades.Result, 0, len(req.Learners))
	for res := range s.factory.IterCourse(r.Context(), course, req.Learners) {
		results = append(results, res)
	}
	rep := report.Build(course, results)

	now := s.now()
	name := report.Filename(format, now)
	err = s.reports.Save(courseID, name, func(out io.Writer) error {
		return rep.Write(out, format, s.formatter)
	})
	if err != nil {
		writeError(w, r, fmt.Errorf("save report: %w", err))
		return
	}

	token := s.signer.Sign(courseID, name, now)
	summary := rep.Summarize()
	slog.Info("grade report created",
		"course_id", courseID,
		"filename", name,
		"learners", summary.Learners,
		"failed", summary.Failed,
	)
	writeJSON(w, http.StatusCreated, reportResponse{
		Filename:  name,
		URL:       reportURL(courseID, name, token),
		ExpiresAt: s.signer.ExpiresAt(now),
		Summary:   summary,
	})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSONError(w, http.StatusNotImplemented, "reports are not configured")
		return
	}
	entries, err := s.reports.List(r.PathValue("course"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil || s.signer == nil {
		writeJSONError(w, http.StatusNotImplemented, "reports are not configured")
		return
	}
	courseID, name := r.PathValue("course"), r.PathValue("filename")

	if err := s.signer.Verify(courseID, name, r.URL.Query().Get("token"), s.now()); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := s.reports.Open(courseID, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, r, fmt.Errorf("stat report: %w", err))
		return
	}
	if format, err := report.ParseFormat(strings.TrimPrefix(filepath.Ext(name), ".")); err == nil {
		w.Header().Set("Content-Type", format.ContentType())
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func reportURL(courseID, name, token string) string {
	return fmt.Sprintf("/courses/%s/reports/%s?token=%s",
		url.PathEscape(courseID),
		url.PathEscape(name),
		url.QueryEscape(token),
	)
}
