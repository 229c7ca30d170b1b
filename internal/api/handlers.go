package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-grades/internal/grades"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := readyResponse{Status: "ready"}
	status := http.StatusOK
	for _, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string)
			}
			resp.Checks[c.Name()] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	grade, err := s.factory.Create(r.Context(), r.PathValue("course"), r.PathValue("learner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grade)
}

type blockScoreResponse struct {
	BlockID string `json:"block_id"`
	grades.AggregatedScore
	Percent float64 `json:"percent"`
}

func (s *Server) handleBlockScore(w http.ResponseWriter, r *http.Request) {
	grade, err := s.factory.Create(r.Context(), r.PathValue("course"), r.PathValue("learner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	blockID := r.PathValue("block")
	score, err := grade.ScoreFor(blockID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, blockScoreResponse{
		BlockID:         blockID,
		AggregatedScore: score,
		Percent:         score.Percent(),
	})
}

type saveScoreRequest struct {
	Earned         float64    `json:"earned"`
	Possible       float64    `json:"possible"`
	FirstAttempted *time.Time `json:"first_attempted,omitempty"`
}

func (s *Server) handleSaveScore(w http.ResponseWriter, r *http.Request) {
	courseID, learner, blockID := r.PathValue("course"), r.PathValue("learner"), r.PathValue("block")

	var req saveScoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Earned < 0 || req.Possible < 0 {
		writeError(w, r, badRequest("earned and possible must not be negative"))
		return
	}

	course, err := s.factory.Course(r.Context(), courseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	block, ok := course.Structure.Block(blockID)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", grades.ErrBlockNotFound, blockID))
		return
	}
	if !block.IsLeaf() {
		writeError(w, r, badRequest("block %s is not a leaf", blockID))
		return
	}

	first := req.FirstAttempted
	if first == nil {
		now := s.now().UTC()
		first = &now
	}
	score := grades.RawScore{
		BlockID:        blockID,
		Earned:         req.Earned,
		Possible:       req.Possible,
		FirstAttempted: first,
	}
	if err := s.scores.SaveScore(r.Context(), courseID, learner, score); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type learnersRequest struct {
	Learners []string `json:"learners"`
	Format   string   `json:"format,omitempty"`
}

type resultResponse struct {
	Learner string              `json:"learner"`
	Grade   *grades.CourseGrade `json:"grade,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func toResponse(res grades.Result) resultResponse {
	out := resultResponse{Learner: res.Learner, Grade: res.Grade}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func (s *Server) handleBulkGrades(w http.ResponseWriter, r *http.Request) {
	var req learnersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Format != "" {
		writeError(w, r, badRequest("format is only accepted for reports"))
		return
	}

	seq, err := s.factory.Iter(r.Context(), r.PathValue("course"), req.Learners)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results := make([]resultResponse, 0, len(req.Learners))
	for res := range seq {
		results = append(results, toResponse(res))
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("course")
	if s.content != nil {
		if err := s.content.Reload(r.Context()); err != nil {
			writeError(w, r, fmt.Errorf("reload content: %w", err))
			return
		}
	}
	if err := s.bus.Publish(r.Context(), courseID); err != nil {
		writeError(w, r, fmt.Errorf("publish %s: %w", courseID, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"course_id": courseID, "status": "published"})
}
