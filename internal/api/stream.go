package api

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// streamMessage is one WebSocket frame of a grade stream. Type is "result"
// for each learner and "done" once after the last one.
type streamMessage struct {
	Type string `json:"type"`
	resultResponse
	Count int `json:"count,omitempty"`
}

// handleGradeStream grades the learners named by the repeated learner query
// parameter and writes each result as soon as it is ready. Course errors are
// reported as plain HTTP errors before the upgrade.
func (s *Server) handleGradeStream(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("course")
	learners := r.URL.Query()["learner"]

	seq, err := s.factory.Iter(r.Context(), courseID, learners)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "course_id", courseID, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	count := 0
	for res := range seq {
		if err := wsjson.Write(ctx, conn, streamMessage{Type: "result", resultResponse: toResponse(res)}); err != nil {
			slog.Warn("grade stream write failed", "course_id", courseID, "error", err)
			return
		}
		count++
	}
	if err := wsjson.Write(ctx, conn, streamMessage{Type: "done", Count: count}); err != nil {
		slog.Warn("grade stream write failed", "course_id", courseID, "error", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
