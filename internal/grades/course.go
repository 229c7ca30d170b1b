package grades

import (
	"context"
	"errors"
)

// ErrCourseNotFound is returned by content stores for unknown courses.
var ErrCourseNotFound = errors.New("course not found")

// Course is a published course: its block structure and grading settings.
type Course struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name,omitempty"`
	Structure   *Structure  `json:"structure"`
	Cutoffs     CutoffTable `json:"cutoffs"`
	Policy      Policy      `json:"policy,omitempty"`
}

// ContentStore looks up published courses.
type ContentStore interface {
	Course(ctx context.Context, courseID string) (*Course, error)
}

// ScoreStore returns a learner's raw attempt records for a course.
type ScoreStore interface {
	Scores(ctx context.Context, courseID, learner string) ([]RawScore, error)
}

// ScoreWriter records attempt results.
type ScoreWriter interface {
	SaveScore(ctx context.Context, courseID, learner string, score RawScore) error
}

// SubsectionGrade aggregates the problems of one sequential.
type SubsectionGrade struct {
	Location      string                  `json:"location"`
	DisplayName   string                  `json:"display_name,omitempty"`
	Format        string                  `json:"format,omitempty"`
	Graded        bool                    `json:"graded"`
	ProblemScores map[string]ProblemScore `json:"problem_scores"`
	AllTotal      AggregatedScore         `json:"all_total"`
	GradedTotal   AggregatedScore         `json:"graded_total"`
}

// NewSubsectionGrade aggregates the scored leaves under a sequential block.
func NewSubsectionGrade(s *Structure, block *Block, scores map[string]ProblemScore) (SubsectionGrade, error) {
	leaves, err := s.Leaves(block.ID)
	if err != nil {
		return SubsectionGrade{}, err
	}
	sg := SubsectionGrade{
		Location:      block.ID,
		DisplayName:   block.DisplayName,
		Format:        block.Format,
		Graded:        block.Graded,
		ProblemScores: make(map[string]ProblemScore),
	}
	for _, id := range leaves {
		p, ok := scores[id]
		if !ok {
			continue
		}
		sg.ProblemScores[id] = p
		sg.AllTotal = sg.AllTotal.add(p)
	}
	sg.AllTotal.Graded = block.Graded
	if block.Graded {
		sg.GradedTotal = sg.AllTotal
	}
	return sg, nil
}

// CourseGrade is a learner's grade in one course.
type CourseGrade struct {
	Learner        string             `json:"learner"`
	CourseID       string             `json:"course_id"`
	Percent        float64            `json:"percent"`
	LetterGrade    string             `json:"letter_grade,omitempty"`
	Distinction    bool               `json:"distinction"`
	Subsections    []SubsectionGrade  `json:"subsections"`
	GradeBreakdown map[string]float64 `json:"grade_breakdown,omitempty"`

	structure *Structure
	scores    map[string]ProblemScore
}

// Passed reports whether the learner reached any cutoff.
func (g *CourseGrade) Passed() bool {
	return g.LetterGrade != ""
}

// ScoreFor returns the aggregated score of any block in the course.
func (g *CourseGrade) ScoreFor(blockID string) (AggregatedScore, error) {
	if g.structure == nil {
		return AggregatedScore{}, ErrBlockNotFound
	}
	return Aggregate(g.structure, g.scores, blockID)
}
