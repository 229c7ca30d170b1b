package grades

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 1

// FactoryConfig holds dependencies for the grade factory.
type FactoryConfig struct {
	Content ContentStore
	Scores  ScoreStore
	Events  EventLogger
	// GraderFor picks the grader for a course. Defaults to the course's
	// PolicyGrader.
	GraderFor   func(course *Course) Grader
	Concurrency int // learners graded in parallel by Iter (default 1)
}

// Factory computes course grades.
type Factory struct {
	content     ContentStore
	scores      ScoreStore
	events      EventLogger
	graderFor   func(course *Course) Grader
	concurrency int
}

// Result is one learner's outcome in a bulk grading run. Exactly one of
// Grade and Err is set.
type Result struct {
	Learner string
	Grade   *CourseGrade
	Err     error
}

// NewFactory creates a grade factory.
func NewFactory(cfg FactoryConfig) *Factory {
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	graderFor := cfg.GraderFor
	if graderFor == nil {
		graderFor = func(course *Course) Grader {
			return PolicyGrader{Policy: course.Policy}
		}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Factory{
		content:     cfg.Content,
		scores:      cfg.Scores,
		events:      events,
		graderFor:   graderFor,
		concurrency: concurrency,
	}
}

// Course loads a course from the content store.
func (f *Factory) Course(ctx context.Context, courseID string) (*Course, error) {
	course, err := f.content.Course(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("load course %s: %w", courseID, err)
	}
	if course.Structure == nil {
		return nil, &StructureError{BlockID: courseID, Reason: "course has no structure"}
	}
	return course, nil
}

// Create computes one learner's grade.
func (f *Factory) Create(ctx context.Context, courseID, learner string) (*CourseGrade, error) {
	course, err := f.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return f.grade(ctx, course, learner)
}

// Iter grades learners against one course. The course is loaded once, before
// iteration; a failure to load it is returned immediately. Results are
// yielded in learner order and a failure for one learner is reported in its
// Result without stopping the run.
func (f *Factory) Iter(ctx context.Context, courseID string, learners []string) (iter.Seq[Result], error) {
	course, err := f.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return f.IterCourse(ctx, course, learners), nil
}

// IterCourse grades learners against an already loaded course. Callers that
// also read the course structure use it so both come from the same version.
func (f *Factory) IterCourse(ctx context.Context, course *Course, learners []string) iter.Seq[Result] {
	runID := uuid.NewString()
	return func(yield func(Result) bool) {
		var graded, failed int
		f.logEvent(ctx, Event{
			RunID:     runID,
			CourseID:  course.ID,
			EventType: EventRunStarted,
			Data:      map[string]any{"learners": len(learners)},
		})
		defer func() {
			f.logEvent(ctx, Event{
				RunID:     runID,
				CourseID:  course.ID,
				EventType: EventRunFinished,
				Data:      map[string]any{"graded": graded, "failed": failed},
			})
			slog.Info("grading run finished",
				"run_id", runID,
				"course_id", course.ID,
				"graded", graded,
				"failed", failed,
			)
		}()

		for start := 0; start < len(learners); start += f.concurrency {
			end := min(start+f.concurrency, len(learners))
			for _, res := range f.gradeWindow(ctx, course, learners[start:end]) {
				if res.Err != nil {
					failed++
					slog.Warn("grading failed",
						"run_id", runID,
						"course_id", course.ID,
						"learner", res.Learner,
						"error", res.Err,
					)
					f.logEvent(ctx, Event{
						RunID:     runID,
						CourseID:  course.ID,
						Learner:   res.Learner,
						EventType: EventGradeFailed,
						Data:      map[string]any{"error": res.Err.Error()},
					})
				} else {
					graded++
					f.logEvent(ctx, Event{
						RunID:     runID,
						CourseID:  course.ID,
						Learner:   res.Learner,
						EventType: EventGradeComputed,
						Data: map[string]any{
							"percent":      res.Grade.Percent,
							"letter_grade": res.Grade.LetterGrade,
						},
					})
				}
				if !yield(res) {
					return
				}
			}
		}
	}
}

func (f *Factory) gradeWindow(ctx context.Context, course *Course, learners []string) []Result {
	results := make([]Result, len(learners))
	if err := ctx.Err(); err != nil {
		for i, learner := range learners {
			results[i] = Result{Learner: learner, Err: err}
		}
		return results
	}
	if len(learners) == 1 {
		results[0] = f.gradeIsolated(ctx, course, learners[0])
		return results
	}

	var g errgroup.Group
	for i, learner := range learners {
		g.Go(func() error {
			results[i] = f.gradeIsolated(ctx, course, learner)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// gradeIsolated turns errors and panics into a failed Result.
func (f *Factory) gradeIsolated(ctx context.Context, course *Course, learner string) (res Result) {
	res.Learner = learner
	defer func() {
		if r := recover(); r != nil {
			res.Grade = nil
			res.Err = fmt.Errorf("grade learner %s: panic: %v", learner, r)
		}
	}()

	grade, err := f.grade(ctx, course, learner)
	if err != nil {
		res.Err = fmt.Errorf("grade learner %s: %w", learner, err)
		return res
	}
	res.Grade = grade
	return res
}

func (f *Factory) grade(ctx context.Context, course *Course, learner string) (*CourseGrade, error) {
	raw, err := f.scores.Scores(ctx, course.ID, learner)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	scores := ProblemScores(course.Structure, raw)

	blocks := course.Structure.Subsections()
	subsections := make([]SubsectionGrade, 0, len(blocks))
	for _, b := range blocks {
		sg, err := NewSubsectionGrade(course.Structure, b, scores)
		if err != nil {
			return nil, err
		}
		subsections = append(subsections, sg)
	}

	res := f.graderFor(course).Grade(subsections)
	cutoffs := course.Cutoffs
	if cutoffs == nil {
		cutoffs = DefaultCutoffs
	}

	return &CourseGrade{
		Learner:        learner,
		CourseID:       course.ID,
		Percent:        res.Percent,
		LetterGrade:    cutoffs.Resolve(res.Percent),
		Distinction:    cutoffs.Distinction(res.Percent),
		Subsections:    subsections,
		GradeBreakdown: res.GradeBreakdown,
		structure:      course.Structure,
		scores:         scores,
	}, nil
}

func (f *Factory) logEvent(ctx context.Context, event Event) {
	if err := f.events.LogEvent(ctx, event); err != nil {
		slog.Warn("failed to log grading event",
			"type", event.EventType,
			"run_id", event.RunID,
			"error", err,
		)
	}
}
