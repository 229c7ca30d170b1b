package grades

import (
	"math"
	"sort"
)

// AssignmentType is one weighted category of a grading policy.
type AssignmentType struct {
	Type       string  `json:"type" yaml:"type"`
	ShortLabel string  `json:"short_label,omitempty" yaml:"short_label"`
	Weight     float64 `json:"weight" yaml:"weight"`
	MinCount   int     `json:"min_count,omitempty" yaml:"min_count"`
	DropCount  int     `json:"drop_count,omitempty" yaml:"drop_count"`
}

// Policy is an ordered list of assignment types.
type Policy []AssignmentType

// GraderResult is the output of a Grader.
type GraderResult struct {
	Percent        float64            `json:"percent"`
	GradeBreakdown map[string]float64 `json:"grade_breakdown,omitempty"`
}

// Grader turns subsection grades into a course percent.
type Grader interface {
	Grade(subsections []SubsectionGrade) GraderResult
}

// GraderFunc adapts a function to the Grader interface.
type GraderFunc func(subsections []SubsectionGrade) GraderResult

func (f GraderFunc) Grade(subsections []SubsectionGrade) GraderResult {
	return f(subsections)
}

// PolicyGrader grades by assignment type weights. An empty policy grades by
// total points across graded subsections.
type PolicyGrader struct {
	Policy Policy
}

func (g PolicyGrader) Grade(subsections []SubsectionGrade) GraderResult {
	if len(g.Policy) == 0 {
		return pointsGrade(subsections)
	}

	res := GraderResult{GradeBreakdown: make(map[string]float64, len(g.Policy))}
	var total float64
	for _, at := range g.Policy {
		var percents []float64
		for _, sg := range subsections {
			if sg.Graded && sg.Format == at.Type {
				percents = append(percents, sg.GradedTotal.Percent())
			}
		}
		for len(percents) < at.MinCount {
			percents = append(percents, 0)
		}
		contribution := averageAfterDrop(percents, at.DropCount) * at.Weight
		res.GradeBreakdown[at.Type] = contribution
		total += contribution
	}
	res.Percent = roundPercent(total)
	return res
}

func pointsGrade(subsections []SubsectionGrade) GraderResult {
	var sum AggregatedScore
	for _, sg := range subsections {
		sum.Earned += sg.GradedTotal.Earned
		sum.Possible += sg.GradedTotal.Possible
	}
	return GraderResult{Percent: roundPercent(sum.Percent())}
}

// averageAfterDrop drops the lowest n values when more than n exist.
func averageAfterDrop(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n > 0 && len(sorted) > n {
		sorted = sorted[n:]
	}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// roundPercent clamps to [0, 1] and rounds to the nearest hundredth, nudging
// values that float error left just under a boundary.
func roundPercent(p float64) float64 {
	if p <= 0 || math.IsNaN(p) {
		return 0
	}
	p = math.Round(p*100+0.05) / 100
	return math.Min(p, 1)
}
