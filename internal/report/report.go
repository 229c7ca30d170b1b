// Package report builds and stores course grade reports.
package report

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/p-n-ai/pai-grades/internal/grades"
)

// Report is a grade table for one course.
type Report struct {
	CourseID    string
	DisplayName string
	// Subsections holds the graded subsection IDs that make up the per
	// subsection columns, in course order.
	Subsections []Column
	Rows        []Row
}

// Column labels one subsection column.
type Column struct {
	ID    string
	Label string
}

// Row is one learner's line in a report.
type Row struct {
	Learner     string
	Percent     float64
	LetterGrade string
	Distinction bool
	Error       string
	// Subsections holds the percent for each Report.Subsections column.
	Subsections []float64
}

// Build turns bulk grading results into a report. Learners that failed keep
// their row with the error message and empty grade columns.
func Build(course *grades.Course, results []grades.Result) *Report {
	r := &Report{
		CourseID:    course.ID,
		DisplayName: course.DisplayName,
	}
	index := make(map[string]int)
	for _, b := range course.Structure.Subsections() {
		if !b.Graded {
			continue
		}
		label := b.DisplayName
		if label == "" {
			label = b.ID
		}
		index[b.ID] = len(r.Subsections)
		r.Subsections = append(r.Subsections, Column{ID: b.ID, Label: label})
	}

	for _, res := range results {
		row := Row{Learner: res.Learner}
		if res.Err != nil {
			row.Error = res.Err.Error()
			r.Rows = append(r.Rows, row)
			continue
		}
		row.Percent = res.Grade.Percent
		row.LetterGrade = res.Grade.LetterGrade
		row.Distinction = res.Grade.Distinction
		row.Subsections = make([]float64, len(r.Subsections))
		for _, sg := range res.Grade.Subsections {
			if i, ok := index[sg.Location]; ok {
				row.Subsections[i] = sg.GradedTotal.Percent()
			}
		}
		r.Rows = append(r.Rows, row)
	}
	return r
}

// Summary aggregates a report.
type Summary struct {
	Learners    int     `json:"learners"`
	Graded      int     `json:"graded"`
	Failed      int     `json:"failed"`
	MeanPercent float64 `json:"mean_percent"`
}

// Summarize counts graded and failed rows and averages graded percents.
func (r *Report) Summarize() Summary {
	var s Summary
	var total float64
	for _, row := range r.Rows {
		s.Learners++
		if row.Error != "" {
			s.Failed++
			continue
		}
		s.Graded++
		total += row.Percent
	}
	if s.Graded > 0 {
		s.MeanPercent = total / float64(s.Graded)
	}
	return s
}

// Formatter renders percentages for a locale.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter returns a formatter for a BCP 47 locale, falling back to
// English for tags it cannot parse.
func NewFormatter(locale string) Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return Formatter{printer: message.NewPrinter(tag)}
}

// Percent formats a [0, 1] fraction as a percentage with one decimal.
func (f Formatter) Percent(p float64) string {
	return f.printer.Sprintf("%.1f%%", p*100)
}
