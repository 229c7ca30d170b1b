package report

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"
)

// Format is a report file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatXLSX:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

type csvRow struct {
	Learner        string  `csv:"learner"`
	Percent        float64 `csv:"percent"`
	PercentDisplay string  `csv:"percent_display"`
	LetterGrade    string  `csv:"letter_grade"`
	Distinction    bool    `csv:"distinction"`
	Error          string  `csv:"error"`
}

// Write encodes the report in format f.
func (r *Report) Write(w io.Writer, f Format, fmtr Formatter) error {
	switch f {
	case FormatCSV:
		return r.WriteCSV(w, fmtr)
	case FormatXLSX:
		return r.WriteXLSX(w, fmtr)
	default:
		return fmt.Errorf("unknown report format %q", f)
	}
}

// WriteCSV writes one summary line per learner.
func (r *Report) WriteCSV(w io.Writer, fmtr Formatter) error {
	rows := make([]csvRow, 0, len(r.Rows))
	for _, row := range r.Rows {
		out := csvRow{
			Learner: row.Learner,
			Error:   row.Error,
		}
		if row.Error == "" {
			out.Percent = row.Percent
			out.PercentDisplay = fmtr.Percent(row.Percent)
			out.LetterGrade = row.LetterGrade
			out.Distinction = row.Distinction
		}
		rows = append(rows, out)
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}
	return nil
}

const (
	gradesSheet  = "Grades"
	summarySheet = "Summary"
	// excelize built-in number format "0.00%".
	percentNumFmt = 10
)

// WriteXLSX writes a workbook with a per-subsection grade sheet and a
// summary sheet.
func (r *Report) WriteXLSX(w io.Writer, fmtr Formatter) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", gradesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"Learner", "Percent", "Letter Grade", "Distinction"}
	for _, c := range r.Subsections {
		header = append(header, c.Label)
	}
	header = append(header, "Error")
	if err := f.SetSheetRow(gradesSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range r.Rows {
		values := []any{row.Learner}
		if row.Error == "" {
			values = append(values, row.Percent, row.LetterGrade, row.Distinction)
			for _, p := range row.Subsections {
				values = append(values, p)
			}
		} else {
			values = append(values, nil, nil, nil)
			for range r.Subsections {
				values = append(values, nil)
			}
		}
		values = append(values, row.Error)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(gradesSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if len(r.Rows) > 0 {
		style, err := f.NewStyle(&excelize.Style{NumFmt: percentNumFmt})
		if err != nil {
			return fmt.Errorf("create percent style: %w", err)
		}
		first, _ := excelize.CoordinatesToCellName(2, 2)
		last, _ := excelize.CoordinatesToCellName(2, len(r.Rows)+1)
		if err := f.SetCellStyle(gradesSheet, first, last, style); err != nil {
			return fmt.Errorf("style percent column: %w", err)
		}
		if len(r.Subsections) > 0 {
			first, _ = excelize.CoordinatesToCellName(5, 2)
			last, _ = excelize.CoordinatesToCellName(4+len(r.Subsections), len(r.Rows)+1)
			if err := f.SetCellStyle(gradesSheet, first, last, style); err != nil {
				return fmt.Errorf("style subsection columns: %w", err)
			}
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	s := r.Summarize()
	summary := [][]any{
		{"Course", r.CourseID},
		{"Title", r.DisplayName},
		{"Learners", s.Learners},
		{"Graded", s.Graded},
		{"Failed", s.Failed},
		{"Mean", fmtr.Percent(s.MeanPercent)},
	}
	for i, line := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &line); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx report: %w", err)
	}
	return nil
}
