package grades

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Cutoff is the lowest percent that earns Letter.
type Cutoff struct {
	Letter    string  `json:"letter"`
	Threshold float64 `json:"threshold"`
}

// CutoffTable maps percentages to letter grades. Entries are kept sorted by
// descending threshold.
type CutoffTable []Cutoff

// DefaultCutoffs is used for courses that define no cutoffs.
var DefaultCutoffs = CutoffTable{{Letter: "Pass", Threshold: 0.5}}

// NewCutoffTable builds a table from a letter → threshold mapping.
func NewCutoffTable(cutoffs map[string]float64) (CutoffTable, error) {
	t := make(CutoffTable, 0, len(cutoffs))
	for letter, threshold := range cutoffs {
		if letter == "" {
			return nil, fmt.Errorf("grade cutoff with empty letter")
		}
		// A zero cutoff would hand a letter to learners with no graded work.
		if threshold <= 0 || threshold > 1 {
			return nil, fmt.Errorf("grade cutoff %s = %v outside (0, 1]", letter, threshold)
		}
		t = append(t, Cutoff{Letter: letter, Threshold: threshold})
	}
	sort.Slice(t, func(i, j int) bool {
		if t[i].Threshold != t[j].Threshold {
			return t[i].Threshold > t[j].Threshold
		}
		return t[i].Letter < t[j].Letter
	})
	return t, nil
}

// Resolve returns the letter of the highest cutoff at or below percent, or
// "" when percent is below every cutoff.
func (t CutoffTable) Resolve(percent float64) string {
	for _, c := range t {
		if percent >= c.Threshold {
			return c.Letter
		}
	}
	return ""
}

// Distinction reports whether percent meets the highest cutoff.
func (t CutoffTable) Distinction(percent float64) bool {
	if len(t) == 0 {
		return false
	}
	return percent >= t[0].Threshold
}

// Map returns the table as a letter → threshold mapping.
func (t CutoffTable) Map() map[string]float64 {
	m := make(map[string]float64, len(t))
	for _, c := range t {
		m[c.Letter] = c.Threshold
	}
	return m
}

func (t CutoffTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Map())
}

func (t *CutoffTable) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	built, err := NewCutoffTable(m)
	if err != nil {
		return err
	}
	*t = built
	return nil
}
