package grades

import "time"

// RawScore is a stored attempt result for one leaf block.
type RawScore struct {
	BlockID        string     `json:"block_id"`
	Earned         float64    `json:"earned"`
	Possible       float64    `json:"possible"`
	FirstAttempted *time.Time `json:"first_attempted,omitempty"`
}

// ProblemScore is a leaf score after the block's weight has been applied.
type ProblemScore struct {
	RawEarned        float64    `json:"raw_earned"`
	RawPossible      float64    `json:"raw_possible"`
	Weight           *float64   `json:"weight,omitempty"`
	WeightedEarned   float64    `json:"weighted_earned"`
	WeightedPossible float64    `json:"weighted_possible"`
	Graded           bool       `json:"graded"`
	FirstAttempted   *time.Time `json:"first_attempted,omitempty"`
}

// NewProblemScore applies weight to a raw score. A nil weight or a zero raw
// possible leaves the raw values untouched. Negative and zero weights are
// applied as given; such scores end up ungraded.
func NewProblemScore(rawEarned, rawPossible float64, weight *float64, firstAttempted *time.Time) ProblemScore {
	earned, possible := rawEarned, rawPossible
	if weight != nil && rawPossible != 0 {
		earned = rawEarned / rawPossible * *weight
		possible = *weight
	}
	return ProblemScore{
		RawEarned:        rawEarned,
		RawPossible:      rawPossible,
		Weight:           weight,
		WeightedEarned:   earned,
		WeightedPossible: possible,
		Graded:           possible > 0,
		FirstAttempted:   firstAttempted,
	}
}

// AggregatedScore is an (earned, possible) total.
type AggregatedScore struct {
	Earned   float64 `json:"earned"`
	Possible float64 `json:"possible"`
	Graded   bool    `json:"graded"`
}

// Percent returns earned/possible, or 0 when nothing is possible.
func (a AggregatedScore) Percent() float64 {
	if a.Possible <= 0 {
		return 0
	}
	return a.Earned / a.Possible
}

func (a AggregatedScore) add(p ProblemScore) AggregatedScore {
	if !p.Graded {
		return a
	}
	return AggregatedScore{
		Earned:   a.Earned + p.WeightedEarned,
		Possible: a.Possible + p.WeightedPossible,
		Graded:   a.Graded,
	}
}

// ProblemScores joins raw attempt records with block weights. Records for
// blocks outside the structure are ignored.
func ProblemScores(s *Structure, raw []RawScore) map[string]ProblemScore {
	out := make(map[string]ProblemScore, len(raw))
	for _, r := range raw {
		b, ok := s.Block(r.BlockID)
		if !ok {
			continue
		}
		out[r.BlockID] = NewProblemScore(r.Earned, r.Possible, b.Weight, r.FirstAttempted)
	}
	return out
}

// Aggregate sums the graded leaf scores under blockID. Leaves without a
// score and ungraded leaves contribute nothing.
func Aggregate(s *Structure, scores map[string]ProblemScore, blockID string) (AggregatedScore, error) {
	leaves, err := s.Leaves(blockID)
	if err != nil {
		return AggregatedScore{}, err
	}
	var total AggregatedScore
	for _, id := range leaves {
		if p, ok := scores[id]; ok {
			total = total.add(p)
		}
	}
	return total, nil
}
