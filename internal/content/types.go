package content

import (
	"fmt"

	"github.com/p-n-ai/pai-grades/internal/grades"
)

// CourseFile is a course definition loaded from YAML.
type CourseFile struct {
	ID            string                  `yaml:"id"`
	DisplayName   string                  `yaml:"display_name"`
	GradeCutoffs  map[string]float64      `yaml:"grade_cutoffs"`
	GradingPolicy []grades.AssignmentType `yaml:"grading_policy"`
	Blocks        []BlockNode             `yaml:"blocks"`
}

// BlockNode is a block with its children nested inline.
type BlockNode struct {
	ID          string      `yaml:"id"`
	Category    string      `yaml:"category"`
	DisplayName string      `yaml:"display_name"`
	Graded      bool        `yaml:"graded"`
	Format      string      `yaml:"format"`
	Weight      *float64    `yaml:"weight"`
	Children    []BlockNode `yaml:"children"`
}

// Build converts the definition into a gradable course.
func (f *CourseFile) Build() (*grades.Course, error) {
	root := grades.Block{
		ID:          f.ID,
		Category:    grades.CategoryCourse,
		DisplayName: f.DisplayName,
	}
	var blocks []grades.Block
	for _, n := range f.Blocks {
		root.Children = append(root.Children, n.ID)
		blocks = n.flatten(blocks)
	}
	blocks = append([]grades.Block{root}, blocks...)

	structure, err := grades.NewStructure(f.ID, blocks)
	if err != nil {
		return nil, err
	}

	cutoffs := grades.DefaultCutoffs
	if len(f.GradeCutoffs) > 0 {
		cutoffs, err = grades.NewCutoffTable(f.GradeCutoffs)
		if err != nil {
			return nil, fmt.Errorf("course %s: %w", f.ID, err)
		}
	}

	return &grades.Course{
		ID:          f.ID,
		DisplayName: f.DisplayName,
		Structure:   structure,
		Cutoffs:     cutoffs,
		Policy:      grades.Policy(f.GradingPolicy),
	}, nil
}

func (n BlockNode) flatten(out []grades.Block) []grades.Block {
	b := grades.Block{
		ID:          n.ID,
		Category:    grades.Category(n.Category),
		DisplayName: n.DisplayName,
		Graded:      n.Graded,
		Format:      n.Format,
		Weight:      n.Weight,
	}
	for _, c := range n.Children {
		b.Children = append(b.Children, c.ID)
	}
	out = append(out, b)
	for _, c := range n.Children {
		out = c.flatten(out)
	}
	return out
}
