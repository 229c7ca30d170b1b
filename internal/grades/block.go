// Package grades computes learner grades over a course's block hierarchy.
package grades

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Category identifies the kind of a block in the course hierarchy.
type Category string

const (
	CategoryCourse     Category = "course"
	CategoryChapter    Category = "chapter"
	CategorySequential Category = "sequential"
	CategoryVertical   Category = "vertical"
	CategoryProblem    Category = "problem"
	CategoryHTML       Category = "html"
)

// ErrBlockNotFound is returned when a block ID is not part of a structure.
var ErrBlockNotFound = errors.New("block not found")

// Block is a node in a course's content hierarchy.
type Block struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	DisplayName string   `json:"display_name,omitempty"`
	Children    []string `json:"children,omitempty"`
	Graded      bool     `json:"graded,omitempty"`
	Format      string   `json:"format,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
}

// IsLeaf reports whether the block has no children.
func (b *Block) IsLeaf() bool {
	return len(b.Children) == 0
}

// StructureError reports a course hierarchy that cannot be graded.
type StructureError struct {
	BlockID string
	Reason  string
}

func (e *StructureError) Error() string {
	if e.BlockID == "" {
		return "invalid block structure: " + e.Reason
	}
	return fmt.Sprintf("invalid block structure at %q: %s", e.BlockID, e.Reason)
}

// Structure is an immutable block tree rooted at a course block.
// It is safe to share between goroutines.
type Structure struct {
	root   string
	order  []string
	blocks map[string]*Block
}

// NewStructure validates blocks and builds a structure rooted at root.
// Every child reference must resolve and the graph must be acyclic.
func NewStructure(root string, blocks []Block) (*Structure, error) {
	s := &Structure{
		root:   root,
		blocks: make(map[string]*Block, len(blocks)),
	}
	for i := range blocks {
		b := blocks[i]
		if b.ID == "" {
			return nil, &StructureError{Reason: "block with empty id"}
		}
		if _, dup := s.blocks[b.ID]; dup {
			return nil, &StructureError{BlockID: b.ID, Reason: "duplicate block id"}
		}
		b.Children = append([]string(nil), b.Children...)
		if b.Weight != nil {
			w := *b.Weight
			b.Weight = &w
		}
		s.blocks[b.ID] = &b
		s.order = append(s.order, b.ID)
	}

	if _, ok := s.blocks[root]; !ok {
		return nil, &StructureError{BlockID: root, Reason: "root block missing"}
	}
	for _, id := range s.order {
		for _, child := range s.blocks[id].Children {
			if _, ok := s.blocks[child]; !ok {
				return nil, &StructureError{BlockID: id, Reason: fmt.Sprintf("unknown child %q", child)}
			}
		}
	}
	if err := s.checkAcyclic(); err != nil {
		return nil, err
	}
	return s, nil
}

// EmptyStructure returns a structure holding only a course root.
func EmptyStructure(courseID string) *Structure {
	s, _ := NewStructure(courseID, []Block{{ID: courseID, Category: CategoryCourse}})
	return s
}

// Root returns the root block ID.
func (s *Structure) Root() string {
	return s.root
}

// Block returns the block with the given ID.
func (s *Structure) Block(id string) (*Block, bool) {
	b, ok := s.blocks[id]
	return b, ok
}

// Len returns the number of blocks.
func (s *Structure) Len() int {
	return len(s.blocks)
}

// Walk visits blocks reachable from the root in pre-order, following child
// order. A block shared by several parents is visited once.
func (s *Structure) Walk(fn func(b *Block)) {
	s.walkFrom(s.root, make(map[string]bool), fn)
}

// Leaves returns the IDs of leaf blocks under id (id itself when it is a leaf).
func (s *Structure) Leaves(id string) ([]string, error) {
	if _, ok := s.blocks[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, id)
	}
	var leaves []string
	s.walkFrom(id, make(map[string]bool), func(b *Block) {
		if b.IsLeaf() {
			leaves = append(leaves, b.ID)
		}
	})
	return leaves, nil
}

// Subsections returns the sequential blocks reachable from the root in course order.
func (s *Structure) Subsections() []*Block {
	var out []*Block
	s.Walk(func(b *Block) {
		if b.Category == CategorySequential {
			out = append(out, b)
		}
	})
	return out
}

func (s *Structure) walkFrom(id string, seen map[string]bool, fn func(b *Block)) {
	if seen[id] {
		return
	}
	seen[id] = true
	b := s.blocks[id]
	fn(b)
	for _, child := range b.Children {
		s.walkFrom(child, seen, fn)
	}
}

func (s *Structure) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(s.blocks))
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return &StructureError{BlockID: id, Reason: "cycle in block hierarchy"}
		case done:
			return nil
		}
		state[id] = visiting
		for _, child := range s.blocks[id].Children {
			if err := visit(child); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, id := range s.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

type structureJSON struct {
	Root   string  `json:"root"`
	Blocks []Block `json:"blocks"`
}

func (s *Structure) MarshalJSON() ([]byte, error) {
	out := structureJSON{Root: s.root, Blocks: make([]Block, 0, len(s.order))}
	for _, id := range s.order {
		out.Blocks = append(out.Blocks, *s.blocks[id])
	}
	return json.Marshal(out)
}

func (s *Structure) UnmarshalJSON(data []byte) error {
	var in structureJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	built, err := NewStructure(in.Root, in.Blocks)
	if err != nil {
		return err
	}
	*s = *built
	return nil
}
