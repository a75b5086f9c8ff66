package narrative

import (
	"fmt"

	"nightfall-server/internal/models"
)

// Graph is the immutable branch/choice/ending catalogue. It is built once at
// process start and shared by all workers behind a read-only handle; no
// synchronization is needed after construction. Lookups are pure and have no
// error paths beyond "not found".
type Graph struct {
	branches         map[string]*models.Branch
	endings          map[string]*models.Ending
	entryBranchID    string
	fallbackEndingID string
}

// NewGraph validates a catalogue and builds the lookup structures. Every
// choice must carry exactly one of NextBranchID/EndingID and must resolve to
// a node present in the catalogue. Cycles are permitted; termination is
// enforced independently by the progression engine's path length guard.
func NewGraph(cat Catalogue) (*Graph, error) {
	g := &Graph{
		branches:         make(map[string]*models.Branch, len(cat.Branches)),
		endings:          make(map[string]*models.Ending, len(cat.Endings)),
		entryBranchID:    cat.EntryBranchID,
		fallbackEndingID: cat.FallbackEndingID,
	}

	for i := range cat.Endings {
		e := cat.Endings[i]
		if e.ID == "" {
			return nil, fmt.Errorf("ending at index %d has empty id", i)
		}
		if _, dup := g.endings[e.ID]; dup {
			return nil, fmt.Errorf("duplicate ending id %q", e.ID)
		}
		g.endings[e.ID] = &e
	}

	for i := range cat.Branches {
		b := cat.Branches[i]
		if b.ID == "" {
			return nil, fmt.Errorf("branch at index %d has empty id", i)
		}
		if _, dup := g.branches[b.ID]; dup {
			return nil, fmt.Errorf("duplicate branch id %q", b.ID)
		}
		g.branches[b.ID] = &b
	}

	for _, b := range g.branches {
		if len(b.Choices) == 0 {
			return nil, fmt.Errorf("branch %q has no choices", b.ID)
		}
		for _, c := range b.Choices {
			if (c.NextBranchID == "") == (c.EndingID == "") {
				return nil, fmt.Errorf("branch %q choice %q must have exactly one of nextBranchId/endingId", b.ID, c.ID)
			}
			if c.NextBranchID != "" {
				if _, ok := g.branches[c.NextBranchID]; !ok {
					return nil, fmt.Errorf("branch %q choice %q points to unknown branch %q", b.ID, c.ID, c.NextBranchID)
				}
			}
			if c.EndingID != "" {
				if _, ok := g.endings[c.EndingID]; !ok {
					return nil, fmt.Errorf("branch %q choice %q points to unknown ending %q", b.ID, c.ID, c.EndingID)
				}
			}
		}
	}

	if _, ok := g.branches[g.entryBranchID]; !ok {
		return nil, fmt.Errorf("entry branch %q not present in catalogue", g.entryBranchID)
	}
	if _, ok := g.endings[g.fallbackEndingID]; !ok {
		return nil, fmt.Errorf("fallback ending %q not present in catalogue", g.fallbackEndingID)
	}

	return g, nil
}

// Branch returns the branch with the given ID, or nil if unknown.
func (g *Graph) Branch(id string) *models.Branch {
	return g.branches[id]
}

// Ending returns the ending with the given ID, or nil if unknown.
func (g *Graph) Ending(id string) *models.Ending {
	return g.endings[id]
}

// EntryBranch returns the catalogue's designated starting branch.
func (g *Graph) EntryBranch() *models.Branch {
	return g.branches[g.entryBranchID]
}

// FallbackEnding returns the ending used when the path length guard forces
// termination.
func (g *Graph) FallbackEnding() *models.Ending {
	return g.endings[g.fallbackEndingID]
}

// NextBranch resolves a choice on the given branch to the ID of the next
// branch. It returns "" when the branch or choice is unknown, or when the
// choice is terminal.
func (g *Graph) NextBranch(currentBranchID, choiceID string) string {
	b := g.branches[currentBranchID]
	if b == nil {
		return ""
	}
	c := b.Choice(choiceID)
	if c == nil {
		return ""
	}
	return c.NextBranchID
}

// EndingFor resolves a choice on the given branch to its ending. It returns
// nil when the branch or choice is unknown, or when the choice is an edge to
// another branch.
func (g *Graph) EndingFor(currentBranchID, choiceID string) *models.Ending {
	b := g.branches[currentBranchID]
	if b == nil {
		return nil
	}
	c := b.Choice(choiceID)
	if c == nil || c.EndingID == "" {
		return nil
	}
	return g.endings[c.EndingID]
}

// BranchCount returns the number of branches in the catalogue.
func (g *Graph) BranchCount() int {
	return len(g.branches)
}
