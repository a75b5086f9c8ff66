package narrative

import (
	"fmt"
	"time"

	"nightfall-server/internal/models"
)

// MaterializeParams carries the story-instance-specific inputs needed to
// turn a static node into a live chapter.
type MaterializeParams struct {
	ChapterID    string
	InstanceID   string
	PathPosition int
	VotingWindow time.Duration
	Now          time.Time
}

// Materialize renders a branch into a chapter for a story instance. Counts
// start at zero; the voting engine owns them from here on.
func Materialize(branch *models.Branch, p MaterializeParams) *models.Chapter {
	choices := make([]models.ChapterChoice, 0, len(branch.Choices))
	for _, c := range branch.Choices {
		choices = append(choices, models.ChapterChoice{
			ID:          c.ID,
			Text:        c.Text,
			Description: c.Description,
		})
	}
	return &models.Chapter{
		ID:           p.ChapterID,
		InstanceID:   p.InstanceID,
		BranchID:     branch.ID,
		Title:        branch.Title,
		Content:      branch.BodyText,
		Choices:      choices,
		VisualTheme:  branch.VisualTheme,
		CreatedAt:    p.Now.UTC(),
		VotingWindow: p.VotingWindow,
		PathPosition: p.PathPosition,
		Status:       models.ChapterStatusActive,
		Source:       models.ChapterSourcePredefined,
	}
}

// PathContext describes where a story instance stands when the graph has no
// predefined branch for it.
type PathContext struct {
	InstanceID     string
	PathPosition   int
	LastChoiceText string
}

// Synthesize generates a fallback chapter from templates when graph lookup
// misses. It is a pure function kept strictly separate from the graph-driven
// path; the Source tag lets callers and tests assert which path fired.
func Synthesize(p MaterializeParams, pathCtx PathContext) *models.Chapter {
	lead := "You press on into the dark."
	if pathCtx.LastChoiceText != "" {
		lead = fmt.Sprintf("You chose to %s.", lowerFirst(pathCtx.LastChoiceText))
	}
	content := fmt.Sprintf(
		"%s The house rearranges itself around the decision: a corridor where no corridor was, wallpaper peeling in shapes that almost spell a warning. Chapter %d of a story the house is improvising just for you.",
		lead, p.PathPosition+1,
	)
	return &models.Chapter{
		ID:         p.ChapterID,
		InstanceID: p.InstanceID,
		Title:      fmt.Sprintf("An Unwritten Room %d", p.PathPosition+1),
		Content:    content,
		Choices: []models.ChapterChoice{
			{ID: "c0", Text: "Keep moving forward"},
			{ID: "c1", Text: "Retrace your steps"},
		},
		VisualTheme:  "interior-dark",
		CreatedAt:    p.Now.UTC(),
		VotingWindow: p.VotingWindow,
		PathPosition: p.PathPosition,
		Status:       models.ChapterStatusActive,
		Source:       models.ChapterSourceSynthesized,
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] = r[0] + ('a' - 'A')
	}
	return string(r)
}
