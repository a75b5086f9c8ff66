package narrative

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nightfall-server/internal/models"
)

func testCatalogue() Catalogue {
	return Catalogue{
		EntryBranchID:    "start",
		FallbackEndingID: "e-fall",
		Branches: []models.Branch{
			{
				ID:    "start",
				Title: "Start",
				Choices: []models.Choice{
					{ID: "c0", Text: "Go on", NextBranchID: "second"},
					{ID: "c1", Text: "Give up", EndingID: "e-quit"},
				},
			},
			{
				ID:    "second",
				Title: "Second",
				Choices: []models.Choice{
					{ID: "c0", Text: "Loop back", NextBranchID: "start"},
					{ID: "c1", Text: "Finish", EndingID: "e-fall"},
				},
			},
		},
		Endings: []models.Ending{
			{ID: "e-quit", Title: "Quit", OutcomeKind: models.OutcomeEscape},
			{ID: "e-fall", Title: "Fall", OutcomeKind: models.OutcomeExhausted},
		},
	}
}

func TestNewGraph(t *testing.T) {
	t.Run("valid catalogue", func(t *testing.T) {
		g, err := NewGraph(testCatalogue())
		require.NoError(t, err)
		assert.Equal(t, 2, g.BranchCount())
		assert.Equal(t, "start", g.EntryBranch().ID)
		assert.Equal(t, "e-fall", g.FallbackEnding().ID)
	})

	t.Run("default catalogue is valid", func(t *testing.T) {
		g, err := NewGraph(DefaultCatalogue())
		require.NoError(t, err)
		assert.Equal(t, "threshold", g.EntryBranch().ID)
		assert.Equal(t, models.OutcomeExhausted, g.FallbackEnding().OutcomeKind)
	})

	t.Run("choice with both edge kinds", func(t *testing.T) {
		cat := testCatalogue()
		cat.Branches[0].Choices[0].EndingID = "e-quit"
		_, err := NewGraph(cat)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one")
	})

	t.Run("choice with no edge", func(t *testing.T) {
		cat := testCatalogue()
		cat.Branches[0].Choices[0].NextBranchID = ""
		_, err := NewGraph(cat)
		require.Error(t, err)
	})

	t.Run("dangling branch reference", func(t *testing.T) {
		cat := testCatalogue()
		cat.Branches[0].Choices[0].NextBranchID = "nowhere"
		_, err := NewGraph(cat)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown branch")
	})

	t.Run("dangling ending reference", func(t *testing.T) {
		cat := testCatalogue()
		cat.Branches[0].Choices[1].EndingID = "e-missing"
		_, err := NewGraph(cat)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown ending")
	})

	t.Run("branch without choices", func(t *testing.T) {
		cat := testCatalogue()
		cat.Branches[1].Choices = nil
		_, err := NewGraph(cat)
		require.Error(t, err)
	})

	t.Run("missing entry branch", func(t *testing.T) {
		cat := testCatalogue()
		cat.EntryBranchID = "ghost"
		_, err := NewGraph(cat)
		require.Error(t, err)
	})

	t.Run("missing fallback ending", func(t *testing.T) {
		cat := testCatalogue()
		cat.FallbackEndingID = "e-ghost"
		_, err := NewGraph(cat)
		require.Error(t, err)
	})

	t.Run("duplicate branch id", func(t *testing.T) {
		cat := testCatalogue()
		cat.Branches = append(cat.Branches, cat.Branches[0])
		_, err := NewGraph(cat)
		require.Error(t, err)
	})
}

func TestGraphLookups(t *testing.T) {
	g, err := NewGraph(testCatalogue())
	require.NoError(t, err)

	t.Run("next branch", func(t *testing.T) {
		assert.Equal(t, "second", g.NextBranch("start", "c0"))
		assert.Equal(t, "start", g.NextBranch("second", "c0"))
	})

	t.Run("terminal choice has no next branch", func(t *testing.T) {
		assert.Empty(t, g.NextBranch("start", "c1"))
	})

	t.Run("unknown branch or choice", func(t *testing.T) {
		assert.Empty(t, g.NextBranch("ghost", "c0"))
		assert.Empty(t, g.NextBranch("start", "c9"))
		assert.Nil(t, g.Branch("ghost"))
		assert.Nil(t, g.Ending("e-ghost"))
	})

	t.Run("ending for terminal choice", func(t *testing.T) {
		e := g.EndingFor("start", "c1")
		require.NotNil(t, e)
		assert.Equal(t, "e-quit", e.ID)
	})

	t.Run("no ending for branch edge", func(t *testing.T) {
		assert.Nil(t, g.EndingFor("start", "c0"))
		assert.Nil(t, g.EndingFor("ghost", "c0"))
	})
}

func TestMaterialize(t *testing.T) {
	g, err := NewGraph(DefaultCatalogue())
	require.NoError(t, err)

	now := time.Date(2025, 10, 31, 23, 0, 0, 0, time.UTC)
	branch := g.EntryBranch()
	ch := Materialize(branch, MaterializeParams{
		ChapterID:    "chap-1",
		InstanceID:   "main",
		PathPosition: 0,
		VotingWindow: time.Hour,
		Now:          now,
	})

	assert.Equal(t, "chap-1", ch.ID)
	assert.Equal(t, "main", ch.InstanceID)
	assert.Equal(t, branch.ID, ch.BranchID)
	assert.Equal(t, branch.Title, ch.Title)
	assert.Len(t, ch.Choices, len(branch.Choices))
	assert.Equal(t, now, ch.CreatedAt)
	assert.Equal(t, models.ChapterStatusActive, ch.Status)
	assert.Equal(t, models.ChapterSourcePredefined, ch.Source)
	assert.True(t, ch.HasChoice("c0"))
	assert.False(t, ch.HasChoice("c9"))
}

func TestSynthesize(t *testing.T) {
	now := time.Now()

	t.Run("uses last choice text", func(t *testing.T) {
		ch := Synthesize(MaterializeParams{
			ChapterID:    "chap-2",
			InstanceID:   "main",
			PathPosition: 3,
			VotingWindow: time.Hour,
			Now:          now,
		}, PathContext{InstanceID: "main", PathPosition: 3, LastChoiceText: "Open the wardrobe"})

		assert.Equal(t, models.ChapterSourceSynthesized, ch.Source)
		assert.Contains(t, ch.Content, "You chose to open the wardrobe.")
		assert.Equal(t, 3, ch.PathPosition)
		require.Len(t, ch.Choices, 2)
		assert.True(t, ch.HasChoice("c0"))
		assert.True(t, ch.HasChoice("c1"))
	})

	t.Run("works without last choice", func(t *testing.T) {
		ch := Synthesize(MaterializeParams{ChapterID: "chap-3", InstanceID: "main", Now: now}, PathContext{})
		assert.Equal(t, models.ChapterSourceSynthesized, ch.Source)
		assert.NotEmpty(t, ch.Content)
	})
}
