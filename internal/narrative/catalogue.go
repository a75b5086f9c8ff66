package narrative

import "nightfall-server/internal/models"

// Catalogue is the raw catalogue definition consumed by NewGraph.
type Catalogue struct {
	Branches         []models.Branch
	Endings          []models.Ending
	EntryBranchID    string
	FallbackEndingID string
}

// DefaultCatalogue returns the built-in "Hollow House" story. The catalogue
// intentionally contains cycles (retreating to earlier rooms is a valid
// choice); the progression engine's path length guard bounds every run.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		EntryBranchID:    "threshold",
		FallbackEndingID: "e-exhausted",
		Branches: []models.Branch{
			{
				ID:          "threshold",
				Title:       "The Threshold",
				BodyText:    "The house at the end of Marrow Lane has been empty for forty years, yet a light moves behind the upstairs curtains. The gate is open. It was locked an hour ago.",
				VisualTheme: "exterior-night",
				Choices: []models.Choice{
					{ID: "c0", Text: "Push open the front door", NextBranchID: "foyer"},
					{ID: "c1", Text: "Circle around to the cellar doors", Description: "The padlock lies broken in the grass.", NextBranchID: "cellar"},
					{ID: "c2", Text: "Turn back while you still can", EndingID: "e-turn-back"},
				},
			},
			{
				ID:          "foyer",
				Title:       "The Foyer",
				BodyText:    "Dust sheets drape the furniture like patient ghosts. A grandfather clock ticks although its hands are gone. Somewhere above, a floorboard answers your weight.",
				VisualTheme: "interior-dark",
				Choices: []models.Choice{
					{ID: "c0", Text: "Climb the staircase", NextBranchID: "landing"},
					{ID: "c1", Text: "Follow the hallway toward the kitchen", NextBranchID: "hallway"},
					{ID: "c2", Text: "Take the basement door", NextBranchID: "cellar"},
				},
			},
			{
				ID:          "cellar",
				Title:       "The Cellar",
				BodyText:    "The dark down here is older than the house. Water drips in a rhythm too regular to be water. Your matchbook holds three matches.",
				VisualTheme: "cellar",
				Choices: []models.Choice{
					{ID: "c0", Text: "Strike a match", NextBranchID: "ritual-room"},
					{ID: "c1", Text: "Follow the dripping sound", NextBranchID: "flooded-tunnel"},
					{ID: "c2", Text: "Feel your way back up the stairs", NextBranchID: "foyer"},
				},
			},
			{
				ID:          "hallway",
				Title:       "The Long Hallway",
				BodyText:    "Family portraits line the walls, every face scratched out except the eyes. At the far end a mirror leans against the plaster, turned to face you since you last looked.",
				VisualTheme: "interior-dark",
				Choices: []models.Choice{
					{ID: "c0", Text: "Slip into the kitchen", NextBranchID: "kitchen"},
					{ID: "c1", Text: "Approach the mirror", EndingID: "e-mirror"},
					{ID: "c2", Text: "Hurry past toward the stairs", NextBranchID: "landing"},
				},
			},
			{
				ID:          "landing",
				Title:       "The Landing",
				BodyText:    "Three doors. Behind one, a music box plays a lullaby you knew before you could speak. The attic hatch hangs open, its ladder already lowered for you.",
				VisualTheme: "interior-dark",
				Choices: []models.Choice{
					{ID: "c0", Text: "Enter the nursery", NextBranchID: "nursery"},
					{ID: "c1", Text: "Enter the master bedroom", NextBranchID: "bedroom"},
					{ID: "c2", Text: "Climb into the attic", NextBranchID: "attic"},
				},
			},
			{
				ID:          "ritual-room",
				Title:       "The Ritual Room",
				BodyText:    "The match light finds a circle of salt, seven candles burning without being lit, and a book open on a lectern. The pages turn themselves, slowly, as if being read to you.",
				VisualTheme: "cellar",
				Choices: []models.Choice{
					{ID: "c0", Text: "Read the open page aloud", EndingID: "e-possession"},
					{ID: "c1", Text: "Snuff the candles", EndingID: "e-dark"},
					{ID: "c2", Text: "Take the bone dagger and run", NextBranchID: "attic"},
				},
			},
			{
				ID:          "flooded-tunnel",
				Title:       "The Flooded Tunnel",
				BodyText:    "Black water reaches your knees, then your waist. The dripping has stopped. Whatever kept the rhythm is listening now.",
				VisualTheme: "cellar",
				Choices: []models.Choice{
					{ID: "c0", Text: "Wade deeper toward the faint glow", EndingID: "e-drowned"},
					{ID: "c1", Text: "Grab the ledge and haul yourself up", Description: "A chute opens into the kitchen pantry.", NextBranchID: "kitchen"},
				},
			},
			{
				ID:          "nursery",
				Title:       "The Nursery",
				BodyText:    "A mobile of paper moths hangs over an empty crib. The music box sits on the sill, lid open, cylinder still. The lullaby keeps playing anyway.",
				VisualTheme: "nursery",
				Choices: []models.Choice{
					{ID: "c0", Text: "Wind the music box", EndingID: "e-lullaby"},
					{ID: "c1", Text: "Search the crib", NextBranchID: "bedroom"},
				},
			},
			{
				ID:          "bedroom",
				Title:       "The Master Bedroom",
				BodyText:    "The bed is made, the sheets turned down, two indentations in the pillows deepening as you watch. The window overlooks the garden, one storey down.",
				VisualTheme: "interior-dark",
				Choices: []models.Choice{
					{ID: "c0", Text: "Open the wardrobe", NextBranchID: "attic"},
					{ID: "c1", Text: "Climb out the window", EndingID: "e-window"},
				},
			},
			{
				ID:          "attic",
				Title:       "The Attic",
				BodyText:    "Moonlight through the skylight carves the room into silver and pitch. A steamer chest sits in the center, breathing. Between the wall studs, something scratches in patterns.",
				VisualTheme: "attic",
				Choices: []models.Choice{
					{ID: "c0", Text: "Break the skylight and climb onto the roof", EndingID: "e-rooftop"},
					{ID: "c1", Text: "Open the chest", EndingID: "e-possession"},
					{ID: "c2", Text: "Press your ear to the wall", NextBranchID: "hallway"},
				},
			},
			{
				ID:          "kitchen",
				Title:       "The Kitchen",
				BodyText:    "Every drawer stands open. Every knife is gone. The back door is ajar, night air moving through it, and the dumbwaiter shaft exhales warm breath from somewhere above.",
				VisualTheme: "interior-dark",
				Choices: []models.Choice{
					{ID: "c0", Text: "Bolt through the back door", EndingID: "e-garden"},
					{ID: "c1", Text: "Climb the dumbwaiter shaft", NextBranchID: "attic"},
				},
			},
		},
		Endings: []models.Ending{
			{
				ID:          "e-turn-back",
				Title:       "The Road Home",
				BodyText:    "You walk away and do not look back, and that is the only reason you make it home. Some nights you still hear the gate creak open. You never check.",
				OutcomeKind: models.OutcomeEscape,
			},
			{
				ID:          "e-mirror",
				Title:       "The Other Side of the Glass",
				BodyText:    "Your reflection smiles first. By the time you understand what that means, you are the one leaning against the plaster, watching someone wear your face down the hallway.",
				OutcomeKind: models.OutcomeMadness,
			},
			{
				ID:               "e-possession",
				Title:            "The Willing Vessel",
				BodyText:         "The words were never meant to be read aloud. They were meant to be answered. Something ancient accepts the invitation, and the house finally has a keeper again.",
				OutcomeKind:      models.OutcomeMadness,
				PathRequirements: []string{"cellar"},
			},
			{
				ID:          "e-dark",
				Title:       "What the Dark Keeps",
				BodyText:    "The candles go out. The salt circle was never there to keep something in. The last thing you learn is what it was keeping out, and it is already behind you.",
				OutcomeKind: models.OutcomeDeath,
			},
			{
				ID:          "e-drowned",
				Title:       "The Rhythm Below",
				BodyText:    "The glow is a lantern on a rowboat, and the ferryman has been waiting forty years for a passenger. The water closes over your head in a rhythm too regular to be water.",
				OutcomeKind: models.OutcomeDeath,
			},
			{
				ID:          "e-lullaby",
				Title:       "Hush Now",
				BodyText:    "The cylinder turns. The moths descend. The crib is not empty anymore, and it will never be empty again, and you will never grow any older.",
				OutcomeKind: models.OutcomeDeath,
			},
			{
				ID:          "e-window",
				Title:       "The Long Drop",
				BodyText:    "You land badly in the rose beds and limp to the road. The ankle heals. The dreams do not, but dreams never killed anyone, you tell yourself, most nights.",
				OutcomeKind: models.OutcomeSurvival,
			},
			{
				ID:          "e-rooftop",
				Title:       "Under Open Sky",
				BodyText:    "Shingles, gutter, drainpipe, lawn. You do not stop running until sunrise, and when the neighbors ask about the scratches you say brambles, and they look away and agree.",
				OutcomeKind: models.OutcomeSurvival,
			},
			{
				ID:          "e-garden",
				Title:       "Through the Garden Gate",
				BodyText:    "The night air has never tasted so clean. Behind you the back door closes, unhurried, like a host seeing out a guest who will be back.",
				OutcomeKind: models.OutcomeEscape,
			},
			{
				ID:          "e-exhausted",
				Title:       "The House Wins",
				BodyText:    "You have walked these rooms too long. The doors no longer lead where they led, the windows show only other rooms, and somewhere a clock with no hands strikes midnight forever.",
				OutcomeKind: models.OutcomeExhausted,
			},
		},
	}
}
