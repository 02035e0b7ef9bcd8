package main

// Location cards are identified by their fixed numeric ids. Survivors
// start with cards 1-5 in hand; 6-10 form the reserve pool that Rover
// can acquire from.
const (
	CardLair     = 1
	CardJungle   = 2
	CardRiver    = 3
	CardBeach    = 4
	CardRover    = 5
	CardSwamp    = 6
	CardShelter  = 7
	CardWreck    = 8
	CardSource   = 9
	CardArtefact = 10
)

var locationNames = [...]string{
	CardLair:     "Lair",
	CardJungle:   "Jungle",
	CardRiver:    "River",
	CardBeach:    "Beach",
	CardRover:    "Rover",
	CardSwamp:    "Swamp",
	CardShelter:  "Shelter",
	CardWreck:    "Wreck",
	CardSource:   "Source",
	CardArtefact: "Artefact",
}

func cardName(cardID int) string {
	if cardID < CardLair || cardID > CardArtefact {
		return "Unknown"
	}
	return locationNames[cardID]
}

func validCard(cardID int) bool {
	return cardID >= CardLair && cardID <= CardArtefact
}

func startingHand() []int {
	return []int{CardLair, CardJungle, CardRiver, CardBeach, CardRover}
}

var reservePool = []int{CardSwamp, CardShelter, CardWreck, CardSource, CardArtefact}

// survivalCatalog is the deck Shelter and Source draw from.
var survivalCatalog = []string{
	"survival_card_1",
	"survival_card_2",
	"survival_card_3",
}

// CardOptions is the per-ability choice payload for activateCard. Each
// ability that needs input has its own option type, validated at the
// router boundary before the engine sees it.
type CardOptions interface {
	optionCard() int
}

// LairOptions chooses between the Lair recovery and activating the card
// bearing the creature token instead.
type LairOptions struct {
	Choice string // "lair" or "creature"
}

func (LairOptions) optionCard() int { return CardLair }

// JungleOptions names the one discarded card to recover alongside Jungle.
type JungleOptions struct {
	CardID int
}

func (JungleOptions) optionCard() int { return CardJungle }

// RoverOptions names the reserve card to acquire.
type RoverOptions struct {
	CardID int
}

func (RoverOptions) optionCard() int { return CardRover }

// SwampOptions names the two discarded cards to recover alongside Swamp.
type SwampOptions struct {
	CardIDs []int
}

func (SwampOptions) optionCard() int { return CardSwamp }

// ShelterOptions names the survival card kept out of the offered pair.
type ShelterOptions struct {
	Card string
}

func (ShelterOptions) optionCard() int { return CardShelter }

// SourceOptions chooses between healing a player and drawing a survival
// card. TargetPlayerID is required only for "heal".
type SourceOptions struct {
	Choice         string // "heal" or "survival"
	TargetPlayerID string
}

func (SourceOptions) optionCard() int { return CardSource }
