package main

import (
	"sync"
	"testing"
)

func cardCount(cards []int, cardID int) int {
	n := 0
	for _, c := range cards {
		if c == cardID {
			n++
		}
	}
	return n
}

// resolutionGame drives a four-seat game into resolution with s1 having
// played s1Card and the creature token sitting on huntCard. The card is
// added to s1's hand first when it is not part of the starting five.
func resolutionGame(t *testing.T, e *Engine, s1Card, huntCard int) *Game {
	t.Helper()
	g := testGame(PhasePlanning)
	s1 := g.player("s1")
	if !containsCard(s1.Hand, s1Card) {
		s1.Hand = append(s1.Hand, s1Card)
	}
	mustPlay(t, e, g, "s1", s1Card)
	mustPlay(t, e, g, "s2", CardJungle)
	mustPlay(t, e, g, "s3", CardBeach)
	mustHunt(t, e, g, huntCard, TokenCreature)
	if g.State.Phase != PhaseResolution {
		t.Fatalf("expected resolution, got %s", g.State.Phase)
	}
	return g
}

func TestActivateGate(t *testing.T) {
	e := testEngine(1)

	g := testGame(PhasePlanning)
	assertReason(t, e.ActivateCard(g, "s1", CardLair, nil), reasonPhaseMismatch)

	g = resolutionGame(t, e, CardLair, CardShelter)
	assertReason(t, e.ActivateCard(g, "creature", CardLair, nil), reasonCreatureBarred)
	assertReason(t, e.ActivateCard(g, "s1", CardRover, nil), reasonBadCard)
	assertReason(t, e.ActivateCard(g, "s1", CardLair, JungleOptions{CardID: CardRover}), reasonBadOptions)

	if err := e.ActivateCard(g, "s1", CardLair, nil); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	assertReason(t, e.ActivateCard(g, "s1", CardLair, nil), reasonAlreadyActivated)

	// A caught card cannot be activated.
	g = resolutionGame(t, e, CardLair, CardLair)
	assertReason(t, e.ActivateCard(g, "s1", CardLair, nil), reasonCardCaught)
}

func TestLairRecoversDiscard(t *testing.T) {
	e := testEngine(1)
	g := testGame(PhasePlanning)
	s1 := g.player("s1")
	s1.Hand = []int{CardLair, CardJungle, CardRiver}
	s1.Discard = []int{CardBeach, CardRover}
	mustPlay(t, e, g, "s1", CardLair)
	mustPlay(t, e, g, "s2", CardJungle)
	mustPlay(t, e, g, "s3", CardBeach)
	mustHunt(t, e, g, CardShelter, TokenCreature)

	if err := e.ActivateCard(g, "s1", CardLair, LairOptions{Choice: "lair"}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	for _, c := range []int{CardBeach, CardRover} {
		if !containsCard(s1.Hand, c) {
			t.Errorf("%s should return to hand, hand %v", cardName(c), s1.Hand)
		}
	}
	// The played Lair stays put until the reset.
	if !containsCard(s1.Discard, CardLair) {
		t.Errorf("Lair itself must stay in discard, got %v", s1.Discard)
	}
	assertDisjoint(t, g)
}

func TestLairChannelsCreatureCard(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardLair, CardWreck)

	if err := e.ActivateCard(g, "s1", CardLair, LairOptions{Choice: "creature"}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if g.State.Board.Rescue != 1 {
		t.Fatalf("channelling Wreck should advance rescue to 1, got %d", g.State.Board.Rescue)
	}

	g = resolutionGame(t, e, CardLair, CardShelter)
	assertReason(t, e.ActivateCard(g, "s1", CardLair, LairOptions{Choice: "nonsense"}), reasonBadOptions)
}

func TestLairChannelIntoForeignRecoveryIsInert(t *testing.T) {
	e := testEngine(1)
	// s2's Jungle bears the creature token; s1 channels the Lair into it
	// without ever having owned a discarded Jungle.
	g := resolutionGame(t, e, CardLair, CardJungle)
	s1 := g.player("s1")

	if err := e.ActivateCard(g, "s1", CardLair, LairOptions{Choice: "creature"}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}

	if n := cardCount(s1.Hand, CardJungle); n != 1 {
		t.Fatalf("channelled Jungle must not mint cards, %d copies in hand %v", n, s1.Hand)
	}
	if containsCard(s1.Hand, CardLair) {
		t.Fatalf("the revealed Lair must stay in discard, hand %v", s1.Hand)
	}
	if s1.PlayedCard != CardLair || !containsCard(s1.Discard, CardLair) {
		t.Fatalf("revealed card tracking broke: playedCard %d, discard %v", s1.PlayedCard, s1.Discard)
	}
	assertDisjoint(t, g)
}

func TestLairChannelRecoversOwnDiscardOnly(t *testing.T) {
	e := testEngine(1)
	g := testGame(PhasePlanning)
	s1 := g.player("s1")
	s1.Hand = []int{CardLair, CardJungle}
	s1.Discard = []int{CardBeach, CardRover}
	mustPlay(t, e, g, "s1", CardLair)
	mustPlay(t, e, g, "s2", CardJungle)
	mustPlay(t, e, g, "s3", CardBeach)
	mustHunt(t, e, g, CardJungle, TokenCreature)

	if err := e.ActivateCard(g, "s1", CardLair, LairOptions{Choice: "creature"}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}

	if !containsCard(s1.Hand, CardBeach) {
		t.Fatalf("channelled Jungle should recover a genuinely discarded card, hand %v", s1.Hand)
	}
	if !containsCard(s1.Discard, CardLair) || containsCard(s1.Hand, CardLair) {
		t.Fatalf("the revealed Lair is not recoverable, hand %v discard %v", s1.Hand, s1.Discard)
	}
	if n := cardCount(s1.Hand, CardJungle); n != 1 {
		t.Fatalf("expected exactly one Jungle in hand, got %d (%v)", n, s1.Hand)
	}
	assertDisjoint(t, g)
}

func TestLairChannelIntoSwampIsInert(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardLair, CardSwamp)
	s1 := g.player("s1")

	if err := e.ActivateCard(g, "s1", CardLair, LairOptions{Choice: "creature"}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if containsCard(s1.Hand, CardSwamp) {
		t.Fatalf("channelled Swamp must not mint cards, hand %v", s1.Hand)
	}
	if containsCard(s1.Hand, CardLair) || !containsCard(s1.Discard, CardLair) {
		t.Fatalf("the revealed Lair must stay in discard, hand %v discard %v", s1.Hand, s1.Discard)
	}
	assertDisjoint(t, g)
}

func TestJungleRecovery(t *testing.T) {
	e := testEngine(1)
	g := testGame(PhasePlanning)
	s1 := g.player("s1")
	s1.Hand = []int{CardJungle, CardRiver, CardBeach}
	s1.Discard = []int{CardLair, CardRover}
	mustPlay(t, e, g, "s1", CardJungle)
	mustPlay(t, e, g, "s2", CardJungle)
	mustPlay(t, e, g, "s3", CardBeach)
	mustHunt(t, e, g, CardShelter, TokenCreature)

	if err := e.ActivateCard(g, "s1", CardJungle, JungleOptions{CardID: CardRover}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if !containsCard(s1.Hand, CardRover) || !containsCard(s1.Hand, CardJungle) {
		t.Fatalf("Jungle should recover itself plus the chosen card, hand %v", s1.Hand)
	}
	if containsCard(s1.Hand, CardLair) {
		t.Fatalf("only the chosen card comes back, hand %v", s1.Hand)
	}
	assertDisjoint(t, g)
}

func TestJungleRejectsUnrecoverableChoice(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardJungle, CardShelter)
	assertReason(t, e.ActivateCard(g, "s1", CardJungle, JungleOptions{CardID: CardRover}), reasonBadOptions)
}

func TestRiverAndArtefactSetFlags(t *testing.T) {
	e := testEngine(1)

	g := resolutionGame(t, e, CardRiver, CardShelter)
	if err := e.ActivateCard(g, "s1", CardRiver, nil); err != nil {
		t.Fatalf("ActivateCard(River): %v", err)
	}
	if !g.player("s1").RiverActive {
		t.Fatal("River should arm the two-card flag")
	}

	g = resolutionGame(t, e, CardArtefact, CardShelter)
	if err := e.ActivateCard(g, "s1", CardArtefact, nil); err != nil {
		t.Fatalf("ActivateCard(Artefact): %v", err)
	}
	if !g.player("s1").ArtefactActive {
		t.Fatal("Artefact should arm the two-card flag")
	}
}

func TestBeachMarkerTwoStep(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardBeach, CardShelter)

	if err := e.ActivateCard(g, "s1", CardBeach, nil); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if !g.State.Board.BeachMarker || g.State.Board.Rescue != 0 {
		t.Fatalf("first Beach should only place the marker, board %+v", g.State.Board)
	}

	// s3 also revealed Beach, but the effect is once per turn.
	if err := e.ActivateCard(g, "s3", CardBeach, nil); err != nil {
		t.Fatalf("second Beach activation: %v", err)
	}
	if !g.State.Board.BeachMarker || g.State.Board.Rescue != 0 {
		t.Fatalf("spent Beach effect must not fire again, board %+v", g.State.Board)
	}

	g = resolutionGame(t, e, CardBeach, CardShelter)
	g.State.Board.BeachMarker = true
	if err := e.ActivateCard(g, "s1", CardBeach, nil); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if g.State.Board.BeachMarker || g.State.Board.Rescue != 1 {
		t.Fatalf("marked Beach should cash in for rescue, board %+v", g.State.Board)
	}
}

func TestRoverAcquisition(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardRover, CardShelter)

	if err := e.ActivateCard(g, "s1", CardRover, RoverOptions{CardID: CardWreck}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if !containsCard(g.player("s1").Hand, CardWreck) {
		t.Fatalf("Rover should add the chosen reserve card, hand %v", g.player("s1").Hand)
	}

	g = resolutionGame(t, e, CardRover, CardShelter)
	assertReason(t, e.ActivateCard(g, "s1", CardRover, RoverOptions{CardID: CardLair}), reasonBadOptions)

	// Default pick: first reserve card the player does not own yet.
	g = resolutionGame(t, e, CardRover, CardShelter)
	if err := e.ActivateCard(g, "s1", CardRover, nil); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if !containsCard(g.player("s1").Hand, CardSwamp) {
		t.Fatalf("default Rover pick should be Swamp, hand %v", g.player("s1").Hand)
	}
}

func TestSwampRecovery(t *testing.T) {
	e := testEngine(1)
	g := testGame(PhasePlanning)
	s1 := g.player("s1")
	s1.Hand = []int{CardSwamp, CardRover}
	s1.Discard = []int{CardLair, CardJungle, CardRiver}
	mustPlay(t, e, g, "s1", CardSwamp)
	mustPlay(t, e, g, "s2", CardJungle)
	mustPlay(t, e, g, "s3", CardBeach)
	mustHunt(t, e, g, CardShelter, TokenCreature)

	assertReason(t, e.ActivateCard(g, "s1", CardSwamp, SwampOptions{CardIDs: []int{CardLair}}), reasonBadOptions)

	if err := e.ActivateCard(g, "s1", CardSwamp, SwampOptions{CardIDs: []int{CardLair, CardRiver}}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	for _, c := range []int{CardLair, CardRiver, CardSwamp} {
		if !containsCard(s1.Hand, c) {
			t.Errorf("%s should be back in hand, hand %v", cardName(c), s1.Hand)
		}
	}
	if !containsCard(s1.Discard, CardJungle) {
		t.Errorf("unchosen card stays discarded, discard %v", s1.Discard)
	}
	assertDisjoint(t, g)
}

func TestSwampRejectsDuplicateChoice(t *testing.T) {
	e := testEngine(1)
	g := testGame(PhasePlanning)
	s1 := g.player("s1")
	s1.Hand = []int{CardSwamp, CardRover}
	s1.Discard = []int{CardLair, CardJungle, CardRiver}
	mustPlay(t, e, g, "s1", CardSwamp)
	mustPlay(t, e, g, "s2", CardJungle)
	mustPlay(t, e, g, "s3", CardBeach)
	mustHunt(t, e, g, CardShelter, TokenCreature)

	assertReason(t, e.ActivateCard(g, "s1", CardSwamp, SwampOptions{CardIDs: []int{CardLair, CardLair}}), reasonBadOptions)
	if n := cardCount(s1.Hand, CardLair); n != 0 {
		t.Fatalf("rejected choice must not move cards, hand %v", s1.Hand)
	}
}

func TestSwampWithShortDiscard(t *testing.T) {
	e := testEngine(1)
	g := testGame(PhasePlanning)
	s1 := g.player("s1")
	s1.Hand = []int{CardSwamp, CardRover}
	s1.Discard = []int{CardLair}
	mustPlay(t, e, g, "s1", CardSwamp)
	mustPlay(t, e, g, "s2", CardJungle)
	mustPlay(t, e, g, "s3", CardBeach)
	mustHunt(t, e, g, CardShelter, TokenCreature)

	// Only one other card is discarded, so one is all Swamp asks for.
	if err := e.ActivateCard(g, "s1", CardSwamp, SwampOptions{CardIDs: []int{CardLair}}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if !containsCard(s1.Hand, CardLair) || !containsCard(s1.Hand, CardSwamp) {
		t.Fatalf("short recovery failed, hand %v", s1.Hand)
	}
}

func TestShelterKeepsSurvivalCard(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardShelter, CardRiver)

	if err := e.ActivateCard(g, "s1", CardShelter, ShelterOptions{Card: "survival_card_2"}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	got := g.player("s1").Survival
	if len(got) != 1 || got[0] != "survival_card_2" {
		t.Fatalf("expected the chosen survival card, got %v", got)
	}

	g = resolutionGame(t, e, CardShelter, CardRiver)
	assertReason(t, e.ActivateCard(g, "s1", CardShelter, ShelterOptions{Card: "bogus"}), reasonBadOptions)
}

func TestWreckAdvancesRescue(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardWreck, CardRiver)

	if err := e.ActivateCard(g, "s1", CardWreck, nil); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if g.State.Board.Rescue != 1 {
		t.Fatalf("Wreck should advance rescue to 1, got %d", g.State.Board.Rescue)
	}
}

func TestSourceChoices(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardSource, CardRiver)

	if err := e.ActivateCard(g, "s1", CardSource, SourceOptions{Choice: "heal", TargetPlayerID: "s2"}); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if got := g.player("s2").Will; got != startingWill+1 {
		t.Fatalf("healed player should be at %d will, got %d", startingWill+1, got)
	}

	g = resolutionGame(t, e, CardSource, CardRiver)
	assertReason(t, e.ActivateCard(g, "s1", CardSource, SourceOptions{Choice: "heal", TargetPlayerID: "ghost"}), reasonBadOptions)

	// Default draws a survival card.
	g = resolutionGame(t, e, CardSource, CardRiver)
	if err := e.ActivateCard(g, "s1", CardSource, nil); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if len(g.player("s1").Survival) != 1 {
		t.Fatalf("default Source choice should draw a survival card, got %v", g.player("s1").Survival)
	}
}

// Survival draws from different rooms share one engine; the draws must
// be safe to run from concurrent connection goroutines.
func TestConcurrentSurvivalDraws(t *testing.T) {
	e := testEngine(1)

	var games []*Game
	for i := 0; i < 4; i++ {
		games = append(games, resolutionGame(t, e, CardShelter, CardRiver))
	}

	var wg sync.WaitGroup
	for _, g := range games {
		wg.Add(1)
		go func(g *Game) {
			defer wg.Done()
			if err := e.ActivateCard(g, "s1", CardShelter, nil); err != nil {
				t.Errorf("ActivateCard: %v", err)
			}
		}(g)
	}
	wg.Wait()

	for _, g := range games {
		if len(g.player("s1").Survival) != 1 {
			t.Fatalf("every draw should land, got %v", g.player("s1").Survival)
		}
	}
}

func TestAllActivatedSkipsCaughtPlayers(t *testing.T) {
	e := testEngine(1)
	g := resolutionGame(t, e, CardLair, CardJungle) // s2's Jungle is caught

	if e.allActivated(g) {
		t.Fatal("s1 and s3 have not activated yet")
	}
	if err := e.ActivateCard(g, "s1", CardLair, nil); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if e.allActivated(g) {
		t.Fatal("s3 has not activated yet")
	}
	if err := e.ActivateCard(g, "s3", CardBeach, nil); err != nil {
		t.Fatalf("ActivateCard: %v", err)
	}
	if !e.allActivated(g) {
		t.Fatal("caught players owe no activation; the phase should be complete")
	}
}
