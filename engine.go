package main

// The turn engine is pure state-transition logic: every operation takes a
// Game loaded by the caller, validates the action against the current
// phase, mutates the Game in place and returns. It performs no I/O; the
// router owns load/save/broadcast.
//
// Phase order: lobby → planning → hunting → {riverChoice} → resolution →
// {planning | ended}. Win thresholds are checked after every mutation, so
// a game can end mid-phase.

import (
	"fmt"
	"math/rand"
	"sync"
)

const (
	startingWill = 3
	winThreshold = 10
)

// tokenOrder fixes which token type the n-th hunt placement of a turn
// must carry. The creature token is always placed; the others unlock as
// rescue progresses.
var tokenOrder = [...]TokenType{TokenCreature, TokenAssimilation, TokenTarget}

// Machine-readable rejection reasons for illegal actions.
const (
	reasonPhaseMismatch    = "phaseMismatch"
	reasonGameEnded        = "gameEnded"
	reasonUnknownPlayer    = "unknownPlayer"
	reasonNotCreature      = "notCreature"
	reasonCreatureBarred   = "creatureBarred"
	reasonNotInHand        = "notInHand"
	reasonAlreadyPlayed    = "alreadyPlayed"
	reasonAlreadyActivated = "alreadyActivated"
	reasonAlreadyHunted    = "alreadyHunted"
	reasonBadCard          = "badCard"
	reasonBadToken         = "badToken"
	reasonBadOptions       = "badOptions"
	reasonCardCaught       = "cardCaught"
	reasonNeedMorePlayers  = "needMorePlayers"
	reasonNoPendingChoice  = "noPendingChoice"
)

// GameError is an illegal-action rejection. The reason code goes back to
// the offending client; the game record is never touched.
type GameError struct {
	Reason  string
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

func reject(reason, format string, args ...any) error {
	return &GameError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Engine resolves player actions against a Game. The rand source makes
// role assignment and card draws deterministic under test; rand.Rand is
// not goroutine safe, so draws go through the mutex-guarded intn.
type Engine struct {
	rngMu      sync.Mutex
	rng        *rand.Rand
	minPlayers int
}

func newEngine(rng *rand.Rand, minPlayers int) *Engine {
	return &Engine{rng: rng, minPlayers: minPlayers}
}

func (e *Engine) intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

// NewGame creates the lobby-phase record for a previously unknown room.
func (e *Engine) NewGame(roomID, hostConnectionID string) *Game {
	return &Game{
		RoomID:    roomID,
		Players:   []Player{},
		State:     GameState{Phase: PhaseLobby, History: []string{}},
		Host:      hostConnectionID,
		CreatedAt: nowUTC(),
	}
}

// Join adds a player to a lobby-phase game. Joining twice from the same
// connection is a no-op. Returns the assigned player id.
func (e *Engine) Join(g *Game, connectionID, playerID, name string) (string, error) {
	if g.State.Phase != PhaseLobby {
		return "", reject(reasonPhaseMismatch, "cannot join a game in the %s phase", g.State.Phase)
	}
	if p := g.playerByConnection(connectionID); p != nil {
		return p.ID, nil
	}
	g.Players = append(g.Players, Player{
		ID:           playerID,
		ConnectionID: connectionID,
		Name:         name,
		Hand:         []int{},
		Discard:      []int{},
		Survival:     []string{},
	})
	return playerID, nil
}

// Start assigns the creature role, deals starting hands to survivors and
// moves the game into planning.
func (e *Engine) Start(g *Game) error {
	if g.State.Phase != PhaseLobby {
		return reject(reasonPhaseMismatch, "game already started")
	}
	if len(g.Players) < e.minPlayers {
		return reject(reasonNeedMorePlayers, "need at least %d players, have %d", e.minPlayers, len(g.Players))
	}

	creatureIdx := e.intn(len(g.Players))
	for i := range g.Players {
		p := &g.Players[i]
		p.IsCreature = i == creatureIdx
		p.Will = startingWill
		p.Discard = []int{}
		p.RiverActive = false
		p.ArtefactActive = false
		p.HasActivated = false
		p.PlayedCard = 0
		p.PlayedCardAlt = 0
		if p.IsCreature {
			p.Hand = []int{}
		} else {
			p.Hand = startingHand()
		}
	}

	g.State.Phase = PhasePlanning
	g.State.Turn = 1
	g.State.Board = BoardState{PlayerCount: len(g.Players)}
	g.State.HuntedLocations = nil
	g.State.RemainingTokens = tokenAllowance(0)
	g.State.EffectsUsed = EffectsUsed{}
	g.logEvent("Game started. Planning phase begins.")
	return nil
}

// PlayCard commits a survivor's location choice for the turn. Players
// with a River or Artefact flag from last turn must commit two cards.
// The transition to hunting is recomputed from scratch on every call.
func (e *Engine) PlayCard(g *Game, playerID string, cardID, altCardID int) error {
	if g.State.Phase == PhaseEnded {
		return reject(reasonGameEnded, "the game is over")
	}
	if g.State.Phase != PhasePlanning {
		return reject(reasonPhaseMismatch, "cards can only be played during planning, not %s", g.State.Phase)
	}
	p := g.player(playerID)
	if p == nil {
		return reject(reasonUnknownPlayer, "no player %q in room %s", playerID, g.RoomID)
	}
	if p.IsCreature {
		return reject(reasonCreatureBarred, "the creature does not play location cards")
	}
	if p.PlayedCard != 0 {
		return reject(reasonAlreadyPlayed, "%s already played a card this turn", p.Name)
	}
	if !containsCard(p.Hand, cardID) {
		return reject(reasonNotInHand, "card %s is not in hand", cardName(cardID))
	}

	twoCards := p.RiverActive || p.ArtefactActive
	switch {
	case twoCards && altCardID == 0:
		return reject(reasonBadCard, "%s must play two cards this turn", p.Name)
	case !twoCards && altCardID != 0:
		return reject(reasonBadCard, "%s may only play one card this turn", p.Name)
	case altCardID != 0 && altCardID == cardID:
		return reject(reasonBadCard, "the two played cards must differ")
	case altCardID != 0 && !containsCard(p.Hand, altCardID):
		return reject(reasonNotInHand, "card %s is not in hand", cardName(altCardID))
	}

	p.Hand, _ = removeCard(p.Hand, cardID)
	p.Discard = append(p.Discard, cardID)
	p.PlayedCard = cardID
	if altCardID != 0 {
		p.Hand, _ = removeCard(p.Hand, altCardID)
		p.Discard = append(p.Discard, altCardID)
		p.PlayedCardAlt = altCardID
	}

	if e.allPlanned(g) {
		g.State.Phase = PhaseHunting
		g.logEvent("All survivors have planned. Hunting phase begins.")
	}
	return nil
}

func (e *Engine) allPlanned(g *Game) bool {
	for i := range g.Players {
		p := &g.Players[i]
		if !p.IsCreature && p.PlayedCard == 0 {
			return false
		}
	}
	return true
}

// HuntSelect places one hunt token. The creature places tokens one at a
// time, in the fixed order creature, assimilation, target, until the
// turn's allowance is spent.
func (e *Engine) HuntSelect(g *Game, playerID string, cardID int, token TokenType) error {
	if g.State.Phase == PhaseEnded {
		return reject(reasonGameEnded, "the game is over")
	}
	if g.State.Phase != PhaseHunting {
		return reject(reasonPhaseMismatch, "tokens can only be placed during hunting, not %s", g.State.Phase)
	}
	p := g.player(playerID)
	if p == nil {
		return reject(reasonUnknownPlayer, "no player %q in room %s", playerID, g.RoomID)
	}
	if !p.IsCreature {
		return reject(reasonNotCreature, "only the creature hunts")
	}
	if !validCard(cardID) {
		return reject(reasonBadCard, "no location card %d", cardID)
	}
	if _, hunted := g.huntedToken(cardID); hunted {
		return reject(reasonAlreadyHunted, "%s already bears a token", cardName(cardID))
	}
	if g.State.RemainingTokens <= 0 {
		return reject(reasonBadToken, "no hunt tokens left this turn")
	}
	expected := tokenOrder[len(g.State.HuntedLocations)]
	if token != expected {
		return reject(reasonBadToken, "expected the %q token next, got %q", expected, token)
	}

	g.State.HuntedLocations = append(g.State.HuntedLocations, HuntedLocation{CardID: cardID, Type: token})
	g.State.RemainingTokens--
	g.logEvent(fmt.Sprintf("The creature placed a token on %s.", cardName(cardID)))

	if g.State.RemainingTokens == 0 {
		if e.riverPending(g) {
			g.State.Phase = PhaseRiverChoice
			g.logEvent("Hunting is done. Survivors with two cards must choose one to reveal.")
		} else {
			e.handleCatching(g)
			if g.State.Phase != PhaseEnded {
				g.State.Phase = PhaseResolution
			}
		}
	}
	return nil
}

// riverPending reports whether any survivor still owes a reveal choice.
func (e *Engine) riverPending(g *Game) bool {
	for i := range g.Players {
		p := &g.Players[i]
		if !p.IsCreature && p.PlayedCardAlt != 0 && (p.RiverActive || p.ArtefactActive) {
			return true
		}
	}
	return false
}

// RiverChoice reveals one of the two committed cards; the other returns
// to hand and the one-turn flag clears. When the last pending choice is
// in, catches resolve.
func (e *Engine) RiverChoice(g *Game, playerID string, cardID int) error {
	if g.State.Phase == PhaseEnded {
		return reject(reasonGameEnded, "the game is over")
	}
	if g.State.Phase != PhaseRiverChoice {
		return reject(reasonPhaseMismatch, "no reveal choice is pending in the %s phase", g.State.Phase)
	}
	p := g.player(playerID)
	if p == nil {
		return reject(reasonUnknownPlayer, "no player %q in room %s", playerID, g.RoomID)
	}
	if p.PlayedCardAlt == 0 || !(p.RiverActive || p.ArtefactActive) {
		return reject(reasonNoPendingChoice, "%s has no reveal choice to make", p.Name)
	}
	if cardID != p.PlayedCard && cardID != p.PlayedCardAlt {
		return reject(reasonBadCard, "%s was not one of the played cards", cardName(cardID))
	}

	returned := p.PlayedCardAlt
	if cardID == p.PlayedCardAlt {
		returned = p.PlayedCard
	}
	p.PlayedCard = cardID
	p.PlayedCardAlt = 0
	p.Discard, _ = removeCard(p.Discard, returned)
	p.Hand = append(p.Hand, returned)
	p.RiverActive = false
	p.ArtefactActive = false
	g.logEvent(fmt.Sprintf("%s revealed %s and took %s back.", p.Name, cardName(cardID), cardName(returned)))

	if !e.riverPending(g) {
		e.handleCatching(g)
		if g.State.Phase != PhaseEnded {
			g.State.Phase = PhaseResolution
		}
	}
	return nil
}

// handleCatching applies every hunt token against every survivor's
// revealed card. The creature token is the only trigger for board
// advancement; assimilation catches just shrink hands.
func (e *Engine) handleCatching(g *Game) {
	creatureFired := false
	for _, h := range g.State.HuntedLocations {
		for i := range g.Players {
			p := &g.Players[i]
			if p.IsCreature || p.PlayedCard != h.CardID {
				continue
			}
			switch h.Type {
			case TokenCreature:
				p.Will--
				creatureFired = true
				g.logEvent(fmt.Sprintf("The creature caught %s at %s.", p.Name, cardName(h.CardID)))
			case TokenAssimilation:
				if n := len(p.Hand); n > 0 {
					lost := p.Hand[n-1]
					p.Hand = p.Hand[:n-1]
					g.logEvent(fmt.Sprintf("%s lost %s to assimilation.", p.Name, cardName(lost)))
				}
			case TokenTarget:
				// Reserved for future scoring.
			}
		}
	}

	if creatureFired {
		g.State.Board.Assimilation++
		g.logEvent("Assimilation advances.")
		e.handleWill(g)
	}
	e.checkThresholds(g)
}

// handleWill restores every exhausted survivor and advances assimilation
// by the number restored. Idempotent: with no exhausted players it is a
// no-op.
func (e *Engine) handleWill(g *Game) {
	restored := 0
	for i := range g.Players {
		p := &g.Players[i]
		if p.IsCreature || p.Will > 0 {
			continue
		}
		p.Will = startingWill
		p.Hand = append(p.Hand, p.Discard...)
		p.Discard = []int{}
		restored++
		g.logEvent(fmt.Sprintf("%s collapsed and recovered all discarded cards.", p.Name))
	}
	g.State.Board.Assimilation += restored
	e.checkThresholds(g)
}

// ActivateCard triggers the one-shot ability of an uncaught played card.
func (e *Engine) ActivateCard(g *Game, playerID string, cardID int, opts CardOptions) error {
	if g.State.Phase == PhaseEnded {
		return reject(reasonGameEnded, "the game is over")
	}
	if g.State.Phase != PhaseResolution {
		return reject(reasonPhaseMismatch, "abilities can only be activated during resolution, not %s", g.State.Phase)
	}
	p := g.player(playerID)
	if p == nil {
		return reject(reasonUnknownPlayer, "no player %q in room %s", playerID, g.RoomID)
	}
	if p.IsCreature {
		return reject(reasonCreatureBarred, "the creature has no abilities to activate")
	}
	if p.HasActivated {
		return reject(reasonAlreadyActivated, "%s already activated a card this turn", p.Name)
	}
	if cardID != p.PlayedCard {
		return reject(reasonBadCard, "%s was not the revealed card", cardName(cardID))
	}
	if _, hunted := g.huntedToken(cardID); hunted {
		return reject(reasonCardCaught, "%s was caught and cannot be activated", cardName(cardID))
	}
	if opts != nil && opts.optionCard() != cardID {
		return reject(reasonBadOptions, "options do not match card %s", cardName(cardID))
	}

	if err := e.applyAbility(g, p, cardID, opts); err != nil {
		return err
	}
	p.HasActivated = true
	e.checkThresholds(g)
	return nil
}

// applyAbility resolves a single location ability. A nil opts falls back
// to the default choice for abilities that take one; Lair's creature
// choice re-enters here for the card bearing the creature token.
func (e *Engine) applyAbility(g *Game, p *Player, cardID int, opts CardOptions) error {
	switch cardID {
	case CardLair:
		choice := "lair"
		if o, ok := opts.(LairOptions); ok {
			choice = o.Choice
		}
		switch choice {
		case "lair":
			kept := []int{}
			for _, c := range p.Discard {
				if c == CardLair {
					kept = append(kept, c)
					continue
				}
				p.Hand = append(p.Hand, c)
			}
			p.Discard = kept
			g.logEvent(fmt.Sprintf("%s recovered their discard pile from the Lair.", p.Name))
		case "creature":
			var creatureCard int
			for _, h := range g.State.HuntedLocations {
				if h.Type == TokenCreature {
					creatureCard = h.CardID
					break
				}
			}
			if creatureCard == 0 {
				return reject(reasonBadOptions, "no creature token was placed this turn")
			}
			g.logEvent(fmt.Sprintf("%s channelled the Lair into %s.", p.Name, cardName(creatureCard)))
			return e.applyAbility(g, p, creatureCard, nil)
		default:
			return reject(reasonBadOptions, "lair choice must be \"lair\" or \"creature\"")
		}

	case CardJungle:
		chosen := 0
		if o, ok := opts.(JungleOptions); ok {
			chosen = o.CardID
		}
		if chosen == 0 {
			chosen = firstRecoverable(p, CardJungle)
		}
		if chosen != 0 {
			if chosen == CardJungle || !p.recoverable(chosen) {
				return reject(reasonBadOptions, "%s is not recoverable from discard", cardName(chosen))
			}
			p.Discard, _ = removeCard(p.Discard, chosen)
			p.Hand = append(p.Hand, chosen)
		}
		// Self-recovery only applies when Jungle itself sits in discard,
		// which is not the case when this runs via the Lair channel.
		if rest, ok := removeCard(p.Discard, CardJungle); ok {
			p.Discard = rest
			p.Hand = append(p.Hand, CardJungle)
		}
		g.logEvent(fmt.Sprintf("%s recovered cards through the Jungle.", p.Name))

	case CardRiver:
		p.RiverActive = true
		g.logEvent(fmt.Sprintf("%s will plan two cards next turn (River).", p.Name))

	case CardBeach:
		if g.State.EffectsUsed.BeachUsed {
			g.logEvent(fmt.Sprintf("%s used the Beach, but its effect was already spent this turn.", p.Name))
			break
		}
		if g.State.Board.BeachMarker {
			g.State.Board.BeachMarker = false
			g.State.Board.Rescue++
			g.logEvent(fmt.Sprintf("%s advanced the rescue track via the Beach.", p.Name))
		} else {
			g.State.Board.BeachMarker = true
			g.logEvent(fmt.Sprintf("%s placed a marker on the Beach.", p.Name))
		}
		g.State.EffectsUsed.BeachUsed = true

	case CardRover:
		chosen := 0
		if o, ok := opts.(RoverOptions); ok {
			chosen = o.CardID
		}
		if chosen == 0 {
			for _, c := range reservePool {
				if !p.owns(c) {
					chosen = c
					break
				}
			}
		}
		if chosen == 0 {
			return reject(reasonBadOptions, "no reserve card left to acquire")
		}
		if !containsCard(reservePool, chosen) || p.owns(chosen) {
			return reject(reasonBadOptions, "%s cannot be acquired", cardName(chosen))
		}
		p.Hand = append(p.Hand, chosen)
		g.logEvent(fmt.Sprintf("%s acquired %s with the Rover.", p.Name, cardName(chosen)))

	case CardSwamp:
		var chosen []int
		if o, ok := opts.(SwampOptions); ok {
			chosen = o.CardIDs
		}
		if chosen == nil {
			for _, c := range p.Discard {
				if c != CardSwamp && p.recoverable(c) && len(chosen) < 2 {
					chosen = append(chosen, c)
				}
			}
		}
		others := 0
		for _, c := range p.Discard {
			if c != CardSwamp && p.recoverable(c) {
				others++
			}
		}
		want := 2
		if others < want {
			want = others
		}
		if len(chosen) != want {
			return reject(reasonBadOptions, "swamp recovers exactly %d discarded cards", want)
		}
		for i, c := range chosen {
			if c == CardSwamp || !p.recoverable(c) {
				return reject(reasonBadOptions, "%s is not recoverable from discard", cardName(c))
			}
			if containsCard(chosen[:i], c) {
				return reject(reasonBadOptions, "%s chosen twice", cardName(c))
			}
		}
		for _, c := range chosen {
			p.Discard, _ = removeCard(p.Discard, c)
			p.Hand = append(p.Hand, c)
		}
		if rest, ok := removeCard(p.Discard, CardSwamp); ok {
			p.Discard = rest
			p.Hand = append(p.Hand, CardSwamp)
		}
		g.logEvent(fmt.Sprintf("%s recovered cards through the Swamp.", p.Name))

	case CardShelter:
		chosen := ""
		if o, ok := opts.(ShelterOptions); ok {
			chosen = o.Card
		}
		if chosen == "" {
			chosen = survivalCatalog[e.intn(len(survivalCatalog))]
		}
		if !validSurvivalCard(chosen) {
			return reject(reasonBadOptions, "unknown survival card %q", chosen)
		}
		p.Survival = append(p.Survival, chosen)
		g.logEvent(fmt.Sprintf("%s kept a survival card from the Shelter.", p.Name))

	case CardWreck:
		g.State.Board.Rescue++
		g.logEvent(fmt.Sprintf("%s advanced the rescue track at the Wreck.", p.Name))

	case CardSource:
		choice := "survival"
		target := ""
		if o, ok := opts.(SourceOptions); ok {
			choice = o.Choice
			target = o.TargetPlayerID
		}
		switch choice {
		case "heal":
			t := g.player(target)
			if t == nil {
				return reject(reasonBadOptions, "no player %q to heal", target)
			}
			t.Will++
			g.logEvent(fmt.Sprintf("%s healed %s at the Source.", p.Name, t.Name))
		case "survival":
			card := survivalCatalog[e.intn(len(survivalCatalog))]
			p.Survival = append(p.Survival, card)
			g.logEvent(fmt.Sprintf("%s drew a survival card at the Source.", p.Name))
		default:
			return reject(reasonBadOptions, "source choice must be \"heal\" or \"survival\"")
		}

	case CardArtefact:
		p.ArtefactActive = true
		g.logEvent(fmt.Sprintf("%s will plan two cards next turn (Artefact).", p.Name))

	default:
		return reject(reasonBadCard, "no location card %d", cardID)
	}
	return nil
}

func firstRecoverable(p *Player, except int) int {
	for _, c := range p.Discard {
		if c != except && p.recoverable(c) {
			return c
		}
	}
	return 0
}

func validSurvivalCard(card string) bool {
	for _, c := range survivalCatalog {
		if c == card {
			return true
		}
	}
	return false
}

// allActivated reports whether every uncaught survivor has spent their
// activation this turn.
func (e *Engine) allActivated(g *Game) bool {
	for i := range g.Players {
		p := &g.Players[i]
		if p.IsCreature || p.HasActivated {
			continue
		}
		if _, hunted := g.huntedToken(p.PlayedCard); !hunted {
			return false
		}
	}
	return true
}

// EndTurn rolls the game into the next turn (handleReset). On an ended
// game only the per-player transients are cleared; the phase is fixed.
func (e *Engine) EndTurn(g *Game, playerID string) error {
	if g.player(playerID) == nil {
		return reject(reasonUnknownPlayer, "no player %q in room %s", playerID, g.RoomID)
	}
	if g.State.Phase == PhaseEnded {
		e.clearTransients(g)
		return nil
	}
	if g.State.Phase != PhaseResolution {
		return reject(reasonPhaseMismatch, "the turn can only end during resolution, not %s", g.State.Phase)
	}
	e.handleReset(g)
	return nil
}

// handleReset checks the terminal thresholds and otherwise rolls the
// board into the next planning phase. Clearing the per-player transients
// here is what makes the next planning gate sound.
func (e *Engine) handleReset(g *Game) {
	if e.checkThresholds(g) {
		e.clearTransients(g)
		return
	}

	g.State.Turn++
	g.State.HuntedLocations = nil
	g.State.EffectsUsed = EffectsUsed{}
	g.State.RemainingTokens = tokenAllowance(g.State.Board.Rescue)
	g.State.Board.Rescue++
	e.clearTransients(g)

	if e.checkThresholds(g) {
		return
	}
	g.State.Phase = PhasePlanning
	g.logEvent(fmt.Sprintf("Turn %d begins. Planning phase.", g.State.Turn))
}

func (e *Engine) clearTransients(g *Game) {
	for i := range g.Players {
		p := &g.Players[i]
		p.PlayedCard = 0
		p.PlayedCardAlt = 0
		p.HasActivated = false
	}
}

// tokenAllowance is the number of hunt tokens unlocked for a turn, from
// the rescue progress at the moment the turn rolls over.
func tokenAllowance(rescue int) int {
	tokens := 1
	if rescue >= 4 {
		tokens++
	}
	if rescue >= 7 {
		tokens++
	}
	return tokens
}

// checkThresholds freezes the game when either track crosses the win
// threshold. Safe to call repeatedly.
func (e *Engine) checkThresholds(g *Game) bool {
	if g.State.Phase == PhaseEnded {
		return true
	}
	switch {
	case g.State.Board.Assimilation >= winThreshold:
		g.State.Phase = PhaseEnded
		g.logEvent("Assimilation is complete. The creature wins.")
	case g.State.Board.Rescue >= winThreshold:
		g.State.Phase = PhaseEnded
		g.logEvent("The rescue ship arrives. The survivors win.")
	default:
		return false
	}
	return true
}

// Leave removes a player from the game. The caller deletes the room when
// the last player is gone.
func (e *Engine) Leave(g *Game, playerID string) error {
	dst := g.Players[:0]
	found := false
	for _, p := range g.Players {
		if p.ID == playerID {
			found = true
			continue
		}
		dst = append(dst, p)
	}
	g.Players = dst
	if !found {
		return reject(reasonUnknownPlayer, "no player %q in room %s", playerID, g.RoomID)
	}
	return nil
}
