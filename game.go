package main

import (
	"time"
)

// GamePhase is the closed set of turn-engine phases. Phases only advance
// forward, except for the resolution→planning loop on turn reset.
type GamePhase string

const (
	PhaseLobby       GamePhase = "lobby"
	PhasePlanning    GamePhase = "planning"
	PhaseHunting     GamePhase = "hunting"
	PhaseRiverChoice GamePhase = "riverChoice"
	PhaseResolution  GamePhase = "resolution"
	PhaseEnded       GamePhase = "ended"
)

// TokenType is a hunt token placed by the creature on a location card.
type TokenType string

const (
	TokenCreature     TokenType = "c"
	TokenAssimilation TokenType = "a"
	TokenTarget       TokenType = "t"
)

// HuntedLocation records one token placement for the current turn.
type HuntedLocation struct {
	CardID int       `json:"cardId"`
	Type   TokenType `json:"type"`
}

// BoardState tracks the two opposing progress tracks and the shared
// beach marker.
type BoardState struct {
	PlayerCount  int  `json:"playerCount"`
	Rescue       int  `json:"rescue"`
	Assimilation int  `json:"assimilation"`
	BeachMarker  bool `json:"beachMarker"`
}

// EffectsUsed holds the board-wide one-shot flags for the current turn.
type EffectsUsed struct {
	BeachUsed bool `json:"beachUsed,omitempty"`
}

// GameState is everything about a game that isn't per-player.
type GameState struct {
	Phase           GamePhase        `json:"phase"`
	Turn            int              `json:"turn"`
	Board           BoardState       `json:"board"`
	History         []string         `json:"history"`
	HuntedLocations []HuntedLocation `json:"huntedLocations"`
	RemainingTokens int              `json:"remainingTokens"`
	EffectsUsed     EffectsUsed      `json:"effectsUsed"`
}

// Player holds the data we store server-side for each seat in a room.
// PlayedCard and PlayedCardAlt use 0 to mean "none"; card ids start at 1.
type Player struct {
	ID             string   `json:"id"`
	ConnectionID   string   `json:"connectionId"`
	Name           string   `json:"name"`
	Hand           []int    `json:"hand"`
	Discard        []int    `json:"discard"`
	PlayedCard     int      `json:"playedCard,omitempty"`
	PlayedCardAlt  int      `json:"playedCardAlt,omitempty"`
	IsCreature     bool     `json:"isCreature"`
	Will           int      `json:"will"`
	Survival       []string `json:"survival"`
	RiverActive    bool     `json:"riverActive"`
	ArtefactActive bool     `json:"artefactActive"`
	HasActivated   bool     `json:"hasActivated"`
}

// owns reports whether the player currently holds the card in hand or
// discard.
func (p *Player) owns(cardID int) bool {
	return containsCard(p.Hand, cardID) || containsCard(p.Discard, cardID)
}

// recoverable reports whether a discarded card may return to hand. The
// cards committed for the current turn are off limits: pulling the
// revealed card back would leave playedCard pointing at a hand card.
func (p *Player) recoverable(cardID int) bool {
	return containsCard(p.Discard, cardID) && cardID != p.PlayedCard && cardID != p.PlayedCardAlt
}

// Game is the root aggregate, one record per room. Version is the
// optimistic concurrency stamp maintained by the store; it never goes
// over the wire.
type Game struct {
	RoomID    string    `json:"roomId"`
	Players   []Player  `json:"players"`
	State     GameState `json:"state"`
	Host      string    `json:"host"`
	CreatedAt time.Time `json:"createdAt"`

	Version int64 `json:"-"`
}

// player returns the player with the given id, or nil.
func (g *Game) player(id string) *Player {
	for i := range g.Players {
		if g.Players[i].ID == id {
			return &g.Players[i]
		}
	}
	return nil
}

// playerByConnection returns the player bound to a connection, or nil.
func (g *Game) playerByConnection(connectionID string) *Player {
	for i := range g.Players {
		if g.Players[i].ConnectionID == connectionID {
			return &g.Players[i]
		}
	}
	return nil
}

// creature returns the creature player once roles are assigned, or nil.
func (g *Game) creature() *Player {
	for i := range g.Players {
		if g.Players[i].IsCreature {
			return &g.Players[i]
		}
	}
	return nil
}

// huntedToken returns the token on a card this turn, if any.
func (g *Game) huntedToken(cardID int) (TokenType, bool) {
	for _, h := range g.State.HuntedLocations {
		if h.CardID == cardID {
			return h.Type, true
		}
	}
	return "", false
}

// logEvent appends a human-readable entry to the audit trail. The
// history is never read back by game logic.
func (g *Game) logEvent(entry string) {
	g.State.History = append(g.State.History, entry)
}

func containsCard(cards []int, cardID int) bool {
	for _, c := range cards {
		if c == cardID {
			return true
		}
	}
	return false
}

// removeCard removes the first occurrence of cardID and reports whether
// it was present.
func removeCard(cards []int, cardID int) ([]int, bool) {
	for i, c := range cards {
		if c == cardID {
			return append(cards[:i], cards[i+1:]...), true
		}
	}
	return cards, false
}
