package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Envelope is the inbound message frame. Type and RoomID are required on
// every message; the rest is action-specific.
type Envelope struct {
	Type       string     `json:"type"`
	RoomID     string     `json:"roomId"`
	PlayerName string     `json:"playerName,omitempty"`
	PlayerID   string     `json:"playerId,omitempty"`
	Player     *PlayerRef `json:"player,omitempty"`
	CardID     int        `json:"cardId,omitempty"`
	TokenType  string     `json:"tokenType,omitempty"`

	// activateCard choice fields, mapped onto the per-card option types.
	SelectedCardIDs      []int  `json:"selectedCardIds,omitempty"`
	SelectedSurvivalCard string `json:"selectedSurvivalCard,omitempty"`
	TargetPlayerID       string `json:"targetPlayerId,omitempty"`
	EffectChoice         string `json:"effectChoice,omitempty"`
	LairChoice           string `json:"lairChoice,omitempty"`
}

// PlayerRef identifies the acting player inside an envelope.
type PlayerRef struct {
	ID            string `json:"id"`
	PlayedCard    int    `json:"playedCard,omitempty"`
	PlayedCardAlt int    `json:"playedCardAlt,omitempty"`
}

// Outbound messages.

type RoomUpdateMessage struct {
	Type         string   `json:"type"` // "roomUpdate"
	RoomID       string   `json:"roomId"`
	Players      []string `json:"players"`
	ReadyToStart bool     `json:"readyToStart"`
}

// GameUpdateMessage carries the full authoritative snapshot. Type is
// "gameReady" for the start-of-game push and "gameUpdate" afterwards.
type GameUpdateMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Game   *Game  `json:"game"`
}

// PhaseEventMessage marks a phase boundary: planningComplete,
// huntingComplete, riverComplete, activationComplete or turnComplete.
type PhaseEventMessage struct {
	Type   string    `json:"type"`
	RoomID string    `json:"roomId"`
	Phase  GamePhase `json:"phase"`
	Turn   int       `json:"turn"`
}

// JoinedMessage tells the joining client its assigned player id.
type JoinedMessage struct {
	Type     string `json:"type"` // "joined"
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

// ErrorMessage is sent only to the offending client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Router-level rejection reasons.
const (
	reasonInvalidJSON  = "invalidJSON"
	reasonUnknownType  = "unknownType"
	reasonMissingField = "missingField"
	reasonRoomNotFound = "roomNotFound"
	reasonConflict     = "conflict"
	reasonInternal     = "internal"
)

var errRoomNotFound = reject(reasonRoomNotFound, "room not found")

const saveAttempts = 3

type handlerFunc func(ctx context.Context, c *client, env Envelope) error

// Router validates inbound messages, applies exactly one engine
// operation per message against a freshly loaded Game, persists the
// result and fans out the broadcasts describing the new state.
type Router struct {
	cfg         *Config
	store       *Store
	registry    *Registry
	engine      *Engine
	broadcaster *Broadcaster
	handlers    map[string]handlerFunc
}

func newRouter(cfg *Config, store *Store, registry *Registry, engine *Engine, broadcaster *Broadcaster) *Router {
	r := &Router{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		engine:      engine,
		broadcaster: broadcaster,
	}
	r.handlers = map[string]handlerFunc{
		"joinRoom":     r.handleJoinRoom,
		"startGame":    r.handleStartGame,
		"playCard":     r.handlePlayCard,
		"huntSelect":   r.handleHuntSelect,
		"riverChoice":  r.handleRiverChoice,
		"activateCard": r.handleActivateCard,
		"endTurn":      r.handleEndTurn,
		"leaveRoom":    r.handleLeaveRoom,
	}
	return r
}

// dispatch routes one raw frame from a connection. Rejections go back to
// the sender only; nothing is broadcast and nothing is persisted.
func (r *Router) dispatch(ctx context.Context, c *client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.replyError(ctx, c, reject(reasonInvalidJSON, "invalid JSON"))
		return
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		r.replyError(ctx, c, reject(reasonUnknownType, "unknown message type %q", env.Type))
		return
	}
	if env.RoomID == "" {
		r.replyError(ctx, c, reject(reasonMissingField, "missing roomId"))
		return
	}

	if err := handler(ctx, c, env); err != nil {
		r.replyError(ctx, c, err)
	}
}

func (r *Router) replyError(ctx context.Context, c *client, err error) {
	var gameErr *GameError
	if !errors.As(err, &gameErr) {
		logf(r.cfg, "ROUTE: Internal error on connection %s: %v", c.connectionID, err)
		gameErr = &GameError{Reason: reasonInternal, Message: "internal server error"}
	}
	r.broadcaster.sendTo(ctx, c.connectionID, ErrorMessage{
		Type:    "error",
		Reason:  gameErr.Reason,
		Message: gameErr.Message,
	})
}

// mutate runs one engine operation inside a load-modify-save cycle,
// retrying on version conflict so concurrent survivors in the same room
// serialize instead of silently losing updates.
func (r *Router) mutate(ctx context.Context, roomID string, fn func(g *Game) error) (*Game, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		g, err := r.store.Load(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, errRoomNotFound
		}
		if err := fn(g); err != nil {
			return nil, err
		}
		err = r.store.Save(ctx, g)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, errVersionConflict) {
			return nil, err
		}
	}
	return nil, reject(reasonConflict, "room %s is too contended, try again", roomID)
}

// phaseEvent announces a phase boundary to the whole room.
func (r *Router) phaseEvent(ctx context.Context, g *Game, eventType string) {
	r.broadcaster.fanOut(ctx, g.RoomID, PhaseEventMessage{
		Type:   eventType,
		RoomID: g.RoomID,
		Phase:  g.State.Phase,
		Turn:   g.State.Turn,
	})
}

func actingPlayerID(env Envelope) string {
	if env.Player != nil {
		return env.Player.ID
	}
	return env.PlayerID
}

func (r *Router) handleJoinRoom(ctx context.Context, c *client, env Envelope) error {
	if env.PlayerName == "" {
		return reject(reasonMissingField, "missing playerName")
	}

	playerID := uuid.NewString()
	var joinedID string
	for attempt := 0; attempt < saveAttempts; attempt++ {
		g, err := r.store.Load(ctx, env.RoomID)
		if err != nil {
			return err
		}
		if g == nil {
			g = r.engine.NewGame(env.RoomID, c.connectionID)
		}
		joinedID, err = r.engine.Join(g, c.connectionID, playerID, env.PlayerName)
		if err != nil {
			return err
		}
		err = r.store.Save(ctx, g)
		if err == nil {
			break
		}
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		if attempt == saveAttempts-1 {
			return reject(reasonConflict, "room %s is too contended, try again", env.RoomID)
		}
	}

	if err := r.registry.Add(ctx, c.connectionID, env.RoomID, env.PlayerName); err != nil {
		return err
	}
	logf(r.cfg, "GAMES: Player %q joined %s", env.PlayerName, env.RoomID)

	r.broadcaster.sendTo(ctx, c.connectionID, JoinedMessage{
		Type:     "joined",
		RoomID:   env.RoomID,
		PlayerID: joinedID,
	})
	r.broadcastRoster(ctx, env.RoomID)
	return nil
}

func (r *Router) broadcastRoster(ctx context.Context, roomID string) {
	g, err := r.store.Load(ctx, roomID)
	if err != nil || g == nil {
		return
	}
	names := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		names = append(names, p.Name)
	}
	r.broadcaster.fanOut(ctx, roomID, RoomUpdateMessage{
		Type:         "roomUpdate",
		RoomID:       roomID,
		Players:      names,
		ReadyToStart: len(g.Players) >= r.cfg.minPlayers,
	})
}

func (r *Router) handleStartGame(ctx context.Context, c *client, env Envelope) error {
	g, err := r.mutate(ctx, env.RoomID, func(g *Game) error {
		return r.engine.Start(g)
	})
	if err != nil {
		return err
	}
	logf(r.cfg, "GAMES: Started game %s with %d players", env.RoomID, len(g.Players))

	r.broadcaster.fanOut(ctx, env.RoomID, GameUpdateMessage{Type: "gameReady", RoomID: env.RoomID, Game: g})
	return nil
}

func (r *Router) handlePlayCard(ctx context.Context, c *client, env Envelope) error {
	if env.Player == nil || env.Player.ID == "" {
		return reject(reasonMissingField, "missing player.id")
	}
	if env.Player.PlayedCard == 0 {
		return reject(reasonMissingField, "missing player.playedCard")
	}

	var prevPhase GamePhase
	g, err := r.mutate(ctx, env.RoomID, func(g *Game) error {
		prevPhase = g.State.Phase
		return r.engine.PlayCard(g, env.Player.ID, env.Player.PlayedCard, env.Player.PlayedCardAlt)
	})
	if err != nil {
		return err
	}

	r.broadcaster.fanOut(ctx, env.RoomID, GameUpdateMessage{Type: "gameUpdate", RoomID: env.RoomID, Game: g})
	if prevPhase == PhasePlanning && g.State.Phase != PhasePlanning {
		r.phaseEvent(ctx, g, "planningComplete")
	}
	return nil
}

func (r *Router) handleHuntSelect(ctx context.Context, c *client, env Envelope) error {
	playerID := actingPlayerID(env)
	if playerID == "" {
		return reject(reasonMissingField, "missing player.id")
	}
	if env.CardID == 0 {
		return reject(reasonMissingField, "missing cardId")
	}
	token := TokenType(env.TokenType)
	switch token {
	case TokenCreature, TokenAssimilation, TokenTarget:
	default:
		return reject(reasonMissingField, "tokenType must be one of c, a, t")
	}

	var prevPhase GamePhase
	g, err := r.mutate(ctx, env.RoomID, func(g *Game) error {
		prevPhase = g.State.Phase
		return r.engine.HuntSelect(g, playerID, env.CardID, token)
	})
	if err != nil {
		return err
	}

	r.broadcaster.fanOut(ctx, env.RoomID, GameUpdateMessage{Type: "gameUpdate", RoomID: env.RoomID, Game: g})
	if prevPhase == PhaseHunting && g.State.Phase != PhaseHunting {
		r.phaseEvent(ctx, g, "huntingComplete")
	}
	return nil
}

func (r *Router) handleRiverChoice(ctx context.Context, c *client, env Envelope) error {
	playerID := actingPlayerID(env)
	if playerID == "" {
		return reject(reasonMissingField, "missing player.id")
	}
	if env.CardID == 0 {
		return reject(reasonMissingField, "missing cardId")
	}

	var prevPhase GamePhase
	g, err := r.mutate(ctx, env.RoomID, func(g *Game) error {
		prevPhase = g.State.Phase
		return r.engine.RiverChoice(g, playerID, env.CardID)
	})
	if err != nil {
		return err
	}

	r.broadcaster.fanOut(ctx, env.RoomID, GameUpdateMessage{Type: "gameUpdate", RoomID: env.RoomID, Game: g})
	if prevPhase == PhaseRiverChoice && g.State.Phase != PhaseRiverChoice {
		r.phaseEvent(ctx, g, "riverComplete")
	}
	return nil
}

func (r *Router) handleActivateCard(ctx context.Context, c *client, env Envelope) error {
	playerID := actingPlayerID(env)
	if playerID == "" {
		return reject(reasonMissingField, "missing player.id")
	}
	if env.CardID == 0 {
		return reject(reasonMissingField, "missing cardId")
	}
	opts, err := parseCardOptions(env)
	if err != nil {
		return err
	}

	g, err := r.mutate(ctx, env.RoomID, func(g *Game) error {
		return r.engine.ActivateCard(g, playerID, env.CardID, opts)
	})
	if err != nil {
		return err
	}

	r.broadcaster.fanOut(ctx, env.RoomID, GameUpdateMessage{Type: "gameUpdate", RoomID: env.RoomID, Game: g})
	if r.engine.allActivated(g) {
		r.phaseEvent(ctx, g, "activationComplete")
	}
	return nil
}

// parseCardOptions maps the flat envelope choice fields onto the typed
// option struct for the card being activated, so the engine never sees
// an untyped options bag.
func parseCardOptions(env Envelope) (CardOptions, error) {
	switch env.CardID {
	case CardLair:
		if env.LairChoice == "" {
			return nil, nil
		}
		return LairOptions{Choice: env.LairChoice}, nil
	case CardJungle:
		if len(env.SelectedCardIDs) == 0 {
			return nil, nil
		}
		if len(env.SelectedCardIDs) != 1 {
			return nil, reject(reasonMissingField, "jungle takes exactly one selected card")
		}
		return JungleOptions{CardID: env.SelectedCardIDs[0]}, nil
	case CardRover:
		if len(env.SelectedCardIDs) == 0 {
			return nil, nil
		}
		if len(env.SelectedCardIDs) != 1 {
			return nil, reject(reasonMissingField, "rover takes exactly one selected card")
		}
		return RoverOptions{CardID: env.SelectedCardIDs[0]}, nil
	case CardSwamp:
		if len(env.SelectedCardIDs) == 0 {
			return nil, nil
		}
		return SwampOptions{CardIDs: env.SelectedCardIDs}, nil
	case CardShelter:
		if env.SelectedSurvivalCard == "" {
			return nil, nil
		}
		return ShelterOptions{Card: env.SelectedSurvivalCard}, nil
	case CardSource:
		if env.EffectChoice == "" {
			return nil, nil
		}
		return SourceOptions{Choice: env.EffectChoice, TargetPlayerID: env.TargetPlayerID}, nil
	default:
		return nil, nil
	}
}

func (r *Router) handleEndTurn(ctx context.Context, c *client, env Envelope) error {
	playerID := actingPlayerID(env)
	if playerID == "" {
		return reject(reasonMissingField, "missing player.id")
	}

	g, err := r.mutate(ctx, env.RoomID, func(g *Game) error {
		return r.engine.EndTurn(g, playerID)
	})
	if err != nil {
		return err
	}

	r.broadcaster.fanOut(ctx, env.RoomID, GameUpdateMessage{Type: "gameUpdate", RoomID: env.RoomID, Game: g})
	r.phaseEvent(ctx, g, "turnComplete")
	return nil
}

func (r *Router) handleLeaveRoom(ctx context.Context, c *client, env Envelope) error {
	playerID := actingPlayerID(env)
	if playerID == "" {
		return reject(reasonMissingField, "missing playerId")
	}

	g, err := r.store.Load(ctx, env.RoomID)
	if err != nil {
		return err
	}
	if g == nil {
		return errRoomNotFound
	}

	// Leaving an active game ends it for everyone; there is no playing
	// on with an empty seat, same as the disconnect rule.
	if g.State.Phase != PhaseLobby {
		if g.player(playerID) == nil {
			return reject(reasonUnknownPlayer, "no player %q in room %s", playerID, env.RoomID)
		}
		if err := r.store.Delete(ctx, env.RoomID); err != nil {
			return err
		}
		logf(r.cfg, "GAMES: Deleted room %s after a mid-game exit", env.RoomID)
		return r.registry.Remove(ctx, c.connectionID)
	}

	if err := r.engine.Leave(g, playerID); err != nil {
		return err
	}

	if len(g.Players) == 0 {
		if err := r.store.Delete(ctx, env.RoomID); err != nil {
			return err
		}
		logf(r.cfg, "GAMES: Deleted empty room %s", env.RoomID)
	} else {
		if err := r.store.Save(ctx, g); err != nil {
			if errors.Is(err, errVersionConflict) {
				return reject(reasonConflict, "room %s is too contended, try again", env.RoomID)
			}
			return err
		}
		r.broadcastRoster(ctx, env.RoomID)
	}

	return r.registry.Remove(ctx, c.connectionID)
}

// handleDisconnect cleans up after a dropped connection. A disconnect
// during an active game deletes the room: there is no mid-game
// reconnection.
func (r *Router) handleDisconnect(ctx context.Context, c *client) {
	roomID, _, ok, err := r.registry.Get(ctx, c.connectionID)
	if err != nil {
		logf(r.cfg, "ROUTE: Failed to look up connection %s: %v", c.connectionID, err)
	}
	if ok {
		if err := r.registry.Remove(ctx, c.connectionID); err != nil {
			logf(r.cfg, "ROUTE: Failed to remove connection %s: %v", c.connectionID, err)
		}
	}
	r.broadcaster.unregister(c.connectionID)

	if !ok || roomID == "" {
		return
	}
	g, err := r.store.Load(ctx, roomID)
	if err != nil || g == nil {
		return
	}

	if g.State.Phase != PhaseLobby {
		if err := r.store.Delete(ctx, roomID); err != nil {
			logf(r.cfg, "GAMES: Failed to delete room %s: %v", roomID, err)
			return
		}
		logf(r.cfg, "GAMES: Deleted room %s after a mid-game disconnect", roomID)
		return
	}

	if p := g.playerByConnection(c.connectionID); p != nil {
		if err := r.engine.Leave(g, p.ID); err != nil {
			return
		}
	}
	if len(g.Players) == 0 {
		_ = r.store.Delete(ctx, roomID)
		return
	}
	if err := r.store.Save(ctx, g); err != nil {
		logf(r.cfg, "GAMES: Failed to save room %s after disconnect: %v", roomID, err)
		return
	}
	r.broadcastRoster(ctx, roomID)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades a connection and registers it bare; the room binding
// happens when the client sends joinRoom.
func (r *Router) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		connectionID := uuid.NewString()
		c := newClient(conn, connectionID)
		r.broadcaster.register(c)
		if err := r.registry.Add(req.Context(), connectionID, "", ""); err != nil {
			logf(r.cfg, "ROUTE: Failed to register connection %s: %v", connectionID, err)
		}

		go c.writePump()
		r.readPump(c)
	}
}

func (r *Router) readPump(c *client) {
	ctx := context.Background()
	defer func() {
		r.handleDisconnect(ctx, c)
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		r.dispatch(ctx, c, raw)
	}
}

// newRoomID generates a crypto-random room ID and ensures it doesn't
// collide with a stored game.
func (r *Router) newRoomID(ctx context.Context) (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		g, err := r.store.Load(ctx, id)
		if err != nil {
			return "", err
		}
		if g == nil {
			return id, nil
		}
	}
}

// redirectNewRoom handles GET /path by generating a fresh room id and
// redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, r *Router) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		roomID, err := r.newRoomID(req.Context())
		if err != nil {
			logf(cfg, "GAMES: Failed to create a room id: %v", err)
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		logf(cfg, "GAMES: Created room %s/%s", path, roomID)
		http.Redirect(w, req, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		fmt.Fprint(w, newPage("Castaway", "Room "+roomID+" — connect a game client to this room's websocket to play."))
	}
}

// registerCastawayGame sets up routes so that:
//   - $path              → redirects to a new random room
//   - $path/:roomid      → room landing page
//   - $path/:roomid/ws   → websocket for that room
//   - $path/:roomid/qr   → PNG QR code for that room URL
func registerCastawayGame(cfg *Config, path string, mux *httprouter.Router, r *Router) {
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, r))
	mux.GET(cfg.prefix+path+"/:roomid", serveRoomPage(cfg))
	mux.GET(cfg.prefix+path+"/:roomid/ws", r.serveWS())
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
