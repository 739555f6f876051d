package rooms

import (
	"context"
	"errors"
	"fmt"

	"boardroom/internal/models"
	"boardroom/internal/observability"
	"boardroom/internal/repository"
	"boardroom/internal/rules"
)

// Game runs one two-player board. Each game room owns its own instance.
type Game struct {
	rng rules.Permuter
}

// NewGame builds a game handler drawing initial placements from rng.
func NewGame(rng rules.Permuter) *Game {
	return &Game{rng: rng}
}

func (g *Game) Kind() Kind { return KindGame }

// OnConnect hands an existing seat to the new connection when a stored player's
// name equals its id, then shows it the board. A connection that already holds
// a seat keeps it and takes no other.
func (g *Game) OnConnect(ctx context.Context, r *Room, c Conn) error {
	state, err := g.load(ctx, r)
	if err != nil {
		return err
	}
	if _, seated := state.Players[c.ID()]; seated {
		return r.SendTo(c, models.NewGameStateMessage(state))
	}

	for _, id := range state.PlayerIDs() {
		p := state.Players[id]
		if id == c.ID() || p.Name != c.ID() {
			continue
		}
		delete(state.Players, id)
		state.Players[c.ID()] = p
		r.log.LogLifecycle(ctx, "player_reconnected", map[string]interface{}{
			"room_id": r.ID(),
			"from":    id,
			"to":      c.ID(),
		})
		return g.commit(ctx, r, state)
	}

	return r.SendTo(c, models.NewGameStateMessage(state))
}

func (g *Game) OnMessage(ctx context.Context, r *Room, c Conn, msg models.Inbound) error {
	switch m := msg.(type) {
	case models.JoinMessage:
		return g.join(ctx, r, c.ID(), m)
	case models.MoveMessage:
		err := g.move(ctx, r, c.ID(), m)
		switch {
		case err == nil:
			observability.Moves.WithLabelValues("accepted").Inc()
		case errors.Is(err, ErrIgnored):
			observability.Moves.WithLabelValues("rejected").Inc()
		}
		return err
	case models.ResetMessage:
		return g.reset(ctx, r, c.ID())
	default:
		return ignore(fmt.Sprintf("%s is not accepted by a game room", msg.Kind()))
	}
}

func (g *Game) OnClose(ctx context.Context, r *Room, c Conn) error {
	state, err := g.load(ctx, r)
	if err != nil {
		return err
	}
	if _, ok := state.Players[c.ID()]; !ok {
		return nil
	}
	delete(state.Players, c.ID())
	if err := g.commit(ctx, r, state); err != nil {
		return err
	}
	if len(state.Players) == 0 {
		return g.save(ctx, r, models.NewGameState())
	}
	return nil
}

func (g *Game) Snapshot(ctx context.Context, r *Room) (any, error) {
	state, err := g.load(ctx, r)
	if err != nil {
		return nil, err
	}
	return GameSnapshot{Summary: r.Summary(), State: state.Clone()}, nil
}

func (g *Game) join(ctx context.Context, r *Room, connID string, m models.JoinMessage) error {
	state, err := g.load(ctx, r)
	if err != nil {
		return err
	}
	if _, ok := state.Players[connID]; ok {
		return ignore("connection already registered")
	}
	if len(state.Players) >= 2 {
		return ignore("room is full")
	}
	if _, _, taken := state.PlayerByNumber(m.PlayerNumber); taken {
		return ignore(fmt.Sprintf("player %d already taken", m.PlayerNumber))
	}

	state.Players[connID] = models.Player{Number: m.PlayerNumber, Name: m.PlayerName, RoomID: r.ID()}
	if len(state.Players) == 2 {
		return g.initialize(ctx, r, state)
	}
	return g.commit(ctx, r, state)
}

func (g *Game) move(ctx context.Context, r *Room, connID string, m models.MoveMessage) error {
	state, err := g.load(ctx, r)
	if err != nil {
		return err
	}

	player, ok := state.Players[connID]
	if !ok {
		return ignore("sender is not a player")
	}
	if player.Number != m.Piece.Player || player.Number != state.CurrentPlayer {
		return ignore("not the sender's turn")
	}
	if state.Frozen() {
		return ignore("game already won")
	}
	idx, ok := state.PieceIndex(m.Piece.ID)
	if !ok || state.Pieces[idx] != m.Piece {
		return ignore("piece does not match the board")
	}

	var point models.Point
	switch {
	case m.Target.Slot != nil:
		point = rules.Positions[*m.Target.Slot]
	case m.Target.Point != nil:
		point = *m.Target.Point
	default:
		return ignore("move has no target")
	}
	slot, ok := rules.NearestSlot(point, rules.SnapRadius)
	if !ok {
		return ignore("target is not near any slot")
	}
	if !rules.IsAdjacent(m.Piece.Position, slot) {
		return ignore("target is not adjacent")
	}
	if _, occupied := state.PieceAt(slot); occupied {
		return ignore("target is occupied")
	}

	state.Pieces[idx].Position = slot
	if winner, won := rules.CheckWinner(state.Pieces); won {
		state.Winner = &winner
		r.log.LogLifecycle(ctx, "game_won", map[string]interface{}{"room_id": r.ID(), "winner": int(winner)})
	} else {
		state.CurrentPlayer = state.CurrentPlayer.Opponent()
	}
	return g.commit(ctx, r, state)
}

func (g *Game) reset(ctx context.Context, r *Room, connID string) error {
	state, err := g.load(ctx, r)
	if err != nil {
		return err
	}
	if _, ok := state.Players[connID]; !ok {
		return ignore("sender is not a player")
	}
	return g.initialize(ctx, r, state)
}

// initialize places fresh pieces and hands the first turn to player one. Players are kept.
func (g *Game) initialize(ctx context.Context, r *Room, state *models.GameState) error {
	state.Pieces = rules.InitialPieces(g.rng)
	state.CurrentPlayer = models.PlayerOne
	state.Winner = nil
	return g.commit(ctx, r, state)
}

// commit persists state and only then broadcasts it.
func (g *Game) commit(ctx context.Context, r *Room, state *models.GameState) error {
	if err := g.save(ctx, r, state); err != nil {
		return err
	}
	return r.Broadcast(ctx, models.NewGameStateMessage(state))
}

func (g *Game) load(ctx context.Context, r *Room) (*models.GameState, error) {
	state := models.NewGameState()
	if _, err := repository.Load(ctx, r.Store(), repository.KeyGameState, state); err != nil {
		return nil, fmt.Errorf("load game %s: %w", r.ID(), err)
	}
	state.Normalize()
	return state, nil
}

func (g *Game) save(ctx context.Context, r *Room, state *models.GameState) error {
	if err := repository.Save(ctx, r.Store(), repository.KeyGameState, state); err != nil {
		return fmt.Errorf("save game %s: %w", r.ID(), err)
	}
	return nil
}
