package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"boardroom/internal/models"
	"boardroom/internal/observability"
	"boardroom/internal/repository"
)

// Lobby pairs queued connections into fresh game rooms.
type Lobby struct {
	newRoomID func() string
	publisher Publisher
}

// NewLobby builds the lobby handler. newRoomID generates candidate game room ids.
func NewLobby(newRoomID func() string, pub Publisher) *Lobby {
	if newRoomID == nil {
		newRoomID = NewGameRoomID
	}
	return &Lobby{newRoomID: newRoomID, publisher: pub}
}

func (l *Lobby) Kind() Kind { return KindLobby }

// Init drops queue entries left by a previous process; none of those sockets can be attached.
func (l *Lobby) Init(ctx context.Context, r *Room) error {
	state, err := l.load(ctx, r)
	if err != nil {
		return err
	}
	if len(state.WaitingPlayers) == 0 {
		return nil
	}
	state.WaitingPlayers = state.WaitingPlayers[:0]
	observability.QueueDepth.Set(0)
	return l.save(ctx, r, state)
}

func (l *Lobby) OnConnect(ctx context.Context, r *Room, c Conn) error {
	state, err := l.load(ctx, r)
	if err != nil {
		return err
	}
	return r.SendTo(c, models.NewWaitingStateMessage(len(state.WaitingPlayers)))
}

func (l *Lobby) OnMessage(ctx context.Context, r *Room, c Conn, msg models.Inbound) error {
	m, ok := msg.(models.JoinQueueMessage)
	if !ok {
		return ignore(fmt.Sprintf("%s is not accepted by the lobby", msg.Kind()))
	}
	return l.joinQueue(ctx, r, c.ID(), m.PlayerName)
}

func (l *Lobby) OnClose(ctx context.Context, r *Room, c Conn) error {
	state, err := l.load(ctx, r)
	if err != nil {
		return err
	}
	state.WaitingPlayers = slices.DeleteFunc(state.WaitingPlayers, func(e models.WaitingQueueEntry) bool {
		return e.ConnectionID == c.ID()
	})
	if err := l.save(ctx, r, state); err != nil {
		return err
	}
	observability.QueueDepth.Set(float64(len(state.WaitingPlayers)))
	return r.Broadcast(ctx, models.NewWaitingStateMessage(len(state.WaitingPlayers)))
}

func (l *Lobby) Snapshot(ctx context.Context, r *Room) (any, error) {
	state, err := l.load(ctx, r)
	if err != nil {
		return nil, err
	}
	return LobbySnapshot{
		PlayersCount: len(state.WaitingPlayers),
		ActiveGames:  state.ActiveGames.Sorted(),
	}, nil
}

// MatchEvent is published on the match feed each time the lobby pairs two players.
type MatchEvent struct {
	RoomID  string   `json:"roomId"`
	Players []string `json:"players"`
}

type match struct {
	roomID string
	first  models.WaitingQueueEntry
	second models.WaitingQueueEntry
}

func (l *Lobby) joinQueue(ctx context.Context, r *Room, connID, name string) error {
	state, err := l.load(ctx, r)
	if err != nil {
		return err
	}
	if state.Queued(connID) {
		return ignore("connection already queued")
	}

	state.WaitingPlayers = append(state.WaitingPlayers, models.WaitingQueueEntry{ConnectionID: connID, Name: name})

	var matches []match
	for len(state.WaitingPlayers) >= 2 {
		m := match{
			roomID: l.freshRoomID(state.ActiveGames),
			first:  state.WaitingPlayers[0],
			second: state.WaitingPlayers[1],
		}
		state.WaitingPlayers = state.WaitingPlayers[2:]
		state.ActiveGames.Add(m.roomID)
		matches = append(matches, m)
	}

	if err := l.save(ctx, r, state); err != nil {
		return err
	}

	for _, m := range matches {
		l.assign(ctx, r, m)
	}
	observability.QueueDepth.Set(float64(len(state.WaitingPlayers)))
	return r.Broadcast(ctx, models.NewWaitingStateMessage(len(state.WaitingPlayers)))
}

func (l *Lobby) assign(ctx context.Context, r *Room, m match) {
	seats := []struct {
		entry  models.WaitingQueueEntry
		number models.PlayerNumber
	}{
		{m.first, models.PlayerOne},
		{m.second, models.PlayerTwo},
	}
	for _, seat := range seats {
		if c, ok := r.Conn(seat.entry.ConnectionID); ok {
			_ = r.SendTo(c, models.NewRoomAssignmentMessage(m.roomID, seat.number, seat.entry.Name))
		}
	}
	observability.Matches.Inc()

	if l.publisher != nil {
		payload, err := json.Marshal(MatchEvent{RoomID: m.roomID, Players: []string{m.first.Name, m.second.Name}})
		if err == nil {
			err = l.publisher.PublishMatch(ctx, payload)
		}
		if err != nil {
			r.log.LogError(ctx, "", r.ID(), err, "publish_match")
		}
	}
}

// freshRoomID retries the generator until it produces an id not already handed out.
func (l *Lobby) freshRoomID(active models.RoomSet) string {
	for {
		id := l.newRoomID()
		if !active.Has(id) {
			return id
		}
	}
}

func (l *Lobby) load(ctx context.Context, r *Room) (*models.WaitingRoomState, error) {
	state := models.NewWaitingRoomState()
	if _, err := repository.Load(ctx, r.Store(), repository.KeyWaitingState, state); err != nil {
		return nil, fmt.Errorf("load lobby %s: %w", r.ID(), err)
	}
	state.Normalize()
	return state, nil
}

func (l *Lobby) save(ctx context.Context, r *Room, state *models.WaitingRoomState) error {
	if err := repository.Save(ctx, r.Store(), repository.KeyWaitingState, state); err != nil {
		return fmt.Errorf("save lobby %s: %w", r.ID(), err)
	}
	return nil
}
