// Package rooms runs every lobby and game room as a serialized actor that owns its state.
package rooms

import (
	"context"
	"errors"
	"fmt"

	"boardroom/internal/models"
)

// Kind is the room variant, fixed when the actor is created.
type Kind string

const (
	KindLobby Kind = "lobby"
	KindGame  Kind = "game"
)

var (
	// ErrIgnored marks an event that was dropped without a state change.
	ErrIgnored = errors.New("message ignored")
	// ErrRoomStopped is returned when an event reaches an actor that has exited.
	ErrRoomStopped = errors.New("room stopped")
	// ErrGatewayClosed is returned after Shutdown.
	ErrGatewayClosed = errors.New("gateway closed")
	// ErrInvalidRoomID rejects ids outside the accepted shape.
	ErrInvalidRoomID = errors.New("invalid room id")
	// ErrRoomNotFound is returned when inspecting a room with no live actor.
	ErrRoomNotFound = errors.New("room not found")
	// ErrDuplicateConnection rejects a second socket with an id already present in the room.
	ErrDuplicateConnection = errors.New("connection id already present in room")
)

func ignore(reason string) error {
	return fmt.Errorf("%w: %s", ErrIgnored, reason)
}

// Conn is one client socket as seen by a room.
type Conn interface {
	ID() string
	TrySend(msg []byte)
}

// Publisher mirrors room traffic to an external feed.
type Publisher interface {
	PublishRoomEvent(ctx context.Context, roomID string, payload []byte) error
	PublishMatch(ctx context.Context, payload []byte) error
}

// Handler is the behaviour of one room variant. Every method runs on the
// room's actor goroutine.
type Handler interface {
	Kind() Kind
	OnConnect(ctx context.Context, r *Room, c Conn) error
	OnMessage(ctx context.Context, r *Room, c Conn, msg models.Inbound) error
	OnClose(ctx context.Context, r *Room, c Conn) error
	Snapshot(ctx context.Context, r *Room) (any, error)
}

// initializer is implemented by handlers that must prepare stored state
// before the first event.
type initializer interface {
	Init(ctx context.Context, r *Room) error
}

// Summary describes a live room actor.
type Summary struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Connections int    `json:"connections"`
}

// LobbySnapshot is the read-only view of the lobby.
type LobbySnapshot struct {
	PlayersCount int      `json:"playersCount"`
	ActiveGames  []string `json:"activeGames"`
}

// GameSnapshot is the read-only view of a game room.
type GameSnapshot struct {
	Summary
	State models.GameState `json:"state"`
}
