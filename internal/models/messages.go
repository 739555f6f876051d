package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// MessageType is the discriminator carried in the "type" field of every frame.
type MessageType string

const (
	MessageJoinQueue      MessageType = "joinQueue"
	MessageWaitingState   MessageType = "waitingState"
	MessageRoomAssignment MessageType = "roomAssignment"
	MessageJoin           MessageType = "join"
	MessageMove           MessageType = "move"
	MessageReset          MessageType = "reset"
	MessageGameState      MessageType = "gameState"
)

// MaxPlayerNameLength bounds display names accepted from clients.
const MaxPlayerNameLength = 64

// BoardSlots is the number of addressable slots a client may name.
const BoardSlots = 10

var (
	// ErrUnknownMessage is returned for frames whose type is outside the accepted set.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrMalformedMessage is returned for frames that fail shape validation.
	ErrMalformedMessage = errors.New("malformed message")
)

// Point is a board coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Inbound is a validated client frame. The set of implementations is closed.
type Inbound interface {
	Kind() MessageType
	inbound()
}

// JoinQueueMessage asks the lobby to queue the sender.
type JoinQueueMessage struct {
	PlayerName string
}

// JoinMessage registers the sender as a player of a game room.
type JoinMessage struct {
	PlayerNumber PlayerNumber
	PlayerName   string
}

// MoveMessage asks to move Piece towards Target.
type MoveMessage struct {
	Piece  GamePiece
	Target Target
}

// ResetMessage asks for a fresh random placement.
type ResetMessage struct{}

func (JoinQueueMessage) Kind() MessageType { return MessageJoinQueue }
func (JoinMessage) Kind() MessageType      { return MessageJoin }
func (MoveMessage) Kind() MessageType      { return MessageMove }
func (ResetMessage) Kind() MessageType     { return MessageReset }

func (JoinQueueMessage) inbound() {}
func (JoinMessage) inbound()      {}
func (MoveMessage) inbound()      {}
func (ResetMessage) inbound()     {}

// Target is the requested destination of a move: a slot index or a raw coordinate.
type Target struct {
	Slot  *int
	Point *Point
}

// SlotTarget builds a Target naming a slot index.
func SlotTarget(slot int) Target {
	return Target{Slot: &slot}
}

// PointTarget builds a Target naming a coordinate.
func PointTarget(x, y float64) Target {
	return Target{Point: &Point{X: x, Y: y}}
}

// UnmarshalJSON accepts either an integer slot index or an {x, y} object.
func (t *Target) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var raw struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw.X == nil || raw.Y == nil || !finite(*raw.X) || !finite(*raw.Y) {
			return errors.New("coordinate target requires finite x and y")
		}
		*t = PointTarget(*raw.X, *raw.Y)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f != math.Trunc(f) || f < 0 || f >= BoardSlots {
		return fmt.Errorf("slot target %v out of range", f)
	}
	*t = SlotTarget(int(f))
	return nil
}

// MarshalJSON encodes the target in the same shape it was received.
func (t Target) MarshalJSON() ([]byte, error) {
	switch {
	case t.Slot != nil:
		return json.Marshal(*t.Slot)
	case t.Point != nil:
		return json.Marshal(t.Point)
	default:
		return []byte("null"), nil
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// DecodeInbound parses and validates a client frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var env struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case MessageJoinQueue:
		var raw struct {
			PlayerName *string `json:"playerName"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if raw.PlayerName == nil || !validName(*raw.PlayerName) {
			return nil, fmt.Errorf("%w: playerName", ErrMalformedMessage)
		}
		return JoinQueueMessage{PlayerName: *raw.PlayerName}, nil

	case MessageJoin:
		var raw struct {
			PlayerNumber *PlayerNumber `json:"playerNumber"`
			PlayerName   *string       `json:"playerName"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if raw.PlayerNumber == nil || !raw.PlayerNumber.Valid() {
			return nil, fmt.Errorf("%w: playerNumber", ErrMalformedMessage)
		}
		if raw.PlayerName == nil || !validName(*raw.PlayerName) {
			return nil, fmt.Errorf("%w: playerName", ErrMalformedMessage)
		}
		return JoinMessage{PlayerNumber: *raw.PlayerNumber, PlayerName: *raw.PlayerName}, nil

	case MessageMove:
		var raw struct {
			Piece       *GamePiece `json:"piece"`
			NewPosition *Target    `json:"newPosition"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if raw.Piece == nil || raw.NewPosition == nil {
			return nil, fmt.Errorf("%w: piece and newPosition are required", ErrMalformedMessage)
		}
		if !raw.Piece.Player.Valid() || raw.Piece.Position < 0 || raw.Piece.Position >= BoardSlots {
			return nil, fmt.Errorf("%w: piece", ErrMalformedMessage)
		}
		return MoveMessage{Piece: *raw.Piece, Target: *raw.NewPosition}, nil

	case MessageReset:
		return ResetMessage{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

func validName(name string) bool {
	return strings.TrimSpace(name) != "" && utf8.RuneCountInString(name) <= MaxPlayerNameLength
}

// WaitingStateMessage broadcasts the lobby queue depth.
type WaitingStateMessage struct {
	Type         MessageType `json:"type"`
	PlayersCount int         `json:"playersCount"`
}

// NewWaitingStateMessage builds a waitingState frame.
func NewWaitingStateMessage(count int) WaitingStateMessage {
	return WaitingStateMessage{Type: MessageWaitingState, PlayersCount: count}
}

// AssignedPlayer is the seat handed to a matched client.
type AssignedPlayer struct {
	Number PlayerNumber `json:"number"`
	Name   string       `json:"name"`
}

// RoomAssignmentMessage privately tells a matched client where to go.
type RoomAssignmentMessage struct {
	Type       MessageType    `json:"type"`
	RoomID     string         `json:"roomId"`
	YourPlayer AssignedPlayer `json:"yourPlayer"`
}

// NewRoomAssignmentMessage builds a roomAssignment frame.
func NewRoomAssignmentMessage(roomID string, number PlayerNumber, name string) RoomAssignmentMessage {
	return RoomAssignmentMessage{
		Type:       MessageRoomAssignment,
		RoomID:     roomID,
		YourPlayer: AssignedPlayer{Number: number, Name: name},
	}
}

// GameStateMessage carries a full game state snapshot.
type GameStateMessage struct {
	Type  MessageType `json:"type"`
	State GameState   `json:"state"`
}

// NewGameStateMessage builds a gameState frame from a copy of state.
func NewGameStateMessage(state *GameState) GameStateMessage {
	return GameStateMessage{Type: MessageGameState, State: state.Clone()}
}
