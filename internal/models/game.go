// Package models defines the domain types shared by the room actors, the store and the transport.
package models

import (
	"encoding/json"
	"slices"
	"sort"
)

// PlayerNumber identifies a side within a game room.
type PlayerNumber int

const (
	// PlayerOne moves first after every initialization
	PlayerOne PlayerNumber = 1
	// PlayerTwo is the second side
	PlayerTwo PlayerNumber = 2
)

// Valid reports whether p names one of the two sides.
func (p PlayerNumber) Valid() bool {
	return p == PlayerOne || p == PlayerTwo
}

// Opponent returns the other side.
func (p PlayerNumber) Opponent() PlayerNumber {
	if p == PlayerOne {
		return PlayerTwo
	}
	return PlayerOne
}

// Player is a registered participant of a game room.
type Player struct {
	Number PlayerNumber `json:"number"`
	Name   string       `json:"name"`
	RoomID string       `json:"roomId,omitempty"`
}

// GamePiece is one of the six pieces on the board.
type GamePiece struct {
	ID       int          `json:"id"`
	Player   PlayerNumber `json:"player"`
	Position int          `json:"position"`
}

// GameState is the authoritative state of one game room.
type GameState struct {
	Pieces        []GamePiece       `json:"pieces"`
	CurrentPlayer PlayerNumber      `json:"currentPlayer"`
	Winner        *PlayerNumber     `json:"winner"`
	Players       map[string]Player `json:"players"`
}

// NewGameState returns the empty state a room starts with.
func NewGameState() *GameState {
	return &GameState{
		Pieces:        []GamePiece{},
		CurrentPlayer: PlayerOne,
		Players:       map[string]Player{},
	}
}

// Normalize fills nil collections left behind by decoding older records.
func (s *GameState) Normalize() {
	if s.Pieces == nil {
		s.Pieces = []GamePiece{}
	}
	if s.Players == nil {
		s.Players = map[string]Player{}
	}
	if !s.CurrentPlayer.Valid() {
		s.CurrentPlayer = PlayerOne
	}
}

// PieceAt returns the piece occupying slot, if any.
func (s *GameState) PieceAt(slot int) (GamePiece, bool) {
	for _, p := range s.Pieces {
		if p.Position == slot {
			return p, true
		}
	}
	return GamePiece{}, false
}

// PieceIndex returns the index of the piece with the given id.
func (s *GameState) PieceIndex(id int) (int, bool) {
	for i, p := range s.Pieces {
		if p.ID == id {
			return i, true
		}
	}
	return -1, false
}

// PlayerByNumber returns the connection id and record of the player holding number.
func (s *GameState) PlayerByNumber(number PlayerNumber) (string, Player, bool) {
	for _, id := range s.PlayerIDs() {
		if p := s.Players[id]; p.Number == number {
			return id, p, true
		}
	}
	return "", Player{}, false
}

// PlayerIDs returns the registered connection ids in sorted order.
func (s *GameState) PlayerIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Frozen reports whether a winner has been decided.
func (s *GameState) Frozen() bool {
	return s.Winner != nil
}

// Clone returns a deep copy safe to hand outside the owning room.
func (s *GameState) Clone() GameState {
	out := GameState{
		Pieces:        slices.Clone(s.Pieces),
		CurrentPlayer: s.CurrentPlayer,
		Players:       make(map[string]Player, len(s.Players)),
	}
	if out.Pieces == nil {
		out.Pieces = []GamePiece{}
	}
	if s.Winner != nil {
		w := *s.Winner
		out.Winner = &w
	}
	for k, v := range s.Players {
		out.Players[k] = v
	}
	return out
}

// WaitingQueueEntry is one client waiting in the lobby.
type WaitingQueueEntry struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

// RoomSet is a set of room ids, encoded as a sorted JSON array.
type RoomSet map[string]struct{}

// Add inserts id into the set.
func (s RoomSet) Add(id string) {
	s[id] = struct{}{}
}

// Has reports membership.
func (s RoomSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s RoomSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON implements json.Marshaler.
func (s RoomSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *RoomSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(RoomSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	*s = set
	return nil
}

// WaitingRoomState is the lobby's persisted state.
type WaitingRoomState struct {
	WaitingPlayers []WaitingQueueEntry `json:"waitingPlayers"`
	ActiveGames    RoomSet             `json:"activeGames"`
}

// NewWaitingRoomState returns an empty lobby state.
func NewWaitingRoomState() *WaitingRoomState {
	return &WaitingRoomState{
		WaitingPlayers: []WaitingQueueEntry{},
		ActiveGames:    RoomSet{},
	}
}

// Normalize fills nil collections left behind by decoding older records.
func (s *WaitingRoomState) Normalize() {
	if s.WaitingPlayers == nil {
		s.WaitingPlayers = []WaitingQueueEntry{}
	}
	if s.ActiveGames == nil {
		s.ActiveGames = RoomSet{}
	}
}

// Queued reports whether connectionID already waits in the queue.
func (s *WaitingRoomState) Queued(connectionID string) bool {
	return slices.ContainsFunc(s.WaitingPlayers, func(e WaitingQueueEntry) bool {
		return e.ConnectionID == connectionID
	})
}
