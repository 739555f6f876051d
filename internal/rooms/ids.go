package rooms

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	gameRoomPrefix   = "game-"
	gameRoomIDLength = 7
)

// base36^7
const gameRoomIDSpace = 78364164096

// NewGameRoomID returns "game-" followed by seven random base36 characters.
func NewGameRoomID() string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[:8]) % gameRoomIDSpace
	s := strconv.FormatUint(n, 36)
	return gameRoomPrefix + strings.Repeat("0", gameRoomIDLength-len(s)) + s
}

// NewConnectionID returns an id for a socket that did not name itself.
func NewConnectionID() string {
	return uuid.NewString()
}
