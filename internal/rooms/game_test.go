package rooms

import (
	"context"
	"math/rand/v2"
	"testing"

	"boardroom/internal/models"
	"boardroom/internal/repository"
	"boardroom/internal/rules"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Player one on 1, 4, 5; player two on 0, 2, 9.
var openingBoard = []int{1, 4, 5, 0, 2, 9}

func piece(state models.GameState, id int) models.GamePiece {
	idx, _ := state.PieceIndex(id)
	return state.Pieces[idx]
}

func TestGameJoinThenInitialize(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider(), fixedRNG(openingBoard...))

	p1, p2 := newFakeConn("c1"), newFakeConn("c2")
	require.NoError(t, g.Connect(ctx, "game-1", p1))
	empty := readState(t, p1)
	assert.Empty(t, empty.Pieces)
	assert.Empty(t, empty.Players)

	require.NoError(t, g.Connect(ctx, "game-1", p2))
	drain(p2)

	require.NoError(t, g.Message(ctx, "game-1", p1, joinFrame(t, models.PlayerOne, "Alice")))
	waiting := readState(t, p2)
	assert.Empty(t, waiting.Pieces, "one player does not start the game")
	assert.Equal(t, models.Player{Number: models.PlayerOne, Name: "Alice", RoomID: "game-1"}, waiting.Players["c1"])
	drain(p1)

	require.NoError(t, g.Message(ctx, "game-1", p2, joinFrame(t, models.PlayerTwo, "Bob")))
	state := readState(t, p1)
	assert.Equal(t, state, readState(t, p2))

	assert.Equal(t, models.PlayerOne, state.CurrentPlayer)
	assert.Nil(t, state.Winner)
	assert.Len(t, state.Players, 2)
	assert.Equal(t, []models.GamePiece{
		{ID: 1, Player: 1, Position: 1},
		{ID: 2, Player: 1, Position: 4},
		{ID: 3, Player: 1, Position: 5},
		{ID: 4, Player: 2, Position: 0},
		{ID: 5, Player: 2, Position: 2},
		{ID: 6, Player: 2, Position: 9},
	}, state.Pieces)
}

func TestGameJoinRejections(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider())
	p1, p2, _ := startGame(t, g, "game-2")

	tests := []struct {
		name string
		conn *fakeConn
		join []byte
	}{
		{"already registered", p1, joinFrame(t, models.PlayerTwo, "Alice")},
		{"room full", newFakeConn("late"), joinFrame(t, models.PlayerOne, "Carol")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.conn != p1 {
				require.NoError(t, g.Connect(ctx, "game-2", tt.conn))
				drain(tt.conn)
			}
			err := g.Message(ctx, "game-2", tt.conn, tt.join)
			assert.ErrorIs(t, err, ErrIgnored)
			assertNoAction(t, p1, p2, tt.conn)
		})
	}
}

func TestGameJoinRejectsTakenNumber(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider())

	p1, p2 := newFakeConn("c1"), newFakeConn("c2")
	require.NoError(t, g.Connect(ctx, "game-3", p1))
	require.NoError(t, g.Connect(ctx, "game-3", p2))
	require.NoError(t, g.Message(ctx, "game-3", p1, joinFrame(t, models.PlayerOne, "Alice")))
	drain(p1, p2)

	err := g.Message(ctx, "game-3", p2, joinFrame(t, models.PlayerOne, "Bob"))
	assert.ErrorIs(t, err, ErrIgnored)
	assertNoAction(t, p1, p2)
}

func TestGameMoveToAdjacentSlot(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider(), fixedRNG(openingBoard...))
	p1, p2, state := startGame(t, g, "game-4")

	require.NoError(t, g.Message(ctx, "game-4", p1, moveFrame(t, piece(state, 1), 3)))

	next := readState(t, p1)
	assert.Equal(t, next, readState(t, p2))
	assert.Equal(t, 3, piece(next, 1).Position)
	assert.Equal(t, models.PlayerTwo, next.CurrentPlayer)
	assert.Nil(t, next.Winner)
}

func TestGameMoveByCoordinate(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider(), fixedRNG(openingBoard...))
	p1, p2, state := startGame(t, g, "game-5")

	require.NoError(t, g.Message(ctx, "game-5", p1, moveFrame(t, piece(state, 1), models.Point{X: 52, Y: 33})))
	next := readState(t, p1)
	drain(p2)
	assert.Equal(t, 3, piece(next, 1).Position)
}

func TestGameMoveRejections(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider(), fixedRNG(openingBoard...))
	p1, p2, state := startGame(t, g, "game-6")

	tests := []struct {
		name  string
		conn  *fakeConn
		piece models.GamePiece
		to    any
	}{
		{"occupied target", p1, piece(state, 1), 0},
		{"beyond snap radius", p1, piece(state, 1), models.Point{X: 200, Y: 200}},
		{"not adjacent", p1, piece(state, 1), 7},
		{"out of turn", p2, piece(state, 5), 1},
		{"someone else's piece", p1, piece(state, 5), 3},
		{"stale position", p1, models.GamePiece{ID: 1, Player: 1, Position: 6}, 3},
		{"unknown piece", p1, models.GamePiece{ID: 9, Player: 1, Position: 1}, 3},
		{"not a player", newFakeConn("watcher"), piece(state, 1), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Message(ctx, "game-6", tt.conn, moveFrame(t, tt.piece, tt.to))
			assert.ErrorIs(t, err, ErrIgnored)
			assertNoAction(t, p1, p2)
		})
	}

	var stored models.GameState
	_, err := repository.Load(ctx, g.provider.ForRoom("game-6"), repository.KeyGameState, &stored)
	require.NoError(t, err)
	assert.Equal(t, state.Pieces, stored.Pieces, "rejected moves never touch the store")
}

func TestGameWinFreezesBoard(t *testing.T) {
	ctx := context.Background()
	// Player one on 0, 2, 3; player two on 5, 8, 9.
	g := newTestGateway(t, repository.NewMemoryProvider(), fixedRNG(0, 2, 3, 5, 8, 9))
	p1, p2, state := startGame(t, g, "game-7")

	require.NoError(t, g.Message(ctx, "game-7", p1, moveFrame(t, piece(state, 3), 1)))
	won := readState(t, p1)
	drain(p2)

	require.NotNil(t, won.Winner)
	assert.Equal(t, models.PlayerOne, *won.Winner)
	assert.Equal(t, models.PlayerOne, won.CurrentPlayer, "the winner keeps the turn")

	err := g.Message(ctx, "game-7", p1, moveFrame(t, piece(won, 3), 3))
	assert.ErrorIs(t, err, ErrIgnored)
	err = g.Message(ctx, "game-7", p2, moveFrame(t, piece(won, 5), 6))
	assert.ErrorIs(t, err, ErrIgnored)
	assertNoAction(t, p1, p2)

	require.NoError(t, g.Message(ctx, "game-7", p2, frame(t, map[string]any{"type": "reset"})))
	fresh := readState(t, p1)
	drain(p2)
	assert.Nil(t, fresh.Winner)
	assert.Equal(t, models.PlayerOne, fresh.CurrentPlayer)
	assert.Len(t, fresh.Players, 2, "reset keeps the players")
}

func TestGameResetMidGame(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider(), fixedRNG(openingBoard...))
	p1, p2, opening := startGame(t, g, "game-16")

	require.NoError(t, g.Message(ctx, "game-16", p1, moveFrame(t, piece(opening, 1), 3)))
	moved := readState(t, p1)
	drain(p2)
	require.Equal(t, models.PlayerTwo, moved.CurrentPlayer)
	require.Nil(t, moved.Winner)
	require.Equal(t, 3, piece(moved, 1).Position)

	require.NoError(t, g.Message(ctx, "game-16", p1, frame(t, map[string]any{"type": "reset"})))
	fresh := readState(t, p1)
	assert.Equal(t, fresh, readState(t, p2))

	assert.Equal(t, opening.Pieces, fresh.Pieces, "pieces are drawn again")
	assert.Equal(t, models.PlayerOne, fresh.CurrentPlayer)
	assert.Nil(t, fresh.Winner)
	assert.Equal(t, moved.Players, fresh.Players)
	assertBoardInvariants(t, fresh)
}

func TestGameResetRequiresPlayer(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider())
	p1, p2, _ := startGame(t, g, "game-8")

	watcher := newFakeConn("watcher")
	require.NoError(t, g.Connect(ctx, "game-8", watcher))
	drain(watcher)

	err := g.Message(ctx, "game-8", watcher, frame(t, map[string]any{"type": "reset"}))
	assert.ErrorIs(t, err, ErrIgnored)
	assertNoAction(t, p1, p2, watcher)
}

func assertBoardInvariants(t *testing.T, state models.GameState) {
	t.Helper()

	require.Len(t, state.Pieces, 6)
	seenSlots := map[int]bool{}
	owners := map[models.PlayerNumber]int{}
	for i, p := range state.Pieces {
		assert.Equal(t, i+1, p.ID)
		assert.True(t, rules.ValidSlot(p.Position))
		assert.False(t, seenSlots[p.Position], "slot %d shared", p.Position)
		seenSlots[p.Position] = true
		owners[p.Player]++
		if p.ID <= 3 {
			assert.Equal(t, models.PlayerOne, p.Player)
		} else {
			assert.Equal(t, models.PlayerTwo, p.Player)
		}
	}
	assert.Equal(t, 3, owners[models.PlayerOne])
	assert.Equal(t, 3, owners[models.PlayerTwo])
}

// legalMoves lists every (piece, slot) the current player may play.
func legalMoves(state models.GameState) [][2]int {
	var out [][2]int
	for _, p := range state.Pieces {
		if p.Player != state.CurrentPlayer {
			continue
		}
		for _, to := range rules.Adjacency(p.Position) {
			if _, taken := state.PieceAt(to); !taken {
				out = append(out, [2]int{p.ID, to})
			}
		}
	}
	return out
}

func TestGameRandomPlayKeepsInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	g := newTestGateway(t, repository.NewMemoryProvider(), WithRandSource(func() rules.Permuter {
		return rand.New(rand.NewPCG(3, 5))
	}))
	p1, p2, state := startGame(t, g, "game-rand")
	assertBoardInvariants(t, state)

	seats := map[models.PlayerNumber]*fakeConn{models.PlayerOne: p1, models.PlayerTwo: p2}

	for step := 0; step < 300; step++ {
		moves := legalMoves(state)
		if state.Frozen() || len(moves) == 0 {
			require.NoError(t, g.Message(ctx, "game-rand", p1, frame(t, map[string]any{"type": "reset"})))
			state = readState(t, p1)
			drain(p2)
			assertBoardInvariants(t, state)
			assert.Nil(t, state.Winner)
			assert.Equal(t, models.PlayerOne, state.CurrentPlayer)
			continue
		}

		// The opponent is never accepted, whatever it asks for.
		other := seats[state.CurrentPlayer.Opponent()]
		for _, p := range state.Pieces {
			if p.Player == state.CurrentPlayer.Opponent() {
				err := g.Message(ctx, "game-rand", other, moveFrame(t, p, rules.Adjacency(p.Position)[0]))
				require.ErrorIs(t, err, ErrIgnored)
				break
			}
		}
		assertNoAction(t, p1, p2)

		mv := moves[rng.IntN(len(moves))]
		mover := seats[state.CurrentPlayer]
		require.NoError(t, g.Message(ctx, "game-rand", mover, moveFrame(t, piece(state, mv[0]), mv[1])))

		next := readState(t, p1)
		require.Equal(t, next, readState(t, p2))
		assertBoardInvariants(t, next)
		assert.Equal(t, mv[1], piece(next, mv[0]).Position)

		if winner, won := rules.CheckWinner(next.Pieces); won {
			require.NotNil(t, next.Winner)
			assert.Equal(t, winner, *next.Winner)
			assert.Equal(t, state.CurrentPlayer, next.CurrentPlayer)
		} else {
			assert.Nil(t, next.Winner)
			assert.Equal(t, state.CurrentPlayer.Opponent(), next.CurrentPlayer)
		}
		state = next
	}
}

func TestGameLastDisconnectClearsState(t *testing.T) {
	ctx := context.Background()
	p := repository.NewMemoryProvider()
	g := newTestGateway(t, p)
	p1, p2, _ := startGame(t, g, "game-9")

	require.NoError(t, g.Close(ctx, "game-9", p1))
	left := readState(t, p2)
	assert.Len(t, left.Players, 1)
	assert.Len(t, left.Pieces, 6, "the board survives while someone is seated")

	require.NoError(t, g.Close(ctx, "game-9", p2))
	assertNoAction(t, p1, p2)

	var stored models.GameState
	found, err := repository.Load(ctx, p.ForRoom("game-9"), repository.KeyGameState, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, stored.Players)
	assert.Empty(t, stored.Pieces)
	assert.Nil(t, stored.Winner)
	assert.Equal(t, models.PlayerOne, stored.CurrentPlayer)
}

func TestGameCloseOfSpectatorChangesNothing(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider())
	p1, p2, _ := startGame(t, g, "game-10")

	watcher := newFakeConn("watcher")
	require.NoError(t, g.Connect(ctx, "game-10", watcher))
	drain(watcher)

	require.NoError(t, g.Close(ctx, "game-10", watcher))
	assertNoAction(t, p1, p2)
}

func TestGameReconnectMatchesIDAgainstName(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider())

	p1, p2 := newFakeConn("c1"), newFakeConn("c2")
	require.NoError(t, g.Connect(ctx, "game-11", p1))
	require.NoError(t, g.Connect(ctx, "game-11", p2))
	require.NoError(t, g.Message(ctx, "game-11", p1, joinFrame(t, models.PlayerOne, "bob")))
	require.NoError(t, g.Message(ctx, "game-11", p2, joinFrame(t, models.PlayerTwo, "alice")))
	drain(p1, p2)

	// A socket whose id equals a display name takes over that seat.
	imposter := newFakeConn("bob")
	require.NoError(t, g.Connect(ctx, "game-11", imposter))

	for _, c := range []*fakeConn{p1, p2, imposter} {
		state := readState(t, c)
		assert.Len(t, state.Players, 2)
		assert.NotContains(t, state.Players, "c1")
		assert.Equal(t, models.Player{Number: models.PlayerOne, Name: "bob", RoomID: "game-11"}, state.Players["bob"])
	}
}

func TestGameReconnectKeepsSeatedConnection(t *testing.T) {
	ctx := context.Background()
	p := repository.NewMemoryProvider()

	// "bob" already holds seat one; the player on seat two is named "bob".
	saved := models.NewGameState()
	saved.Pieces = rules.InitialPieces(fixedPerm(openingBoard))
	saved.CurrentPlayer = models.PlayerOne
	saved.Players["bob"] = models.Player{Number: models.PlayerOne, Name: "Alice", RoomID: "game-15"}
	saved.Players["c2"] = models.Player{Number: models.PlayerTwo, Name: "bob", RoomID: "game-15"}
	require.NoError(t, repository.Save(ctx, p.ForRoom("game-15"), repository.KeyGameState, saved))

	g := newTestGateway(t, p)
	returning := newFakeConn("bob")
	require.NoError(t, g.Connect(ctx, "game-15", returning))

	state := readState(t, returning)
	assert.Len(t, state.Players, 2)
	assert.Equal(t, saved.Players, state.Players)
	assertNoAction(t, returning)

	var stored models.GameState
	_, err := repository.Load(ctx, p.ForRoom("game-15"), repository.KeyGameState, &stored)
	require.NoError(t, err)
	assert.Equal(t, saved.Players, stored.Players)
}

func TestGameReconnectNeverMatchesGeneratedIDs(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t, repository.NewMemoryProvider())
	p1, p2, state := startGame(t, g, "game-12")

	fresh := newFakeConn(uuid.NewString())
	require.NoError(t, g.Connect(ctx, "game-12", fresh))

	assert.Equal(t, state, readState(t, fresh), "the board is sent privately")
	assertNoAction(t, p1, p2, fresh)
}

func TestGamePersistFailureSkipsBroadcast(t *testing.T) {
	ctx := context.Background()
	p := newFlakyProvider()
	g := newTestGateway(t, p, fixedRNG(openingBoard...))
	p1, p2, state := startGame(t, g, "game-13")

	p.failPuts.Store(true)
	err := g.Message(ctx, "game-13", p1, moveFrame(t, piece(state, 1), 3))
	require.ErrorIs(t, err, errStoreDown)
	assertNoAction(t, p1, p2)

	p.failPuts.Store(false)
	require.NoError(t, g.Message(ctx, "game-13", p1, moveFrame(t, piece(state, 1), 3)))
	assert.Equal(t, 3, piece(readState(t, p1), 1).Position)
}

func TestGameStateReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	p := repository.NewMemoryProvider()

	saved := models.NewGameState()
	saved.Pieces = rules.InitialPieces(fixedPerm(openingBoard))
	saved.CurrentPlayer = models.PlayerTwo
	saved.Players["c1"] = models.Player{Number: 1, Name: "Alice", RoomID: "game-14"}
	require.NoError(t, repository.Save(ctx, p.ForRoom("game-14"), repository.KeyGameState, saved))

	g := newTestGateway(t, p)
	c := newFakeConn("watcher")
	require.NoError(t, g.Connect(ctx, "game-14", c))
	assert.Equal(t, saved.Clone(), readState(t, c))

	snap, err := g.Inspect(ctx, "game-14")
	require.NoError(t, err)
	gs, ok := snap.(GameSnapshot)
	require.True(t, ok)
	assert.Equal(t, Summary{ID: "game-14", Kind: KindGame, Connections: 1}, gs.Summary)
	assert.Equal(t, models.PlayerTwo, gs.State.CurrentPlayer)
}
