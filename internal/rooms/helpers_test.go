package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"boardroom/internal/models"
	"boardroom/internal/repository"
	"boardroom/internal/rules"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id   string
	send chan []byte
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, send: make(chan []byte, 256)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) TrySend(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func readAction(t *testing.T, c *fakeConn) map[string]any {
	t.Helper()

	select {
	case msg := <-c.send:
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg, &payload))
		return payload
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected message on %s", c.id)
		return nil
	}
}

func readState(t *testing.T, c *fakeConn) models.GameState {
	t.Helper()

	select {
	case msg := <-c.send:
		var frame models.GameStateMessage
		require.NoError(t, json.Unmarshal(msg, &frame))
		require.Equal(t, models.MessageGameState, frame.Type, "frame: %s", msg)
		frame.State.Normalize()
		return frame.State
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected gameState on %s", c.id)
		return models.GameState{}
	}
}

func assertNoAction(t *testing.T, conns ...*fakeConn) {
	t.Helper()

	for _, c := range conns {
		select {
		case msg := <-c.send:
			t.Fatalf("expected no message on %s, received: %s", c.id, string(msg))
		default:
		}
	}
}

func drain(conns ...*fakeConn) {
	for _, c := range conns {
		for len(c.send) > 0 {
			<-c.send
		}
	}
}

// fixedPerm always returns the same placement so tests can script boards.
type fixedPerm []int

func (p fixedPerm) Perm(int) []int { return slices.Clone(p) }

func fixedRNG(perm ...int) Option {
	return WithRandSource(func() rules.Permuter { return fixedPerm(perm) })
}

func sequentialIDs(ids ...string) Option {
	var mu sync.Mutex
	next := 0
	return WithRoomIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[next%len(ids)]
		next++
		return id
	})
}

func newTestGateway(t *testing.T, p repository.Provider, opts ...Option) *Gateway {
	t.Helper()
	g := NewGateway(p, opts...)
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func joinFrame(t *testing.T, number models.PlayerNumber, name string) []byte {
	return frame(t, map[string]any{"type": "join", "playerNumber": number, "playerName": name})
}

func moveFrame(t *testing.T, piece models.GamePiece, target any) []byte {
	return frame(t, map[string]any{"type": "move", "piece": piece, "newPosition": target})
}

// startGame seats two players in roomID and returns them with the initialized board.
func startGame(t *testing.T, g *Gateway, roomID string) (*fakeConn, *fakeConn, models.GameState) {
	t.Helper()
	ctx := context.Background()

	p1, p2 := newFakeConn(roomID+"-p1"), newFakeConn(roomID+"-p2")
	require.NoError(t, g.Connect(ctx, roomID, p1))
	require.NoError(t, g.Connect(ctx, roomID, p2))
	drain(p1, p2)

	require.NoError(t, g.Message(ctx, roomID, p1, joinFrame(t, models.PlayerOne, "Alice")))
	drain(p1, p2)
	require.NoError(t, g.Message(ctx, roomID, p2, joinFrame(t, models.PlayerTwo, "Bob")))

	state := readState(t, p1)
	require.Equal(t, state, readState(t, p2))
	return p1, p2, state
}

// flakyProvider is a memory provider whose writes can be switched off.
type flakyProvider struct {
	*repository.MemoryProvider
	failPuts atomic.Bool
}

func newFlakyProvider() *flakyProvider {
	return &flakyProvider{MemoryProvider: repository.NewMemoryProvider()}
}

func (p *flakyProvider) ForRoom(roomID string) repository.Store {
	return &flakyStore{Store: p.MemoryProvider.ForRoom(roomID), fail: &p.failPuts}
}

type flakyStore struct {
	repository.Store
	fail *atomic.Bool
}

var errStoreDown = errors.New("store unavailable")

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if s.fail.Load() {
		return errStoreDown
	}
	return s.Store.Put(ctx, key, value)
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  map[string][][]byte
	matches [][]byte
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][][]byte)}
}

func (p *recordingPublisher) PublishRoomEvent(_ context.Context, roomID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[roomID] = append(p.events[roomID], payload)
	return nil
}

func (p *recordingPublisher) PublishMatch(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches = append(p.matches, payload)
	return nil
}

func (p *recordingPublisher) roomEvents(roomID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[roomID])
}

func (p *recordingPublisher) matchEvents() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.matches)
}
