package rooms

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"boardroom/internal/config"
	"boardroom/internal/models"
	"boardroom/internal/observability"
	"boardroom/internal/repository"
	"boardroom/internal/rules"
)

const (
	defaultQueueSize = 64
	maxRoomAttempts  = 3
)

// Gateway routes socket events to room actors, creating them on first use.
// Its mutex guards the registry only; room state stays inside each actor.
type Gateway struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool

	lobbyID   string
	provider  repository.Provider
	publisher Publisher
	newRNG    func() rules.Permuter
	newRoomID func() string
	queueSize int
	log       *observability.WSLogger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLobbyID overrides the reserved lobby room id.
func WithLobbyID(id string) Option {
	return func(g *Gateway) { g.lobbyID = id }
}

// WithPublisher mirrors every broadcast and match to p.
func WithPublisher(p Publisher) Option {
	return func(g *Gateway) { g.publisher = p }
}

// WithRandSource sets the factory of per-room placement generators.
func WithRandSource(newRNG func() rules.Permuter) Option {
	return func(g *Gateway) { g.newRNG = newRNG }
}

// WithRoomIDGenerator sets how the lobby names new game rooms.
func WithRoomIDGenerator(gen func() string) Option {
	return func(g *Gateway) { g.newRoomID = gen }
}

// WithQueueSize sets the event buffer of each actor.
func WithQueueSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.queueSize = n
		}
	}
}

// NewGateway builds a gateway whose rooms persist through provider.
func NewGateway(provider repository.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		rooms:     make(map[string]*Room),
		lobbyID:   config.DefaultLobbyRoomID,
		provider:  provider,
		newRNG:    defaultRNG,
		newRoomID: NewGameRoomID,
		queueSize: defaultQueueSize,
		log:       observability.NewWSLogger("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func defaultRNG() rules.Permuter {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// ValidRoomID reports whether id has the accepted shape.
func ValidRoomID(id string) bool {
	return config.RoomIDPattern.MatchString(id)
}

// LobbyID returns the reserved lobby room id.
func (g *Gateway) LobbyID() string { return g.lobbyID }

// Connect attaches c to roomID, starting the room's actor if needed.
func (g *Gateway) Connect(ctx context.Context, roomID string, c Conn) error {
	if !ValidRoomID(roomID) {
		return ErrInvalidRoomID
	}
	err := g.withRoom(ctx, roomID, true, func(r *Room) error {
		return r.connect(ctx, c)
	})
	if err == nil {
		g.log.LogConnect(ctx, c.ID(), roomID)
	}
	return err
}

// Message decodes one frame from c and hands it to the room. Frames that fail
// decoding are ignored.
func (g *Gateway) Message(ctx context.Context, roomID string, c Conn, data []byte) error {
	msg, err := models.DecodeInbound(data)
	if err != nil {
		g.log.LogIgnored(ctx, c.ID(), roomID, "undecodable", err.Error())
		return fmt.Errorf("%w: %w", ErrIgnored, err)
	}
	return g.withRoom(ctx, roomID, false, func(r *Room) error {
		return r.message(ctx, c, msg)
	})
}

// Close detaches c from roomID. Closing a socket whose room is gone is a no-op.
func (g *Gateway) Close(ctx context.Context, roomID string, c Conn) error {
	err := g.withRoom(ctx, roomID, false, func(r *Room) error {
		return r.close(ctx, c)
	})
	g.log.LogDisconnect(ctx, c.ID(), roomID, "closed")
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return err
}

// Inspect returns the snapshot of a live room.
func (g *Gateway) Inspect(ctx context.Context, roomID string) (any, error) {
	var out any
	err := g.withRoom(ctx, roomID, false, func(r *Room) error {
		var err error
		out, err = r.snapshot(ctx)
		return err
	})
	return out, err
}

// Lobby returns the lobby's queue depth and the game rooms it has handed out.
func (g *Gateway) Lobby(ctx context.Context) (LobbySnapshot, error) {
	var out any
	err := g.withRoom(ctx, g.lobbyID, true, func(r *Room) error {
		var err error
		out, err = r.snapshot(ctx)
		return err
	})
	if err != nil {
		return LobbySnapshot{}, err
	}
	snap, ok := out.(LobbySnapshot)
	if !ok {
		return LobbySnapshot{}, fmt.Errorf("lobby returned %T", out)
	}
	return snap, nil
}

// Rooms lists the live actors ordered by id.
func (g *Gateway) Rooms() []Summary {
	g.mu.Lock()
	out := make([]Summary, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r.Summary())
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown stops every actor and waits for them to exit.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	live := make([]*Room, 0, len(g.rooms))
	for id, r := range g.rooms {
		live = append(live, r)
		delete(g.rooms, id)
	}
	g.mu.Unlock()

	for _, r := range live {
		r.stop()
	}
	for _, r := range live {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.log.LogLifecycle(ctx, "gateway_stopped", map[string]interface{}{"rooms": len(live)})
	return nil
}

// withRoom runs fn against the actor for roomID, retrying when the actor
// exits underneath the call.
func (g *Gateway) withRoom(ctx context.Context, roomID string, create bool, fn func(*Room) error) error {
	var err error
	for range maxRoomAttempts {
		var r *Room
		r, err = g.room(roomID, create)
		if err != nil {
			return err
		}
		err = fn(r)
		if !errors.Is(err, ErrRoomStopped) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (g *Gateway) room(roomID string, create bool) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGatewayClosed
	}
	if r, ok := g.rooms[roomID]; ok {
		return r, nil
	}
	if !create {
		return nil, ErrRoomNotFound
	}

	var (
		h     Handler
		evict func(*Room) bool
	)
	if roomID == g.lobbyID {
		h = NewLobby(g.newRoomID, g.publisher)
	} else {
		h = NewGame(g.newRNG())
		evict = g.evict
	}

	r := newRoom(roomID, h, g.provider.ForRoom(roomID), g.publisher, g.queueSize, evict)
	g.rooms[roomID] = r
	go r.run()
	r.log.LogLifecycle(context.Background(), "room_started", map[string]interface{}{"room_id": roomID})
	return r, nil
}

// evict runs on r's goroutine once r has no sockets. It unregisters r unless
// more events are already waiting for it.
func (g *Gateway) evict(r *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rooms[r.id] != r {
		return true
	}
	if len(r.events) > 0 || r.Connections() > 0 {
		return false
	}
	delete(g.rooms, r.id)
	return true
}
