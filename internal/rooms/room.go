package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"boardroom/internal/models"
	"boardroom/internal/observability"
	"boardroom/internal/repository"
)

const (
	eventConnect  = "connect"
	eventMessage  = "message"
	eventClose    = "close"
	eventSnapshot = "snapshot"
)

type event struct {
	ctx    context.Context
	name   string
	connID string
	kind   models.MessageType
	fn     func(ctx context.Context) error
	reply  chan error
}

func (e event) label() string {
	if e.kind != "" {
		return string(e.kind)
	}
	return e.name
}

// Room is one actor. Its connection set and its handler's state are only
// touched on the run goroutine.
type Room struct {
	id        string
	handler   Handler
	store     repository.Store
	publisher Publisher
	log       *observability.WSLogger

	conns       map[string]Conn
	connCount   atomic.Int32
	initialized bool

	events chan event
	quit   chan struct{}
	done   chan struct{}

	// evict is asked, on the run goroutine, whether an empty room may exit.
	evict func(*Room) bool
}

func newRoom(id string, h Handler, store repository.Store, pub Publisher, queue int, evict func(*Room) bool) *Room {
	return &Room{
		id:        id,
		handler:   h,
		store:     store,
		publisher: pub,
		log:       observability.NewWSLogger(string(h.Kind())),
		conns:     make(map[string]Conn),
		events:    make(chan event, queue),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		evict:     evict,
	}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Kind returns the room variant.
func (r *Room) Kind() Kind { return r.handler.Kind() }

// Store returns the room's isolated store.
func (r *Room) Store() repository.Store { return r.store }

// Connections returns the number of sockets attached to the room.
func (r *Room) Connections() int { return int(r.connCount.Load()) }

// Summary describes the room without entering the actor.
func (r *Room) Summary() Summary {
	return Summary{ID: r.id, Kind: r.Kind(), Connections: r.Connections()}
}

func (r *Room) run() {
	defer close(r.done)
	kind := string(r.Kind())
	observability.RoomsActive.WithLabelValues(kind).Inc()
	defer observability.RoomsActive.WithLabelValues(kind).Dec()

	for {
		select {
		case ev := <-r.events:
			ev.reply <- r.process(ev)
			if len(r.conns) == 0 && r.evict != nil && r.evict(r) {
				r.log.LogLifecycle(context.Background(), "room_evicted", map[string]interface{}{"room_id": r.id})
				return
			}
		case <-r.quit:
			return
		}
	}
}

func (r *Room) process(ev event) (err error) {
	span, ctx := observability.StartRoomEvent(ev.ctx, r.id, string(r.Kind()), ev.name, ev.connID)
	defer func() {
		if rec := recover(); rec != nil {
			observability.GlobalLogger.ErrorContext(ctx, "room event panicked",
				slog.String("room_id", r.id),
				slog.String("event", ev.name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("room %s: %s panicked: %v", r.id, ev.name, rec)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrIgnored):
			r.log.LogIgnored(ctx, ev.connID, r.id, ev.label(), err.Error())
		default:
			span.SetError(err)
			r.log.LogError(ctx, ev.connID, r.id, err, ev.label())
		}
		span.End()
	}()

	observability.RoomEvents.WithLabelValues(string(r.Kind()), ev.name).Inc()

	if !r.initialized {
		if ini, ok := r.handler.(initializer); ok {
			if err := ini.Init(ctx, r); err != nil {
				return fmt.Errorf("init room %s: %w", r.id, err)
			}
		}
		r.initialized = true
	}
	return ev.fn(ctx)
}

// submit queues fn on the actor and waits for it to finish. If ctx ends
// first the caller stops waiting but the event still runs.
func (r *Room) submit(ctx context.Context, name, connID string, fn func(ctx context.Context) error) error {
	return r.enqueue(ctx, event{
		ctx:    context.WithoutCancel(ctx),
		name:   name,
		connID: connID,
		fn:     fn,
		reply:  make(chan error, 1),
	})
}

func (r *Room) enqueue(ctx context.Context, ev event) error {
	select {
	case r.events <- ev:
	case <-r.done:
		return ErrRoomStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.reply:
		return err
	case <-r.done:
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrRoomStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) connect(ctx context.Context, c Conn) error {
	return r.submit(ctx, eventConnect, c.ID(), func(ctx context.Context) error {
		if _, dup := r.conns[c.ID()]; dup {
			return ErrDuplicateConnection
		}
		r.attach(c)
		if err := r.handler.OnConnect(ctx, r, c); err != nil {
			r.detach(c)
			return err
		}
		return nil
	})
}

func (r *Room) message(ctx context.Context, c Conn, msg models.Inbound) error {
	r.log.LogMessage(ctx, c.ID(), r.id, string(msg.Kind()))
	return r.enqueue(ctx, event{
		ctx:    context.WithoutCancel(ctx),
		name:   eventMessage,
		connID: c.ID(),
		kind:   msg.Kind(),
		fn: func(ctx context.Context) error {
			return r.handler.OnMessage(ctx, r, c, msg)
		},
		reply: make(chan error, 1),
	})
}

func (r *Room) close(ctx context.Context, c Conn) error {
	return r.submit(ctx, eventClose, c.ID(), func(ctx context.Context) error {
		if !r.detach(c) {
			return nil
		}
		return r.handler.OnClose(ctx, r, c)
	})
}

func (r *Room) snapshot(ctx context.Context) (any, error) {
	var out any
	err := r.submit(ctx, eventSnapshot, "", func(ctx context.Context) error {
		var err error
		out, err = r.handler.Snapshot(ctx, r)
		return err
	})
	return out, err
}

func (r *Room) stop() {
	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
}

func (r *Room) attach(c Conn) {
	r.conns[c.ID()] = c
	r.connCount.Store(int32(len(r.conns)))
}

// detach removes c if it is the socket registered under its id.
func (r *Room) detach(c Conn) bool {
	if cur, ok := r.conns[c.ID()]; !ok || cur != c {
		return false
	}
	delete(r.conns, c.ID())
	r.connCount.Store(int32(len(r.conns)))
	return true
}

// Broadcast sends v to every socket in the room. Call only from a handler.
func (r *Room) Broadcast(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	for _, c := range r.conns {
		c.TrySend(payload)
	}
	if r.publisher != nil {
		if err := r.publisher.PublishRoomEvent(ctx, r.id, payload); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "room event publish failed",
				slog.String("room_id", r.id), slog.String("error", err.Error()))
		}
	}
	return nil
}

// SendTo sends v to one socket. Call only from a handler.
func (r *Room) SendTo(c Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.TrySend(payload)
	return nil
}

// Conn returns the attached socket with the given id. Call only from a handler.
func (r *Room) Conn(id string) (Conn, bool) {
	c, ok := r.conns[id]
	return c, ok
}
