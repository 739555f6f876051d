// Package notifications carries room traffic between sockets, rooms and the Redis event feed.
package notifications

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"

	"boardroom/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "room:"

	// MatchChannel carries one message per lobby pairing.
	MatchChannel = "lobby:matches"
)

// Notifier publishes room broadcasts and lobby matches into Redis channels.
// A Notifier without a Redis client does nothing.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishRoomEvent mirrors a room broadcast to the room's channel.
func (n *Notifier) PublishRoomEvent(ctx context.Context, roomID string, payload []byte) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, RoomChannel(roomID), payload).Err()
}

// PublishMatch announces a lobby pairing.
func (n *Notifier) PublishMatch(ctx context.Context, payload []byte) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, MatchChannel, payload).Err()
}

// StartFeedSubscriber subscribes to every room channel and the match channel
// and calls onMessage for each incoming message until ctx ends.
func (n *Notifier) StartFeedSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, roomChannelPrefix+"*", MatchChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("feed subscriber panicked",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// RoomChannel derives the Redis channel name for a room.
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// RoomFromChannel extracts the room id from a room channel name.
func RoomFromChannel(channel string) (string, bool) {
	return strings.CutPrefix(channel, roomChannelPrefix)
}
