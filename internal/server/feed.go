package server

import (
	"context"
	"log/slog"

	"boardroom/internal/notifications"
	"boardroom/internal/observability"
	"boardroom/internal/rooms"
)

// startFeed subscribes to the Redis room feed when publishing is enabled.
func (s *Server) startFeed(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.StartFeedSubscriber(ctx, s.handleFeedEvent)
}

// handleFeedEvent counts one feed message by the kind of room it came from.
// Every process on the same Redis sees every room, including rooms it does not host.
func (s *Server) handleFeedEvent(channel, payload string) {
	kind := "match"
	roomID, isRoom := notifications.RoomFromChannel(channel)
	switch {
	case isRoom && roomID == s.gateway.LobbyID():
		kind = string(rooms.KindLobby)
	case isRoom:
		kind = string(rooms.KindGame)
	case channel != notifications.MatchChannel:
		observability.GlobalLogger.Warn("unexpected feed channel", slog.String("channel", channel))
		return
	}
	observability.FeedEvents.WithLabelValues(kind).Inc()

	observability.GlobalLogger.Debug("room feed event",
		slog.String("kind", kind),
		slog.String("room_id", roomID),
		slog.Int("bytes", len(payload)),
	)
}
