package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"boardroom/internal/models"
	"boardroom/internal/notifications"
	"boardroom/internal/observability"
	"boardroom/internal/rooms"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const maxConnIDLength = 128

// WebSocketUpgrade validates the room and connection ids before the upgrade.
// The connection id comes from ?id=, then PartySocket's ?_pk=, else a fresh uuid.
func (s *Server) WebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return models.RespondWithError(c, fiber.StatusUpgradeRequired,
				models.NewValidationError("websocket upgrade required"))
		}

		roomID := c.Params("room")
		if !rooms.ValidRoomID(roomID) {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("invalid room id"))
		}

		connID := c.Query("id")
		if connID == "" {
			connID = c.Query("_pk")
		}
		if connID == "" {
			connID = rooms.NewConnectionID()
		}
		if len(connID) > maxConnIDLength {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("connection id too long"))
		}

		c.Locals("roomID", roomID)
		c.Locals("connID", connID)
		return c.Next()
	}
}

// WebSocketRoomHandler attaches one socket to its room for the socket's lifetime.
func (s *Server) WebSocketRoomHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		observability.WebSocketConnectionsTotal.Inc()
		defer observability.WebSocketConnectionsTotal.Dec()

		roomID, _ := conn.Locals("roomID").(string)
		connID, _ := conn.Locals("connID").(string)

		ctx := context.Background()
		if rid, ok := conn.Locals("requestid").(string); ok && rid != "" {
			ctx = observability.WithCorrelationID(ctx, rid)
		}

		hub := string(rooms.KindGame)
		if roomID == s.gateway.LobbyID() {
			hub = string(rooms.KindLobby)
		}
		client := notifications.NewClient(hub, conn, connID, roomID)

		if err := s.gateway.Connect(ctx, roomID, client); err != nil {
			s.wsLog.LogError(ctx, connID, roomID, err, "connect")
			rejectSocket(conn, err)
			return
		}

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			client.WritePump()
		}()

		client.IncomingHandler = func(c *notifications.Client, msg []byte) {
			if !s.frameLimiter.Allow(ctx, c.ID()) {
				s.wsLog.LogIgnored(ctx, c.ID(), roomID, "frame", "rate limited")
				return
			}
			err := s.gateway.Message(ctx, roomID, c, msg)
			if err != nil && !errors.Is(err, rooms.ErrIgnored) {
				s.wsLog.LogError(ctx, c.ID(), roomID, err, "message")
			}
		}

		client.ReadPump()

		if err := s.gateway.Close(ctx, roomID, client); err != nil {
			s.wsLog.LogError(ctx, connID, roomID, err, "close")
		}
		client.CloseSend()
		<-writerDone
	})
}

// rejectSocket tells the peer why it was refused and closes the socket.
func rejectSocket(conn *websocket.Conn, err error) {
	reason := "room unavailable"
	switch {
	case errors.Is(err, rooms.ErrDuplicateConnection):
		reason = "connection id already in use"
	case errors.Is(err, rooms.ErrInvalidRoomID):
		reason = "invalid room id"
	case errors.Is(err, rooms.ErrGatewayClosed):
		reason = "server shutting down"
	}
	payload, _ := json.Marshal(models.ErrorResponse{Error: reason})
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.Close()
}
