package server

import (
	"errors"

	"boardroom/internal/models"
	"boardroom/internal/rooms"

	"github.com/gofiber/fiber/v2"
)

// GetLobby reports queue depth and the game rooms handed out so far.
func (s *Server) GetLobby(c *fiber.Ctx) error {
	snap, err := s.gateway.Lobby(c.UserContext())
	if err != nil {
		return s.roomError(c, s.gateway.LobbyID(), err)
	}
	if snap.ActiveGames == nil {
		snap.ActiveGames = []string{}
	}
	return c.JSON(snap)
}

// ListRooms lists rooms that currently have a live actor.
func (s *Server) ListRooms(c *fiber.Ctx) error {
	return c.JSON(s.gateway.Rooms())
}

// GetRoom returns the snapshot of one live room.
func (s *Server) GetRoom(c *fiber.Ctx) error {
	id := c.Params("id")
	if !rooms.ValidRoomID(id) {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("invalid room id"))
	}
	snap, err := s.gateway.Inspect(c.UserContext(), id)
	if err != nil {
		return s.roomError(c, id, err)
	}
	return c.JSON(snap)
}

func (s *Server) roomError(c *fiber.Ctx, id string, err error) error {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("room", id))
	case errors.Is(err, rooms.ErrGatewayClosed), errors.Is(err, rooms.ErrRoomStopped):
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewUnavailableError("room unavailable", err))
	}
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}
