package web

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-coach/pkg/coach"
	"github.com/teslashibe/go-coach/pkg/hub"
	"github.com/teslashibe/go-coach/pkg/store"
)

// SessionResponse is the body of GET /api/session.
type SessionResponse struct {
	Phase   coach.Phase   `json:"phase"`
	Session coach.Session `json:"session"`
	Stats   coach.Stats   `json:"stats"`
}

// StartRequest is the optional body of POST /api/session/start.
type StartRequest struct {
	CallID   string `json:"call_id"`
	Endpoint string `json:"endpoint"`
}

// CoachRequest is the body of POST /api/coach.
type CoachRequest struct {
	Enabled *bool `json:"enabled"`
}

// wsCommand is a control message sent by a dashboard websocket client.
type wsCommand struct {
	Action  string `json:"action"` // start, stop, coach
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"ok":      true,
		"phase":   s.ctrl.Phase(),
		"clients": s.events.ClientCount(),
	})
}

// handleSession returns the current session snapshot
func (s *Server) handleSession(c *fiber.Ctx) error {
	return c.JSON(s.sessionResponse())
}

func (s *Server) sessionResponse() SessionResponse {
	return SessionResponse{
		Phase:   s.ctrl.Phase(),
		Session: s.ctrl.Snapshot(),
		Stats:   s.ctrl.Stats(),
	}
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
		}
	}

	err := s.ctrl.Start(c.UserContext(), coach.StartParams{
		CallID:   req.CallID,
		Endpoint: req.Endpoint,
	})
	if err != nil {
		return controlError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(s.sessionResponse())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.ctrl.Stop(c.UserContext()); err != nil {
		return controlError(err)
	}
	return c.JSON(s.sessionResponse())
}

func (s *Server) handleCoach(c *fiber.Ctx) error {
	var req CoachRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return fiber.NewError(fiber.StatusBadRequest, `body must be {"enabled": bool}`)
	}
	if err := s.ctrl.ToggleCoach(c.UserContext(), *req.Enabled); err != nil {
		return controlError(err)
	}
	return c.JSON(fiber.Map{"coach_enabled": *req.Enabled})
}

func (s *Server) handleListCalls(c *fiber.Ctx) error {
	if s.cfg.Archive == nil {
		return fiber.NewError(fiber.StatusNotFound, ErrNoArchive.Error())
	}
	calls, err := s.cfg.Archive.ListSessions(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"calls": calls})
}

func (s *Server) handleGetCall(c *fiber.Ctx) error {
	if s.cfg.Archive == nil {
		return fiber.NewError(fiber.StatusNotFound, ErrNoArchive.Error())
	}
	sess, err := s.cfg.Archive.GetSession(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(sess)
}

// handleEventsWS streams controller updates to a dashboard client
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	client, err := hub.NewClient(s.events, conn)
	if err != nil {
		conn.Close()
		return
	}

	// Send current state first so the page renders before the next update
	if msg, err := hub.Encode(fiber.Map{"kind": "snapshot", "snapshot": s.sessionResponse()}); err == nil {
		client.Send(msg)
	}

	client.OnMessage = s.handleWSCommand
	client.Run()
}

func (s *Server) handleWSCommand(data []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.logger.Debug("ignoring websocket message", "error", err)
		return
	}

	// Commands run detached from the socket; results arrive as updates.
	go func() {
		ctx := context.Background()
		var err error
		switch cmd.Action {
		case "start":
			err = s.ctrl.Start(ctx, coach.StartParams{})
		case "stop":
			err = s.ctrl.Stop(ctx)
		case "coach":
			err = s.ctrl.ToggleCoach(ctx, cmd.Enabled)
		default:
			s.logger.Debug("unknown websocket action", "action", cmd.Action)
			return
		}
		if err != nil {
			s.logger.Warn("websocket command failed", "action", cmd.Action, "error", err)
		}
	}()
}

// controlError maps controller errors onto HTTP status codes.
func controlError(err error) error {
	switch {
	case errors.Is(err, coach.ErrNotIdle):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, coach.ErrNotRunning):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
