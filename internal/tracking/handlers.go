package tracking

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

type stopResponse struct {
	Snapshot
	Record *Record `json:"record"`
}

// MaxFixBatch caps the fixes accepted by one POST /tracking/fixes.
const MaxFixBatch = 1000

type fixBatchResult struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

type locationErrorRequest struct {
	Message string `json:"message"`
}

func RegisterRoutes(r fiber.Router, mgr *Manager, authMiddleware fiber.Handler) {
	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		s, err := mgr.Session(userID(c))
		if err != nil {
			return statusError(err)
		}
		if err := s.Tracker.Start(c.UserContext()); err != nil {
			return statusError(err)
		}
		return c.JSON(s.Tracker.Snapshot())
	})

	r.Post("/pause", authMiddleware, func(c *fiber.Ctx) error {
		s, err := mgr.Session(userID(c))
		if err != nil {
			return statusError(err)
		}
		if err := s.Tracker.Pause(); err != nil {
			return statusError(err)
		}
		return c.JSON(s.Tracker.Snapshot())
	})

	r.Post("/resume", authMiddleware, func(c *fiber.Ctx) error {
		s, err := mgr.Session(userID(c))
		if err != nil {
			return statusError(err)
		}
		if err := s.Tracker.Resume(); err != nil {
			return statusError(err)
		}
		return c.JSON(s.Tracker.Snapshot())
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		s, err := mgr.Session(userID(c))
		if err != nil {
			return statusError(err)
		}
		rec, ok, err := s.Tracker.Stop()
		if err != nil {
			return statusError(err)
		}
		resp := stopResponse{Snapshot: s.Tracker.Snapshot()}
		if ok {
			resp.Record = &rec
		}
		return c.JSON(resp)
	})

	r.Post("/fixes", authMiddleware, func(c *fiber.Ctx) error {
		var fixes []Fix
		if err := c.BodyParser(&fixes); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if len(fixes) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "at least one fix required")
		}
		if len(fixes) > MaxFixBatch {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d fixes per request", MaxFixBatch))
		}
		for _, f := range fixes {
			if f.Lat < -90 || f.Lat > 90 || f.Lng < -180 || f.Lng > 180 || f.Accuracy < 0 {
				return fiber.NewError(fiber.StatusBadRequest, "fix out of range")
			}
		}
		s, err := mgr.Session(userID(c))
		if err != nil {
			return statusError(err)
		}
		var res fixBatchResult
		now := time.Now()
		for _, f := range fixes {
			if f.RecordedAt.IsZero() {
				f.RecordedAt = now
			}
			err := s.Push(f)
			switch {
			case err == nil:
				res.Accepted++
			case errors.Is(err, ErrFixRejected):
				res.Rejected++
			case res.Accepted+res.Rejected == 0:
				return statusError(err)
			default:
				// the prefix is already in the track; tell the client where it stopped
				res.Error = err.Error()
				return c.Status(errorStatus(err)).JSON(res)
			}
		}
		if res.Accepted == 0 {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
		}
		return c.Status(fiber.StatusAccepted).JSON(res)
	})

	r.Post("/location-error", authMiddleware, func(c *fiber.Ctx) error {
		var req locationErrorRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Message == "" {
			return fiber.NewError(fiber.StatusBadRequest, "message required")
		}
		s, err := mgr.Session(userID(c))
		if err != nil {
			return statusError(err)
		}
		if err := s.ReportLocationError(errors.New(req.Message)); err != nil {
			return statusError(err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Get("/state", authMiddleware, func(c *fiber.Ctx) error {
		s, ok := mgr.Lookup(userID(c))
		if !ok {
			return c.JSON(Snapshot{State: StateIdle, Fixes: []Fix{}})
		}
		return c.JSON(s.Tracker.Snapshot())
	})

	r.Get("/pending", authMiddleware, func(c *fiber.Ctx) error {
		s, ok := mgr.Lookup(userID(c))
		if !ok {
			return c.JSON([]Record{})
		}
		return c.JSON(s.Tracker.Pending())
	})

	r.Post("/pending/retry", authMiddleware, func(c *fiber.Ctx) error {
		s, ok := mgr.Lookup(userID(c))
		if !ok {
			return c.JSON([]Record{})
		}
		if err := s.Tracker.RetryPending(c.UserContext()); err != nil {
			return statusError(err)
		}
		return c.JSON(s.Tracker.Pending())
	})

	r.Delete("/session", authMiddleware, func(c *fiber.Ctx) error {
		if !mgr.Remove(userID(c)) {
			return fiber.NewError(fiber.StatusNotFound, "no tracking session")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func statusError(err error) error {
	return fiber.NewError(errorStatus(err), err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrClosed):
		return fiber.StatusGone
	case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrLocationUnavailable):
		return fiber.StatusConflict
	case errors.Is(err, ErrFixRejected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ErrPersistenceFailure):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
