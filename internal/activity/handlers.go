package activity

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func RegisterRoutes(r fiber.Router, store *Store, authMiddleware fiber.Handler) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		records, err := store.List(c.Context(), userID(c), c.QueryInt("limit", 50))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(records)
	})

	r.Get("/totals", authMiddleware, func(c *fiber.Ctx) error {
		totals, err := store.Totals(c.Context(), userID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(totals)
	})

	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req ManualInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		rec, err := store.CreateManual(c.Context(), userID(c), req)
		if err != nil {
			return storeError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(rec)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := activityID(c)
		if err != nil {
			return storeError(err)
		}
		rec, err := store.Get(c.Context(), userID(c), id)
		if err != nil {
			return storeError(err)
		}
		return c.JSON(rec)
	})

	r.Get("/:id/gpx", authMiddleware, func(c *fiber.Ctx) error {
		id, err := activityID(c)
		if err != nil {
			return storeError(err)
		}
		rec, err := store.Get(c.Context(), userID(c), id)
		if err != nil {
			return storeError(err)
		}
		data, err := GPX(rec)
		if err != nil {
			return storeError(err)
		}
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+rec.ID+`.gpx"`)
		return c.Send(data)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := activityID(c)
		if err != nil {
			return storeError(err)
		}
		if err := store.Delete(c.Context(), userID(c), id); err != nil {
			return storeError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

// activityID reads the :id param. Ids are uuids, anything else cannot exist.
func activityID(c *fiber.Ctx) (string, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return "", ErrNotFound
	}
	return id.String(), nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
