package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/flylasse/windy-trip-weather/internal/render"
	"github.com/flylasse/windy-trip-weather/internal/store"
	"github.com/flylasse/windy-trip-weather/internal/weather"
)

var validate = validator.New()

// Service is the part of weather.Service the handlers use.
type Service interface {
	RunBatch(ctx context.Context, points []weather.Point) (weather.BatchResult, error)
	CheckCredential(ctx context.Context) (weather.WeatherResult, error)
	GetBatch(id string) (weather.BatchResult, error)
	Latest() (weather.BatchResult, error)
}

// Options limits request handling.
type Options struct {
	MaxPoints int
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service Service, opts Options) {
	v1 := app.Group("/api/v1")

	v1.Post("/batches", func(c *fiber.Ctx) error {
		units, err := render.ParseUnits(c.Query("units"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		var req batchRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if opts.MaxPoints > 0 && len(req.Points) > opts.MaxPoints {
			return fiber.NewError(fiber.StatusBadRequest,
				fmt.Sprintf("too many points: %d (max %d)", len(req.Points), opts.MaxPoints))
		}

		batch, err := service.RunBatch(c.UserContext(), req.toPoints())
		if err != nil {
			return configError(err)
		}

		return c.Status(fiber.StatusCreated).JSON(batchResponse(batch, units))
	})

	v1.Get("/batches/latest", func(c *fiber.Ctx) error {
		units, err := render.ParseUnits(c.Query("units"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		batch, err := service.Latest()
		if err != nil {
			return lookupError(err)
		}
		return c.JSON(batchResponse(batch, units))
	})

	v1.Get("/batches/:id", func(c *fiber.Ctx) error {
		units, err := render.ParseUnits(c.Query("units"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		batch, err := service.GetBatch(c.Params("id"))
		if err != nil {
			return lookupError(err)
		}
		return c.JSON(batchResponse(batch, units))
	})

	v1.Post("/credential/check", func(c *fiber.Ctx) error {
		units, err := render.ParseUnits(c.Query("units"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 30*time.Second)
		defer cancel()

		result, err := service.CheckCredential(ctx)
		if err != nil {
			if errors.Is(err, weather.ErrMissingCredential) {
				return configError(err)
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   true,
				"kind":    weather.Kind(err),
				"message": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"ok":      true,
			"point":   weather.ProbePoint.Name,
			"result":  result,
			"summary": render.Summary(result, units),
		})
	})
}

func batchResponse(batch weather.BatchResult, units render.Units) fiber.Map {
	return fiber.Map{
		"batch":     batch,
		"succeeded": batch.Succeeded(),
		"failed":    batch.Failed(),
		"units":     units,
		"lines":     render.Lines(batch, units),
	}
}

func configError(err error) error {
	if errors.Is(err, weather.ErrMissingCredential) {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

func lookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no batch result for requested id")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch batch result")
}

// batchRequest is the body of POST /api/v1/batches.
type batchRequest struct {
	Points []pointRequest `json:"points" validate:"required,min=1,dive"`
}

type pointRequest struct {
	Name string     `json:"name"`
	Lat  *float64   `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon  *float64   `json:"lon" validate:"required,gte=-180,lte=180"`
	Time *time.Time `json:"time"`
}

func (r batchRequest) toPoints() []weather.Point {
	points := make([]weather.Point, 0, len(r.Points))
	for i, p := range r.Points {
		pt := weather.Point{
			ID:        i,
			Name:      p.Name,
			Latitude:  *p.Lat,
			Longitude: *p.Lon,
		}
		if p.Time != nil {
			pt.Time = p.Time.UTC()
		}
		points = append(points, pt)
	}
	return points
}
