// Package api exposes the pipeline over HTTP for synchronous submissions
// and station lookups.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/aggregate"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/events"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/pipeline"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/store"
)

type StationProcessor interface {
	ProcessStation(ctx context.Context, payload models.RawStationPayload) (pipeline.Result, error)
}

type StationReader interface {
	Get(ctx context.Context, key models.StationKey) (models.StationDocument, error)
}

type StationHandler struct {
	processor StationProcessor
	reader    StationReader
	totals    func() map[string]int
}

// NewStationHandler creates the handler. totals may be nil.
func NewStationHandler(processor StationProcessor, reader StationReader, totals func() map[string]int) *StationHandler {
	return &StationHandler{processor: processor, reader: reader, totals: totals}
}

// NewApp builds the fiber app with all station routes.
func NewApp(h *StationHandler) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/stations", h.ProcessStation)
	app.Get("/stations/:key", h.GetStation)
	app.Get("/healthz", h.Health)
	return app
}

// ProcessStation runs one payload through the pipeline and reports how the
// store and the event bus took it.
func (h *StationHandler) ProcessStation(c *fiber.Ctx) error {
	var payload models.RawStationPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Error: "invalid_json",
		})
	}

	res, err := h.processor.ProcessStation(c.UserContext(), payload)
	if err != nil {
		var (
			validationErr *models.ValidationError
			vendorErr     *fuel.UnsupportedVendorError
			timestampErr  *aggregate.InvalidTimestampError
			imageErr      *pipeline.ImageNotFoundError
			publishErr    *events.PublishUnavailableError
		)
		switch {
		case errors.As(err, &validationErr),
			errors.As(err, &vendorErr),
			errors.As(err, &timestampErr):
			return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_station",
				Message: err.Error(),
			})
		case errors.As(err, &imageErr):
			return c.Status(http.StatusUnprocessableEntity).JSON(ErrorResponse{
				Error:   "image_not_found",
				Message: err.Error(),
			})
		case errors.As(err, &publishErr):
			// stored, but nobody was told
			return c.Status(http.StatusServiceUnavailable).JSON(ProcessStationResponse{
				Status:  "publish_unavailable",
				Key:     res.Key,
				Prices:  res.Prices,
				Outcome: res.Outcome,
				Message: err.Error(),
			})
		default:
			return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
				Error: "internal_server_error",
			})
		}
	}

	resp := ProcessStationResponse{
		Status:  string(res.Event),
		Key:     res.Key,
		Prices:  res.Prices,
		Outcome: res.Outcome,
		Receipt: &res.Receipt,
	}
	if res.Event == models.EventInsert {
		return c.Status(http.StatusCreated).JSON(resp)
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// GetStation returns the stored document for a station key.
func (h *StationHandler) GetStation(c *fiber.Ctx) error {
	doc, err := h.reader.Get(c.UserContext(), models.StationKey(c.Params("key")))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(http.StatusNotFound).JSON(ErrorResponse{
				Error: "station_not_found",
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Error: "internal_server_error",
		})
	}
	return c.Status(http.StatusOK).JSON(doc)
}

func (h *StationHandler) Health(c *fiber.Ctx) error {
	resp := HealthResponse{Status: "ok"}
	if h.totals != nil {
		resp.Outcomes = h.totals()
	}
	return c.Status(http.StatusOK).JSON(resp)
}
