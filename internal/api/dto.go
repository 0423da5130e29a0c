package api

import (
	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/events"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
)

// ProcessStationResponse is returned by POST /stations
type ProcessStationResponse struct {
	Status  string                            `json:"status"`
	Key     models.StationKey                 `json:"key"`
	Prices  map[fuel.FuelCode]decimal.Decimal `json:"prices"`
	Outcome models.UpsertOutcome              `json:"outcome"`
	Receipt *events.Receipt                   `json:"receipt,omitempty"`
	Message string                            `json:"message,omitempty"`
}

type HealthResponse struct {
	Status   string         `json:"status"`
	Outcomes map[string]int `json:"outcomes,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
