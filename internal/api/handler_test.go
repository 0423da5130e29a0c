package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/aggregate"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/api"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/events"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/pipeline"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/store"
)

const stationKey = "6f1f1d2e-8a57-4c1e-9b2f-0f4e3f7c2d11"

// Fake pipeline implementing the interface that handler depends on.
type fakeProcessor struct {
	ProcessFn func(ctx context.Context, payload models.RawStationPayload) (pipeline.Result, error)
	last      models.RawStationPayload
	called    bool
}

func (f *fakeProcessor) ProcessStation(ctx context.Context, payload models.RawStationPayload) (pipeline.Result, error) {
	f.called = true
	f.last = payload
	if f.ProcessFn != nil {
		return f.ProcessFn(ctx, payload)
	}
	return pipeline.Result{}, nil
}

type fakeReader struct {
	GetFn func(ctx context.Context, key models.StationKey) (models.StationDocument, error)
}

func (f *fakeReader) Get(ctx context.Context, key models.StationKey) (models.StationDocument, error) {
	return f.GetFn(ctx, key)
}

func setupApp(t *testing.T, p api.StationProcessor, r api.StationReader) *fiber.App {
	t.Helper()
	return api.NewApp(api.NewStationHandler(p, r, func() map[string]int {
		return map[string]int{"insert": 2}
	}))
}

func postStation(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/stations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

const validBody = `{"key":"` + stationKey + `","name":"BS Koper","scraper":"petrol","scraped_at":"2024-04-09 08:15:00","images":[{"path":"full/a.jpg"}]}`

// ------------------------------------------------------------
// POST /stations: insert and update
// ------------------------------------------------------------

func TestProcessStation_Inserted(t *testing.T) {
	p := &fakeProcessor{
		ProcessFn: func(ctx context.Context, payload models.RawStationPayload) (pipeline.Result, error) {
			return pipeline.Result{
				Key:     payload.Key,
				Prices:  map[fuel.FuelCode]decimal.Decimal{fuel.CodeDiesel: decimal.RequireFromString("1.12")},
				Event:   models.EventInsert,
				Outcome: models.UpsertOutcome{UpsertedID: "abc"},
				Receipt: events.Receipt{Channel: events.ChannelStationInsert, Offset: 7},
			}, nil
		},
	}
	app := setupApp(t, p, nil)

	resp := postStation(t, app, validBody)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}
	if p.last.Scraper != "petrol" || len(p.last.Images) != 1 {
		t.Fatalf("unexpected payload passed on: %+v", p.last)
	}

	var body api.ProcessStationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "insert" || body.Receipt == nil || body.Receipt.Offset != 7 {
		t.Fatalf("unexpected body %+v", body)
	}
	if !body.Prices[fuel.CodeDiesel].Equal(decimal.RequireFromString("1.12")) {
		t.Fatalf("unexpected prices %v", body.Prices)
	}
}

func TestProcessStation_Updated(t *testing.T) {
	p := &fakeProcessor{
		ProcessFn: func(ctx context.Context, payload models.RawStationPayload) (pipeline.Result, error) {
			return pipeline.Result{Key: payload.Key, Event: models.EventUpdate, Outcome: models.UpsertOutcome{MatchedCount: 1}}, nil
		},
	}
	app := setupApp(t, p, nil)

	resp := postStation(t, app, validBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

// ------------------------------------------------------------
// POST /stations: errors
// ------------------------------------------------------------

func TestProcessStation_InvalidJSON(t *testing.T) {
	p := &fakeProcessor{
		ProcessFn: func(ctx context.Context, payload models.RawStationPayload) (pipeline.Result, error) {
			t.Fatalf("pipeline should not be called on invalid json")
			return pipeline.Result{}, nil
		},
	}
	app := setupApp(t, p, nil)

	resp := postStation(t, app, `{"key":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestProcessStation_PipelineErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &models.ValidationError{Fields: []string{"name is required"}}, http.StatusBadRequest},
		{"unsupported_vendor", &fuel.UnsupportedVendorError{Vendor: "shell"}, http.StatusBadRequest},
		{"invalid_timestamp", &aggregate.InvalidTimestampError{Value: "yesterday", Err: errors.New("bad")}, http.StatusBadRequest},
		{"image_not_found", &pipeline.ImageNotFoundError{Path: "data/full/a.jpg", Err: errors.New("missing")}, http.StatusUnprocessableEntity},
		{"publish_unavailable", &events.PublishUnavailableError{Channel: events.ChannelStationUpdate, Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"store_down", errors.New("upsert station: connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{
				ProcessFn: func(ctx context.Context, payload models.RawStationPayload) (pipeline.Result, error) {
					return pipeline.Result{Key: payload.Key}, tt.err
				},
			}
			app := setupApp(t, p, nil)

			resp := postStation(t, app, validBody)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

// ------------------------------------------------------------
// GET /stations/:key
// ------------------------------------------------------------

func TestGetStation(t *testing.T) {
	r := &fakeReader{
		GetFn: func(ctx context.Context, key models.StationKey) (models.StationDocument, error) {
			if key != stationKey {
				return models.StationDocument{}, store.ErrNotFound
			}
			return models.StationDocument{ID: "id-1", Identity: models.Identity{Key: key, Name: "BS Koper"}}, nil
		},
	}
	app := setupApp(t, nil, r)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stations/"+stationKey, nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["name"] != "BS Koper" || doc["key"] != stationKey {
		t.Fatalf("unexpected document %v", doc)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/stations/00000000-0000-4000-8000-000000000000", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}

	// keys are opaque, a non-UUID key is looked up like any other
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/stations/station-koper-1", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}

// ------------------------------------------------------------
// GET /healthz
// ------------------------------------------------------------

func TestHealth(t *testing.T) {
	app := setupApp(t, nil, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	var body api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Outcomes["insert"] != 2 {
		t.Fatalf("unexpected health %+v", body)
	}
}
