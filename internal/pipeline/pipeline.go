// Package pipeline drives one scraped station from raw payload to stored
// document and published event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/events"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/ocr"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/store"
)

// downloadedPrefix marks image paths relative to the images directory, as
// written by the crawler's file store.
const downloadedPrefix = "full/"

// ImageNotFoundError is returned when an image referenced by the payload is
// not on disk.
type ImageNotFoundError struct {
	Path string
	Err  error
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("image %s does not exist: %v", e.Path, e.Err)
}

func (e *ImageNotFoundError) Unwrap() error { return e.Err }

// Aggregator turns OCR texts into a price record.
type Aggregator interface {
	Aggregate(key models.StationKey, vendor fuel.Vendor, texts []string, capturedAt string) (models.PriceRecord, error)
}

// Publisher broadcasts the outcome of a store write.
type Publisher interface {
	Publish(ctx context.Context, outcome models.UpsertOutcome, doc models.StationDocument) (events.Receipt, error)
}

// HistorySink records captured prices as time series.
type HistorySink interface {
	WriteStationPrices(doc models.StationDocument, rec models.PriceRecord) error
}

// Result summarizes one processed station.
type Result struct {
	Key     models.StationKey                 `json:"key"`
	Prices  map[fuel.FuelCode]decimal.Decimal `json:"prices"`
	Event   models.EventType                  `json:"event"`
	Outcome models.UpsertOutcome              `json:"outcome"`
	Receipt events.Receipt                    `json:"receipt"`
}

// Pipeline processes station payloads. It is safe for concurrent use when
// its dependencies are.
type Pipeline struct {
	recognizer ocr.Recognizer
	aggregator Aggregator
	store      store.Store
	publisher  Publisher
	history    HistorySink
	imagesDir  string
	now        func() time.Time
	logger     *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithHistory writes every capture to h after the store write.
func WithHistory(h HistorySink) Option {
	return func(p *Pipeline) { p.history = h }
}

// WithImagesDir sets the directory crawler-relative image paths live under.
func WithImagesDir(dir string) Option {
	return func(p *Pipeline) { p.imagesDir = dir }
}

// WithClock replaces time.Now for the updated_at field.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New wires a Pipeline from its collaborators.
func New(recognizer ocr.Recognizer, aggregator Aggregator, st store.Store, publisher Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		recognizer: recognizer,
		aggregator: aggregator,
		store:      st,
		publisher:  publisher,
		imagesDir:  "data",
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessStation validates the payload, reads its images, aggregates the
// prices, upserts the station and publishes the change. Everything that can
// reject the station runs before the store is touched. A publish failure is
// returned together with the result of the committed write.
func (p *Pipeline) ProcessStation(ctx context.Context, payload models.RawStationPayload) (Result, error) {
	if err := payload.Validate(); err != nil {
		return Result{}, err
	}
	vendor, err := fuel.ParseVendor(payload.Scraper)
	if err != nil {
		return Result{}, err
	}

	paths, err := p.resolveImages(payload.ImagePaths())
	if err != nil {
		return Result{}, err
	}
	texts, err := p.recognizer.Recognize(ctx, paths)
	if err != nil {
		return Result{}, fmt.Errorf("recognize images of station %s: %w", payload.Key, err)
	}
	if len(texts) != len(paths) {
		return Result{}, fmt.Errorf("recognize images of station %s: got %d texts for %d images", payload.Key, len(texts), len(paths))
	}

	rec, err := p.aggregator.Aggregate(payload.Key, vendor, texts, payload.ScrapedAt)
	if err != nil {
		return Result{}, err
	}

	ident := models.Identity{
		Key:        payload.Key,
		Name:       payload.Name,
		Address:    payload.Address,
		Company:    string(vendor),
		XID:        payload.XID,
		XCode:      payload.XCode,
		ScrapedAt:  rec.CapturedAt.UTC(),
		ScrapedURL: payload.ScrapedURL,
		Loc:        models.NewPoint(payload.Lon, payload.Lat),
	}
	m := models.Mutable{
		Prices:        rec.Prices,
		GeneralPrices: rec.GeneralPrices,
		PricesYearly:  rec.Yearly,
		PricesLast24h: rec.Last24h,
		Meta:          payload.Meta(),
		UpdatedAt:     p.now().UTC(),
	}

	doc, outcome, err := p.store.Upsert(ctx, ident, m)
	if err != nil {
		return Result{}, fmt.Errorf("upsert station %s: %w", payload.Key, err)
	}

	res := Result{
		Key:     payload.Key,
		Prices:  rec.Prices,
		Event:   events.Classify(outcome),
		Outcome: outcome,
	}

	if p.history != nil {
		if err := p.history.WriteStationPrices(doc, rec); err != nil {
			p.logger.Warn("price_history_write_failed", "station_key", payload.Key, "error", err)
		}
	}

	receipt, err := p.publisher.Publish(ctx, outcome, doc)
	if err != nil {
		p.logger.Error("station_event_publish_failed",
			"station_key", payload.Key,
			"event", res.Event,
			"error", err,
		)
		return res, err
	}
	res.Receipt = receipt

	p.logger.Info("station_processed",
		"station_key", payload.Key,
		"vendor", vendor,
		"event", res.Event,
		"prices", len(rec.Prices),
		"channel", receipt.Channel,
	)
	return res, nil
}

func (p *Pipeline) resolveImages(paths []string) ([]string, error) {
	resolved := make([]string, 0, len(paths))
	for _, path := range paths {
		final := path
		if strings.HasPrefix(path, downloadedPrefix) {
			final = filepath.Join(p.imagesDir, path)
		}
		if _, err := os.Stat(final); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, &ImageNotFoundError{Path: final, Err: err}
			}
			return nil, fmt.Errorf("stat image %s: %w", final, err)
		}
		resolved = append(resolved, final)
	}
	return resolved, nil
}
