// Package aggregate merges the per-image prices of one station capture into
// a single record with category prices and time-bucketed snapshots.
package aggregate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/extract"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
)

// InvalidTimestampError is returned when the capture time does not follow
// models.CapturedAtLayout.
type InvalidTimestampError struct {
	Value string
	Err   error
}

func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("invalid capture timestamp %q: %v", e.Value, e.Err)
}

func (e *InvalidTimestampError) Unwrap() error { return e.Err }

// Aggregator turns OCR texts into a models.PriceRecord.
type Aggregator struct {
	loc      *time.Location
	parallel int
	logger   *slog.Logger

	table func(fuel.Vendor) (fuel.VendorTable, error)
	code  func(fuel.Vendor, string) (fuel.FuelCode, error)
}

// New creates an Aggregator. Capture timestamps are read in loc. When
// parallel is above one, up to that many images are extracted concurrently.
func New(loc *time.Location, parallel int, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		loc:      loc,
		parallel: parallel,
		logger:   logger,
		table:    fuel.Table,
		code:     fuel.Code,
	}
}

// Aggregate extracts every text in order and merges the results. A later
// image overwrites an earlier one for the same fuel code.
func (a *Aggregator) Aggregate(key models.StationKey, vendor fuel.Vendor, texts []string, capturedAt string) (models.PriceRecord, error) {
	ts, err := parseCapturedAt(capturedAt, a.loc)
	if err != nil {
		return models.PriceRecord{}, err
	}

	table, err := a.table(vendor)
	if err != nil {
		return models.PriceRecord{}, err
	}

	extracted, err := a.extractAll(key, table, texts)
	if err != nil {
		return models.PriceRecord{}, err
	}

	prices := make(map[fuel.FuelCode]decimal.Decimal)
	for _, byLabel := range extracted {
		for _, lp := range table.Labels {
			p, ok := byLabel[lp.Label]
			if !ok {
				continue
			}
			code, err := a.code(vendor, lp.Label)
			if err != nil {
				return models.PriceRecord{}, err
			}
			prices[code] = p
		}
	}

	general, err := Generalize(prices)
	if err != nil {
		return models.PriceRecord{}, err
	}

	return models.PriceRecord{
		Prices:        prices,
		GeneralPrices: general,
		Yearly:        yearly(prices, ts),
		Last24h:       last24h(prices, ts),
		CapturedAt:    ts,
	}, nil
}

// parseCapturedAt reads a capture time in the fixed layout. time.Parse
// accepts fractional seconds and single digit hours the layout does not
// name, so the width is checked as well.
func parseCapturedAt(value string, loc *time.Location) (time.Time, error) {
	if len(value) != len(models.CapturedAtLayout) {
		return time.Time{}, &InvalidTimestampError{
			Value: value,
			Err:   fmt.Errorf("want layout %q", models.CapturedAtLayout),
		}
	}
	ts, err := time.ParseInLocation(models.CapturedAtLayout, value, loc)
	if err != nil {
		return time.Time{}, &InvalidTimestampError{Value: value, Err: err}
	}
	return ts, nil
}

func (a *Aggregator) extractAll(key models.StationKey, table fuel.VendorTable, texts []string) ([]map[string]decimal.Decimal, error) {
	out := make([]map[string]decimal.Decimal, len(texts))

	var g errgroup.Group
	if a.parallel > 1 {
		g.SetLimit(a.parallel)
	} else {
		g.SetLimit(1)
	}
	for i, text := range texts {
		g.Go(func() error {
			res, err := extract.ExtractWith(table, text)
			var malformed *extract.MalformedExtractionError
			if errors.As(err, &malformed) {
				a.logger.Warn("malformed_price_board",
					"station_key", key,
					"vendor", malformed.Vendor,
					"image_index", i,
					"expected", len(malformed.Labels),
					"actual", len(malformed.Prices),
					"labels", malformed.Labels,
					"prices", malformed.Prices,
					"text", malformed.Text,
				)
				out[i] = map[string]decimal.Decimal{}
				return nil
			}
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Generalize maps every canonical price onto its category. Codes are visited
// in fuel.Codes() order, so when two codes share a category the one declared
// last wins.
func Generalize(prices map[fuel.FuelCode]decimal.Decimal) (map[fuel.Category]decimal.Decimal, error) {
	for code := range prices {
		if _, err := fuel.CategoryOf(code); err != nil {
			return nil, err
		}
	}
	general := make(map[fuel.Category]decimal.Decimal, len(prices))
	for _, code := range fuel.Codes() {
		p, ok := prices[code]
		if !ok {
			continue
		}
		cat, _ := fuel.CategoryOf(code)
		general[cat] = p
	}
	return general, nil
}

func yearly(prices map[fuel.FuelCode]decimal.Decimal, ts time.Time) models.YearlySnapshot {
	byCode := make(map[fuel.FuelCode]map[int]decimal.Decimal, len(prices))
	for code, p := range prices {
		byCode[code] = map[int]decimal.Decimal{ts.YearDay(): p}
	}
	return models.YearlySnapshot{ts.Year(): byCode}
}

func last24h(prices map[fuel.FuelCode]decimal.Decimal, ts time.Time) models.HourlySnapshot {
	snap := make(models.HourlySnapshot, len(prices))
	for code, p := range prices {
		snap[code] = map[int]decimal.Decimal{ts.Hour(): p}
	}
	return snap
}
