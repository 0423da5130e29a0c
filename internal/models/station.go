package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
)

// CapturedAtLayout is the timestamp format the scraper writes.
const CapturedAtLayout = "2006-01-02 15:04:05"

// StationKey is the globally unique, immutable station identifier.
type StationKey string

// YearlySnapshot indexes prices by year, fuel code and day of year.
type YearlySnapshot map[int]map[fuel.FuelCode]map[int]decimal.Decimal

// HourlySnapshot indexes prices by fuel code and hour of day.
type HourlySnapshot map[fuel.FuelCode]map[int]decimal.Decimal

// PriceRecord is the aggregated result of all images of one capture.
type PriceRecord struct {
	Prices        map[fuel.FuelCode]decimal.Decimal
	GeneralPrices map[fuel.Category]decimal.Decimal
	Yearly        YearlySnapshot
	Last24h       HourlySnapshot
	CapturedAt    time.Time
}

// GeoPoint is a GeoJSON point, coordinates are [lon, lat].
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewPoint builds a GeoJSON point from longitude and latitude.
func NewPoint(lon, lat float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lon, lat}}
}

// Identity holds fields written once, when the station is first stored.
type Identity struct {
	Key        StationKey `json:"key"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Company    string     `json:"company"`
	XID        string     `json:"xid"`
	XCode      string     `json:"xcode"`
	ScrapedAt  time.Time  `json:"scraped_at"`
	ScrapedURL string     `json:"scraped_url"`
	Loc        GeoPoint   `json:"loc"`
}

// Mutable holds fields set on every capture.
type Mutable struct {
	Prices        map[fuel.FuelCode]decimal.Decimal `json:"prices"`
	GeneralPrices map[fuel.Category]decimal.Decimal `json:"general_prices"`
	PricesYearly  YearlySnapshot                    `json:"prices_yearly"`
	PricesLast24h HourlySnapshot                    `json:"prices_last_24h"`
	Meta          map[string]any                    `json:"meta"`
	UpdatedAt     time.Time                         `json:"updated_at"`
}

// StationDocument is the persisted station.
type StationDocument struct {
	ID string `json:"id"`
	Identity
	Mutable
}

// NewDocument creates the document written by a first insert.
func NewDocument(id string, ident Identity, m Mutable) StationDocument {
	doc := StationDocument{ID: id, Identity: ident}
	doc.Apply(m)
	return doc
}

// Apply merges m into the document field path by field path: prices per
// code, general prices per category, snapshots per (year, code, day) and
// (code, hour), meta per top-level key. It reports whether anything changed.
// Identity fields are never touched.
func (d *StationDocument) Apply(m Mutable) bool {
	before, _ := json.Marshal(d.Mutable)

	if d.Prices == nil {
		d.Prices = make(map[fuel.FuelCode]decimal.Decimal, len(m.Prices))
	}
	for code, p := range m.Prices {
		d.Prices[code] = p
	}

	if d.GeneralPrices == nil {
		d.GeneralPrices = make(map[fuel.Category]decimal.Decimal, len(m.GeneralPrices))
	}
	for cat, p := range m.GeneralPrices {
		d.GeneralPrices[cat] = p
	}

	if d.PricesYearly == nil {
		d.PricesYearly = make(YearlySnapshot, len(m.PricesYearly))
	}
	for year, codes := range m.PricesYearly {
		if d.PricesYearly[year] == nil {
			d.PricesYearly[year] = make(map[fuel.FuelCode]map[int]decimal.Decimal, len(codes))
		}
		for code, days := range codes {
			if d.PricesYearly[year][code] == nil {
				d.PricesYearly[year][code] = make(map[int]decimal.Decimal, len(days))
			}
			for day, p := range days {
				d.PricesYearly[year][code][day] = p
			}
		}
	}

	if d.PricesLast24h == nil {
		d.PricesLast24h = make(HourlySnapshot, len(m.PricesLast24h))
	}
	for code, hours := range m.PricesLast24h {
		if d.PricesLast24h[code] == nil {
			d.PricesLast24h[code] = make(map[int]decimal.Decimal, len(hours))
		}
		for hour, p := range hours {
			d.PricesLast24h[code][hour] = p
		}
	}

	if d.Meta == nil {
		d.Meta = make(map[string]any, len(m.Meta))
	}
	for k, v := range m.Meta {
		d.Meta[k] = v
	}

	if !m.UpdatedAt.IsZero() {
		d.UpdatedAt = m.UpdatedAt
	}

	after, _ := json.Marshal(d.Mutable)
	return !bytes.Equal(before, after)
}

// Clone returns a deep copy, so callers never share maps with a store.
func (d StationDocument) Clone() StationDocument {
	out := StationDocument{ID: d.ID, Identity: d.Identity}
	out.Apply(d.Mutable)
	return out
}
