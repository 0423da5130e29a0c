// Package models defines the station payloads, documents and events that
// flow through the pipeline.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ImageRef points at a downloaded station image.
type ImageRef struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
}

// RawStationPayload is one scraped station as handed over by the crawler.
type RawStationPayload struct {
	Key        StationKey `json:"key"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Lon        float64    `json:"lon"`
	Lat        float64    `json:"lat"`
	Scraper    string     `json:"scraper"`
	XID        string     `json:"xid"`
	XCode      string     `json:"xcode"`
	ScrapedAt  string     `json:"scraped_at"`
	ScrapedURL string     `json:"scraped_url"`
	Images     []ImageRef `json:"images"`

	Services            json.RawMessage `json:"services,omitempty"`
	ServicesHumans      json.RawMessage `json:"services_humans,omitempty"`
	ShoppingHours       json.RawMessage `json:"shopping_hours,omitempty"`
	ShoppingHoursHumans json.RawMessage `json:"shopping_hours_humans,omitempty"`
}

// ValidationError lists the payload fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid station payload: %s", strings.Join(e.Fields, ", "))
}

// Validate checks the fields the pipeline cannot do without. The capture
// time is left to the aggregator and an empty image list is allowed.
func (p RawStationPayload) Validate() error {
	var bad []string
	if strings.TrimSpace(string(p.Key)) == "" {
		bad = append(bad, "key is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		bad = append(bad, "name is required")
	}
	if p.Scraper == "" {
		bad = append(bad, "scraper is required")
	}
	for i, img := range p.Images {
		if img.Path == "" {
			bad = append(bad, fmt.Sprintf("images[%d].path is required", i))
		}
	}
	if p.Lon < -180 || p.Lon > 180 || p.Lat < -90 || p.Lat > 90 {
		bad = append(bad, "lon/lat out of range")
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad}
	}
	return nil
}

// Meta collects the pass-through schedule and services metadata. Missing or
// unreadable entries default to an empty object.
func (p RawStationPayload) Meta() map[string]any {
	raw := map[string]json.RawMessage{
		"services":              p.Services,
		"services_humans":       p.ServicesHumans,
		"shopping_hours":        p.ShoppingHours,
		"shopping_hours_humans": p.ShoppingHoursHumans,
	}
	meta := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if len(v) == 0 || json.Unmarshal(v, &decoded) != nil || decoded == nil {
			decoded = map[string]any{}
		}
		meta[k] = decoded
	}
	return meta
}

// ImagePaths returns the image paths in payload order.
func (p RawStationPayload) ImagePaths() []string {
	paths := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		paths = append(paths, img.Path)
	}
	return paths
}
