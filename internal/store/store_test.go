package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
)

const key = models.StationKey("6f1f1d2e-8a57-4c1e-9b2f-0f4e3f7c2d11")

func identity(name string) models.Identity {
	return models.Identity{
		Key:       key,
		Name:      name,
		Company:   "omv",
		ScrapedAt: time.Date(2024, 4, 9, 8, 0, 0, 0, time.UTC),
		Loc:       models.NewPoint(14.5, 46.05),
	}
}

func mutable(hour int, p string) models.Mutable {
	d := decimal.RequireFromString(p)
	return models.Mutable{
		Prices:        map[fuel.FuelCode]decimal.Decimal{fuel.CodeDiesel: d},
		GeneralPrices: map[fuel.Category]decimal.Decimal{fuel.CategoryDiesel: d},
		PricesYearly:  models.YearlySnapshot{2024: {fuel.CodeDiesel: {100: d}}},
		PricesLast24h: models.HourlySnapshot{fuel.CodeDiesel: {hour: d}},
		Meta:          map[string]any{"services": map[string]any{}},
		UpdatedAt:     time.Date(2024, 4, 9, hour, 0, 0, 0, time.UTC),
	}
}

func TestMemory_FirstUpsertInserts(t *testing.T) {
	s := NewMemory()

	doc, out, err := s.Upsert(context.Background(), identity("Center"), mutable(8, "1.100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Inserted() {
		t.Fatalf("expected insert outcome, got %+v", out)
	}
	if out.UpsertedID == "" || out.UpsertedID != doc.ID {
		t.Fatalf("expected upserted id to match document id, got %q and %q", out.UpsertedID, doc.ID)
	}
}

func TestMemory_SecondIdenticalUpsertIsUnmodifiedUpdate(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	first, _, err := s.Upsert(ctx, identity("Center"), mutable(8, "1.100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, out, err := s.Upsert(ctx, identity("Center"), mutable(8, "1.100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Inserted() {
		t.Fatalf("second upsert must not be classified as insert")
	}
	if out.MatchedCount != 1 || out.ModifiedCount != 0 {
		t.Fatalf("expected matched=1 modified=0, got %+v", out)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("document changed:\n%s\n%s", a, b)
	}
}

func TestMemory_IdentityIsSetOnInsertOnly(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, _, err := s.Upsert(ctx, identity("Center"), mutable(8, "1.100")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, out, err := s.Upsert(ctx, identity("Renamed"), mutable(9, "1.120"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.ModifiedCount != 1 {
		t.Fatalf("expected modified=1, got %+v", out)
	}
	if doc.Name != "Center" {
		t.Fatalf("identity overwritten: name=%q", doc.Name)
	}
	if len(doc.PricesLast24h[fuel.CodeDiesel]) != 2 {
		t.Fatalf("expected two hourly entries, got %v", doc.PricesLast24h)
	}
}

func TestMemory_Get(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	stored, _, _ := s.Upsert(ctx, identity("Center"), mutable(8, "1.100"))
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.Identity, stored.Identity) {
		t.Fatalf("unexpected identity %+v", got.Identity)
	}
}

func TestMemory_ConcurrentUpsertsSameKey(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inserts int
	)
	for h := 0; h < 24; h++ {
		wg.Add(1)
		go func(hour int) {
			defer wg.Done()
			_, out, err := s.Upsert(ctx, identity("Center"), mutable(hour, "1.100"))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if out.Inserted() {
				mu.Lock()
				inserts++
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	if inserts != 1 {
		t.Fatalf("expected exactly one insert, got %d", inserts)
	}
	doc, _ := s.Get(ctx, key)
	if len(doc.PricesLast24h[fuel.CodeDiesel]) != 24 {
		t.Fatalf("expected 24 hourly entries, got %d", len(doc.PricesLast24h[fuel.CodeDiesel]))
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := s.Upsert(ctx, identity("Center"), mutable(8, "1.100")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
