package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/store"
)

// fakeRow implements pgx.Row for tests.
type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: expected %d destinations, got %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *[]byte:
			*p = r.values[i].([]byte)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

// fakeQuerier implements querier for tests.
type fakeQuerier struct {
	QueryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	ExecFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queries    []string
	execCalled bool
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, sql)
	return f.QueryRowFn(ctx, sql, args...)
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execCalled = true
	if f.ExecFn != nil {
		return f.ExecFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

const key = models.StationKey("6f1f1d2e-8a57-4c1e-9b2f-0f4e3f7c2d11")

var capturedAt = time.Date(2024, 4, 9, 8, 15, 0, 0, time.UTC)

func identity() models.Identity {
	return models.Identity{
		Key:       key,
		Name:      "OMV Ljubljana",
		Company:   "omv",
		ScrapedAt: capturedAt,
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
		Meta:          map[string]any{"services": map[string]any{"shop": true, "atm": false}},
		UpdatedAt:     capturedAt,
	}
}

// storedRow renders a document the way the select statement returns it.
func storedRow(t *testing.T, m models.Mutable) *fakeRow {
	t.Helper()
	ident := identity()
	enc := func(v any) []byte {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}
	return &fakeRow{values: []any{
		"2b0c2d8e-0000-4000-8000-000000000001", string(ident.Key), ident.Name, ident.Address, ident.Company,
		ident.XID, ident.XCode, ident.ScrapedAt, ident.ScrapedURL, enc(ident.Loc),
		enc(m.Prices), enc(m.GeneralPrices), enc(m.PricesYearly), enc(m.PricesLast24h),
		// jsonb hands objects back with its own key order and spacing
		[]byte(`{"services": {"atm": false, "shop": true}}`),
		m.UpdatedAt.In(time.FixedZone("CEST", 2*3600)),
	}}
}

func newRepo() *StationRepository {
	r := NewStationRepository(nil)
	r.newID = func() string { return "2b0c2d8e-0000-4000-8000-000000000001" }
	return r
}

// ------------------------------------------------------------
// INSERT
// ------------------------------------------------------------

func TestUpsertTx_Inserted(t *testing.T) {
	q := &fakeQuerier{
		QueryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if !strings.Contains(sql, "INSERT INTO stations") {
				t.Fatalf("unexpected query: %s", sql)
			}
			if len(args) != 16 {
				t.Fatalf("expected 16 args, got %d", len(args))
			}
			return &fakeRow{values: []any{"2b0c2d8e-0000-4000-8000-000000000001"}}
		},
	}

	doc, out, err := newRepo().upsertTx(context.Background(), q, identity(), mutable(8, "1.100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Inserted() {
		t.Fatalf("expected insert, got %+v", out)
	}
	if doc.ID != out.UpsertedID {
		t.Fatalf("document id %q does not match upserted id %q", doc.ID, out.UpsertedID)
	}
	if q.execCalled {
		t.Fatalf("insert path must not run an update")
	}
}

// ------------------------------------------------------------
// CONFLICT, NOTHING CHANGED
// ------------------------------------------------------------

func TestUpsertTx_ExistingUnchanged(t *testing.T) {
	m := mutable(8, "1.100")
	q := &fakeQuerier{
		QueryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if strings.Contains(sql, "INSERT INTO stations") {
				return &fakeRow{err: pgx.ErrNoRows}
			}
			if !strings.Contains(sql, "FOR UPDATE") {
				t.Fatalf("expected locking select, got %s", sql)
			}
			return storedRow(t, m)
		},
	}

	_, out, err := newRepo().upsertTx(context.Background(), q, identity(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Inserted() || out.MatchedCount != 1 || out.ModifiedCount != 0 {
		t.Fatalf("expected matched=1 modified=0, got %+v", out)
	}
	if q.execCalled {
		t.Fatalf("unchanged document must not be written")
	}
}

// ------------------------------------------------------------
// CONFLICT, MERGED
// ------------------------------------------------------------

func TestUpsertTx_ExistingMerged(t *testing.T) {
	var updateArgs []any
	q := &fakeQuerier{
		QueryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if strings.Contains(sql, "INSERT INTO stations") {
				return &fakeRow{err: pgx.ErrNoRows}
			}
			return storedRow(t, mutable(8, "1.100"))
		},
		ExecFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "UPDATE stations") {
				t.Fatalf("unexpected statement: %s", sql)
			}
			if strings.Contains(sql, "name =") || strings.Contains(sql, "loc =") {
				t.Fatalf("update must not touch identity columns: %s", sql)
			}
			updateArgs = args
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}

	doc, out, err := newRepo().upsertTx(context.Background(), q, identity(), mutable(9, "1.120"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.MatchedCount != 1 || out.ModifiedCount != 1 {
		t.Fatalf("expected matched=1 modified=1, got %+v", out)
	}
	if len(doc.PricesLast24h[fuel.CodeDiesel]) != 2 {
		t.Fatalf("expected hours 8 and 9, got %v", doc.PricesLast24h)
	}

	var last24h map[string]map[string]string
	if err := json.Unmarshal(updateArgs[4].([]byte), &last24h); err != nil {
		t.Fatalf("prices_last_24h arg: %v", err)
	}
	if last24h["diesel"]["8"] != "1.1" || last24h["diesel"]["9"] != "1.12" {
		t.Fatalf("unexpected prices_last_24h %v", last24h)
	}
}

// ------------------------------------------------------------
// ERRORS
// ------------------------------------------------------------

func TestUpsertTx_InsertError(t *testing.T) {
	q := &fakeQuerier{
		QueryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &fakeRow{err: errors.New("connection reset")}
		},
	}

	_, _, err := newRepo().upsertTx(context.Background(), q, identity(), mutable(8, "1.100"))
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

// fakeDB implements DB for Get.
type fakeDB struct {
	DB
	row pgx.Row
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return f.row }

func TestGet_NotFound(t *testing.T) {
	repo := NewStationRepository(&fakeDB{row: &fakeRow{err: pgx.ErrNoRows}})

	_, err := repo.Get(context.Background(), key)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestGet_DecodesDocument(t *testing.T) {
	repo := NewStationRepository(&fakeDB{row: storedRow(t, mutable(8, "1.100"))})

	doc, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Key != key || doc.Loc.Type != "Point" {
		t.Fatalf("unexpected identity %+v", doc.Identity)
	}
	if !doc.Prices[fuel.CodeDiesel].Equal(decimal.RequireFromString("1.1")) {
		t.Fatalf("unexpected prices %v", doc.Prices)
	}
	if doc.UpdatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamps, got %s", doc.UpdatedAt.Location())
	}
}
