package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/store"
)

// StationRepository is the Postgres implementation of store.Store.
type StationRepository struct {
	db    DB
	newID func() string
}

// NewStationRepository wraps an open pool.
func NewStationRepository(db DB) *StationRepository {
	return &StationRepository{db: db, newID: uuid.NewString}
}

var _ store.Store = (*StationRepository)(nil)

// The insert only ever writes identity columns together with the first
// mutable values; conflicting keys fall through to the locked update path.
const insertStationSQL = `
INSERT INTO stations (
    id, key, name, address, company, xid, xcode, scraped_at, scraped_url, loc,
    prices, general_prices, prices_yearly, prices_last_24h, meta, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
    $11, $12, $13, $14, $15, $16
)
ON CONFLICT (key) DO NOTHING
RETURNING id::text`

const selectStationSQL = `
SELECT id::text, key, name, address, company, xid, xcode, scraped_at, scraped_url, loc,
       prices, general_prices, prices_yearly, prices_last_24h, meta, updated_at
FROM stations
WHERE key = $1`

const selectStationForUpdateSQL = selectStationSQL + `
FOR UPDATE`

const updateStationSQL = `
UPDATE stations
SET prices = $2,
    general_prices = $3,
    prices_yearly = $4,
    prices_last_24h = $5,
    meta = $6,
    updated_at = $7
WHERE id = $1`

// Upsert runs the insert-or-merge in one transaction. The row lock taken by
// SELECT ... FOR UPDATE serializes concurrent writers of the same key.
func (r *StationRepository) Upsert(ctx context.Context, ident models.Identity, m models.Mutable) (models.StationDocument, models.UpsertOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	doc, outcome, err := r.upsertTx(ctx, tx, ident, m)
	if err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, fmt.Errorf("commit upsert: %w", err)
	}
	return doc, outcome, nil
}

func (r *StationRepository) upsertTx(ctx context.Context, q querier, ident models.Identity, m models.Mutable) (models.StationDocument, models.UpsertOutcome, error) {
	ident.ScrapedAt = normalizeTime(ident.ScrapedAt)
	m.UpdatedAt = normalizeTime(m.UpdatedAt)

	doc := models.NewDocument(r.newID(), ident, m)
	cols, err := encodeMutable(doc.Mutable)
	if err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, err
	}
	loc, err := json.Marshal(doc.Loc)
	if err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, fmt.Errorf("encode loc: %w", err)
	}

	var insertedID string
	err = q.QueryRow(ctx, insertStationSQL,
		doc.ID, string(doc.Key), doc.Name, doc.Address, doc.Company, doc.XID, doc.XCode,
		doc.ScrapedAt, doc.ScrapedURL, loc,
		cols.prices, cols.generalPrices, cols.yearly, cols.last24h, cols.meta, doc.UpdatedAt,
	).Scan(&insertedID)
	switch {
	case err == nil:
		doc.ID = insertedID
		return doc, models.UpsertOutcome{UpsertedID: insertedID}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return models.StationDocument{}, models.UpsertOutcome{}, fmt.Errorf("insert station: %w", err)
	}

	existing, err := scanStation(q.QueryRow(ctx, selectStationForUpdateSQL, string(ident.Key)))
	if err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, fmt.Errorf("lock station: %w", err)
	}

	outcome := models.UpsertOutcome{MatchedCount: 1}
	if !existing.Apply(m) {
		return existing, outcome, nil
	}

	cols, err = encodeMutable(existing.Mutable)
	if err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, err
	}
	tag, err := q.Exec(ctx, updateStationSQL,
		existing.ID, cols.prices, cols.generalPrices, cols.yearly, cols.last24h, cols.meta, existing.UpdatedAt,
	)
	if err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, fmt.Errorf("update station: %w", err)
	}
	outcome.ModifiedCount = tag.RowsAffected()
	return existing, outcome, nil
}

// Get loads a station by key.
func (r *StationRepository) Get(ctx context.Context, key models.StationKey) (models.StationDocument, error) {
	doc, err := scanStation(r.db.QueryRow(ctx, selectStationSQL, string(key)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StationDocument{}, store.ErrNotFound
	}
	if err != nil {
		return models.StationDocument{}, fmt.Errorf("get station: %w", err)
	}
	return doc, nil
}

type mutableColumns struct {
	prices, generalPrices, yearly, last24h, meta []byte
}

func encodeMutable(m models.Mutable) (mutableColumns, error) {
	var (
		cols mutableColumns
		err  error
	)
	fields := []struct {
		dst *[]byte
		v   any
	}{
		{&cols.prices, m.Prices},
		{&cols.generalPrices, m.GeneralPrices},
		{&cols.yearly, m.PricesYearly},
		{&cols.last24h, m.PricesLast24h},
		{&cols.meta, m.Meta},
	}
	for _, f := range fields {
		if *f.dst, err = json.Marshal(f.v); err != nil {
			return mutableColumns{}, fmt.Errorf("encode station fields: %w", err)
		}
	}
	return cols, nil
}

func scanStation(row pgx.Row) (models.StationDocument, error) {
	var (
		doc                                          models.StationDocument
		key                                          string
		loc, prices, general, yearly, last24h, metas []byte
	)
	err := row.Scan(
		&doc.ID, &key, &doc.Name, &doc.Address, &doc.Company, &doc.XID, &doc.XCode,
		&doc.ScrapedAt, &doc.ScrapedURL, &loc,
		&prices, &general, &yearly, &last24h, &metas, &doc.UpdatedAt,
	)
	if err != nil {
		return models.StationDocument{}, err
	}
	doc.Key = models.StationKey(key)
	doc.ScrapedAt = normalizeTime(doc.ScrapedAt)
	doc.UpdatedAt = normalizeTime(doc.UpdatedAt)

	fields := []struct {
		src []byte
		dst any
	}{
		{loc, &doc.Loc},
		{prices, &doc.Prices},
		{general, &doc.GeneralPrices},
		{yearly, &doc.PricesYearly},
		{last24h, &doc.PricesLast24h},
		{metas, &doc.Meta},
	}
	for _, f := range fields {
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return models.StationDocument{}, fmt.Errorf("decode station %s: %w", key, err)
		}
	}
	return doc, nil
}

// normalizeTime matches what a timestamptz column gives back.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
