package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS stations (
    id              uuid PRIMARY KEY,
    key             text NOT NULL,
    name            text NOT NULL,
    address         text NOT NULL DEFAULT '',
    company         text NOT NULL,
    xid             text NOT NULL DEFAULT '',
    xcode           text NOT NULL DEFAULT '',
    scraped_at      timestamptz NOT NULL,
    scraped_url     text NOT NULL DEFAULT '',
    loc             jsonb NOT NULL,
    prices          jsonb NOT NULL DEFAULT '{}',
    general_prices  jsonb NOT NULL DEFAULT '{}',
    prices_yearly   jsonb NOT NULL DEFAULT '{}',
    prices_last_24h jsonb NOT NULL DEFAULT '{}',
    meta            jsonb NOT NULL DEFAULT '{}',
    updated_at      timestamptz NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS stations_key_uidx ON stations (key)`,
	`CREATE INDEX IF NOT EXISTS stations_company_idx ON stations (company)`,
	`CREATE INDEX IF NOT EXISTS stations_prices_idx ON stations USING GIN (prices)`,
}

// geoStatements need PostGIS; loc is indexed as a geometry built from its GeoJSON.
var geoStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE INDEX IF NOT EXISTS stations_loc_gist ON stations
    USING GIST ((ST_SetSRID(ST_GeomFromGeoJSON(loc::text), 4326)))`,
}

// EnsureSchema creates the stations table and its indexes. It is meant to
// run once at deployment or startup, not per write.
func EnsureSchema(ctx context.Context, db DB, withGeoIndex bool) error {
	stmts := schemaStatements
	if withGeoIndex {
		stmts = append(append([]string{}, stmts...), geoStatements...)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
