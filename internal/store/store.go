// Package store defines the station upsert port and an in-memory adapter.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
)

// ErrNotFound is returned by Get for an unknown station key.
var ErrNotFound = errors.New("station not found")

// Store persists station documents keyed by station key.
//
// Upsert inserts the document on the first call for a key and merges the
// mutable fields on every later call. Identity fields are only written by
// the insert. Implementations must be safe for concurrent use.
type Store interface {
	Upsert(ctx context.Context, ident models.Identity, m models.Mutable) (models.StationDocument, models.UpsertOutcome, error)
	Get(ctx context.Context, key models.StationKey) (models.StationDocument, error)
}

// Memory is a Store kept in process memory.
type Memory struct {
	mu   sync.Mutex
	docs map[models.StationKey]models.StationDocument
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[models.StationKey]models.StationDocument)}
}

var _ Store = (*Memory)(nil)

func (s *Memory) Upsert(ctx context.Context, ident models.Identity, m models.Mutable) (models.StationDocument, models.UpsertOutcome, error) {
	if err := ctx.Err(); err != nil {
		return models.StationDocument{}, models.UpsertOutcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[ident.Key]
	if !ok {
		doc = models.NewDocument(uuid.NewString(), ident, m)
		s.docs[ident.Key] = doc
		return doc.Clone(), models.UpsertOutcome{UpsertedID: doc.ID}, nil
	}

	outcome := models.UpsertOutcome{MatchedCount: 1}
	if doc.Apply(m) {
		outcome.ModifiedCount = 1
	}
	s.docs[ident.Key] = doc
	return doc.Clone(), outcome, nil
}

func (s *Memory) Get(ctx context.Context, key models.StationKey) (models.StationDocument, error) {
	if err := ctx.Err(); err != nil {
		return models.StationDocument{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[key]
	if !ok {
		return models.StationDocument{}, ErrNotFound
	}
	return doc.Clone(), nil
}
