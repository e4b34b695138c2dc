package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/uptime"
	"github.com/kjstillabower/store-monitor/internal/validation"
)

// ErrInvalidTimezone is returned when a store is written with a timezone
// name that does not resolve.
var ErrInvalidTimezone = errors.New("unknown timezone")

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Catalog is the store persistence behind the store API. Implemented by *store.DB.
type Catalog interface {
	ListStores(ctx context.Context, after string, limit int) ([]models.Store, error)
	GetStore(ctx context.Context, id string) (models.Store, error)
	CreateStore(ctx context.Context, s models.Store) error
	UpdateStore(ctx context.Context, s models.Store) error
	DeleteStore(ctx context.Context, id string) error
}

// StoreCatalog manages the set of monitored stores.
type StoreCatalog struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewStoreCatalog creates a StoreCatalog.
func NewStoreCatalog(c Catalog, logger *zap.Logger) *StoreCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreCatalog{catalog: c, logger: logger}
}

// List returns up to limit stores with IDs after the given cursor, and the
// cursor for the next page ("" on the last page). limit is clamped to
// [1, 1000]; 0 means 100.
func (c *StoreCatalog) List(ctx context.Context, after string, limit int) (stores []models.Store, next string, err error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	stores, err = c.catalog.ListStores(ctx, after, limit)
	if err != nil {
		return nil, "", err
	}
	if stores == nil {
		stores = []models.Store{}
	}
	if len(stores) == limit {
		next = stores[len(stores)-1].ID
	}
	return stores, next, nil
}

// Get returns one store.
func (c *StoreCatalog) Get(ctx context.Context, id string) (models.Store, error) {
	if err := validation.ValidateStoreID(id); err != nil {
		return models.Store{}, err
	}
	return c.catalog.GetStore(ctx, id)
}

// Create adds a store. An empty timezone is stored as UTC.
func (c *StoreCatalog) Create(ctx context.Context, s models.Store) (models.Store, error) {
	s, err := normalize(s)
	if err != nil {
		return models.Store{}, err
	}
	if err := c.catalog.CreateStore(ctx, s); err != nil {
		return models.Store{}, err
	}
	loggerFromContext(ctx, c.logger).Info("store created", zap.String("store_id", s.ID), zap.String("timezone", s.Timezone))
	return s, nil
}

// Update replaces an existing store's timezone.
func (c *StoreCatalog) Update(ctx context.Context, s models.Store) (models.Store, error) {
	s, err := normalize(s)
	if err != nil {
		return models.Store{}, err
	}
	if err := c.catalog.UpdateStore(ctx, s); err != nil {
		return models.Store{}, err
	}
	loggerFromContext(ctx, c.logger).Info("store updated", zap.String("store_id", s.ID), zap.String("timezone", s.Timezone))
	return s, nil
}

// Delete removes a store with its hours and observations.
func (c *StoreCatalog) Delete(ctx context.Context, id string) error {
	if err := validation.ValidateStoreID(id); err != nil {
		return err
	}
	if err := c.catalog.DeleteStore(ctx, id); err != nil {
		return err
	}
	loggerFromContext(ctx, c.logger).Info("store deleted", zap.String("store_id", id))
	return nil
}

// normalize validates s and fills in the UTC default. The loader tolerates
// unknown zones (they fall back at compute time); the API rejects them.
func normalize(s models.Store) (models.Store, error) {
	if err := validation.ValidateStoreID(s.ID); err != nil {
		return models.Store{}, err
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
		return s, nil
	}
	if _, fellBack := uptime.ResolveZone(s.Timezone); fellBack {
		return models.Store{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, s.Timezone)
	}
	return s, nil
}
