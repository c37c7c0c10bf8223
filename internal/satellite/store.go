package satellite

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/cropwatch/internal/models"
)

// PointStore is the subset of the store the StoreProvider reads from.
type PointStore interface {
	GetIndexPoints(fieldID string, index models.IndexKind, start, end time.Time) ([]models.IndexPoint, error)
}

// StoreProvider serves series previously ingested into the local database.
type StoreProvider struct {
	store PointStore
}

func NewStoreProvider(store PointStore) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) Name() string { return "store" }

func (p *StoreProvider) GetSeries(ctx context.Context, req Request) ([]models.IndexPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	points, err := p.store.GetIndexPoints(req.FieldID, req.Index, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("load %s for %s: %w", req.Index, req.FieldID, err)
	}
	return thin(points, req.Start, req.End, req.IntervalDays), nil
}
