package services

import (
	"context"
	"time"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
	"homebuh/internal/log"
)

// CatalogService manages categories, budgets and planned items.
type CatalogService struct {
	catalog ledger.Catalog
	cache   Invalidator
	logger  *log.Logger
}

func NewCatalogService(catalog ledger.Catalog, cache Invalidator, logger *log.Logger) *CatalogService {
	if cache == nil {
		cache = nopInvalidator{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &CatalogService{catalog: catalog, cache: cache, logger: logger.WithComponent(log.ComponentApp)}
}

func (s *CatalogService) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	created, err := s.catalog.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, err
	}
	s.cache.Invalidate()
	s.logger.InfoContext(ctx, "Category created", "category_id", created.ID, "name", created.Name)
	return created, nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]core.Category, error) {
	return s.catalog.ListCategories(ctx)
}

func (s *CatalogService) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	b.Amount = core.RoundAmount(b.Amount)
	created, err := s.catalog.CreateBudget(ctx, b)
	if err != nil {
		return core.Budget{}, err
	}
	s.cache.Invalidate()
	s.logger.InfoContext(ctx, "Budget created", "budget_id", created.ID, "year_month", created.YearMonth)
	return created, nil
}

func (s *CatalogService) ListBudgets(ctx context.Context, yearMonth string) ([]core.Budget, error) {
	return s.catalog.ListBudgets(ctx, yearMonth)
}

func (s *CatalogService) CreatePlanned(ctx context.Context, p core.PlannedItem) (core.PlannedItem, error) {
	p.Amount = core.RoundAmount(p.Amount)
	created, err := s.catalog.CreatePlanned(ctx, p)
	if err != nil {
		return core.PlannedItem{}, err
	}
	s.logger.InfoContext(ctx, "Planned item created", "planned_id", created.ID, "type", string(created.Type))
	return created, nil
}

func (s *CatalogService) ListPlanned(ctx context.Context) ([]core.PlannedItem, error) {
	return s.catalog.ListPlanned(ctx)
}

// DuePlanned returns dated items falling due on or before the day of
// now+horizon, including overdue ones. Undated items are never due.
func (s *CatalogService) DuePlanned(ctx context.Context, now time.Time, horizon time.Duration) ([]core.PlannedItem, error) {
	items, err := s.catalog.ListPlanned(ctx)
	if err != nil {
		return nil, err
	}
	limit := now.Add(horizon)
	cutoff := time.Date(limit.Year(), limit.Month(), limit.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	var due []core.PlannedItem
	for _, p := range items {
		if p.DueDate != nil && p.DueDate.Before(cutoff) {
			due = append(due, p)
		}
	}
	return due, nil
}
