package memory

import (
	"context"
	"slices"
	"strings"

	"homebuh/internal/core"
)

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ParentID != nil && !s.hasCategory(*c.ParentID) {
		return core.Category{}, core.NotFound("create category", "parent category", *c.ParentID)
	}
	s.nextCategoryID++
	c.ID = s.nextCategoryID
	c.Name = strings.TrimSpace(c.Name)
	s.categories = append(s.categories, c)
	return c, nil
}

func (s *Store) GetCategory(_ context.Context, id int64) (core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.categories {
		if c.ID == id {
			return c, nil
		}
	}
	return core.Category{}, core.NotFound("get category", "category", id)
}

func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.categories)
	slices.SortStableFunc(out, func(a, b core.Category) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) hasCategory(id int64) bool {
	return slices.ContainsFunc(s.categories, func(c core.Category) bool { return c.ID == id })
}

func (s *Store) CreateBudget(_ context.Context, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CategoryID != nil && !s.hasCategory(*b.CategoryID) {
		return core.Budget{}, core.NotFound("create budget", "category", *b.CategoryID)
	}
	s.nextBudgetID++
	b.ID = s.nextBudgetID
	b.YearMonth = strings.TrimSpace(b.YearMonth)
	s.budgets = append(s.budgets, b)
	return b, nil
}

func (s *Store) ListBudgets(_ context.Context, yearMonth string) ([]core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Budget
	for _, b := range s.budgets {
		if yearMonth == "" || b.YearMonth == yearMonth {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) CreatePlanned(_ context.Context, p core.PlannedItem) (core.PlannedItem, error) {
	if err := p.Validate(); err != nil {
		return core.PlannedItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CategoryID != nil && !s.hasCategory(*p.CategoryID) {
		return core.PlannedItem{}, core.NotFound("create planned item", "category", *p.CategoryID)
	}
	s.nextPlannedID++
	p.ID = s.nextPlannedID
	s.planned = append(s.planned, p)
	return p, nil
}

// ListPlanned returns items ordered by due date, undated items last.
func (s *Store) ListPlanned(_ context.Context) ([]core.PlannedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.planned)
	slices.SortStableFunc(out, func(a, b core.PlannedItem) int {
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return 0
		case a.DueDate == nil:
			return 1
		case b.DueDate == nil:
			return -1
		}
		return a.DueDate.Compare(*b.DueDate)
	})
	return out, nil
}
