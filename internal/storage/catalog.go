package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"homebuh/internal/core"
)

const dateLayout = "2006-01-02"

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	const op = "create category"
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	if c.ParentID != nil {
		if _, err := r.GetCategory(ctx, *c.ParentID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return core.Category{}, core.NotFound(op, "parent category", *c.ParentID)
			}
			return core.Category{}, err
		}
	}
	c.Name = strings.TrimSpace(c.Name)
	res, err := r.db.ExecContext(ctx, `INSERT INTO categories (name, parent_id) VALUES (?, ?)`, c.Name, nullableID(c.ParentID))
	if err != nil {
		return core.Category{}, translate(op, err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return core.Category{}, translate(op, err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx, `SELECT id, name, parent_id FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.NotFound("get category", "category", id)
	}
	if err != nil {
		return core.Category{}, translate("get category", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, parent_id FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, translate("list categories", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, translate("list categories", err)
		}
		out = append(out, c)
	}
	return out, translate("list categories", rows.Err())
}

func scanCategory(s scanner) (core.Category, error) {
	var (
		c      core.Category
		parent sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.Name, &parent); err != nil {
		return core.Category{}, err
	}
	if parent.Valid {
		id := parent.Int64
		c.ParentID = &id
	}
	return c, nil
}

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	const op = "create budget"
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	if b.CategoryID != nil {
		if _, err := r.GetCategory(ctx, *b.CategoryID); err != nil {
			return core.Budget{}, err
		}
	}
	b.YearMonth = strings.TrimSpace(b.YearMonth)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (year_month, category_id, amount) VALUES (?, ?, ?)`,
		b.YearMonth, nullableID(b.CategoryID), b.Amount.String())
	if err != nil {
		return core.Budget{}, translate(op, err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return core.Budget{}, translate(op, err)
	}
	return b, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, yearMonth string) ([]core.Budget, error) {
	query := `SELECT id, year_month, category_id, amount FROM budgets`
	var args []any
	if yearMonth != "" {
		query += ` WHERE year_month = ?`
		args = append(args, yearMonth)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("list budgets", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var (
			b   core.Budget
			cat sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &b.YearMonth, &cat, &b.Amount); err != nil {
			return nil, translate("list budgets", err)
		}
		if cat.Valid {
			id := cat.Int64
			b.CategoryID = &id
		}
		out = append(out, b)
	}
	return out, translate("list budgets", rows.Err())
}

func (r *SQLiteRepository) CreatePlanned(ctx context.Context, p core.PlannedItem) (core.PlannedItem, error) {
	const op = "create planned item"
	if err := p.Validate(); err != nil {
		return core.PlannedItem{}, err
	}
	if p.CategoryID != nil {
		if _, err := r.GetCategory(ctx, *p.CategoryID); err != nil {
			return core.PlannedItem{}, err
		}
	}
	var due any
	if p.DueDate != nil {
		due = p.DueDate.Format(dateLayout)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO planned_items (title, amount, due_date, type, category_id) VALUES (?, ?, ?, ?, ?)`,
		strings.TrimSpace(p.Title), p.Amount.String(), due, string(p.Type), nullableID(p.CategoryID))
	if err != nil {
		return core.PlannedItem{}, translate(op, err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return core.PlannedItem{}, translate(op, err)
	}
	p.Title = strings.TrimSpace(p.Title)
	return p, nil
}

// ListPlanned returns items ordered by due date, undated items last.
func (r *SQLiteRepository) ListPlanned(ctx context.Context) ([]core.PlannedItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, amount, due_date, type, category_id FROM planned_items
		 ORDER BY due_date IS NULL, due_date, id`)
	if err != nil {
		return nil, translate("list planned items", err)
	}
	defer rows.Close()

	var out []core.PlannedItem
	for rows.Next() {
		var (
			p    core.PlannedItem
			due  sql.NullString
			kind string
			cat  sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Amount, &due, &kind, &cat); err != nil {
			return nil, translate("list planned items", err)
		}
		p.Type = core.PlannedType(kind)
		if due.Valid {
			if d, err := time.Parse(dateLayout, due.String); err == nil {
				p.DueDate = &d
			}
		}
		if cat.Valid {
			id := cat.Int64
			p.CategoryID = &id
		}
		out = append(out, p)
	}
	return out, translate("list planned items", rows.Err())
}
