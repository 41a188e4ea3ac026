package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

func scanCategory(row interface{ Scan(...any) error }) (core.Category, error) {
	var c core.Category
	var created, updated int64
	if err := row.Scan(&c.ID, &c.Name, &created, &updated); err != nil {
		return core.Category{}, err
	}
	c.CreatedAt = core.FromMillis(created)
	c.UpdatedAt = core.FromMillis(updated)
	return c, nil
}

// ListCategories returns every category ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at, updated_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CategoryByName looks a category up by its exact name.
func (s *Store) CategoryByName(ctx context.Context, name string) (core.Category, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM categories WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %q: %w", name, err)
	}
	return c, nil
}

// CreateCategory inserts a new category. Names are unique.
func (s *Store) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if err := (core.Category{Name: name}).Validate(); err != nil {
		return core.Category{}, err
	}
	now := s.nowMillis()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (name, created_at, updated_at) VALUES (?, ?, ?)`, name, now, now)
	if isUniqueViolation(err) {
		return core.Category{}, fmt.Errorf("category %q: %w", name, ErrDuplicate)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.categories.Add(name, id)
	return core.Category{ID: id, Name: name, CreatedAt: core.FromMillis(now), UpdatedAt: core.FromMillis(now)}, nil
}

// RenameCategory changes a category's name. Transactions follow the rename
// through their category id.
func (s *Store) RenameCategory(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if err := (core.Category{Name: name}).Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, updated_at = ? WHERE id = ?`, name, s.nowMillis(), id)
	if isUniqueViolation(err) {
		return fmt.Errorf("category %q: %w", name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("rename category %d: %w", id, err)
	}
	if err := expectOne(res, "category", id); err != nil {
		return err
	}
	s.categories.Purge()
	return nil
}

// DeleteCategory removes a category. It fails with ErrCategoryInUse while any
// transaction or recurring transaction references it.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("delete category %d: %w", id, ErrCategoryInUse)
	}
	if err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	if err := expectOne(res, "category", id); err != nil {
		return err
	}
	s.categories.Purge()
	s.logger.Info("Category deleted", log.FieldOperation, log.OpDelete, log.FieldCategory, id)
	return nil
}

// categoryResolver maps names to ids inside one database transaction. Ids of
// categories created by the transaction reach the shared cache only after
// commit.
type categoryResolver struct {
	store   *Store
	q       querier
	created map[string]int64
}

func (s *Store) newCategoryResolver(q querier) *categoryResolver {
	return &categoryResolver{store: s, q: q, created: make(map[string]int64)}
}

// resolve returns the id for the category referenced by id or name, creating
// the category when only an unknown name is given.
func (r *categoryResolver) resolve(ctx context.Context, id int64, name string) (int64, string, error) {
	if id > 0 {
		var stored string
		err := r.q.QueryRowContext(ctx, `SELECT name FROM categories WHERE id = ?`, id).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", fmt.Errorf("category %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return 0, "", fmt.Errorf("get category %d: %w", id, err)
		}
		return id, stored, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return 0, "", core.ErrEmptyCategory
	}
	if id, ok := r.created[name]; ok {
		return id, name, nil
	}
	if id, ok := r.store.categories.Get(name); ok {
		return id, name, nil
	}

	err := r.q.QueryRowContext(ctx, `SELECT id FROM categories WHERE name = ?`, name).Scan(&id)
	switch {
	case err == nil:
		r.store.categories.Add(name, id)
		return id, name, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, "", fmt.Errorf("get category %q: %w", name, err)
	}

	now := r.store.nowMillis()
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO categories (name, created_at, updated_at) VALUES (?, ?, ?)`, name, now, now)
	if err != nil {
		return 0, "", fmt.Errorf("create category %q: %w", name, err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, "", fmt.Errorf("create category %q: %w", name, err)
	}
	r.created[name] = id
	return id, name, nil
}

// commit publishes created ids to the shared cache.
func (r *categoryResolver) commit() {
	for name, id := range r.created {
		r.store.categories.Add(name, id)
	}
}

func expectOne(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
