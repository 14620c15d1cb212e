package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"llm_portal/internal/models"
)

// DepartmentRepository handles department CRUD
type DepartmentRepository struct {
	db *DB
}

// NewDepartmentRepository creates a new department repository
func NewDepartmentRepository(db *DB) *DepartmentRepository {
	return &DepartmentRepository{db: db}
}

// Create inserts a new department
func (r *DepartmentRepository) Create(ctx context.Context, d *models.Department) error {
	if d.Name == "" {
		return fmt.Errorf("department name is required")
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	query := `INSERT INTO departments (id, name, cost_code, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.db.conn.QueryRowxContext(ctx, query, d.ID, d.Name, d.CostCode, d.Enabled).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create department: %w", err)
	}

	return nil
}

// GetByID loads a department by ID
func (r *DepartmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Department, error) {
	query := `SELECT id, name, cost_code, enabled, created_at, updated_at
		FROM departments WHERE id = $1`

	var d models.Department
	err := r.db.conn.GetContext(ctx, &d, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDepartmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}

	return &d, nil
}

// List returns all departments ordered by name. When enabledOnly is set,
// disabled departments are skipped.
func (r *DepartmentRepository) List(ctx context.Context, enabledOnly bool) ([]*models.Department, error) {
	query := `SELECT id, name, cost_code, enabled, created_at, updated_at FROM departments`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY name`

	departments := []*models.Department{}
	if err := r.db.conn.SelectContext(ctx, &departments, query); err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}

	return departments, nil
}

// Update rewrites a department's mutable fields
func (r *DepartmentRepository) Update(ctx context.Context, d *models.Department) error {
	query := `UPDATE departments SET name = $2, cost_code = $3, enabled = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.conn.QueryRowxContext(ctx, query, d.ID, d.Name, d.CostCode, d.Enabled).
		Scan(&d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDepartmentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update department: %w", err)
	}

	return nil
}

// Delete removes a department. Departments with quotas, users or usage
// history are protected by foreign keys and report ErrDepartmentInUse.
func (r *DepartmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM departments WHERE id = $1`, id)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrDepartmentInUse
	}
	if err != nil {
		return fmt.Errorf("failed to delete department: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete row count: %w", err)
	}
	if affected == 0 {
		return ErrDepartmentNotFound
	}

	return nil
}
