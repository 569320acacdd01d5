package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tiger66639/juju-gui-charm/internal/model"
)

// DeploymentRepository persists the bundle deployment history.
type DeploymentRepository struct {
	pool *pgxpool.Pool
}

// NewDeploymentRepository returns a DeploymentRepository using the given pool.
func NewDeploymentRepository(pool *pgxpool.Pool) *DeploymentRepository {
	return &DeploymentRepository{pool: pool}
}

// Create inserts a new deployment record and returns it with CreatedAt set.
func (r *DeploymentRepository) Create(ctx context.Context, dep *model.Deployment) error {
	query := `
		INSERT INTO deployments (id, name, requester, status, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	if dep.ID == uuid.Nil {
		dep.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, query,
		dep.ID,
		dep.Name,
		dep.Requester,
		dep.Status,
		dep.Error,
	).Scan(&dep.ID, &dep.CreatedAt)
}

// SetStatus updates the status of an existing deployment.
func (r *DeploymentRepository) SetStatus(ctx context.Context, id uuid.UUID, status model.DeploymentStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deployments SET status = $2 WHERE id = $1`, id, status)
	return err
}

// MarkCompleted finalizes a deployment, recording the outcome and the
// completion time. An empty deployError means success.
func (r *DeploymentRepository) MarkCompleted(ctx context.Context, id uuid.UUID, deployError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deployments
		SET status = $2, error = $3, completed_at = now()
		WHERE id = $1`, id, model.DeploymentCompleted, deployError)
	return err
}

// List returns all deployments ordered by created_at descending.
func (r *DeploymentRepository) List(ctx context.Context) ([]model.Deployment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, requester, status, error, created_at, completed_at
		FROM deployments
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.Deployment
	for rows.Next() {
		var dep model.Deployment
		if err := rows.Scan(
			&dep.ID,
			&dep.Name,
			&dep.Requester,
			&dep.Status,
			&dep.Error,
			&dep.CreatedAt,
			&dep.CompletedAt,
		); err != nil {
			return nil, err
		}
		list = append(list, dep)
	}
	return list, rows.Err()
}

// GetByID returns one deployment by id, or nil if not found.
func (r *DeploymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Deployment, error) {
	var dep model.Deployment
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, requester, status, error, created_at, completed_at
		FROM deployments WHERE id = $1`, id).Scan(
		&dep.ID,
		&dep.Name,
		&dep.Requester,
		&dep.Status,
		&dep.Error,
		&dep.CreatedAt,
		&dep.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &dep, nil
}
