package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
)

// Gateway resolves dataset references against the datasets table. Dataset
// contents are never read here; only the owner and storage location matter.
type Gateway struct {
	db *pgxpool.Pool
}

var _ training.DatasetGateway = (*Gateway)(nil)

func NewGateway(db *pgxpool.Pool) *Gateway {
	return &Gateway{db: db}
}

func (g *Gateway) GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	var ds models.Dataset
	err := g.db.QueryRow(ctx,
		`SELECT id, owner_id, name, storage_location, created_at FROM datasets WHERE id = $1`,
		id,
	).Scan(&ds.ID, &ds.OwnerID, &ds.Name, &ds.StorageLocation, &ds.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, training.ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return &ds, nil
}

type RegisterRequest struct {
	OwnerID         uuid.UUID `json:"-"`
	Name            string    `json:"name"`
	StorageLocation string    `json:"storage_location"`
}

// Validate checks that the storage location is an absolute host path the
// worker backend can mount.
func (r RegisterRequest) Validate() []string {
	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	loc := r.StorageLocation
	switch {
	case loc == "":
		problems = append(problems, "storage_location is required")
	case !filepath.IsAbs(loc):
		problems = append(problems, "storage_location must be an absolute path")
	case filepath.Clean(loc) != loc:
		problems = append(problems, "storage_location must be a clean path")
	case strings.ContainsAny(loc, ":,"):
		problems = append(problems, "storage_location must not contain ':' or ','")
	}
	return problems
}

func (g *Gateway) Register(ctx context.Context, req RegisterRequest) (*models.Dataset, error) {
	if problems := req.Validate(); len(problems) > 0 {
		return nil, &training.ValidationError{Problems: problems}
	}

	var ds models.Dataset
	err := g.db.QueryRow(ctx,
		`INSERT INTO datasets (owner_id, name, storage_location)
		 VALUES ($1, $2, $3)
		 RETURNING id, owner_id, name, storage_location, created_at`,
		req.OwnerID, req.Name, req.StorageLocation,
	).Scan(&ds.ID, &ds.OwnerID, &ds.Name, &ds.StorageLocation, &ds.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert dataset: %w", err)
	}
	return &ds, nil
}

func (g *Gateway) List(ctx context.Context, ownerID uuid.UUID) ([]models.Dataset, error) {
	rows, err := g.db.Query(ctx,
		`SELECT id, owner_id, name, storage_location, created_at
		 FROM datasets WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []models.Dataset
	for rows.Next() {
		var ds models.Dataset
		if err := rows.Scan(&ds.ID, &ds.OwnerID, &ds.Name, &ds.StorageLocation, &ds.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, ds)
	}
	return datasets, rows.Err()
}
