package repositories

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"subforge/internal/models"
	"subforge/internal/pkg/errors"
)

type AssetRepository struct {
	db DB
}

func NewAssetRepository(db DB) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) Create(ctx context.Context, a *models.Asset) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO assets (id, operation_id, kind, provider, object_key, mime, size_bytes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, a.ID, nullIfEmpty(a.OperationID), a.Kind, a.Provider, a.ObjectKey, a.Mime, a.SizeBytes).Scan(&a.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return errors.AlreadyExists("asset", a.ID)
		}
		return errors.Wrap(err, "assets.create", "insert asset")
	}
	return nil
}

func (r *AssetRepository) Get(ctx context.Context, id string) (*models.Asset, error) {
	var (
		a    models.Asset
		opID *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, operation_id, kind, provider, object_key, mime, size_bytes, created_at
		FROM assets WHERE id=$1
	`, id).Scan(&a.ID, &opID, &a.Kind, &a.Provider, &a.ObjectKey, &a.Mime, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("asset", id)
		}
		return nil, errors.Wrap(err, "assets.get", "select asset")
	}
	a.OperationID = deref(opID)
	return &a, nil
}

func (r *AssetRepository) ListByOperation(ctx context.Context, operationID string) ([]models.Asset, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, kind, provider, object_key, mime, size_bytes, created_at
		FROM assets WHERE operation_id=$1
		ORDER BY object_key
	`, operationID)
	if err != nil {
		return nil, errors.Wrap(err, "assets.list", "select assets")
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a := models.Asset{OperationID: operationID}
		if err := rows.Scan(&a.ID, &a.Kind, &a.Provider, &a.ObjectKey, &a.Mime, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "assets.list", "scan asset")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "assets.list", "iterate assets")
	}
	return out, nil
}
