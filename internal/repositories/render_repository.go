package repositories

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"subforge/internal/models"
	"subforge/internal/pkg/errors"
)

type RenderRepository struct {
	db DB
}

func NewRenderRepository(db DB) *RenderRepository {
	return &RenderRepository{db: db}
}

func (r *RenderRepository) Create(ctx context.Context, op *models.RenderOperation) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO render_operations (id, status, stall_timeout_ms, owner)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at
	`, op.ID, op.Status, op.StallTimeoutMS, op.Owner).Scan(&op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return errors.AlreadyExists("render operation", op.ID)
		}
		return errors.Wrap(err, "renders.create", "insert render operation")
	}
	return nil
}

// UpdateProgress records the latest progress of a pending operation.
func (r *RenderRepository) UpdateProgress(ctx context.Context, id string, percent float64, stage string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE render_operations
		SET progress_percent=$2, progress_stage=$3, updated_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, id, percent, nullIfEmpty(stage))
	if err != nil {
		return errors.Wrap(err, "renders.progress", "update progress")
	}
	return nil
}

// Finish moves a pending operation to a terminal status. Already finished
// rows are left alone.
func (r *RenderRepository) Finish(ctx context.Context, id string, status models.RenderStatus, outputPath, errorCode, errorText string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE render_operations
		SET status=$2, output_path=$3, error_code=$4, error_text=$5,
		    progress_percent=CASE WHEN $2='SUCCEEDED' THEN 100 ELSE progress_percent END,
		    updated_at=NOW(), finished_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, id, status, nullIfEmpty(outputPath), nullIfEmpty(errorCode), nullIfEmpty(errorText))
	if err != nil {
		return errors.Wrap(err, "renders.finish", "update terminal status")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("pending render operation", id)
	}
	return nil
}

func (r *RenderRepository) MarkCancelRequested(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE render_operations SET cancel_requested=TRUE, updated_at=NOW() WHERE id=$1
	`, id)
	if err != nil {
		return errors.Wrap(err, "renders.cancel", "mark cancel requested")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("render operation", id)
	}
	return nil
}

func (r *RenderRepository) Get(ctx context.Context, id string) (*models.RenderOperation, error) {
	var (
		op                              models.RenderOperation
		stage, output, errCode, errText *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, status, stall_timeout_ms, owner, progress_percent, progress_stage,
		       output_path, error_code, error_text, cancel_requested,
		       created_at, updated_at, finished_at
		FROM render_operations WHERE id=$1
	`, id).Scan(
		&op.ID, &op.Status, &op.StallTimeoutMS, &op.Owner, &op.ProgressPercent, &stage,
		&output, &errCode, &errText, &op.CancelRequested,
		&op.CreatedAt, &op.UpdatedAt, &op.FinishedAt,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("render operation", id)
		}
		if IsUndefinedTable(err) {
			return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "renders.get", "schema not initialized")
		}
		return nil, errors.Wrap(err, "renders.get", "select render operation")
	}
	op.ProgressStage = deref(stage)
	op.OutputPath = deref(output)
	op.ErrorCode = deref(errCode)
	op.ErrorText = deref(errText)
	return &op, nil
}

// ListRecent returns up to limit operations, newest first.
func (r *RenderRepository) ListRecent(ctx context.Context, limit int) ([]models.RenderOperation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, status, stall_timeout_ms, progress_percent, cancel_requested, created_at, updated_at, finished_at
		FROM render_operations
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "renders.list", "select render operations")
	}
	defer rows.Close()

	out := make([]models.RenderOperation, 0, limit)
	for rows.Next() {
		var op models.RenderOperation
		if err := rows.Scan(&op.ID, &op.Status, &op.StallTimeoutMS, &op.ProgressPercent,
			&op.CancelRequested, &op.CreatedAt, &op.UpdatedAt, &op.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "renders.list", "scan render operation")
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "renders.list", "iterate render operations")
	}
	return out, nil
}

// FailPending marks PENDING operations owned by owner as failed. The API
// calls it at startup: rows an earlier process with the same owner left
// behind can no longer resolve. Rows of other owners are failed only once
// they have gone without an update for orphanAfter; zero leaves them alone.
func (r *RenderRepository) FailPending(ctx context.Context, owner string, orphanAfter time.Duration, reason string) (int64, error) {
	now := time.Now().UTC()
	var cutoff *time.Time
	if orphanAfter > 0 {
		t := now.Add(-orphanAfter)
		cutoff = &t
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE render_operations
		SET status='FAILED', error_code='UNAVAILABLE', error_text=$1, updated_at=NOW(), finished_at=$2
		WHERE status='PENDING'
		  AND (owner=$3 OR ($4::timestamptz IS NOT NULL AND updated_at < $4))
	`, reason, now, owner, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "renders.recover", "fail orphaned operations")
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
