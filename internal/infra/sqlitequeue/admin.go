package sqlitequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mailbridge/internal/domain"
	"mailbridge/internal/ports"
)

var _ ports.Admin = (*Store)(nil)

func (s *Store) Get(ctx context.Context, id int64) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	r, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return nil, err
	}
	j := r.toDomain()
	return &j, nil
}

// List returns jobs in FIFO order. An empty status lists every job.
func (s *Store) List(ctx context.Context, status domain.Status, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	} else {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrBadStatus, status)
		}
		rows, err = s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		r, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, r.toDomain())
	}
	return jobs, rows.Err()
}

// Requeue moves a failed job back to pending for one more attempt. The retry
// count is kept, so an exhausted job fails again without further retries.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, error = NULL, completed_at = NULL, updated_at = ?
	WHERE id = ? AND status = ?`,
		domain.StatusPending, s.now().UnixNano(), id, domain.StatusFailed)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFailed, id)
	}
	return nil
}
