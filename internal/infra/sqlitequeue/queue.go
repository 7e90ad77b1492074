package sqlitequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mailbridge/internal/domain"
	"mailbridge/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
)

var _ ports.Queue = (*Store)(nil)

func (s *Store) Enqueue(ctx context.Context, j domain.NewJob) (int64, bool, error) {
	now := s.now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO jobs (sender, command, dedup_key, subject, status, retry_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	ON CONFLICT(dedup_key) DO NOTHING`,
		j.Sender, j.Command, nullable(j.DedupKey), j.Subject, domain.StatusPending, now, now)
	if err != nil {
		return 0, false, fmt.Errorf("insert job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		log.Ctx(ctx).Debug().Str("dedup_key", j.DedupKey).Msg("duplicate job ignored")
		return 0, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Dequeue takes the store lock without blocking, claims the oldest pending
// job (created_at, then id) and releases the lock before returning.
func (s *Store) Dequeue(ctx context.Context) (*domain.Job, error) {
	ok, err := s.lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Ctx(ctx).Warn().Str("lock", s.lock.Path()).Msg("queue lock held by another process, skipping dequeue")
		return nil, nil
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("release queue lock")
		}
	}()

	row := s.db.QueryRowContext(ctx, `
	UPDATE jobs SET
		status = ?,
		updated_at = ?
	WHERE id = (
		SELECT id FROM jobs
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	)
	RETURNING `+jobColumns,
		domain.StatusProcessing,
		s.now().UnixNano(),
		domain.StatusPending,
	)

	r, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if isBusy(err) {
			log.Ctx(ctx).Warn().Err(err).Msg("queue store busy, skipping dequeue")
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	j := r.toDomain()
	return &j, nil
}

// UpdateStatus records a transition. Terminal statuses set completed_at and
// exactly one of result or error.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status domain.Status, result, errMsg string) error {
	now := s.now().UnixNano()

	var (
		res sql.Result
		err error
	)
	switch status {
	case domain.StatusCompleted:
		res, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result = ?, error = NULL, completed_at = ?, updated_at = ?
		WHERE id = ?`, status, result, now, now, id)
	case domain.StatusFailed:
		res, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, result = NULL, completed_at = ?, updated_at = ?
		WHERE id = ?`, status, errMsg, now, now, id)
	case domain.StatusPending, domain.StatusProcessing:
		res, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = NULL, updated_at = ?
		WHERE id = ?`, status, now, id)
	default:
		return fmt.Errorf("%w: %q", ErrBadStatus, status)
	}
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	return expectOne(res, id)
}

func (s *Store) IncrementRetry(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
	UPDATE jobs SET retry_count = retry_count + 1, updated_at = ?
	WHERE id = ?
	RETURNING retry_count`, s.now().UnixNano(), id).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return 0, fmt.Errorf("increment retry %d: %w", id, err)
	}
	return n, nil
}

func (s *Store) ShouldRetry(ctx context.Context, id int64, maxRetries int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM jobs WHERE id = ?`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return false, err
	}
	return n < maxRetries, nil
}

// ResetStuck reverts processing jobs not touched within timeout back to
// pending. A reverted job has a fresh updated_at, so repeated calls are no-ops.
func (s *Store) ResetStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, updated_at = ?
	WHERE status = ? AND updated_at < ?`,
		domain.StatusPending, now.UnixNano(), domain.StatusProcessing, now.Add(-timeout).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Ctx(ctx).Warn().Int64("count", n).Msg("reset stuck jobs")
	}
	return n, nil
}

func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixNano()
	res, err := s.db.ExecContext(ctx, `
	DELETE FROM jobs
	WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		domain.StatusCompleted, domain.StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Ctx(ctx).Info().Int64("count", n).Msg("purged old jobs")
	}
	return n, nil
}

// Stats returns a count for every status, including zero counts.
func (s *Store) Stats(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[domain.Status]int, len(domain.Statuses))
	for _, st := range domain.Statuses {
		stats[st] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[domain.Status(status)] = count
	}
	return stats, rows.Err()
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return nil
}
