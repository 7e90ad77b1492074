package sqlitequeue

import (
	"database/sql"
	"mailbridge/internal/domain"
	"time"
)

type jobRow struct {
	ID          int64
	Sender      string
	Command     string
	DedupKey    sql.NullString
	Subject     string
	Status      string
	Result      sql.NullString
	Error       sql.NullString
	RetryCount  int
	CreatedAt   int64
	UpdatedAt   int64
	CompletedAt sql.NullInt64
}

func (r *jobRow) toDomain() domain.Job {
	j := domain.Job{
		ID:         r.ID,
		Sender:     r.Sender,
		Command:    r.Command,
		DedupKey:   r.DedupKey.String,
		Subject:    r.Subject,
		Status:     domain.Status(r.Status),
		Result:     r.Result.String,
		Error:      r.Error.String,
		RetryCount: r.RetryCount,
		CreatedAt:  time.Unix(0, r.CreatedAt),
		UpdatedAt:  time.Unix(0, r.UpdatedAt),
	}
	if r.CompletedAt.Valid {
		j.CompletedAt = time.Unix(0, r.CompletedAt.Int64)
	}
	return j
}
