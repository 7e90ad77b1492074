package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"mailbridge/internal/domain"
	"mailbridge/internal/ports"

	"github.com/redis/go-redis/v9"
)

var _ ports.Publisher = (*Client)(nil)

const (
	// streamMaxLen bounds the event stream; trimming is approximate.
	streamMaxLen = 10000
	stateTTL     = 7 * 24 * time.Hour
)

// Publish appends e to the event stream and refreshes the job's state hash
// in one pipeline.
func (c *Client) Publish(ctx context.Context, e domain.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := stateKey(e.JobID)
	_, err = c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: c.Cfg.StreamKey,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]any{
				"type":   string(e.Type),
				"job_id": e.JobID,
				"event":  b,
			},
		})
		p.HSet(ctx, key, map[string]any{
			"status":      string(e.Type),
			"sender":      e.Sender,
			"subject":     e.Subject,
			"retry_count": e.RetryCount,
			"error":       e.Error,
			"updated_at":  e.At.UnixMilli(),
		})
		p.Expire(ctx, key, stateTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s event for job %d: %w", e.Type, e.JobID, err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (c *Client) Recent(ctx context.Context, n int64) ([]domain.Event, error) {
	msgs, err := c.Rdb.XRevRangeN(ctx, c.Cfg.StreamKey, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(msgs))
	for _, msg := range msgs {
		var e domain.Event
		switch v := msg.Values["event"].(type) {
		case string:
			err = json.Unmarshal([]byte(v), &e)
		case []byte:
			err = json.Unmarshal(v, &e)
		default:
			err = fmt.Errorf("unexpected event type: %T", v)
		}
		if err != nil {
			return nil, fmt.Errorf("decode event %s: %w", msg.ID, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// State returns the last published snapshot of a job, or nil if none.
func (c *Client) State(ctx context.Context, jobID int64) (map[string]string, error) {
	h, err := c.Rdb.HGetAll(ctx, stateKey(jobID)).Result()
	if err != nil || len(h) == 0 {
		return nil, err
	}
	return h, nil
}

func stateKey(id int64) string {
	return "mailbridge:job:" + strconv.FormatInt(id, 10)
}
