package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-redis/redis"
)

var _ CursorStore = (*RedisCursor)(nil)

const redisCursorPrefix = "Cursor:"

// errStaleCursor aborts the transaction when the stored cursor is already ahead.
var errStaleCursor = errors.New("redis cursor: stored value is ahead")

// RedisCursor keeps the cursor in a single redis key.
type RedisCursor struct {
	db  *redis.Client
	key string
}

func NewRedisCursor(db *redis.Client, name string) *RedisCursor {
	return &RedisCursor{db: db, key: redisCursorPrefix + name}
}

// client binds ctx to the redis client, failing fast when ctx is already done.
func (c *RedisCursor) client(ctx context.Context) (*redis.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.db.WithContext(ctx), nil
}

func (c *RedisCursor) Get(ctx context.Context) (int64, bool, error) {
	db, err := c.client(ctx)
	if err != nil {
		return 0, false, unavailable("redis cursor: get", err)
	}

	value, err := db.Get(c.key).Int64()
	// redis signals a missing key by Nil
	if err == redis.Nil {
		return 0, false, nil
	} else if err != nil {
		return 0, false, unavailable("redis cursor: get", err)
	}
	return value, true, nil
}

// Set writes value under WATCH so a concurrent writer with a higher value wins.
func (c *RedisCursor) Set(ctx context.Context, value int64) error {
	db, err := c.client(ctx)
	if err != nil {
		return unavailable("redis cursor: set", err)
	}

	err = db.Watch(func(tx *redis.Tx) error {
		current, err := tx.Get(c.key).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil && current >= value {
			return errStaleCursor
		}

		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.Set(c.key, strconv.FormatInt(value, 10), 0)
			return nil
		})
		return err
	}, c.key)

	switch {
	case err == nil, errors.Is(err, errStaleCursor):
		return nil
	default:
		return unavailable("redis cursor: set", err)
	}
}
