package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStream добавляет записи в Redis Stream (XADD, длина ограничена примерно MaxLen).
type RedisStream struct {
	Client *redis.Client
	Stream string
	MaxLen int64
	Log    *slog.Logger
}

func NewRedisStream(client *redis.Client, stream string, maxLen int64, log *slog.Logger) *RedisStream {
	if stream == "" {
		stream = "hlgate:audit"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStream{Client: client, Stream: stream, MaxLen: maxLen, Log: log}
}

func (r *RedisStream) Append(ctx context.Context, e Entry) {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		fields = []byte("{}")
	}
	args := &redis.XAddArgs{
		Stream: r.Stream,
		Values: map[string]any{
			"id":     e.ID,
			"time":   e.Time.Format("2006-01-02T15:04:05.000Z07:00"),
			"actor":  e.Actor,
			"user":   strconv.FormatInt(e.UserID, 10),
			"action": e.Action,
			"entity": e.Entity,
			"record": strconv.FormatInt(e.RecordID, 10),
			"fields": string(fields),
		},
	}
	if r.MaxLen > 0 {
		args.MaxLen = r.MaxLen
		args.Approx = true
	}
	if err := r.Client.XAdd(ctx, args).Err(); err != nil {
		// аудит не валит запрос: только в лог
		r.Log.Error("audit stream append failed", "stream", r.Stream, "entry", e.ID, "err", err)
	}
}
