package reference

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis — справочники, которые внешняя синхронизация кладёт в хэши
// <prefix><kind>: поле = id, значение = название.
type Redis struct {
	Client *redis.Client
	Prefix string
	// Kinds — какие справочники обслуживаются; пусто = любые.
	Kinds []string
}

func NewRedis(client *redis.Client, prefix string, kinds ...string) *Redis {
	if prefix == "" {
		prefix = "hlgate:ref:"
	}
	return &Redis{Client: client, Prefix: prefix, Kinds: kinds}
}

func (r *Redis) serves(kind string) bool {
	if len(r.Kinds) == 0 {
		return true
	}
	for _, k := range r.Kinds {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}

func (r *Redis) Lookup(ctx context.Context, kind string, id int64) (string, bool, error) {
	if !r.serves(kind) {
		return "", false, ErrUnknownKind
	}
	name, err := r.Client.HGet(ctx, r.Prefix+strings.ToLower(kind), strconv.FormatInt(id, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// Put — запись в справочник (используется синхронизацией и тестами).
func (r *Redis) Put(ctx context.Context, kind string, id int64, name string) error {
	return r.Client.HSet(ctx, r.Prefix+strings.ToLower(kind), strconv.FormatInt(id, 10), name).Err()
}
