package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind — справочника такого вида нет ни в одном источнике.
var ErrUnknownKind = errors.New("reference: unknown kind")

// Resolver проверяет существование внешнего объекта и отдаёт его название.
type Resolver interface {
	Lookup(ctx context.Context, kind string, id int64) (name string, ok bool, err error)
}

// KindEmployee — вид справочника для полей employee_ref.
const KindEmployee = "employee"

// Chain опрашивает источники по очереди; ErrUnknownKind означает «спроси следующего».
type Chain []Resolver

func (ch Chain) Lookup(ctx context.Context, kind string, id int64) (string, bool, error) {
	for _, r := range ch {
		if r == nil {
			continue
		}
		name, ok, err := r.Lookup(ctx, kind, id)
		if errors.Is(err, ErrUnknownKind) {
			continue
		}
		return name, ok, err
	}
	return "", false, fmt.Errorf("%w: %s", ErrUnknownKind, strings.ToLower(kind))
}
