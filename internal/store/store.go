package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound — записи с таким id нет.
var ErrNotFound = errors.New("store: record not found")

// IDField — системное поле идентификатора в фильтрах и сортировке.
const IDField = "ID"

// Record — запись в представлении хранения.
type Record struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
}

type Order struct {
	Field string
	Desc  bool
}

// Query — фильтр на равенство, сортировка и страница.
type Query struct {
	Filter map[string]any
	Order  []Order
	Limit  int
	Offset int
}

// RejectError — хранилище отказалось выполнить запись; сообщения уходят клиенту.
type RejectError struct {
	Messages []string
}

func (e *RejectError) Error() string {
	return "store: rejected: " + strings.Join(e.Messages, "; ")
}

func Reject(msgs ...string) error { return &RejectError{Messages: msgs} }

// RecordStore — операции над записями одной сущности (по её id в каталоге).
type RecordStore interface {
	List(ctx context.Context, entity string, q Query) ([]Record, int, error)
	Get(ctx context.Context, entity string, id int64) (*Record, error)
	Add(ctx context.Context, entity string, fields map[string]any) (int64, error)
	Update(ctx context.Context, entity string, id int64, fields map[string]any) error
	Delete(ctx context.Context, entity string, id int64) error
}

// Tx — транзакция. После Commit/Rollback использовать нельзя.
type Tx interface {
	RecordStore
	Commit() error
	Rollback() error
}

type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Store — хранилище с поддержкой транзакций.
type Store interface {
	RecordStore
	Beginner
}
