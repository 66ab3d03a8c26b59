package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hlgate/internal/store"
)

// Mode — политика при ошибках отдельных элементов.
type Mode string

const (
	BestEffort   Mode = "best_effort"
	AllOrNothing Mode = "all_or_nothing"
)

const DefaultMaxItems = 500

var (
	ErrTooLarge = errors.New("batch: too many items")
	ErrEmpty    = errors.New("batch: no items")
	ErrMode     = errors.New("batch: unknown mode")
)

// ParseMode: пусто — best_effort.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", BestEffort:
		return BestEffort, nil
	case AllOrNothing:
		return AllOrNothing, nil
	}
	return "", fmt.Errorf("%w: %q", ErrMode, s)
}

type Success struct {
	Index int   `json:"index"`
	ID    int64 `json:"id"`
}

type Failure struct {
	Index  int               `json:"index"`
	ID     int64             `json:"id,omitempty"`
	Errors map[string]string `json:"errors"`
}

// Outcome — итог пакета; индексы — позиции во входном массиве.
type Outcome struct {
	Succeeded  []Success
	Failed     []Failure
	RolledBack bool
}

// ItemError — отказ по одному элементу; пакет при этом продолжается.
type ItemError struct {
	ID     int64
	Errors map[string]string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("batch: item rejected (%d errors)", len(e.Errors))
}

// Apply обрабатывает один элемент в транзакции и возвращает id записи.
// *ItemError — отказ элемента; любая другая ошибка прерывает пакет с откатом.
type Apply func(ctx context.Context, tx store.RecordStore, index int, item map[string]any) (int64, error)

type Executor struct {
	store    store.Beginner
	maxItems int
	log      *slog.Logger
}

func NewExecutor(s store.Beginner, maxItems int, log *slog.Logger) *Executor {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{store: s, maxItems: maxItems, log: log}
}

func (x *Executor) MaxItems() int { return x.maxItems }

// Run проходит все элементы по порядку внутри одной транзакции.
// all_or_nothing: проход доводится до конца, чтобы собрать все ошибки,
// и при любой ошибке транзакция откатывается, список успешных пуст.
// best_effort: успешные элементы фиксируются.
func (x *Executor) Run(ctx context.Context, items []map[string]any, mode Mode, apply Apply) (*Outcome, error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	if len(items) > x.maxItems {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(items), x.maxItems)
	}

	tx, err := x.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch: begin: %w", err)
	}
	// транзакция закрывается на любом выходе, включая панику в apply
	finished := false
	defer func() {
		if !finished {
			if rbErr := tx.Rollback(); rbErr != nil {
				x.log.Error("batch rollback failed", "err", rbErr)
			}
		}
	}()
	out := &Outcome{Succeeded: []Success{}, Failed: []Failure{}}

	for i, item := range items {
		id, err := apply(ctx, tx, i, item)
		var ie *ItemError
		switch {
		case err == nil:
			out.Succeeded = append(out.Succeeded, Success{Index: i, ID: id})
		case errors.As(err, &ie):
			out.Failed = append(out.Failed, Failure{Index: i, ID: ie.ID, Errors: ie.Errors})
		default:
			return nil, fmt.Errorf("batch: item %d: %w", i, err)
		}
	}

	if mode == AllOrNothing && len(out.Failed) > 0 {
		finished = true
		if err := tx.Rollback(); err != nil {
			return nil, fmt.Errorf("batch: rollback: %w", err)
		}
		x.log.Info("batch rolled back", "items", len(items), "failed", len(out.Failed))
		out.Succeeded = []Success{}
		out.RolledBack = true
		return out, nil
	}

	finished = true
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("batch: commit: %w", err)
	}
	x.log.Info("batch committed", "mode", string(mode), "items", len(items), "succeeded", len(out.Succeeded), "failed", len(out.Failed))
	return out, nil
}
