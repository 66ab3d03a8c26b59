package audit

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entry — одна принятая мутация.
type Entry struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"time"`
	Actor    string         `json:"actor"`
	UserID   int64          `json:"userId"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	RecordID int64          `json:"recordId"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Sink — журнал аудита. Append не должен блокировать запрос и не возвращает ошибок.
type Sink interface {
	Append(ctx context.Context, e Entry)
}

// IDs — генератор ULID, безопасный для горутин.
type IDs struct {
	mu      sync.Mutex
	entropy io.Reader
}

func NewIDs() *IDs {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &IDs{entropy: ulid.Monotonic(src, 0)}
}

func (g *IDs) New(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}

// Slog пишет записи аудита в структурный лог.
type Slog struct {
	Log *slog.Logger
}

func (s Slog) Append(ctx context.Context, e Entry) {
	s.Log.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("id", e.ID),
		slog.String("actor", e.Actor),
		slog.Int64("user", e.UserID),
		slog.String("action", e.Action),
		slog.String("entity", e.Entity),
		slog.Int64("record", e.RecordID),
		slog.Int("fields", len(e.Fields)),
	)
}

// Fanout отдаёт запись каждому приёмнику по очереди.
type Fanout []Sink

func (f Fanout) Append(ctx context.Context, e Entry) {
	for _, s := range f {
		s.Append(ctx, e)
	}
}

// Async — очередь перед медленным приёмником. При переполнении запись
// отбрасывается и учитывается в Dropped.
type Async struct {
	next    Sink
	ch      chan Entry
	ids     *IDs
	log     *slog.Logger
	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
}

func NewAsync(next Sink, buffer int, log *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		next: next,
		ch:   make(chan Entry, buffer),
		ids:  NewIDs(),
		log:  log,
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.ch {
		a.next.Append(context.Background(), e)
	}
}

// Append проставляет id и время и ставит запись в очередь.
func (a *Async) Append(_ context.Context, e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = a.ids.New(e.Time)
	}
	select {
	case a.ch <- e:
	default:
		n := a.dropped.Add(1)
		a.log.Warn("audit queue full, entry dropped", "entity", e.Entity, "action", e.Action, "dropped", n)
	}
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close дожидается разбора очереди или отмены ctx. Append после Close нельзя.
func (a *Async) Close(ctx context.Context) error {
	a.once.Do(func() { close(a.ch) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
