package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory — хранилище в памяти. Транзакция держит эксклюзивную блокировку
// на всё время работы и пишет в копию данных; Commit подменяет данные копией.
// Счётчики id при откате не возвращаются (как auto-increment в СУБД).
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[int64]map[string]any // entity -> id -> поля
	seq  *sequences
}

type sequences struct {
	mu   sync.Mutex
	last map[string]int64
}

func (s *sequences) next(entity string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[entity]++
	return s.last[entity]
}

func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[int64]map[string]any),
		seq:  &sequences{last: make(map[string]int64)},
	}
}

func (m *Memory) List(ctx context.Context, entity string, q Query) ([]Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return list(ctx, m.data, entity, q)
}

func (m *Memory) Get(ctx context.Context, entity string, id int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return get(ctx, m.data, entity, id)
}

func (m *Memory) Add(ctx context.Context, entity string, fields map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return add(ctx, m.data, m.seq, entity, fields)
}

func (m *Memory) Update(ctx context.Context, entity string, id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return update(ctx, m.data, entity, id, fields)
}

func (m *Memory) Delete(ctx context.Context, entity string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(ctx, m.data, entity, id)
}

// Begin захватывает запись до Commit/Rollback.
func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	return &memTx{m: m, work: cloneData(m.data)}, nil
}

var errTxDone = errors.New("store: transaction already finished")

type memTx struct {
	m    *Memory
	work map[string]map[int64]map[string]any
	done bool
}

func (t *memTx) List(ctx context.Context, entity string, q Query) ([]Record, int, error) {
	if t.done {
		return nil, 0, errTxDone
	}
	return list(ctx, t.work, entity, q)
}

func (t *memTx) Get(ctx context.Context, entity string, id int64) (*Record, error) {
	if t.done {
		return nil, errTxDone
	}
	return get(ctx, t.work, entity, id)
}

func (t *memTx) Add(ctx context.Context, entity string, fields map[string]any) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	return add(ctx, t.work, t.m.seq, entity, fields)
}

func (t *memTx) Update(ctx context.Context, entity string, id int64, fields map[string]any) error {
	if t.done {
		return errTxDone
	}
	return update(ctx, t.work, entity, id, fields)
}

func (t *memTx) Delete(ctx context.Context, entity string, id int64) error {
	if t.done {
		return errTxDone
	}
	return remove(ctx, t.work, entity, id)
}

func (t *memTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.m.data = t.work
	t.m.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.m.mu.Unlock()
	return nil
}

// ---- операции над снимком данных

func cloneData(src map[string]map[int64]map[string]any) map[string]map[int64]map[string]any {
	dst := make(map[string]map[int64]map[string]any, len(src))
	for ent, rows := range src {
		cp := make(map[int64]map[string]any, len(rows))
		for id, f := range rows {
			cp[id] = cloneFields(f)
		}
		dst[ent] = cp
	}
	return dst
}

func cloneFields(f map[string]any) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func get(ctx context.Context, data map[string]map[int64]map[string]any, entity string, id int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, ok := data[entity][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{ID: id, Fields: cloneFields(f)}, nil
}

func add(ctx context.Context, data map[string]map[int64]map[string]any, seq *sequences, entity string, fields map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if data[entity] == nil {
		data[entity] = make(map[int64]map[string]any)
	}
	id := seq.next(entity)
	data[entity][id] = cloneFields(fields)
	return id, nil
}

func update(ctx context.Context, data map[string]map[int64]map[string]any, entity string, id int64, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok := data[entity][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		cur[k] = v
	}
	return nil
}

func remove(ctx context.Context, data map[string]map[int64]map[string]any, entity string, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := data[entity][id]; !ok {
		return ErrNotFound
	}
	delete(data[entity], id)
	return nil
}

func list(ctx context.Context, data map[string]map[int64]map[string]any, entity string, q Query) ([]Record, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	var matched []Record
	for id, f := range data[entity] {
		if matches(id, f, q.Filter) {
			matched = append(matched, Record{ID: id, Fields: f})
		}
	}

	order := q.Order
	if len(order) == 0 {
		order = []Order{{Field: IDField, Desc: true}}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, o := range order {
			if c := cmpByKey(matched[i], matched[j], o); c != 0 {
				return c < 0
			}
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	lo := min(max(q.Offset, 0), total)
	hi := total
	if q.Limit > 0 {
		hi = min(lo+q.Limit, total)
	}
	page := make([]Record, 0, hi-lo)
	for _, r := range matched[lo:hi] {
		page = append(page, Record{ID: r.ID, Fields: cloneFields(r.Fields)})
	}
	return page, total, nil
}

func valueOf(r Record, key string) any {
	if key == IDField {
		return r.ID
	}
	return r.Fields[key]
}

func matches(id int64, f map[string]any, filter map[string]any) bool {
	r := Record{ID: id, Fields: f}
	for k, want := range filter {
		if compare(valueOf(r, k), want) != 0 {
			return false
		}
	}
	return true
}

// cmpByKey: null всегда в конце, независимо от направления.
func cmpByKey(a, b Record, o Order) int {
	va, vb := valueOf(a, o.Field), valueOf(b, o.Field)
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil:
		return +1
	case vb == nil:
		return -1
	}
	rel := compare(va, vb)
	if o.Desc {
		rel = -rel
	}
	return rel
}

// compare сравнивает значения хранения; разные типы — по строковому виду.
func compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmpOrdered(boolInt(x), boolInt(y))
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	if a == nil || b == nil {
		if a == b {
			return 0
		}
		if a == nil {
			return -1
		}
		return 1
	}
	return cmpOrdered(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
