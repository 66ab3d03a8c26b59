package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"hlgate/internal/schema"
	"hlgate/internal/store"
)

// querier — общее у *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store — записи в Postgres, по таблице на сущность.
type Store struct {
	db     *sql.DB
	schema string
	loc    *time.Location
	log    *slog.Logger
	reg    atomic.Pointer[schema.Registry]
}

func NewStore(db *sql.DB, reg *schema.Registry, dbSchema string, loc *time.Location, log *slog.Logger) *Store {
	if dbSchema == "" {
		dbSchema = DefaultSchema
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{db: db, schema: dbSchema, loc: loc, log: log}
	s.reg.Store(reg)
	return s
}

// SetRegistry подменяет каталог после перезагрузки.
func (s *Store) SetRegistry(reg *schema.Registry) { s.reg.Store(reg) }

// Migrate применяет add-only DDL для текущего каталога.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := GenerateDDL(s.reg.Load(), s.schema)
	if err != nil {
		return err
	}
	return ApplyDDL(ctx, s.db, ddl, s.log)
}

func (s *Store) List(ctx context.Context, entity string, q store.Query) ([]store.Record, int, error) {
	return s.table(entity).list(ctx, s.db, q)
}

func (s *Store) Get(ctx context.Context, entity string, id int64) (*store.Record, error) {
	return s.table(entity).get(ctx, s.db, id)
}

func (s *Store) Add(ctx context.Context, entity string, fields map[string]any) (int64, error) {
	return s.table(entity).add(ctx, s.db, fields)
}

func (s *Store) Update(ctx context.Context, entity string, id int64, fields map[string]any) error {
	return s.table(entity).update(ctx, s.db, id, fields)
}

func (s *Store) Delete(ctx context.Context, entity string, id int64) error {
	return s.table(entity).remove(ctx, s.db, id)
}

// Begin открывает транзакцию. Каждая запись внутри идёт под своим savepoint,
// чтобы отказ одной строки не ломал транзакцию целиком.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{s: s, tx: tx}, nil
}

type pgTx struct {
	s  *Store
	tx *sql.Tx
}

func (t *pgTx) List(ctx context.Context, entity string, q store.Query) ([]store.Record, int, error) {
	return t.s.table(entity).list(ctx, t.tx, q)
}

func (t *pgTx) Get(ctx context.Context, entity string, id int64) (*store.Record, error) {
	return t.s.table(entity).get(ctx, t.tx, id)
}

func (t *pgTx) Add(ctx context.Context, entity string, fields map[string]any) (int64, error) {
	var id int64
	err := t.savepoint(ctx, func() error {
		var err error
		id, err = t.s.table(entity).add(ctx, t.tx, fields)
		return err
	})
	return id, err
}

func (t *pgTx) Update(ctx context.Context, entity string, id int64, fields map[string]any) error {
	return t.savepoint(ctx, func() error {
		return t.s.table(entity).update(ctx, t.tx, id, fields)
	})
}

func (t *pgTx) Delete(ctx context.Context, entity string, id int64) error {
	return t.savepoint(ctx, func() error {
		return t.s.table(entity).remove(ctx, t.tx, id)
	})
}

func (t *pgTx) savepoint(ctx context.Context, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, "savepoint hl_item"); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "rollback to savepoint hl_item"); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := t.tx.ExecContext(ctx, "release savepoint hl_item")
	return err
}

func (t *pgTx) Commit() error { return t.tx.Commit() }

// Rollback после Commit безвреден.
func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// ===== таблица одной сущности =====

type table struct {
	name   string
	entity *schema.Entity
	loc    *time.Location
	err    error
}

func (s *Store) table(entityID string) table {
	e, err := s.reg.Load().Get(entityID)
	if err != nil {
		return table{err: err}
	}
	return table{
		name:   sqlIdent(s.schema) + "." + sqlIdent(safeTable(e.ID)),
		entity: e,
		loc:    s.loc,
	}
}

// selectList: numeric читаем текстом, чтобы не терять точность.
func (t table) selectList() string {
	parts := []string{`"id"`}
	for _, f := range t.entity.Fields {
		if f.Type == schema.TypeMoney {
			parts = append(parts, column(f.Code)+"::text")
			continue
		}
		parts = append(parts, column(f.Code))
	}
	return strings.Join(parts, ", ")
}

func (t table) col(code string) (string, error) {
	if code == store.IDField {
		return `"id"`, nil
	}
	if _, ok := t.entity.Field(code); !ok {
		return "", fmt.Errorf("pg: %s has no field %q", t.entity.ID, code)
	}
	return column(code), nil
}

func (t table) where(filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	var conds []string
	var args []any
	for _, code := range sortedKeys(filter) {
		c, err := t.col(code)
		if err != nil {
			return "", nil, err
		}
		v := filter[code]
		if v == nil {
			conds = append(conds, c+" is null")
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	return " where " + strings.Join(conds, " and "), args, nil
}

func (t table) list(ctx context.Context, q querier, query store.Query) ([]store.Record, int, error) {
	if t.err != nil {
		return nil, 0, t.err
	}
	where, args, err := t.where(query.Filter)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := q.QueryRowContext(ctx, "select count(*) from "+t.name+where, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	order := query.Order
	if len(order) == 0 {
		order = []store.Order{{Field: store.IDField, Desc: true}}
	}
	var ob []string
	for _, o := range order {
		c, err := t.col(o.Field)
		if err != nil {
			return nil, 0, err
		}
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		ob = append(ob, c+" "+dir+" nulls last")
	}

	sqlText := "select " + t.selectList() + " from " + t.name + where + " order by " + strings.Join(ob, ", ")
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sqlText += fmt.Sprintf(" limit $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sqlText += fmt.Sprintf(" offset $%d", len(args))
	}

	rows, err := q.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	defer rows.Close()

	out := []store.Record{}
	for rows.Next() {
		rec, err := t.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func (t table) scan(row scanner) (*store.Record, error) {
	vals := make([]any, len(t.entity.Fields)+1)
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := &store.Record{Fields: make(map[string]any, len(t.entity.Fields))}
	id, ok := vals[0].(int64)
	if !ok {
		return nil, fmt.Errorf("pg: unexpected id type %T", vals[0])
	}
	rec.ID = id
	for i, f := range t.entity.Fields {
		rec.Fields[f.Code] = t.fromDB(f, vals[i+1])
	}
	return rec, nil
}

// fromDB приводит значение драйвера к представлению хранения.
func (t table) fromDB(f schema.Field, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		if f.Type == schema.TypeDate {
			// date приходит как полночь UTC; день сохраняем в рабочей зоне
			return time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, t.loc)
		}
		return x
	}
	return v
}

// toDB: дату пишем календарным днём рабочей зоны.
func (t table) toDB(f *schema.Field, v any) any {
	if tm, ok := v.(time.Time); ok && f.Type == schema.TypeDate {
		tm = tm.In(t.loc)
		return time.Date(tm.Year(), tm.Month(), tm.Day(), 0, 0, 0, 0, time.UTC)
	}
	return v
}

func (t table) get(ctx context.Context, q querier, id int64) (*store.Record, error) {
	if t.err != nil {
		return nil, t.err
	}
	row := q.QueryRowContext(ctx, "select "+t.selectList()+" from "+t.name+` where "id" = $1`, id)
	rec, err := t.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return rec, nil
}

func (t table) add(ctx context.Context, q querier, fields map[string]any) (int64, error) {
	if t.err != nil {
		return 0, t.err
	}
	var cols, marks []string
	var args []any
	for _, code := range sortedKeys(fields) {
		f, ok := t.entity.Field(code)
		if !ok {
			return 0, fmt.Errorf("pg: %s has no field %q", t.entity.ID, code)
		}
		args = append(args, t.toDB(f, fields[code]))
		cols = append(cols, column(code))
		marks = append(marks, fmt.Sprintf("$%d", len(args)))
	}

	sqlText := "insert into " + t.name + " default values returning id"
	if len(cols) > 0 {
		sqlText = fmt.Sprintf("insert into %s (%s) values (%s) returning id",
			t.name, strings.Join(cols, ", "), strings.Join(marks, ", "))
	}
	var id int64
	if err := q.QueryRowContext(ctx, sqlText, args...).Scan(&id); err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

func (t table) update(ctx context.Context, q querier, id int64, fields map[string]any) error {
	if t.err != nil {
		return t.err
	}
	sets := []string{`"updated_at" = now()`}
	var args []any
	for _, code := range sortedKeys(fields) {
		f, ok := t.entity.Field(code)
		if !ok {
			return fmt.Errorf("pg: %s has no field %q", t.entity.ID, code)
		}
		args = append(args, t.toDB(f, fields[code]))
		sets = append(sets, fmt.Sprintf("%s = $%d", column(code), len(args)))
	}
	args = append(args, id)
	res, err := q.ExecContext(ctx, fmt.Sprintf(`update %s set %s where "id" = $%d`,
		t.name, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return mapErr(err)
	}
	return notFoundIfNone(res)
}

func (t table) remove(ctx context.Context, q querier, id int64) error {
	if t.err != nil {
		return t.err
	}
	res, err := q.ExecContext(ctx, "delete from "+t.name+` where "id" = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	return notFoundIfNone(res)
}

func notFoundIfNone(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapErr: нарушения данных и ограничений (классы 22 и 23) — отказ хранилища
// с сообщением Postgres; остальное — как есть.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23") {
		msg := pgErr.Message
		if pgErr.Detail != "" {
			msg += ": " + pgErr.Detail
		}
		return store.Reject(msg)
	}
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
