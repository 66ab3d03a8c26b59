package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"hlgate/internal/codec"
	"hlgate/internal/files"
	"hlgate/internal/reference"
	"hlgate/internal/schema"
	"hlgate/internal/store"
)

// ErrorSet — ошибки по кодам полей; на поле одно сообщение, последнее побеждает.
type ErrorSet map[string]string

func (s ErrorSet) Add(field, msg string) { s[field] = msg }

func (s ErrorSet) Empty() bool { return len(s) == 0 }

// Options управляют проверкой одной записи.
type Options struct {
	IsUpdate bool
	// Existing — текущие значения записи при обновлении (для сравнения дат).
	Existing map[string]any
	// SkipReferenceValidation — не проверять существование foreign_reference.
	SkipReferenceValidation bool
	// Store — где искать записи для block_ref; в пакете это транзакция.
	Store store.RecordStore
}

type Validator struct {
	codec    *codec.Codec
	registry *schema.Registry
	refs     reference.Resolver
	files    files.Resolver
	log      *slog.Logger
}

func New(c *codec.Codec, reg *schema.Registry, refs reference.Resolver, fs files.Resolver, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{codec: c, registry: reg, refs: refs, files: fs, log: log}
}

// Validate проверяет все правила сразу и возвращает полный набор ошибок.
// Неизвестные поля игнорируются.
func (v *Validator) Validate(ctx context.Context, e *schema.Entity, submitted map[string]any, opts Options) ErrorSet {
	errs := ErrorSet{}

	// 1) required: только при создании; при обновлении — если поле явно очищают
	for _, f := range e.Fields {
		if !f.Required {
			continue
		}
		raw, present := submitted[f.Code]
		if opts.IsUpdate && !present {
			continue
		}
		if !present || codec.IsEmpty(raw) {
			errs.Add(f.Code, "Field '"+f.Code+"' is required")
		}
	}

	// 2) типы и ограничения полей; пустые значения пропускаются
	for code, raw := range submitted {
		f, ok := e.Field(code)
		if !ok || codec.IsEmpty(raw) {
			continue
		}
		if msg := v.codec.Check(f, raw); msg != "" {
			errs.Add(code, msg)
			continue
		}
		if msg := v.checkExternal(ctx, f, raw, opts); msg != "" {
			errs.Add(code, msg)
		}
	}

	// 3) межполевое правило дат
	if dr := e.DateRange; dr != nil {
		v.checkDateRange(e, dr, submitted, opts, errs)
	}
	return errs
}

// checkExternal — проверки через внешние источники (справочники, файлы, записи).
func (v *Validator) checkExternal(ctx context.Context, f *schema.Field, raw any, opts Options) string {
	switch f.Type {
	case schema.TypeForeignReference:
		if opts.SkipReferenceValidation {
			return ""
		}
		return v.lookup(ctx, f, f.Constraints.Kind, raw)
	case schema.TypeEmployeeRef:
		return v.lookup(ctx, f, reference.KindEmployee, raw)
	case schema.TypeBlockRef:
		return v.checkBlock(ctx, f, raw, opts.Store)
	case schema.TypeFileRef:
		return v.checkFile(ctx, f, raw)
	}
	return ""
}

func (v *Validator) lookup(ctx context.Context, f *schema.Field, kind string, raw any) string {
	if v.refs == nil {
		return ""
	}
	val, err := v.codec.Decode(f, raw)
	if err != nil {
		return "Field '" + f.Code + "' " + err.Error()
	}
	id := val.(int64)
	_, ok, err := v.refs.Lookup(ctx, kind, id)
	if err != nil {
		v.log.Error("reference lookup failed", "field", f.Code, "kind", kind, "id", id, "err", err)
		return "Field '" + f.Code + "' could not be verified"
	}
	if !ok {
		return fmt.Sprintf("Field '%s' references unknown %s %d", f.Code, kind, id)
	}
	return ""
}

func (v *Validator) checkBlock(ctx context.Context, f *schema.Field, raw any, rs store.RecordStore) string {
	if rs == nil || v.registry == nil {
		return ""
	}
	target, err := v.registry.Get(f.Constraints.Target)
	if err != nil {
		return "Field '" + f.Code + "' points to unknown entity"
	}
	val, err := v.codec.Decode(f, raw)
	if err != nil {
		return "Field '" + f.Code + "' " + err.Error()
	}
	id := val.(int64)
	if _, err := rs.Get(ctx, target.ID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Field '%s' references unknown %s record %d", f.Code, target.ID, id)
		}
		v.log.Error("block reference lookup failed", "field", f.Code, "target", target.ID, "id", id, "err", err)
		return "Field '" + f.Code + "' could not be verified"
	}
	return ""
}

func (v *Validator) checkFile(ctx context.Context, f *schema.Field, raw any) string {
	if v.files == nil {
		return ""
	}
	val, err := v.codec.Decode(f, raw)
	if err != nil {
		return "Field '" + f.Code + "' " + err.Error()
	}
	meta, err := v.files.Resolve(ctx, val.(string))
	if errors.Is(err, files.ErrNotFound) {
		return "Field '" + f.Code + "' references unknown file"
	}
	if err != nil {
		v.log.Error("file resolve failed", "field", f.Code, "err", err)
		return "Field '" + f.Code + "' could not be verified"
	}
	allowed := f.Constraints.AllowedExtensions()
	if !slices.Contains(allowed, meta.Extension) {
		return fmt.Sprintf("Field '%s' must be a file of type: %s", f.Code, strings.Join(allowed, ", "))
	}
	return ""
}

// checkDateRange: конец строго позже начала. Отсутствующая сторона при
// обновлении берётся из сохранённой записи; если стороны нет — правило не действует.
// Неразбираемые значения уже отмечены пофилдовой проверкой.
func (v *Validator) checkDateRange(e *schema.Entity, dr *schema.DateRange, submitted map[string]any, opts Options, errs ErrorSet) {
	start, okStart := v.side(e, dr.Start, submitted, opts)
	end, okEnd := v.side(e, dr.End, submitted, opts)
	if !okStart || !okEnd {
		return
	}
	if !end.After(start) {
		errs.Add(dr.End, fmt.Sprintf("Field '%s' must be after '%s'", dr.End, dr.Start))
	}
}

func (v *Validator) side(e *schema.Entity, code string, submitted map[string]any, opts Options) (time.Time, bool) {
	f, ok := e.Field(code)
	if !ok {
		return time.Time{}, false
	}
	raw, present := submitted[code]
	if !present && opts.IsUpdate {
		raw, present = opts.Existing[code]
	}
	if !present || codec.IsEmpty(raw) {
		return time.Time{}, false
	}
	val, err := v.codec.Decode(f, raw)
	if err != nil {
		return time.Time{}, false
	}
	t, ok := val.(time.Time)
	return t, ok
}
