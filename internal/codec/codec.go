package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"hlgate/internal/files"
	"hlgate/internal/schema"
)

// Codec переводит значения полей между видом запроса, хранения и ответа API.
type Codec struct {
	log     *slog.Logger
	files   files.Resolver
	loc     *time.Location
	fileURL string
}

type Option func(*Codec)

func WithLogger(l *slog.Logger) Option { return func(c *Codec) { c.log = l } }

func WithFiles(r files.Resolver) Option { return func(c *Codec) { c.files = r } }

func WithLocation(loc *time.Location) Option { return func(c *Codec) { c.loc = loc } }

// WithFileURLPrefix — префикс ссылки на скачивание, к нему добавляется id файла.
func WithFileURLPrefix(p string) Option { return func(c *Codec) { c.fileURL = p } }

func New(opts ...Option) *Codec {
	c := &Codec{
		log:     slog.Default(),
		loc:     time.Local,
		fileURL: "/api/files/",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Codec) Location() *time.Location { return c.loc }

// behavior — набор функций для одного типа поля. Таблица строится один раз.
type behavior struct {
	decode func(c *Codec, f *schema.Field, raw any) (any, error)
	check  func(c *Codec, f *schema.Field, raw any) string
	encode func(c *Codec, ctx context.Context, f *schema.Field, v any) any
}

var behaviors map[schema.FieldType]behavior

func init() {
	behaviors = map[schema.FieldType]behavior{
		schema.TypeString:           {decodeString, checkString, encodePlain},
		schema.TypeInteger:          {decodeInteger, checkInteger, encodeInteger},
		schema.TypeBoolean:          {decodeBoolean, checkBoolean, encodeBoolean},
		schema.TypeDate:             {decodeDate, checkDate, encodeDate},
		schema.TypeDateTime:         {decodeDate, checkDate, encodeDate},
		schema.TypeMoney:            {decodeMoney, checkMoney, encodeMoney},
		schema.TypeMoneyMinor:       {decodeMoneyMinor, checkMoney, encodeMoneyMinor},
		schema.TypeForeignReference: {decodeForeign, checkForeign, encodeInteger},
		schema.TypeEmployeeRef:      {decodeID, checkID, encodeInteger},
		schema.TypeBlockRef:         {decodeID, checkID, encodeInteger},
		schema.TypeFileRef:          {decodeFile, checkFile, encodeFile},
	}
}

var errNoBehavior = errors.New("no codec for field type")

// Decode: значение запроса -> значение хранения.
func (c *Codec) Decode(f *schema.Field, raw any) (any, error) {
	if IsEmpty(raw) {
		return nil, nil
	}
	b, ok := behaviors[f.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNoBehavior, f.Type)
	}
	return b.decode(c, f, raw)
}

// Check проверяет формат и статические ограничения поля.
// Пустая строка — всё в порядке. Пустые значения сюда не передаются.
func (c *Codec) Check(f *schema.Field, raw any) string {
	b, ok := behaviors[f.Type]
	if !ok {
		return "Field '" + f.Code + "' has unsupported type"
	}
	return b.check(c, f, raw)
}

// Encode: значение хранения -> представление в ответе API.
func (c *Codec) Encode(ctx context.Context, f *schema.Field, v any) any {
	if v == nil {
		return nil
	}
	b, ok := behaviors[f.Type]
	if !ok {
		return v
	}
	return b.encode(c, ctx, f, v)
}

// DecodeFields декодирует только объявленные поля сущности; пустые значения
// превращаются в nil (очистка поля). Ошибки собираются по кодам полей.
func (c *Codec) DecodeFields(e *schema.Entity, in map[string]any) (map[string]any, map[string]string) {
	out := make(map[string]any, len(in))
	var errs map[string]string
	for code, raw := range in {
		f, ok := e.Field(code)
		if !ok {
			continue
		}
		v, err := c.Decode(f, raw)
		if err != nil {
			if errs == nil {
				errs = map[string]string{}
			}
			errs[code] = "Field '" + code + "' " + err.Error()
			continue
		}
		out[code] = v
	}
	return out, errs
}

// EncodeFields отдаёт все поля сущности; отсутствующие — null.
func (c *Codec) EncodeFields(ctx context.Context, e *schema.Entity, stored map[string]any) map[string]any {
	out := make(map[string]any, len(e.Fields))
	for i := range e.Fields {
		f := &e.Fields[i]
		out[f.Code] = c.Encode(ctx, f, stored[f.Code])
	}
	return out
}

// IsEmpty — значение передано, но пустое: nil или строка из пробелов.
// 0 и "0" пустыми не считаются.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case json.Number:
		return strings.TrimSpace(x.String()) == ""
	}
	return false
}

// ---- string

func asString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case int, int32, int64:
		return fmt.Sprint(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

func decodeString(_ *Codec, _ *schema.Field, raw any) (any, error) {
	s, ok := asString(raw)
	if !ok {
		return nil, errors.New("expected string")
	}
	return strings.TrimSpace(s), nil
}

func checkString(_ *Codec, f *schema.Field, raw any) string {
	s, ok := asString(raw)
	if !ok {
		return "Field '" + f.Code + "' expected string"
	}
	if limit := f.Constraints.MaxLength; limit > 0 && utf8.RuneCountInString(strings.TrimSpace(s)) > limit {
		return fmt.Sprintf("Field '%s' must not exceed %d characters", f.Code, limit)
	}
	return ""
}

func encodePlain(_ *Codec, _ context.Context, _ *schema.Field, v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// ---- integer

// ToInt64 приводит JSON-число, строку или число Go к int64.
func ToInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) >= 1<<53 {
			return 0, errors.New("expected integer")
		}
		return int64(v), nil
	case json.Number:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		if err != nil {
			return 0, errors.New("expected integer")
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(v), "+"), 10, 64)
		if err != nil {
			return 0, errors.New("expected integer")
		}
		return n, nil
	case []byte:
		return ToInt64(string(v))
	}
	return 0, errors.New("expected integer")
}

func decodeInteger(_ *Codec, _ *schema.Field, raw any) (any, error) {
	return ToInt64(raw)
}

func checkInteger(_ *Codec, f *schema.Field, raw any) string {
	n, err := ToInt64(raw)
	if err != nil {
		return "Field '" + f.Code + "' expected integer"
	}
	if lo := f.Constraints.Min; lo != nil && n < *lo {
		if *lo == 0 {
			return "Field '" + f.Code + "' must be non-negative"
		}
		return fmt.Sprintf("Field '%s' must be >= %d", f.Code, *lo)
	}
	return ""
}

func encodeInteger(_ *Codec, _ context.Context, _ *schema.Field, v any) any {
	n, err := ToInt64(v)
	if err != nil {
		return v
	}
	return n
}

// ---- boolean

// ToBool понимает 1/0, yes/no, true/false, да/нет, on/off и JSON bool.
func ToBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "yes", "y", "true", "да", "on":
			return true, nil
		case "0", "no", "n", "false", "нет", "off":
			return false, nil
		}
	case json.Number, int, int32, int64, float64:
		n, err := ToInt64(v)
		if err == nil && (n == 0 || n == 1) {
			return n == 1, nil
		}
	}
	return false, errors.New("expected boolean")
}

func decodeBoolean(_ *Codec, _ *schema.Field, raw any) (any, error) {
	return ToBool(raw)
}

func checkBoolean(_ *Codec, f *schema.Field, raw any) string {
	if _, err := ToBool(raw); err != nil {
		return "Field '" + f.Code + "' expected boolean"
	}
	return ""
}

func encodeBoolean(_ *Codec, _ context.Context, _ *schema.Field, v any) any {
	b, err := ToBool(v)
	if err != nil {
		return false
	}
	return b
}

// ---- date / datetime

func (c *Codec) toTime(f *schema.Field, raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		return ParseDate(v, f.Type == schema.TypeDateTime, c.loc)
	}
	return time.Time{}, errDate
}

func decodeDate(c *Codec, f *schema.Field, raw any) (any, error) {
	t, err := c.toTime(f, raw)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func checkDate(c *Codec, f *schema.Field, raw any) string {
	if _, err := c.toTime(f, raw); err != nil {
		return "Field '" + f.Code + "' has invalid date format"
	}
	return ""
}

func encodeDate(c *Codec, _ context.Context, f *schema.Field, v any) any {
	t, err := c.toTime(f, v)
	if err != nil {
		return v
	}
	if f.Type == schema.TypeDateTime {
		return t.In(c.loc).Format(DateTimeLayout)
	}
	return t.In(c.loc).Format(DateLayout)
}

// ---- money

func amountString(raw any) (string, bool) {
	s, ok := asString(raw)
	if !ok {
		return "", false
	}
	return NormalizeAmount(s), true
}

func checkMoney(_ *Codec, f *schema.Field, raw any) string {
	bad := "Field '" + f.Code + "' has invalid money format"
	scale := Scale(f.Constraints.CurrencyCode())
	if f.Type == schema.TypeMoneyMinor {
		switch raw.(type) {
		case int, int32, int64:
			return ""
		}
	}
	s, ok := asString(raw)
	if !ok || !ValidAmount(s, scale) {
		return bad
	}
	// формат верный, но сумма должна поместиться в int64 минимальных единиц
	var err error
	if f.Type == schema.TypeMoneyMinor {
		_, err = decodeMinor(f, raw, scale)
	} else {
		_, err = majorToMinor(raw, scale)
	}
	if err != nil {
		return fmt.Sprintf("Field '%s' is out of range", f.Code)
	}
	return ""
}

// majorToMinor: для money (основные единицы) целое число тоже основные единицы.
func majorToMinor(raw any, scale int) (int64, error) {
	switch v := raw.(type) {
	case int, int32, int64:
		n, _ := ToInt64(v)
		mul := int64(math.Pow10(scale))
		if n > math.MaxInt64/mul || n < math.MinInt64/mul {
			return 0, errRange
		}
		return n * mul, nil
	}
	s, ok := amountString(raw)
	if !ok {
		return 0, errAmount
	}
	return toMinor(s, scale)
}

func (c *Codec) fallback(f *schema.Field, raw any, scale int, cause error) (int64, error) {
	n, err := fallbackMinor(raw, scale)
	c.log.Warn("money conversion fallback",
		"field", f.Code, "type", f.Type.String(), "value", fmt.Sprint(raw),
		"result", n, "recovered", err == nil, "err", cause)
	return n, err
}

func decodeMoney(c *Codec, f *schema.Field, raw any) (any, error) {
	scale := Scale(f.Constraints.CurrencyCode())
	minor, err := majorToMinor(raw, scale)
	if err != nil {
		if minor, err = c.fallback(f, raw, scale, err); err != nil {
			return nil, err
		}
	}
	return MajorString(minor, scale), nil
}

func decodeMoneyMinor(c *Codec, f *schema.Field, raw any) (any, error) {
	scale := Scale(f.Constraints.CurrencyCode())
	minor, err := decodeMinor(f, raw, scale)
	if err != nil {
		if minor, err = c.fallback(f, raw, scale, err); err != nil {
			return nil, err
		}
	}
	return minor, nil
}

func encodeMoney(_ *Codec, _ context.Context, f *schema.Field, v any) any {
	cur := f.Constraints.CurrencyCode()
	scale := Scale(cur)
	minor, err := majorToMinor(v, scale)
	if err != nil {
		return map[string]any{"value": fmt.Sprint(v), "currency": cur}
	}
	return map[string]any{
		"value":     MajorString(minor, scale),
		"currency":  cur,
		"formatted": Display(minor, cur, scale),
	}
}

func encodeMoneyMinor(_ *Codec, _ context.Context, f *schema.Field, v any) any {
	cur := f.Constraints.CurrencyCode()
	scale := Scale(cur)
	minor, err := ToInt64(v)
	if err != nil {
		return map[string]any{"minorUnits": v, "currency": cur}
	}
	return map[string]any{
		"minorUnits": minor,
		"majorValue": MajorString(minor, scale),
		"currency":   cur,
		"formatted":  Display(minor, cur, scale),
		"sign":       DebtSign(minor),
	}
}

// ---- references

var refToken = regexp.MustCompile(`^([A-Za-z]+)_(\d+)$`)

var errRef = errors.New("must be a positive id")

func decodeForeign(_ *Codec, f *schema.Field, raw any) (any, error) {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if m := refToken.FindStringSubmatch(s); m != nil {
			if p := f.Constraints.Prefix; p != "" && !strings.EqualFold(m[1], p) {
				return nil, fmt.Errorf("expects prefix %s_", strings.ToUpper(p))
			}
			s = m[2]
		}
		raw = s
	}
	n, err := ToInt64(raw)
	if err != nil || n <= 0 {
		return nil, errRef
	}
	return n, nil
}

func checkForeign(c *Codec, f *schema.Field, raw any) string {
	if _, err := decodeForeign(c, f, raw); err != nil {
		if p := f.Constraints.Prefix; p != "" {
			return fmt.Sprintf("Field '%s' must be %s_<id> or a numeric id", f.Code, strings.ToUpper(p))
		}
		return "Field '" + f.Code + "' must be a positive id"
	}
	return ""
}

func decodeID(_ *Codec, _ *schema.Field, raw any) (any, error) {
	n, err := ToInt64(raw)
	if err != nil || n <= 0 {
		return nil, errRef
	}
	return n, nil
}

func checkID(c *Codec, f *schema.Field, raw any) string {
	if _, err := decodeID(c, f, raw); err != nil {
		return "Field '" + f.Code + "' must be a positive id"
	}
	return ""
}

// ---- files

func decodeFile(_ *Codec, _ *schema.Field, raw any) (any, error) {
	s, ok := asString(raw)
	if !ok {
		return nil, errors.New("expected file id")
	}
	return strings.TrimSpace(s), nil
}

func checkFile(_ *Codec, f *schema.Field, raw any) string {
	if _, ok := asString(raw); !ok {
		return "Field '" + f.Code + "' expected file id"
	}
	return ""
}

// encodeFile: {id, name, humanSize, url}; неразрешимый файл — null.
func encodeFile(c *Codec, ctx context.Context, f *schema.Field, v any) any {
	id, ok := asString(v)
	if !ok || id == "" || c.files == nil {
		return nil
	}
	m, err := c.files.Resolve(ctx, id)
	if err != nil {
		if !errors.Is(err, files.ErrNotFound) {
			c.log.Warn("file resolve failed", "field", f.Code, "file", id, "err", err)
		}
		return nil
	}
	return map[string]any{
		"id":        m.ID,
		"name":      m.Name,
		"humanSize": humanize.IBytes(uint64(m.Size)),
		"url":       c.fileURL + m.ID,
	}
}
