package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	errBadJSON      = errors.New("request body is not a JSON object")
	errBodyTooLarge = errors.New("request body too large")
)

// RequestContext — параметры одного запроса. JSON-тело читается один раз,
// числа остаются json.Number.
type RequestContext struct {
	c        *gin.Context
	maxBody  int64
	body     map[string]any
	bodyErr  error
	bodyRead bool
}

func newRequestContext(c *gin.Context, maxBody int64) *RequestContext {
	return &RequestContext{c: c, maxBody: maxBody}
}

// Body возвращает разобранное JSON-тело; формы и пустое тело дают пустую карту.
func (rc *RequestContext) Body() (map[string]any, error) {
	if rc.bodyRead {
		return rc.body, rc.bodyErr
	}
	rc.bodyRead = true
	rc.body = map[string]any{}

	r := rc.c.Request
	if r.Body == nil || r.Method == "GET" {
		return rc.body, nil
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		return rc.body, nil
	}

	// обрезанное тело не разбираем: сверх лимита — отказ целиком
	raw, err := io.ReadAll(http.MaxBytesReader(rc.c.Writer, r.Body, rc.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rc.bodyErr = errBodyTooLarge
		} else {
			rc.bodyErr = fmt.Errorf("read body: %w", err)
		}
		return rc.body, rc.bodyErr
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return rc.body, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		rc.bodyErr = errBadJSON
		return rc.body, rc.bodyErr
	}
	// после объекта допускаются только пробелы
	if _, err := dec.Token(); err != io.EOF {
		rc.bodyErr = errBadJSON
		return rc.body, rc.bodyErr
	}
	rc.body = m
	return rc.body, nil
}

// Param ищет ключ по порядку: query, форма, JSON-тело. Побеждает первое непустое.
func (rc *RequestContext) Param(key string) (any, bool) {
	if v, ok := rc.c.GetQuery(key); ok {
		return v, true
	}
	if v, ok := rc.c.GetPostForm(key); ok {
		return v, true
	}
	body, _ := rc.Body()
	if v, ok := body[key]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// String — параметр как строка; объекты и массивы дают "".
func (rc *RequestContext) String(key string) string {
	v, ok := rc.Param(key)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// Int — целый параметр; отсутствие — def, мусор — ошибка.
func (rc *RequestContext) Int(key string, def int) (int, error) {
	s := rc.String(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parameter %q must be an integer", key)
	}
	return n, nil
}

// Items — массив объектов для пакетных действий (только из JSON-тела
// или как JSON-строка в query/форме).
func (rc *RequestContext) Items(key string) ([]map[string]any, error) {
	v, ok := rc.Param(key)
	if !ok {
		return nil, nil
	}
	if s, isStr := v.(string); isStr {
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var parsed any
		if err := dec.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("parameter %q must be a JSON array", key)
		}
		v = parsed
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be an array", key)
	}
	out := make([]map[string]any, 0, len(list))
	for i, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d must be an object", i)
		}
		out = append(out, m)
	}
	return out, nil
}
