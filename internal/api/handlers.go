package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hlgate/internal/access"
	"hlgate/internal/audit"
	"hlgate/internal/auth"
	"hlgate/internal/batch"
	"hlgate/internal/codec"
	"hlgate/internal/schema"
	"hlgate/internal/store"
	"hlgate/internal/validate"
)

// recordRequest — запрос, прошедший аутентификацию, выбор сущности и проверку прав.
type recordRequest struct {
	rc        *RequestContext
	principal *auth.Principal
	entity    *schema.Entity
	action    access.Action
	cat       *catalog
}

// authenticate опознаёт вызывающего; при отказе ответ уже отправлен.
func (s *Server) authenticate(c *gin.Context, rc *RequestContext) (*auth.Principal, bool) {
	body, err := rc.Body()
	if errors.Is(err, errBodyTooLarge) {
		respondError(c, http.StatusRequestEntityTooLarge, "Request body too large", nil)
		return nil, false
	}
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON body", nil)
		return nil, false
	}
	sid, _ := c.Cookie(s.sessionCookie)
	p, err := s.authn.Resolve(c.Request.Context(), auth.Credentials{
		Token:     auth.TokenFrom(c.Request, body),
		SessionID: sid,
	})
	if err != nil {
		s.respondErr(c, err)
		return nil, false
	}
	return p, true
}

// Records — GET/POST /api/records.
// Порядок: 401 -> сущность (400/404) -> действие (400) -> права (403) -> действие.
func (s *Server) Records(c *gin.Context) {
	setCORS(c)
	rc := newRequestContext(c, s.limits.MaxBodyBytes)

	// 1) кто
	p, ok := s.authenticate(c, rc)
	if !ok {
		return
	}

	// 2) над чем
	cat := s.catalog.Load()
	entityID := rc.String("entityId")
	if entityID == "" {
		entityID = rc.String("hlBlockId")
	}
	if entityID == "" {
		respondError(c, http.StatusBadRequest, "entityId is required", nil)
		return
	}
	e, err := cat.reg.Get(entityID)
	if err != nil {
		s.respondErr(c, err)
		return
	}

	// 3) что
	name := strings.ToLower(rc.String("action"))
	if name == "" {
		name = string(access.ActionGet)
	}
	a, known := access.ParseAction(name)
	if !known {
		respondError(c, http.StatusBadRequest, "Unknown action: "+name, nil)
		return
	}

	// 4) можно ли
	if !s.gate.Allowed(p, e, a) {
		s.log.Info("access denied", "actor", p.Actor(), "entity", e.ID, "action", name)
		respondError(c, http.StatusForbidden, "Access denied", nil)
		return
	}

	r := &recordRequest{rc: rc, principal: p, entity: e, action: a, cat: cat}
	switch a {
	case access.ActionGet:
		s.list(c, r)
	case access.ActionAdd:
		s.add(c, r)
	case access.ActionUpdate:
		s.update(c, r)
	case access.ActionDelete:
		s.remove(c, r)
	case access.ActionBatchAdd, access.ActionBatchUpdate:
		s.runBatch(c, r)
	}
}

// ===== get =====

func (s *Server) list(c *gin.Context, r *recordRequest) {
	ctx := c.Request.Context()
	e := r.entity
	q := store.Query{Filter: map[string]any{}}

	// фильтры сущности: параметр -> поле, значение декодируется по типу поля
	ferrs := map[string]string{}
	for param, code := range e.Filters {
		raw, ok := r.rc.Param(param)
		if !ok || codec.IsEmpty(raw) {
			continue
		}
		f, _ := e.Field(code)
		if msg := s.codec.Check(f, raw); msg != "" {
			ferrs[param] = msg
			continue
		}
		v, err := s.codec.Decode(f, raw)
		if err != nil {
			ferrs[param] = "Field '" + code + "' " + err.Error()
			continue
		}
		q.Filter[code] = v
	}
	if id, present, err := recordID(r.rc); err != nil {
		ferrs["itemId"] = err.Error()
	} else if present {
		q.Filter[store.IDField] = id
	}
	if len(ferrs) > 0 {
		respondError(c, http.StatusBadRequest, "Invalid filter", ferrs)
		return
	}

	lp, err := parseListParams(r.rc, e, s.limits)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	q.Order, q.Limit, q.Offset = lp.Order, lp.Limit, lp.Offset

	recs, total, err := s.store.List(ctx, e.ID, q)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, s.encode(ctx, e, rec))
	}
	respondOK(c, gin.H{
		"items":  items,
		"total":  total,
		"limit":  lp.Limit,
		"offset": lp.Offset,
	})
}

func (s *Server) encode(ctx context.Context, e *schema.Entity, rec store.Record) map[string]any {
	out := s.codec.EncodeFields(ctx, e, rec.Fields)
	out[store.IDField] = rec.ID
	return out
}

// ===== add / update / delete =====

func (s *Server) add(c *gin.Context, r *recordRequest) {
	ctx := c.Request.Context()
	raw := collectFields(r.rc, r.entity)
	if denied := s.gate.DeniedFields(r.principal, r.entity, keys(raw)); len(denied) > 0 {
		respondError(c, http.StatusForbidden, "Access denied", gin.H{"fields": denied})
		return
	}

	id, fields, errs, err := s.addRecord(ctx, s.store, r, raw)
	if len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	if err != nil {
		s.respondErr(c, err)
		return
	}
	s.emit(ctx, r, id, fields)
	respondOK(c, gin.H{"id": id, "message": "Record added"})
}

func (s *Server) update(c *gin.Context, r *recordRequest) {
	ctx := c.Request.Context()
	id, present, err := recordID(r.rc)
	if err != nil || !present {
		respondError(c, http.StatusBadRequest, "Record id is required", nil)
		return
	}
	raw := collectFields(r.rc, r.entity)
	if denied := s.gate.DeniedFields(r.principal, r.entity, keys(raw)); len(denied) > 0 {
		respondError(c, http.StatusForbidden, "Access denied", gin.H{"fields": denied})
		return
	}

	fields, errs, err := s.updateRecord(ctx, s.store, r, id, raw)
	if errors.Is(err, errNoFields) {
		respondError(c, http.StatusBadRequest, "No fields to update", nil)
		return
	}
	if len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	if err != nil {
		s.respondErr(c, err)
		return
	}
	s.emit(ctx, r, id, fields)
	respondOK(c, gin.H{"id": id, "message": "Record updated"})
}

func (s *Server) remove(c *gin.Context, r *recordRequest) {
	ctx := c.Request.Context()
	id, present, err := recordID(r.rc)
	if err != nil || !present {
		respondError(c, http.StatusBadRequest, "Record id is required", nil)
		return
	}
	if _, err := s.store.Get(ctx, r.entity.ID, id); err != nil {
		s.respondErr(c, err)
		return
	}
	if err := s.store.Delete(ctx, r.entity.ID, id); err != nil {
		s.respondErr(c, err)
		return
	}
	s.emit(ctx, r, id, nil)
	respondOK(c, gin.H{"id": id, "message": "Record deleted"})
}

var errNoFields = errors.New("no fields to update")

// addRecord проверяет и пишет одну запись через rs (хранилище или транзакцию пакета).
func (s *Server) addRecord(ctx context.Context, rs store.RecordStore, r *recordRequest, raw map[string]any) (int64, map[string]any, validate.ErrorSet, error) {
	errs := r.cat.val.Validate(ctx, r.entity, raw, validate.Options{
		SkipReferenceValidation: r.principal.SkipReferenceValidation,
		Store:                   rs,
	})
	if !errs.Empty() {
		return 0, nil, errs, nil
	}
	fields, derrs := s.codec.DecodeFields(r.entity, raw)
	if len(derrs) > 0 {
		return 0, nil, derrs, nil
	}
	id, err := rs.Add(ctx, r.entity.ID, fields)
	if err != nil {
		return 0, nil, nil, err
	}
	return id, fields, nil, nil
}

// updateRecord: запись должна существовать, хотя бы одно поле должно быть передано.
func (s *Server) updateRecord(ctx context.Context, rs store.RecordStore, r *recordRequest, id int64, raw map[string]any) (map[string]any, validate.ErrorSet, error) {
	existing, err := rs.Get(ctx, r.entity.ID, id)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, errNoFields
	}
	errs := r.cat.val.Validate(ctx, r.entity, raw, validate.Options{
		IsUpdate:                true,
		Existing:                existing.Fields,
		SkipReferenceValidation: r.principal.SkipReferenceValidation,
		Store:                   rs,
	})
	if !errs.Empty() {
		return nil, errs, nil
	}
	fields, derrs := s.codec.DecodeFields(r.entity, raw)
	if len(derrs) > 0 {
		return nil, derrs, nil
	}
	if err := rs.Update(ctx, r.entity.ID, id, fields); err != nil {
		return nil, nil, err
	}
	return fields, nil, nil
}

// ===== batch_add / batch_update =====

func (s *Server) runBatch(c *gin.Context, r *recordRequest) {
	ctx := c.Request.Context()
	mode, err := batch.ParseMode(r.rc.String("mode"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Unknown batch mode", nil)
		return
	}
	items, err := r.rc.Items("items")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if len(items) == 0 {
		respondError(c, http.StatusBadRequest, "items must be a non-empty array", nil)
		return
	}
	if len(items) > s.batch.MaxItems() {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("Batch exceeds %d items", s.batch.MaxItems()), nil)
		return
	}

	// принятые поля по индексу; в аудит уходят только после фиксации
	written := make(map[int]map[string]any, len(items))
	apply := func(ctx context.Context, tx store.RecordStore, i int, item map[string]any) (int64, error) {
		raw := declaredFields(r.entity, item)
		if denied := s.gate.DeniedFields(r.principal, r.entity, keys(raw)); len(denied) > 0 {
			errs := map[string]string{}
			for _, code := range denied {
				errs[code] = "Field '" + code + "' cannot be changed by the current user"
			}
			return 0, &batch.ItemError{Errors: errs}
		}

		var (
			id     int64
			fields map[string]any
			verrs  validate.ErrorSet
			err    error
		)
		if r.action == access.ActionBatchAdd {
			id, fields, verrs, err = s.addRecord(ctx, tx, r, raw)
		} else {
			var ok bool
			id, ok = itemID(item)
			if !ok {
				return 0, &batch.ItemError{Errors: map[string]string{store.IDField: "Record id is required"}}
			}
			fields, verrs, err = s.updateRecord(ctx, tx, r, id, raw)
		}

		var rej *store.RejectError
		switch {
		case len(verrs) > 0:
			return 0, &batch.ItemError{ID: id, Errors: verrs}
		case errors.Is(err, store.ErrNotFound):
			return 0, &batch.ItemError{ID: id, Errors: map[string]string{store.IDField: "Record not found"}}
		case errors.Is(err, errNoFields):
			return 0, &batch.ItemError{ID: id, Errors: map[string]string{"_error": "No fields to update"}}
		case errors.As(err, &rej):
			return 0, &batch.ItemError{ID: id, Errors: map[string]string{"_error": strings.Join(rej.Messages, "; ")}}
		case err != nil:
			return 0, err
		}
		written[i] = fields
		return id, nil
	}

	out, err := s.batch.Run(ctx, items, mode, apply)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	for _, ok := range out.Succeeded {
		s.emit(ctx, r, ok.ID, written[ok.Index])
	}

	data := gin.H{
		"mode":      mode,
		"succeeded": len(out.Succeeded),
		"failed":    len(out.Failed),
		"results": gin.H{
			"success": out.Succeeded,
			"errors":  out.Failed,
		},
	}
	if out.RolledBack {
		respondError(c, http.StatusBadRequest,
			fmt.Sprintf("Batch rolled back: %d of %d items failed", len(out.Failed), len(items)), data)
		return
	}
	respondOK(c, data)
}

// ===== утилиты =====

// collectFields берёт объявленные поля сущности из параметров запроса.
func collectFields(rc *RequestContext, e *schema.Entity) map[string]any {
	out := map[string]any{}
	for _, code := range e.Codes() {
		if v, ok := rc.Param(code); ok {
			out[code] = v
		}
	}
	return out
}

// declaredFields — то же для элемента пакета.
func declaredFields(e *schema.Entity, item map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range item {
		if _, ok := e.Field(k); ok {
			out[k] = v
		}
	}
	return out
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// recordID: itemId, затем id.
func recordID(rc *RequestContext) (int64, bool, error) {
	for _, k := range []string{"itemId", "id"} {
		v, ok := rc.Param(k)
		if !ok || codec.IsEmpty(v) {
			continue
		}
		n, err := codec.ToInt64(v)
		if err != nil || n <= 0 {
			return 0, true, fmt.Errorf("parameter %q must be a positive id", k)
		}
		return n, true, nil
	}
	return 0, false, nil
}

func itemID(item map[string]any) (int64, bool) {
	for _, k := range []string{store.IDField, "id", "itemId"} {
		if v, ok := item[k]; ok && !codec.IsEmpty(v) {
			n, err := codec.ToInt64(v)
			return n, err == nil && n > 0
		}
	}
	return 0, false
}

// emit отправляет принятую мутацию в аудит.
func (s *Server) emit(ctx context.Context, r *recordRequest, id int64, fields map[string]any) {
	now := time.Now().UTC()
	s.audit.Append(ctx, audit.Entry{
		ID:       s.ids.New(now),
		Time:     now,
		Actor:    r.principal.Actor(),
		UserID:   r.principal.UserID,
		Action:   string(r.action),
		Entity:   r.entity.ID,
		RecordID: id,
		Fields:   fields,
	})
}
