package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hlgate/internal/access"
	"hlgate/internal/schema"
)

// ===== META =====

type metaField struct {
	Code        string             `json:"code"`
	Label       string             `json:"label,omitempty"`
	Type        string             `json:"type"`
	Required    bool               `json:"required"`
	Constraints schema.Constraints `json:"constraints"`
	ReadOnly    bool               `json:"readOnly,omitempty"` // запрещено текущему пользователю
}

type metaEntity struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Aliases   []string          `json:"aliases,omitempty"`
	Fields    []metaField       `json:"fields"`
	Filters   map[string]string `json:"filters,omitempty"`
	DateRange *schema.DateRange `json:"dateRange,omitempty"`
	Actions   []access.Action   `json:"actions"`
}

var metaActions = []access.Action{
	access.ActionGet, access.ActionAdd, access.ActionUpdate,
	access.ActionDelete, access.ActionBatchAdd, access.ActionBatchUpdate,
}

// Meta — GET /api/meta[?entityId=]: сущности, с которыми вызывающий может
// что-то сделать, их поля и разрешённые действия.
func (s *Server) Meta(c *gin.Context) {
	rc := newRequestContext(c, s.limits.MaxBodyBytes)
	p, ok := s.authenticate(c, rc)
	if !ok {
		return
	}
	reg := s.catalog.Load().reg

	entities := reg.List()
	if id := rc.String("entityId"); id != "" {
		e, err := reg.Get(id)
		if err != nil {
			s.respondErr(c, err)
			return
		}
		entities = []*schema.Entity{e}
	}

	out := make([]metaEntity, 0, len(entities))
	for _, e := range entities {
		var actions []access.Action
		for _, a := range metaActions {
			if s.gate.Allowed(p, e, a) {
				actions = append(actions, a)
			}
		}
		if len(actions) == 0 {
			continue
		}

		denied := map[string]bool{}
		for _, code := range s.gate.DeniedFields(p, e, e.Codes()) {
			denied[code] = true
		}
		fields := make([]metaField, 0, len(e.Fields))
		for _, f := range e.Fields {
			fields = append(fields, metaField{
				Code:        f.Code,
				Label:       f.Label,
				Type:        f.Type.String(),
				Required:    f.Required,
				Constraints: f.Constraints,
				ReadOnly:    denied[f.Code],
			})
		}
		out = append(out, metaEntity{
			ID:        e.ID,
			Name:      e.Name,
			Aliases:   e.Aliases,
			Fields:    fields,
			Filters:   e.Filters,
			DateRange: e.DateRange,
			Actions:   actions,
		})
	}

	if len(out) == 0 && rc.String("entityId") != "" {
		respondError(c, http.StatusForbidden, "Access denied", nil)
		return
	}
	respondOK(c, gin.H{"entities": out})
}
