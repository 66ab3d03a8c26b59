package api

import (
	"fmt"
	"strings"

	"hlgate/internal/schema"
	"hlgate/internal/store"
)

// ==== Параметры листинга ====

type listParams struct {
	Limit  int
	Offset int
	Order  []store.Order
}

// parseListParams: limit по умолчанию DefaultPage, больше MaxPage молча урезается;
// отрицательный offset = 0; order — "FIELD", "-FIELD" или "FIELD:desc" через запятую.
func parseListParams(rc *RequestContext, e *schema.Entity, lim Limits) (listParams, error) {
	var lp listParams

	limit, err := rc.Int("limit", lim.DefaultPage)
	if err != nil {
		return lp, err
	}
	if limit <= 0 {
		limit = lim.DefaultPage
	}
	lp.Limit = min(limit, lim.MaxPage)

	offset, err := rc.Int("offset", 0)
	if err != nil {
		return lp, err
	}
	lp.Offset = max(offset, 0)

	lp.Order, err = parseOrder(rc.String("order"), e)
	return lp, err
}

func parseOrder(s string, e *schema.Entity) ([]store.Order, error) {
	var out []store.Order
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		desc := false
		switch {
		case strings.HasPrefix(p, "-"):
			desc, p = true, p[1:]
		case strings.HasPrefix(p, "+"):
			p = p[1:]
		}
		if field, dir, ok := strings.Cut(p, ":"); ok {
			p = field
			switch strings.ToLower(strings.TrimSpace(dir)) {
			case "desc":
				desc = true
			case "asc":
			default:
				return nil, fmt.Errorf("order direction %q is not asc|desc", dir)
			}
		}
		p = strings.TrimSpace(p)
		if !strings.EqualFold(p, store.IDField) {
			if _, ok := e.Field(p); !ok {
				return nil, fmt.Errorf("cannot order by unknown field %q", p)
			}
		} else {
			p = store.IDField
		}
		out = append(out, store.Order{Field: p, Desc: desc})
	}
	return out, nil
}
