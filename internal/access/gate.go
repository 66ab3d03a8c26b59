package access

import (
	"slices"

	"hlgate/internal/auth"
	"hlgate/internal/schema"
)

// Action — действие единой точки входа.
type Action string

const (
	ActionGet         Action = "get"
	ActionAdd         Action = "add"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionBatchAdd    Action = "batch_add"
	ActionBatchUpdate Action = "batch_update"
)

type level int

const (
	levelRead level = iota
	levelWrite
	levelDelete
)

type rule struct {
	perms []string // ключи матрицы прав сущности и прав токена
	level level    // ролевой уровень для сессии
}

var rules = map[Action]rule{
	ActionGet:         {[]string{schema.PermRead}, levelRead},
	ActionAdd:         {[]string{schema.PermAdd}, levelWrite},
	ActionUpdate:      {[]string{schema.PermUpdate}, levelWrite},
	ActionDelete:      {[]string{schema.PermDelete}, levelDelete},
	ActionBatchAdd:    {[]string{schema.PermAdd, schema.PermBatch}, levelWrite},
	ActionBatchUpdate: {[]string{schema.PermUpdate, schema.PermBatch}, levelWrite},
}

// ParseAction — известно ли действие.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	_, ok := rules[a]
	return a, ok
}

// IsBatch — пакетное действие.
func (a Action) IsBatch() bool { return a == ActionBatchAdd || a == ActionBatchUpdate }

// Permissions — ключи прав, которые требует действие.
func (a Action) Permissions() []string { return slices.Clone(rules[a].perms) }

// Gate — решение «можно/нельзя» по действию. Причину отказа наружу не отдаёт.
type Gate struct{}

func NewGate() *Gate { return &Gate{} }

// Allowed: право включено в сущности И (для токена) сущность и права есть в токене,
// (для сессии) сущность открыта для сессий и роль даёт нужный уровень; админ проходит.
func (g *Gate) Allowed(p *auth.Principal, e *schema.Entity, a Action) bool {
	r, ok := rules[a]
	if !ok || p == nil || e == nil {
		return false
	}
	for _, perm := range r.perms {
		if !e.Allows(perm) {
			return false
		}
	}

	switch p.Method {
	case auth.MethodToken:
		if !p.AllowsEntity(e) {
			return false
		}
		for _, perm := range r.perms {
			if !p.HasPermission(perm) {
				return false
			}
		}
		return true
	case auth.MethodSession:
		if !e.SessionAccess {
			return false
		}
		if p.Admin {
			return true
		}
		switch r.level {
		case levelRead:
			return p.Levels.Read
		case levelWrite:
			return p.Levels.Write
		case levelDelete:
			return p.Levels.Delete
		}
	}
	return false
}

// DeniedFields возвращает коды полей, которые сессионный пользователь менять не может
// (field_restrictions: required_groups / denied_groups). Токены и админы не ограничены.
func (g *Gate) DeniedFields(p *auth.Principal, e *schema.Entity, codes []string) []string {
	if p == nil || p.Method != auth.MethodSession || p.Admin || len(e.FieldRestrictions) == 0 {
		return nil
	}
	var denied []string
	for _, code := range codes {
		fr, ok := e.FieldRestrictions[code]
		if !ok {
			continue
		}
		if len(fr.RequiredGroups) > 0 && !intersects(p.Groups, fr.RequiredGroups) {
			denied = append(denied, code)
			continue
		}
		if intersects(p.Groups, fr.DeniedGroups) {
			denied = append(denied, code)
		}
	}
	slices.Sort(denied)
	return denied
}

func intersects(a, b []int) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
