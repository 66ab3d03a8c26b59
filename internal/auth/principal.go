package auth

import (
	"errors"
	"strings"

	"hlgate/internal/schema"
)

// ErrUnauthorized — вызывающий не опознан.
var ErrUnauthorized = errors.New("auth: unauthorized")

type Method string

const (
	MethodToken   Method = "token"
	MethodSession Method = "session"
)

// Levels — ролевые права сессионного пользователя.
type Levels struct {
	Read   bool `json:"read" yaml:"read"`
	Write  bool `json:"write" yaml:"write"`
	Delete bool `json:"delete" yaml:"delete"`
}

// Principal — опознанный вызывающий и его права на время одного запроса.
type Principal struct {
	UserID    int64
	Method    Method
	TokenName string

	// для токена: явный список сущностей и прав; для сессии — не используются
	Entities    map[string]struct{}
	Permissions map[string]struct{}

	SkipReferenceValidation bool

	// для сессии
	Admin  bool
	Levels Levels
	Groups []int
}

// SessionDefault — набор сущностей определяется флагом session_access.
func (p *Principal) SessionDefault() bool { return p.Method == MethodSession }

// AllowsEntity — сущность (по id или алиасу) есть в списке токена.
func (p *Principal) AllowsEntity(e *schema.Entity) bool {
	if _, ok := p.Entities[strings.ToLower(e.ID)]; ok {
		return true
	}
	for _, a := range e.Aliases {
		if _, ok := p.Entities[strings.ToLower(a)]; ok {
			return true
		}
	}
	return false
}

func (p *Principal) HasPermission(perm string) bool {
	_, ok := p.Permissions[perm]
	return ok
}

// Actor — как вызывающий попадает в аудит и логи (без секрета).
func (p *Principal) Actor() string {
	if p.Method == MethodToken {
		return "token:" + p.TokenName
	}
	return "session"
}

func set(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if it != "" {
			m[it] = struct{}{}
		}
	}
	return m
}
