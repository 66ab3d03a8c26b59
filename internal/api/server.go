package api

import (
	"context"
	"log/slog"
	"sync/atomic"

	"hlgate/internal/access"
	"hlgate/internal/audit"
	"hlgate/internal/auth"
	"hlgate/internal/batch"
	"hlgate/internal/codec"
	"hlgate/internal/files"
	"hlgate/internal/reference"
	"hlgate/internal/schema"
	"hlgate/internal/store"
	"hlgate/internal/validate"
)

// Authenticator опознаёт вызывающего.
type Authenticator interface {
	Resolve(ctx context.Context, cr auth.Credentials) (*auth.Principal, error)
}

// Authorizer решает, можно ли выполнить действие над сущностью.
type Authorizer interface {
	Allowed(p *auth.Principal, e *schema.Entity, a access.Action) bool
	DeniedFields(p *auth.Principal, e *schema.Entity, codes []string) []string
}

type Limits struct {
	DefaultPage    int
	MaxPage        int
	MaxBodyBytes   int64
	MaxUploadBytes int64
}

func (l Limits) withDefaults() Limits {
	if l.DefaultPage <= 0 {
		l.DefaultPage = 50
	}
	if l.MaxPage <= 0 {
		l.MaxPage = 100
	}
	if l.DefaultPage > l.MaxPage {
		l.DefaultPage = l.MaxPage
	}
	if l.MaxBodyBytes <= 0 {
		l.MaxBodyBytes = 8 << 20
	}
	if l.MaxUploadBytes <= 0 {
		l.MaxUploadBytes = 32 << 20
	}
	return l
}

// Deps — всё, что нужно серверу; собирается в cmd/server.
type Deps struct {
	Registry      *schema.Registry
	EntitiesPath  string // для /api/admin/reload
	Codec         *codec.Codec
	References    reference.Resolver
	Files         *files.Local
	Store         store.Store
	Auth          Authenticator
	Gate          Authorizer
	Batch         *batch.Executor
	Audit         audit.Sink
	Log           *slog.Logger
	Limits        Limits
	SessionCookie string

	// OnReload вызывается с новым каталогом до его подмены; ошибка отменяет перезагрузку.
	OnReload func(ctx context.Context, reg *schema.Registry) error
}

// catalog — каталог сущностей и валидатор над ним; меняются вместе при перезагрузке.
type catalog struct {
	reg *schema.Registry
	val *validate.Validator
}

type Server struct {
	catalog atomic.Pointer[catalog]

	entitiesPath  string
	codec         *codec.Codec
	refs          reference.Resolver
	files         *files.Local
	store         store.Store
	authn         Authenticator
	gate          Authorizer
	batch         *batch.Executor
	audit         audit.Sink
	ids           *audit.IDs
	log           *slog.Logger
	limits        Limits
	sessionCookie string
	onReload      func(ctx context.Context, reg *schema.Registry) error
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Codec == nil {
		d.Codec = codec.New(codec.WithLogger(d.Log))
	}
	if d.Gate == nil {
		d.Gate = access.NewGate()
	}
	if d.Batch == nil {
		d.Batch = batch.NewExecutor(d.Store, 0, d.Log)
	}
	if d.Audit == nil {
		d.Audit = audit.Slog{Log: d.Log}
	}
	if d.SessionCookie == "" {
		d.SessionCookie = "HLSESSID"
	}
	s := &Server{
		entitiesPath:  d.EntitiesPath,
		codec:         d.Codec,
		refs:          d.References,
		files:         d.Files,
		store:         d.Store,
		authn:         d.Auth,
		gate:          d.Gate,
		batch:         d.Batch,
		audit:         d.Audit,
		ids:           audit.NewIDs(),
		log:           d.Log,
		limits:        d.Limits.withDefaults(),
		sessionCookie: d.SessionCookie,
		onReload:      d.OnReload,
	}
	s.swapRegistry(d.Registry)
	return s
}

func (s *Server) swapRegistry(reg *schema.Registry) {
	var fr files.Resolver
	if s.files != nil {
		fr = s.files
	}
	s.catalog.Store(&catalog{
		reg: reg,
		val: validate.New(s.codec, reg, s.refs, fr, s.log),
	})
}

// Registry — текущий каталог сущностей.
func (s *Server) Registry() *schema.Registry { return s.catalog.Load().reg }
