package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
)

// Credentials — то, что удалось достать из запроса.
type Credentials struct {
	Token     string
	SessionID string
}

var bearer = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// TokenFrom ищет токен по порядку: Authorization: Bearer, X-Authorization: Bearer,
// X-API-Token, token в query, token в форме, token в JSON-теле.
func TokenFrom(r *http.Request, body map[string]any) string {
	for _, h := range []string{"Authorization", "X-Authorization"} {
		if m := bearer.FindStringSubmatch(strings.TrimSpace(r.Header.Get(h))); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-API-Token")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("token")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.PostFormValue("token")); v != "" {
		return v
	}
	if s, ok := body["token"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Resolver опознаёт вызывающего: сначала токен, без токена — сессия.
type Resolver struct {
	tokens   *TokenTable
	sessions SessionStore
	log      *slog.Logger
}

func NewResolver(tokens *TokenTable, sessions SessionStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if tokens == nil {
		tokens = &TokenTable{}
	}
	return &Resolver{tokens: tokens, sessions: sessions, log: log}
}

// Resolve: предъявленный, но неизвестный токен — ErrUnauthorized без перехода к сессии.
func (r *Resolver) Resolve(ctx context.Context, cr Credentials) (*Principal, error) {
	if cr.Token != "" {
		rec, ok := r.tokens.Match(cr.Token)
		if !ok {
			r.log.Warn("token rejected")
			return nil, ErrUnauthorized
		}
		r.log.Debug("token accepted", "token", rec.Name)
		return rec.principal(), nil
	}

	if cr.SessionID == "" || r.sessions == nil {
		return nil, ErrUnauthorized
	}
	sess, err := r.sessions.Session(ctx, cr.SessionID)
	if errors.Is(err, ErrNoSession) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return &Principal{
		UserID: sess.UserID,
		Method: MethodSession,
		Admin:  sess.Admin,
		Levels: sess.Levels,
		Groups: sess.Groups,
	}, nil
}
