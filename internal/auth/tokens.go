package auth

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// TokenRecord — выданный интегратору токен. Секрет хранится открыто (secret)
// или как bcrypt-хэш (secret_hash).
type TokenRecord struct {
	Name                    string   `yaml:"name"`
	Secret                  string   `yaml:"secret,omitempty"`
	SecretHash              string   `yaml:"secret_hash,omitempty"`
	UserID                  int64    `yaml:"user_id"`
	Entities                []string `yaml:"entities"`
	Permissions             []string `yaml:"permissions"`
	SkipReferenceValidation bool     `yaml:"skip_reference_validation"`
}

// TokenTable загружается один раз при старте и дальше только читается.
type TokenTable struct {
	records []TokenRecord
}

func NewTokenTable(records []TokenRecord) (*TokenTable, error) {
	seen := map[string]struct{}{}
	for i, r := range records {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("auth: token #%d has no name", i)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("auth: duplicate token name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if (r.Secret == "") == (r.SecretHash == "") {
			return nil, fmt.Errorf("auth: token %q needs exactly one of secret or secret_hash", r.Name)
		}
		if r.SecretHash != "" {
			if _, err := bcrypt.Cost([]byte(r.SecretHash)); err != nil {
				return nil, fmt.Errorf("auth: token %q: %w", r.Name, err)
			}
		}
	}
	return &TokenTable{records: records}, nil
}

func LoadTokens(path string) (*TokenTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Tokens []TokenRecord `yaml:"tokens"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("auth: %s: %w", path, err)
	}
	return NewTokenTable(doc.Tokens)
}

// Match ищет запись по предъявленному секрету. Открытые секреты сравниваются
// за постоянное время и все подряд, без раннего выхода.
func (t *TokenTable) Match(secret string) (*TokenRecord, bool) {
	if secret == "" {
		return nil, false
	}
	var found *TokenRecord
	for i := range t.records {
		r := &t.records[i]
		if r.Secret == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(r.Secret), []byte(secret)) == 1 && found == nil {
			found = r
		}
	}
	if found != nil {
		return found, true
	}
	for i := range t.records {
		r := &t.records[i]
		if r.SecretHash == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(r.SecretHash), []byte(secret)) == nil {
			return r, true
		}
	}
	return nil, false
}

func (t *TokenTable) Len() int { return len(t.records) }

func (r *TokenRecord) principal() *Principal {
	return &Principal{
		UserID:                  r.UserID,
		Method:                  MethodToken,
		TokenName:               r.Name,
		Entities:                set(r.Entities),
		Permissions:             set(r.Permissions),
		SkipReferenceValidation: r.SkipReferenceValidation,
	}
}
