package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownEntity — идентификатор сущности не зарегистрирован.
var ErrUnknownEntity = errors.New("schema: unknown entity")

// Registry — неизменяемый каталог сущностей. Создаётся один раз при старте.
type Registry struct {
	byID  map[string]*Entity // lower(id или alias) -> сущность
	order []*Entity
}

type catalogFile struct {
	Entities []*Entity `yaml:"entities"`
}

// NewRegistry собирает каталог и прогоняет линтер; блокирующие проблемы => ошибка.
func NewRegistry(entities []*Entity) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		if e == nil {
			continue
		}
		e.ID = strings.TrimSpace(e.ID)
		keys := append([]string{e.ID}, e.Aliases...)
		for _, k := range keys {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if prev, dup := r.byID[k]; dup {
				return nil, fmt.Errorf("schema: entity key %q used by both %s and %s", k, prev.ID, e.ID)
			}
			r.byID[k] = e
		}
		e.buildIndex()
		r.order = append(r.order, e)
	}
	if issues := r.Lint(); len(issues) > 0 {
		return nil, &LintError{Issues: issues}
	}
	return r, nil
}

// Load читает каталог из YAML-файла или из всех *.yaml/*.yml в директории.
func Load(path string) (*Registry, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	var files []string
	if st.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, de := range entries {
			n := de.Name()
			if !de.IsDir() && (strings.HasSuffix(n, ".yaml") || strings.HasSuffix(n, ".yml")) {
				files = append(files, filepath.Join(path, n))
			}
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	var all []*Entity
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		var cat catalogFile
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("schema: %s: %w", f, err)
		}
		all = append(all, cat.Entities...)
	}
	return NewRegistry(all)
}

// Get возвращает сущность по id или алиасу (регистронезависимо).
func (r *Registry) Get(id string) (*Entity, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return nil, ErrUnknownEntity
	}
	e, ok := r.byID[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, id)
	}
	return e, nil
}

// List — все сущности в порядке загрузки.
func (r *Registry) List() []*Entity {
	out := make([]*Entity, len(r.order))
	copy(out, r.order)
	return out
}
