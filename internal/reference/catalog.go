package reference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Directory — один справочник внешних объектов (компании, сотрудники, подразделения).
type Directory struct {
	Name  string `yaml:"name"`
	Items []Item `yaml:"items"`
}

type Item struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	// Пусто = без ограничения. Формат 2006-01-02.
	ValidFrom string `yaml:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty"`
}

// Catalog — справочники, загруженные из YAML. Только чтение.
type Catalog struct {
	dirs map[string]map[int64]Item
	now  func() time.Time
}

func NewCatalog(dirs ...Directory) *Catalog {
	c := &Catalog{dirs: make(map[string]map[int64]Item, len(dirs)), now: time.Now}
	for _, d := range dirs {
		kind := strings.ToLower(d.Name)
		m := c.dirs[kind]
		if m == nil {
			m = make(map[int64]Item, len(d.Items))
			c.dirs[kind] = m
		}
		for _, it := range d.Items {
			m[it.ID] = it
		}
	}
	return c
}

// LoadCatalog читает справочники из YAML-файла (список) или папки (файл = справочник).
func LoadCatalog(path string) (*Catalog, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var doc struct {
			Directories []Directory `yaml:"directories"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("reference: %s: %w", path, err)
		}
		return NewCatalog(doc.Directories...), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && (strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var dirs []Directory
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(path, n))
		if err != nil {
			return nil, err
		}
		var d Directory
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("reference: %s: %w", n, err)
		}
		// имя справочника — из name или из имени файла
		if d.Name == "" {
			d.Name = strings.TrimSuffix(n, filepath.Ext(n))
		}
		dirs = append(dirs, d)
	}
	return NewCatalog(dirs...), nil
}

func (c *Catalog) Lookup(ctx context.Context, kind string, id int64) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	dir, ok := c.dirs[strings.ToLower(kind)]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	it, ok := dir[id]
	if !ok || !it.activeAt(c.now()) {
		return "", false, nil
	}
	return it.Name, true, nil
}

// Kinds — имена загруженных справочников.
func (c *Catalog) Kinds() []string {
	out := make([]string, 0, len(c.dirs))
	for k := range c.dirs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (it Item) activeAt(t time.Time) bool {
	day := t.Format(time.DateOnly)
	if it.ValidFrom != "" && day < it.ValidFrom {
		return false
	}
	if it.ValidTo != "" && day > it.ValidTo {
		return false
	}
	return true
}
