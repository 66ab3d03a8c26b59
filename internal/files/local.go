package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound — файла с таким id нет.
var ErrNotFound = errors.New("files: not found")

// Meta — сведения о загруженном файле.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Extension string    `json:"extension"`
	Mime      string    `json:"mime,omitempty"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"createdAt"`
}

// Resolver отдаёт метаданные по id файла.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Meta, error)
}

// Local хранит файлы на диске: <root>/<id[:2]>/<id> и рядом <id>.json с метаданными.
type Local struct {
	Root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	return &Local{Root: root}, nil
}

func (s *Local) blobPath(id string) string {
	return filepath.Join(s.Root, id[:2], id)
}

// Put сохраняет содержимое под новым uuid и считает sha256.
func (s *Local) Put(ctx context.Context, name, mime string, r io.Reader) (*Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	full := s.blobPath(id)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		_ = os.Remove(full)
		return nil, err
	}

	name = SafeName(name)
	meta := &Meta{
		ID:        id,
		Name:      name,
		Size:      n,
		Extension: Extension(name),
		Mime:      mime,
		SHA256:    hex.EncodeToString(h.Sum(nil)),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(full+".json", data, 0o644); err != nil {
		_ = os.Remove(full)
		return nil, err
	}
	return meta, nil
}

// Resolve читает метаданные. Неизвестный или кривой id => ErrNotFound.
func (s *Local) Resolve(ctx context.Context, id string) (*Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.blobPath(id) + ".json")
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("files: broken meta for %s: %w", id, err)
	}
	return &m, nil
}

// Path — путь к содержимому на диске (для отдачи через c.File).
func (s *Local) Path(ctx context.Context, id string) (string, *Meta, error) {
	m, err := s.Resolve(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return s.blobPath(m.ID), m, nil
}

func (s *Local) Delete(ctx context.Context, id string) error {
	p, _, err := s.Path(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p + ".json"); err != nil {
		return err
	}
	return os.Remove(p)
}

func SafeName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

// Extension — расширение без точки в нижнем регистре.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
