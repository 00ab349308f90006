package documents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/taxops/caseflow/pkg/schema"
)

// DirTemplates loads document template bodies from a directory. A template
// id maps to <dir>/<id>.tmpl. Bodies are cached after first read; Reload
// drops the cache so edited templates take effect without a restart.
type DirTemplates struct {
	dir string

	mu    sync.RWMutex
	cache map[string]string
}

// NewDirTemplates creates a DirTemplates rooted at dir.
func NewDirTemplates(dir string) *DirTemplates {
	return &DirTemplates{dir: dir, cache: make(map[string]string)}
}

// GetTemplate returns the template body for the given id.
func (d *DirTemplates) GetTemplate(_ context.Context, id string) (string, error) {
	if id == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "template id is required")
	}
	// Template ids are file names; reject anything that escapes the root.
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid template id %q", id)
	}

	d.mu.RLock()
	body, ok := d.cache[id]
	d.mu.RUnlock()
	if ok {
		return body, nil
	}

	data, err := os.ReadFile(filepath.Join(d.dir, id+".tmpl"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", schema.NewErrorf(schema.ErrCodeNotFound, "document template %q not found", id)
		}
		return "", schema.NewErrorf(schema.ErrCodeStore, "read template %q: %s", id, err.Error()).WithCause(err)
	}

	d.mu.Lock()
	d.cache[id] = string(data)
	d.mu.Unlock()
	return string(data), nil
}

// Reload drops the template cache.
func (d *DirTemplates) Reload() {
	d.mu.Lock()
	d.cache = make(map[string]string)
	d.mu.Unlock()
}

// List returns the ids of all templates present in the directory.
func (d *DirTemplates) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read template dir: %s", err.Error()).WithCause(err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".tmpl") {
			ids = append(ids, strings.TrimSuffix(name, ".tmpl"))
		}
	}
	return ids, nil
}
