// Package catalog loads the static category taxonomy the Oracle
// classifies utterances against. The catalog is immutable after
// Load returns and is safe for concurrent reads from every
// Chunk Worker without a lock.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is one row of the category table as loaded from YAML.
type Entry struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

type file struct {
	Categories []Entry `yaml:"categories"`
	FallbackID int     `yaml:"fallback_id"`
}

// Catalog is the process-wide, read-only {category_id -> category_name}
// mapping with one designated fallback id.
type Catalog struct {
	names      map[int]string
	fallbackID int
}

// Load reads path (YAML: categories: [{id, name}, ...], fallback_id: N)
// and builds an immutable Catalog. A missing file, malformed YAML, an
// empty category list, or a fallback_id absent from the category list
// is a startup-fatal error — the caller is expected to log.Fatalf on a
// non-nil error.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category catalog: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse category catalog yaml: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("category catalog %s defines no categories", path)
	}

	names := make(map[int]string, len(f.Categories))
	for _, e := range f.Categories {
		names[e.ID] = e.Name
	}
	if _, ok := names[f.FallbackID]; !ok {
		return nil, fmt.Errorf("category catalog fallback_id %d is not among the loaded categories", f.FallbackID)
	}

	return &Catalog{names: names, fallbackID: f.FallbackID}, nil
}

// Valid reports whether id is a known category.
func (c *Catalog) Valid(id int) bool {
	_, ok := c.names[id]
	return ok
}

// FallbackID returns the catalog's designated fallback category id.
func (c *Catalog) FallbackID() int {
	return c.fallbackID
}

// Resolve returns id if it is a known category, otherwise the catalog's
// fallback id.
func (c *Catalog) Resolve(id int) int {
	if c.Valid(id) {
		return id
	}
	return c.fallbackID
}

// Name returns the category name for id, or "" if unknown.
func (c *Catalog) Name(id int) string {
	return c.names[id]
}

// Len returns the number of known categories.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Names returns a copy of the full {category_id -> category_name}
// mapping, for callers that need to enumerate every known category
// (e.g. syncing the optional categories table).
func (c *Catalog) Names() map[int]string {
	out := make(map[int]string, len(c.names))
	for id, name := range c.names {
		out[id] = name
	}
	return out
}
