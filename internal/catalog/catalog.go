// Package catalog reads and writes the material catalog: one YAML
// document per material carrying its identity, laser-cleaning properties,
// and the accepted content per kind. The generation core treats this as
// an opaque read/write by subject identifier.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ablatext/ablatext/internal/util"
	"github.com/ablatext/ablatext/pkg/models"
)

// Material is one catalog entry
type Material struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Category   string            `yaml:"category"`
	Properties map[string]string `yaml:"properties,omitempty"`
	Content    map[string]string `yaml:"content,omitempty"` // content kind -> accepted text
}

// Store is a directory of material YAML files
type Store struct {
	dir       string
	briefTmpl string
	logger    *slog.Logger
}

// NewStore opens (creating if needed) a catalog directory
func NewStore(dir, briefTmpl string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	return &Store{
		dir:       dir,
		briefTmpl: briefTmpl,
		logger:    logger.With("component", "catalog"),
	}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// Load reads one material by id
func (s *Store) Load(id string) (*Material, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read material %s: %w", id, err)
	}
	var m Material
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse material %s: %w", id, err)
	}
	if m.ID == "" {
		m.ID = id
	}
	return &m, nil
}

// Save writes one material, atomically (temp file then rename)
func (s *Store) Save(m *Material) error {
	if m.ID == "" {
		return fmt.Errorf("material has no id")
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal material %s: %w", m.ID, err)
	}

	target := s.path(m.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write material %s: %w", m.ID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to rename material %s: %w", m.ID, err)
	}
	return nil
}

// List returns every material, sorted by id
func (s *Store) List() ([]*Material, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}

	var materials []*Material
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		m, err := s.Load(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	sort.Slice(materials, func(i, j int) bool { return materials[i].ID < materials[j].ID })
	return materials, nil
}

// Missing returns materials that have no accepted content of the given
// kind yet, sorted by id.
func (s *Store) Missing(kind models.ContentKind) ([]*Material, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var missing []*Material
	for _, m := range all {
		if _, ok := m.Content[string(kind)]; !ok {
			missing = append(missing, m)
		}
	}
	return missing, nil
}

// SaveContent persists accepted text for one material and kind
func (s *Store) SaveContent(id string, kind models.ContentKind, text string) error {
	m, err := s.Load(id)
	if err != nil {
		return err
	}
	if m.Content == nil {
		m.Content = make(map[string]string)
	}
	m.Content[string(kind)] = text
	if err := s.Save(m); err != nil {
		return err
	}
	s.logger.Info("Saved catalog content", "material", id, "kind", kind, "length", len(text))
	return nil
}

// Brief renders a material into the prompt brief used by generation
func (s *Store) Brief(m *Material) (string, error) {
	brief, err := util.RenderTemplate(s.briefTmpl, map[string]any{
		"Name":       m.Name,
		"Category":   m.Category,
		"Properties": m.Properties,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render brief for %s: %w", m.ID, err)
	}
	return brief, nil
}
