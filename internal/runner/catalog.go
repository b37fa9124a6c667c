package runner

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/dispatcher-migrate/internal/rule"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the ordered list of rules a run applies.
type Catalog struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Rules       []RuleRef `yaml:"rules"`
}

// RuleRef configures one rule of a catalog.
type RuleRef struct {
	ID          string       `yaml:"id,omitempty"`
	Rule        string       `yaml:"rule"`
	Name        string       `yaml:"name,omitempty"`
	Description string       `yaml:"description,omitempty"`
	Options     rule.Options `yaml:"options,omitempty"`
}

// InstanceID returns the catalog-local identifier of the reference.
func (ref RuleRef) InstanceID() string {
	if ref.ID != "" {
		return ref.ID
	}
	return ref.Rule
}

// Validate ensures the catalog is self-consistent.
func (c Catalog) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("runner: catalog id is required")
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("runner: catalog %s: at least one rule is required", c.ID)
	}
	seen := map[string]struct{}{}
	for idx, ref := range c.Rules {
		if ref.Rule == "" {
			return fmt.Errorf("runner: catalog %s rule[%d]: rule id is required", c.ID, idx)
		}
		id := ref.InstanceID()
		if _, exists := seen[id]; exists {
			return fmt.Errorf("runner: catalog %s: duplicate rule instance %s", c.ID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// IDs returns the instance identifiers in catalog order.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Rules))
	for _, ref := range c.Rules {
		ids = append(ids, ref.InstanceID())
	}
	return ids
}

// DefaultCatalog returns the built-in fifteen rule catalog.
func DefaultCatalog() Catalog {
	c, err := ParseCatalogYAML(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCatalogYAML decodes and validates a catalog.
func ParseCatalogYAML(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, fmt.Errorf("runner: catalog payload is empty")
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("runner: decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// LoadCatalogReader reads a catalog from r.
func LoadCatalogReader(r io.Reader) (Catalog, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Catalog{}, fmt.Errorf("runner: read catalog: %w", err)
	}
	return ParseCatalogYAML(content)
}

// LoadCatalogFile loads a catalog from path.
func LoadCatalogFile(path string) (Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("runner: read %s: %w", path, err)
	}
	c, err := ParseCatalogYAML(content)
	if err != nil {
		return Catalog{}, fmt.Errorf("runner: %s: %w", path, err)
	}
	return c, nil
}
