package audits

import (
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule is a finding template of the simulator.
type Rule struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Category    string   `yaml:"category"`
	Severity    Severity `yaml:"severity"`
	Chance      float64  `yaml:"chance"`
	Languages   []string `yaml:"languages"`
	Remediation string   `yaml:"remediation"`
}

// AppliesTo reports whether the rule targets files of lang.
func (r Rule) AppliesTo(lang string) bool {
	return len(r.Languages) == 0 || slices.Contains(r.Languages, lang)
}

// Catalog is a validated rule set.
type Catalog struct {
	Rules []Rule `yaml:"rules"`
}

// ParseCatalog decodes and validates a YAML rule set.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("audits: parse rules: %w", err)
	}
	if len(c.Rules) == 0 {
		return Catalog{}, fmt.Errorf("audits: rule catalog is empty")
	}
	seen := make(map[string]struct{}, len(c.Rules))
	for i, r := range c.Rules {
		if r.ID == "" || r.Title == "" {
			return Catalog{}, fmt.Errorf("audits: rule %d: id and title are required", i)
		}
		if _, dup := seen[r.ID]; dup {
			return Catalog{}, fmt.Errorf("audits: duplicate rule %s", r.ID)
		}
		seen[r.ID] = struct{}{}
		if !r.Severity.Valid() {
			return Catalog{}, fmt.Errorf("audits: rule %s: unknown severity %q", r.ID, r.Severity)
		}
		if r.Chance <= 0 || r.Chance > 1 {
			return Catalog{}, fmt.Errorf("audits: rule %s: chance must be in (0, 1]", r.ID)
		}
	}
	return c, nil
}

// DefaultCatalog returns the embedded rule set.
func DefaultCatalog() (Catalog, error) {
	return ParseCatalog(defaultRules)
}

// ForLanguage returns the rules that apply to lang.
func (c Catalog) ForLanguage(lang string) []Rule {
	var out []Rule
	for _, r := range c.Rules {
		if r.AppliesTo(lang) {
			out = append(out, r)
		}
	}
	return out
}
