package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

//go:embed sections.yaml
var defaultSectionsYAML []byte

type sectionCatalog struct {
	Sections []domain.SectionSpec `yaml:"sections"`
}

// LoadSections reads the extraction section catalog from path, or the
// embedded default when path is empty.
func LoadSections(path string) ([]domain.SectionSpec, error) {
	raw := defaultSectionsYAML
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sections file: %w", err)
		}
		raw = data
	}
	return parseSections(raw)
}

func parseSections(raw []byte) ([]domain.SectionSpec, error) {
	var catalog sectionCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	if len(catalog.Sections) == 0 {
		return nil, fmt.Errorf("decode sections: catalog is empty")
	}

	seen := make(map[domain.SectionName]bool, len(catalog.Sections))
	for i, spec := range catalog.Sections {
		name := domain.SectionName(strings.TrimSpace(string(spec.Name)))
		if name == "" {
			return nil, fmt.Errorf("decode sections: section %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("decode sections: duplicate section %q", name)
		}
		seen[name] = true
		catalog.Sections[i].Name = name
	}
	return catalog.Sections, nil
}
