package schemapack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// LoadFile parses a single YAML pack definition. Omitted wire settings take
// the MISMO 3.4 defaults; an omitted grammar takes DefaultGrammar.
func LoadFile(path string) (*SchemaPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pack %s: %w", path, err)
	}

	var p SchemaPack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pack %s: %w", path, err)
	}
	applyDefaults(&p)

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("pack %s: %w", path, err)
	}
	return &p, nil
}

// LoadDir loads every *.yaml and *.yml pack in dir, sorted by file name.
// A missing directory yields no packs.
func LoadDir(dir string) ([]*SchemaPack, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	packs := make([]*SchemaPack, 0, len(paths))
	for _, path := range paths {
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		packs = append(packs, p)
	}
	return packs, nil
}

func applyDefaults(p *SchemaPack) {
	if p.RootElement == "" {
		p.RootElement = DefaultRootElement
	}
	if p.Namespace == "" {
		p.Namespace = MISMONamespace
	}
	if p.ExtensionNamespace == "" {
		p.ExtensionNamespace = DefaultExtNamespace
	}
	if p.ExtensionPrefix == "" {
		p.ExtensionPrefix = DefaultExtPrefix
	}
	if len(p.RequiredNamespaces) == 0 {
		p.RequiredNamespaces = []string{p.Namespace, p.ExtensionNamespace}
	}
	if p.LDDIdentifier == "" && p.Version != "" && p.Build != "" {
		p.LDDIdentifier = LDDFor(p.Version, p.Build)
	}
	if p.Profile == "" {
		p.Profile = ProfileStandard
	}
	if len(p.Grammar) == 0 {
		p.Grammar = DefaultGrammar()
	}
}
