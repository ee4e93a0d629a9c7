package schemapack

import (
	"fmt"
	"sort"
	"strings"
)

// Built-in pack identifiers.
const (
	PackB324       = "mismo-3.4-b324"
	PackB324Strict = "mismo-3.4-b324-strict"
	PackB325       = "mismo-3.4-b325"
)

// BuiltinPacks returns fresh copies of the packs shipped with the binary.
func BuiltinPacks() []*SchemaPack {
	return []*SchemaPack{
		newMISMO34(PackB324, "324", ProfileStandard, "MORTGAGE", "HELOC"),
		newMISMO34(PackB324Strict, "324", ProfileStrict, "AGENCY"),
		newMISMO34(PackB325, "325", ProfileStandard),
	}
}

func newMISMO34(id, build string, profile Profile, products ...string) *SchemaPack {
	return &SchemaPack{
		ID:                 id,
		Version:            "3.4.0",
		Build:              build,
		RootElement:        DefaultRootElement,
		Namespace:          MISMONamespace,
		ExtensionNamespace: DefaultExtNamespace,
		ExtensionPrefix:    DefaultExtPrefix,
		RequiredNamespaces: []string{MISMONamespace, DefaultExtNamespace},
		LDDIdentifier:      LDDFor("3.4.0", build),
		Profile:            profile,
		Products:           products,
		Grammar:            DefaultGrammar(),
	}
}

// Registry is an immutable set of schema packs. It is safe for concurrent
// use without locking because nothing mutates it after NewRegistry returns.
type Registry struct {
	packs     map[string]*SchemaPack
	order     []string
	defaultID string
	byProduct map[string]string
}

// NewRegistry registers packs in order and selects defaultID as the fallback.
// Later packs with an id already seen are rejected.
func NewRegistry(defaultID string, packs ...*SchemaPack) (*Registry, error) {
	r := &Registry{
		packs:     make(map[string]*SchemaPack, len(packs)),
		defaultID: defaultID,
		byProduct: make(map[string]string),
	}
	for _, p := range packs {
		if p == nil {
			continue
		}
		if p.Grammar == nil {
			p.Grammar = DefaultGrammar()
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.packs[p.ID]; dup {
			return nil, fmt.Errorf("schema pack %q registered twice", p.ID)
		}
		r.packs[p.ID] = p
		r.order = append(r.order, p.ID)
		for _, code := range p.Products {
			code = strings.ToUpper(strings.TrimSpace(code))
			if _, taken := r.byProduct[code]; !taken {
				r.byProduct[code] = p.ID
			}
		}
	}
	if _, ok := r.packs[defaultID]; !ok {
		return nil, fmt.Errorf("default pack: %w", &UnknownPackError{ID: defaultID})
	}
	return r, nil
}

// NewBuiltinRegistry returns a registry of the built-in packs plus extra,
// defaulting to defaultID (or mismo-3.4-b324 when empty).
func NewBuiltinRegistry(defaultID string, extra ...*SchemaPack) (*Registry, error) {
	if defaultID == "" {
		defaultID = PackB324
	}
	return NewRegistry(defaultID, append(BuiltinPacks(), extra...)...)
}

// Resolve looks up a pack by id.
func (r *Registry) Resolve(id string) (*SchemaPack, error) {
	p, ok := r.packs[id]
	if !ok {
		return nil, &UnknownPackError{ID: id}
	}
	return p, nil
}

// Default returns the fallback pack.
func (r *Registry) Default() *SchemaPack {
	return r.packs[r.defaultID]
}

// List returns all packs in registration order.
func (r *Registry) List() []*SchemaPack {
	out := make([]*SchemaPack, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.packs[id])
	}
	return out
}

// ForProduct returns the pack configured for a product code, or the default.
func (r *Registry) ForProduct(code string) *SchemaPack {
	if id, ok := r.byProduct[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return r.packs[id]
	}
	return r.Default()
}

// Detect picks a pack id for a document from its declared logical data
// dictionary identifier. An exact identifier match wins, preferring the
// default pack; otherwise a pack with the same version and build; otherwise
// the default. Detection never fails.
func (r *Registry) Detect(lddIdentifier string) string {
	declared := strings.TrimSpace(lddIdentifier)
	if declared == "" {
		return r.defaultID
	}
	if strings.EqualFold(r.Default().LDDIdentifier, declared) {
		return r.defaultID
	}
	for _, id := range r.order {
		if strings.EqualFold(r.packs[id].LDDIdentifier, declared) {
			return id
		}
	}
	version, build, ok := ParseLDD(declared)
	if !ok {
		return r.defaultID
	}
	candidates := make([]string, 0, len(r.order))
	for _, id := range r.order {
		p := r.packs[id]
		if p.Build == build && p.CheckVersion(version) == VersionCompatible {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return r.defaultID
	}
	// Prefer standard packs so auto-detection never silently opts into strict.
	sort.SliceStable(candidates, func(i, j int) bool {
		return !r.packs[candidates[i]].Strict() && r.packs[candidates[j]].Strict()
	})
	return candidates[0]
}
