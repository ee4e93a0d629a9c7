// Package schemapack describes the supported MISMO editions. A SchemaPack is
// the immutable bundle of version, build, namespace and grammar rules that the
// generator, the structural validator and the mapper read instead of any
// process-wide "current version" setting.
package schemapack

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Profile selects how much structural checking a pack demands.
type Profile string

const (
	ProfileStandard Profile = "standard"
	ProfileStrict   Profile = "strict"
)

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	return p == ProfileStandard || p == ProfileStrict
}

// Well-known wire constants for MISMO 3.4.
const (
	MISMONamespace       = "http://www.mismo.org/residential/2009/schemas"
	XLinkNamespace       = "http://www.w3.org/1999/xlink"
	DefaultExtNamespace  = "urn:mismo-pipeline:extensions:v1"
	DefaultExtPrefix     = "ext"
	DefaultRootElement   = "MESSAGE"
	VersionAttribute     = "MISMOReferenceModelIdentifier"
	ExtensionFieldName   = "ExtensionField"
	ExtensionNameAttr    = "Name"
	lddBuildSeparator    = "_B"
	lddIdentifierPrefix  = "MISMO_"
	UnboundedOccurrences = -1
)

// SchemaPack is one supported MISMO version/build combination.
// Packs are read-only after registration.
type SchemaPack struct {
	ID                 string   `yaml:"id" json:"id"`
	Version            string   `yaml:"version" json:"version"`
	Build              string   `yaml:"build" json:"build"`
	RootElement        string   `yaml:"root_element" json:"root_element"`
	Namespace          string   `yaml:"namespace" json:"namespace"`
	ExtensionNamespace string   `yaml:"extension_namespace" json:"extension_namespace"`
	ExtensionPrefix    string   `yaml:"extension_prefix" json:"extension_prefix"`
	RequiredNamespaces []string `yaml:"required_namespaces" json:"required_namespaces"`
	LDDIdentifier      string   `yaml:"ldd_identifier" json:"ldd_identifier"`
	Profile            Profile  `yaml:"profile" json:"profile"`
	Products           []string `yaml:"products,omitempty" json:"products,omitempty"`
	Grammar            Grammar  `yaml:"grammar,omitempty" json:"-"`
}

// Ref is the short description of a pack embedded in reports and listings.
type Ref struct {
	ID            string  `json:"id"`
	Version       string  `json:"version"`
	Build         string  `json:"build"`
	LDDIdentifier string  `json:"ldd_identifier"`
	Profile       Profile `json:"profile"`
}

// Ref returns the pack's report reference.
func (p *SchemaPack) Ref() Ref {
	return Ref{
		ID:            p.ID,
		Version:       p.Version,
		Build:         p.Build,
		LDDIdentifier: p.LDDIdentifier,
		Profile:       p.Profile,
	}
}

// Strict reports whether the pack requires grammar validation.
func (p *SchemaPack) Strict() bool {
	return p.Profile == ProfileStrict
}

// Validate checks that a pack is complete enough to drive generation.
func (p *SchemaPack) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("schema pack: id is required")
	case p.Version == "":
		return fmt.Errorf("schema pack %s: version is required", p.ID)
	case p.Build == "":
		return fmt.Errorf("schema pack %s: build is required", p.ID)
	case p.RootElement == "":
		return fmt.Errorf("schema pack %s: root_element is required", p.ID)
	case p.Namespace == "":
		return fmt.Errorf("schema pack %s: namespace is required", p.ID)
	case p.ExtensionNamespace == "" || p.ExtensionPrefix == "":
		return fmt.Errorf("schema pack %s: extension namespace and prefix are required", p.ID)
	case p.ExtensionNamespace == p.Namespace:
		return fmt.Errorf("schema pack %s: extension namespace must differ from the standard namespace", p.ID)
	case !p.Profile.Valid():
		return fmt.Errorf("schema pack %s: unknown profile %q", p.ID, p.Profile)
	}
	if _, err := semver.NewVersion(p.Version); err != nil {
		return fmt.Errorf("schema pack %s: version %q: %w", p.ID, p.Version, err)
	}
	v, b, ok := ParseLDD(p.LDDIdentifier)
	if !ok {
		return fmt.Errorf("schema pack %s: malformed ldd_identifier %q", p.ID, p.LDDIdentifier)
	}
	if v != p.Version || b != p.Build {
		return fmt.Errorf("schema pack %s: ldd_identifier %q disagrees with version %s build %s",
			p.ID, p.LDDIdentifier, p.Version, p.Build)
	}
	return nil
}

// LDDFor formats a logical data dictionary identifier, e.g. MISMO_3.4.0_B324.
func LDDFor(version, build string) string {
	return lddIdentifierPrefix + version + lddBuildSeparator + build
}

// ParseLDD splits an identifier of the form MISMO_<version>_B<build>.
// The prefix and separator are matched case-insensitively.
func ParseLDD(id string) (version, build string, ok bool) {
	id = strings.TrimSpace(id)
	if len(id) < len(lddIdentifierPrefix) || !strings.EqualFold(id[:len(lddIdentifierPrefix)], lddIdentifierPrefix) {
		return "", "", false
	}
	rest := id[len(lddIdentifierPrefix):]
	i := strings.LastIndex(strings.ToUpper(rest), lddBuildSeparator)
	if i <= 0 || i+len(lddBuildSeparator) >= len(rest) {
		return "", "", false
	}
	return rest[:i], rest[i+len(lddBuildSeparator):], true
}

// VersionCheck is the outcome of comparing a declared version with a pack.
type VersionCheck int

const (
	VersionCompatible VersionCheck = iota
	VersionPatchMismatch
	VersionIncompatible
)

func (c VersionCheck) String() string {
	switch c {
	case VersionCompatible:
		return "compatible"
	case VersionPatchMismatch:
		return "patch_mismatch"
	default:
		return "incompatible"
	}
}

// CheckVersion compares a declared MISMOReferenceModelIdentifier with the
// pack version. Same major.minor is compatible; a differing patch is
// compatible with a warning; anything else (or an unparseable value) is not.
func (p *SchemaPack) CheckVersion(declared string) VersionCheck {
	want, err := semver.NewVersion(p.Version)
	if err != nil {
		return VersionIncompatible
	}
	got, err := semver.NewVersion(strings.TrimSpace(declared))
	if err != nil {
		return VersionIncompatible
	}
	if got.Major() != want.Major() || got.Minor() != want.Minor() {
		return VersionIncompatible
	}
	if got.Patch() != want.Patch() {
		return VersionPatchMismatch
	}
	return VersionCompatible
}

// UnknownPackError is returned when a pack id is not registered.
type UnknownPackError struct {
	ID string
}

func (e *UnknownPackError) Error() string {
	return fmt.Sprintf("unknown schema pack %q", e.ID)
}
