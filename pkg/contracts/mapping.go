package contracts

import "sort"

// FieldValue is one core field: a MISMO element path relative to the DEAL
// container and its wire value.
type FieldValue struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// MappingResult separates standard MISMO content from vendor extension data.
// CoreFields keeps path-table order so generation is deterministic.
type MappingResult struct {
	CoreFields      []FieldValue      `json:"core_fields"`
	ExtensionFields map[string]string `json:"extension_fields"`
}

// NewMappingResult returns an empty result with initialised collections.
func NewMappingResult() MappingResult {
	return MappingResult{
		CoreFields:      []FieldValue{},
		ExtensionFields: map[string]string{},
	}
}

// Core returns the core fields as a path -> value map.
func (m MappingResult) Core() map[string]string {
	out := make(map[string]string, len(m.CoreFields))
	for _, f := range m.CoreFields {
		out[f.Path] = f.Value
	}
	return out
}

// Lookup returns the value of a core field path.
func (m MappingResult) Lookup(path string) (string, bool) {
	for _, f := range m.CoreFields {
		if f.Path == path {
			return f.Value, true
		}
	}
	return "", false
}

// ExtensionKeys returns the extension field names in sorted order.
func (m MappingResult) ExtensionKeys() []string {
	keys := make([]string, 0, len(m.ExtensionFields))
	for k := range m.ExtensionFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmappedNode is an imported element with no canonical counterpart,
// retained verbatim.
type UnmappedNode struct {
	XPath    string `json:"xpath"`
	RawValue string `json:"raw_value"`
}
