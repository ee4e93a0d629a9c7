package mismoxml

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/beevik/etree"

	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

// IndentSpaces is the fixed indentation of generated documents.
const IndentSpaces = 2

// Generate serialises a mapping result into a MISMO message for pack.
// Root name, namespaces, version attribute and dictionary identifier all
// come from the pack. Output is a pure function of (result, pack): no
// timestamps or random identifiers are written.
func Generate(result contracts.MappingResult, pack *schemapack.SchemaPack) ([]byte, error) {
	if pack == nil {
		return nil, fmt.Errorf("generate: schema pack is required")
	}

	tree := newNode(pack.RootElement)
	tree.ensure([]pathSegment{{"ABOUT_VERSIONS", 1}, {"ABOUT_VERSION", 1}, {"DataVersionIdentifier", 1}}).
		setText(pack.LDDIdentifier)

	dealSegs := make([]pathSegment, len(DealPath))
	for i, name := range DealPath {
		dealSegs[i] = pathSegment{name, 1}
	}
	deal := tree.ensure(dealSegs)

	for _, f := range result.CoreFields {
		segs, err := parseRelPath(f.Path)
		if err != nil {
			return nil, fmt.Errorf("generate: field %q: %w", f.Path, err)
		}
		if err := checkText(f.Value); err != nil {
			return nil, fmt.Errorf("generate: field %q: %w", f.Path, err)
		}
		leaf := deal.ensure(segs)
		if len(leaf.children) > 0 {
			return nil, fmt.Errorf("generate: field %q addresses a container", f.Path)
		}
		leaf.setText(f.Value)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(pack.RootElement)
	root.CreateAttr("xmlns", pack.Namespace)
	root.CreateAttr("xmlns:"+pack.ExtensionPrefix, pack.ExtensionNamespace)
	for i, uri := range extraNamespaces(pack) {
		root.CreateAttr("xmlns:ns"+strconv.Itoa(i+1), uri)
	}
	root.CreateAttr(schemapack.VersionAttribute, pack.Version)

	tree.emitChildren(root, pack.Grammar)

	if keys := result.ExtensionKeys(); len(keys) > 0 {
		dealEl := findPath(root, DealPath...)
		other := childOrCreate(childOrCreate(dealEl, "EXTENSION"), "OTHER")
		for _, k := range keys {
			v := result.ExtensionFields[k]
			if strings.TrimSpace(k) == "" {
				return nil, fmt.Errorf("generate: extension field with empty name")
			}
			if err := checkText(k); err != nil {
				return nil, fmt.Errorf("generate: extension name %q: %w", k, err)
			}
			if err := checkText(v); err != nil {
				return nil, fmt.Errorf("generate: extension %q: %w", k, err)
			}
			ef := other.CreateElement(pack.ExtensionPrefix + ":" + schemapack.ExtensionFieldName)
			ef.CreateAttr(schemapack.ExtensionNameAttr, k)
			ef.SetText(v)
		}
	}

	doc.Indent(IndentSpaces)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("generate: serialise: %w", err)
	}
	return out, nil
}

// extraNamespaces returns required namespaces beyond the standard and
// extension ones, in pack order.
func extraNamespaces(pack *schemapack.SchemaPack) []string {
	var out []string
	for _, uri := range pack.RequiredNamespaces {
		if uri != pack.Namespace && uri != pack.ExtensionNamespace {
			out = append(out, uri)
		}
	}
	return out
}

func childOrCreate(parent *etree.Element, name string) *etree.Element {
	for _, c := range parent.ChildElements() {
		if c.Space == "" && c.Tag == name {
			return c
		}
	}
	return parent.CreateElement(name)
}

// node is the build-time tree; it is emitted in grammar order once complete.
type node struct {
	name     string
	text     string
	hasText  bool
	children []*node
}

func newNode(name string) *node { return &node{name: name} }

func (n *node) setText(s string) {
	n.text = s
	n.hasText = true
}

// ensure walks segs from n, creating missing elements. An index of k
// guarantees k same-named children exist.
func (n *node) ensure(segs []pathSegment) *node {
	cur := n
	for _, s := range segs {
		var same []*node
		for _, c := range cur.children {
			if c.name == s.name {
				same = append(same, c)
			}
		}
		for len(same) < s.index {
			c := newNode(s.name)
			cur.children = append(cur.children, c)
			same = append(same, c)
		}
		cur = same[s.index-1]
	}
	return cur
}

func (n *node) emitChildren(parent *etree.Element, g schemapack.Grammar) {
	ordered := append([]*node(nil), n.children...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, iok := g.Rank(n.name, ordered[i].name)
		rj, jok := g.Rank(n.name, ordered[j].name)
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
	for _, c := range ordered {
		el := parent.CreateElement(c.name)
		if c.hasText {
			el.SetText(c.text)
		}
		c.emitChildren(el, g)
	}
}

type pathSegment struct {
	name  string
	index int
}

// parseRelPath splits NAME/NAME[2]/Leaf into segments. Missing indices mean 1.
func parseRelPath(p string) ([]pathSegment, error) {
	if p == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(p, "/")
	segs := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		name, idx := part, 1
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, fmt.Errorf("bad segment %q", part)
			}
			n, err := strconv.Atoi(part[open+1 : len(part)-1])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("bad index in %q", part)
			}
			name, idx = part[:open], n
		}
		if !validName(name) {
			return nil, fmt.Errorf("invalid element name %q", name)
		}
		segs = append(segs, pathSegment{name, idx})
	}
	return segs, nil
}

// validName accepts unprefixed XML names.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return true
}

// checkText rejects strings that cannot appear in XML 1.0 character data.
func checkText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("value is not valid UTF-8")
	}
	for _, r := range s {
		if !isXMLChar(r) {
			return fmt.Errorf("value contains character %U not allowed in XML", r)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
