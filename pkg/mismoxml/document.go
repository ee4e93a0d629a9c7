// Package mismoxml reads and writes MISMO wire documents through an XML
// object model with namespace-aware lookup. Nothing in here inspects raw
// XML text with patterns.
package mismoxml

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

// DealPath lists the containers from the root down to a DEAL.
var DealPath = []string{"DEAL_SETS", "DEAL_SET", "DEALS", "DEAL"}

// Header is the edition metadata a document declares about itself.
type Header struct {
	RootName          string            `json:"root_name"`
	RootNamespace     string            `json:"root_namespace"`
	Namespaces        map[string]string `json:"namespaces"` // prefix ("" = default) -> URI, root scope
	DeclaredURIs      []string          `json:"declared_uris"`
	VersionIdentifier string            `json:"version_identifier,omitempty"`
	HasVersion        bool              `json:"has_version"`
	LDDIdentifier     string            `json:"ldd_identifier,omitempty"`
	Build             string            `json:"build,omitempty"`
}

// Declares reports whether uri is declared anywhere in the document.
func (h Header) Declares(uri string) bool {
	for _, u := range h.DeclaredURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// Document is a parsed MISMO message.
type Document struct {
	doc    *etree.Document
	Header Header
}

// ErrMalformed wraps every parse failure.
var ErrMalformed = errors.New("malformed xml document")

// Parse reads a document. It fails only when data is not well-formed XML
// with exactly one root element; a document declaring an unexpected
// version or build still parses.
func Parse(data []byte) (*Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	roots := doc.ChildElements()
	switch len(roots) {
	case 0:
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d root elements", ErrMalformed, len(roots))
	}

	d := &Document{doc: doc}
	d.Header = readHeader(roots[0])
	return d, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

func readHeader(root *etree.Element) Header {
	h := Header{
		RootName:      root.Tag,
		RootNamespace: root.NamespaceURI(),
		Namespaces:    map[string]string{},
	}
	for _, a := range root.Attr {
		switch {
		case a.Space == "" && a.Key == "xmlns":
			h.Namespaces[""] = a.Value
		case a.Space == "xmlns":
			h.Namespaces[a.Key] = a.Value
		}
	}

	seen := map[string]bool{}
	walk(root, func(e *etree.Element) {
		for _, a := range e.Attr {
			if (a.Space == "" && a.Key == "xmlns") || a.Space == "xmlns" {
				if !seen[a.Value] {
					seen[a.Value] = true
					h.DeclaredURIs = append(h.DeclaredURIs, a.Value)
				}
			}
		}
	})

	if attr := versionAttr(root); attr != nil {
		h.HasVersion = true
		h.VersionIdentifier = strings.TrimSpace(attr.Value)
	}

	if dv := findPath(root, "ABOUT_VERSIONS", "ABOUT_VERSION", "DataVersionIdentifier"); dv != nil {
		h.LDDIdentifier = strings.TrimSpace(dv.Text())
		if _, build, ok := schemapack.ParseLDD(h.LDDIdentifier); ok {
			h.Build = build
		}
	}
	return h
}

// versionAttr returns the unprefixed MISMOReferenceModelIdentifier attribute.
func versionAttr(root *etree.Element) *etree.Attr {
	for i, a := range root.Attr {
		if a.Space == "" && a.Key == schemapack.VersionAttribute {
			return &root.Attr[i]
		}
	}
	return nil
}

// Root returns the document element.
func (d *Document) Root() *etree.Element {
	return d.doc.Root()
}

// Deal returns the first DEAL container, or nil. Containers are matched by
// local name within the root's namespace.
func (d *Document) Deal() *etree.Element {
	return findPath(d.Root(), DealPath...)
}

// DetectPack picks a registered pack for data from its declared dictionary
// identifier, falling back to the registry default on any parse problem.
func DetectPack(reg *schemapack.Registry, data []byte) string {
	d, err := Parse(data)
	if err != nil {
		return reg.Default().ID
	}
	return reg.Detect(d.Header.LDDIdentifier)
}

// findPath follows first-match children by local name, staying in the
// namespace of from.
func findPath(from *etree.Element, names ...string) *etree.Element {
	cur := from
	ns := from.NamespaceURI()
	for _, name := range names {
		var next *etree.Element
		for _, c := range cur.ChildElements() {
			if c.Tag == name && c.NamespaceURI() == ns {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func walk(e *etree.Element, fn func(*etree.Element)) {
	fn(e)
	for _, c := range e.ChildElements() {
		walk(c, fn)
	}
}

// Step is one index-qualified element on an absolute path.
type Step struct {
	Name      string // local name
	Prefix    string // prefix as written
	Namespace string // resolved namespace URI
	Index     int    // 1-based among same-named siblings
}

// String renders the step as prefix:Name[n].
func (s Step) String() string {
	name := s.Name
	if s.Prefix != "" {
		name = s.Prefix + ":" + name
	}
	return name + "[" + strconv.Itoa(s.Index) + "]"
}

// Node is one element with its absolute, index-qualified location.
type Node struct {
	Steps   []Step
	Element *etree.Element
	Leaf    bool
}

// XPath renders the absolute index-qualified path, e.g.
// /MESSAGE[1]/DEAL_SETS[1]/DEAL_SET[1]/DEALS[1]/DEAL[1]/LOANS[1].
func (n Node) XPath() string {
	return FormatXPath(n.Steps)
}

// Text returns the element's character data.
func (n Node) Text() string {
	return n.Element.Text()
}

// FormatXPath renders steps as an absolute XPath.
func FormatXPath(steps []Step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteByte('/')
		b.WriteString(s.String())
	}
	return b.String()
}

// Walk visits every element in document order with its path from the root.
// Returning false from fn skips the element's subtree.
func (d *Document) Walk(fn func(Node) bool) {
	root := d.Root()
	first := Step{Name: root.Tag, Prefix: root.Space, Namespace: root.NamespaceURI(), Index: 1}
	walkSteps(root, []Step{first}, fn)
}

func walkSteps(e *etree.Element, steps []Step, fn func(Node) bool) {
	children := e.ChildElements()
	if !fn(Node{Steps: steps, Element: e, Leaf: len(children) == 0}) {
		return
	}
	counts := map[string]int{}
	for _, c := range children {
		ns := c.NamespaceURI()
		key := ns + "\x00" + c.Tag
		counts[key]++
		next := make([]Step, len(steps), len(steps)+1)
		copy(next, steps)
		next = append(next, Step{Name: c.Tag, Prefix: c.Space, Namespace: ns, Index: counts[key]})
		walkSteps(c, next, fn)
	}
}
