package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

// ToWireFields walks the path table over a deal. Core fields come out in
// table order (loan, then each property, borrower and fee); every extension
// bag entry goes to ExtensionFields, with colliding keys resolved as in
// canonical.NormalizeExtensions. Canonical enum codes are translated to MISMO
// values; codes outside an allow-list pass through unchanged.
func ToWireFields(d *canonical.Deal) contracts.MappingResult {
	res := contracts.NewMappingResult()
	if d == nil {
		return res
	}

	add := func(s *fieldSpec, idx, slot int, raw string) {
		v := canonical.NormalizeText(raw)
		if v == "" {
			return
		}
		if s.enum != nil {
			if w, ok := s.enum.ToMISMO(v); ok {
				v = w
			}
		}
		res.CoreFields = append(res.CoreFields, contracts.FieldValue{Path: s.render(idx, slot), Value: v})
	}

	emitGroup := func(g group, n int) {
		for i := 0; i < n; i++ {
			slots := map[string]int{}
			for _, s := range table {
				if s.group != g {
					continue
				}
				raw := s.get(d, i)
				if canonical.NormalizeText(raw) == "" {
					continue
				}
				slot := 0
				if key := s.slotKey(); key != "" {
					slots[key]++
					slot = slots[key]
				}
				add(s, i+1, slot, raw)
			}
		}
	}

	emitGroup(groupLoan, 1)
	emitGroup(groupProperty, len(d.Properties))
	emitGroup(groupBorrower, len(d.Borrowers))
	emitGroup(groupFee, len(d.Fees))

	for k, v := range canonical.NormalizeExtensions(d.Extensions) {
		res.ExtensionFields[k] = v
	}
	return res
}

type candidate struct {
	spec  *fieldSpec
	idx   int
	slot  int
	value string
	node  mismoxml.Node
	seq   int
}

type unmapped struct {
	seq  int
	node contracts.UnmappedNode
}

// knownContainers are element names that structure data but carry none
// themselves; an empty one is not reported as unmapped.
var knownContainers = schemapack.DefaultGrammar()

// FromWireFields is the reverse of ToWireFields over a parsed document.
// Every leaf the path table does not match, anywhere under the root, is
// returned as an UnmappedNode with its index-qualified absolute path and
// verbatim text. Every attribute other than namespace declarations, the
// root's version attribute and a consumed extension Name is returned at
// <element path>/@<name>. Wire values outside a field's allow-list, duplicate
// occurrences, parties whose role is not Borrower, and DEALs after the
// first are retained the same way.
func FromWireFields(doc *mismoxml.Document) (contracts.MappingResult, []contracts.UnmappedNode) {
	res := contracts.NewMappingResult()
	var (
		cands []candidate
		lost  []unmapped
		seq   int
	)
	// keepAttrs records every attribute of n except namespace declarations
	// and the one named skip.
	keepAttrs := func(n mismoxml.Node, skip string) {
		for _, a := range n.Element.Attr {
			if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
				continue
			}
			if a.Space == "" && a.Key == skip {
				continue
			}
			key := a.Key
			if a.Space != "" {
				key = a.Space + ":" + a.Key
			}
			seq++
			lost = append(lost, unmapped{seq: seq, node: contracts.UnmappedNode{XPath: n.XPath() + "/@" + key, RawValue: a.Value}})
		}
	}
	lose := func(n mismoxml.Node) {
		seq++
		lost = append(lost, unmapped{seq: seq, node: contracts.UnmappedNode{XPath: n.XPath(), RawValue: n.Text()}})
		keepAttrs(n, "")
	}

	root := doc.Root()
	rootNS := root.NamespaceURI()
	dealDepth := 1 + len(mismoxml.DealPath)

	doc.Walk(func(n mismoxml.Node) bool {
		if len(n.Steps) == 1 {
			keepAttrs(n, schemapack.VersionAttribute)
			return true
		}
		inDeal := withinFirstDeal(n.Steps, rootNS)

		if inDeal && len(n.Steps) > dealDepth && isExtensionField(n, rootNS) {
			name := n.Element.SelectAttrValue(schemapack.ExtensionNameAttr, "")
			_, dup := res.ExtensionFields[name]
			if name == "" || dup || !n.Leaf || !underExtensionOther(n.Steps[dealDepth:], rootNS) {
				lose(n)
				return true
			}
			res.ExtensionFields[name] = strings.TrimSpace(n.Text())
			keepAttrs(n, schemapack.ExtensionNameAttr)
			return false
		}

		if !n.Leaf || isHeaderLeaf(n.Steps, rootNS) {
			keepAttrs(n, "")
			return true
		}
		if strings.TrimSpace(n.Text()) == "" && n.Steps[len(n.Steps)-1].Namespace == rootNS {
			if _, ok := knownContainers.Model(n.Element.Tag); ok {
				keepAttrs(n, "")
				return true
			}
		}
		if !inDeal || len(n.Steps) <= dealDepth || n.Steps[len(n.Steps)-1].Namespace != rootNS {
			lose(n)
			return true
		}

		rel := make([]seg, 0, len(n.Steps)-dealDepth)
		for _, s := range n.Steps[dealDepth:] {
			if s.Namespace != rootNS {
				rel = nil
				break
			}
			rel = append(rel, seg{name: s.Name, index: s.Index})
		}
		spec, idx, slot, ok := lookup(rel)
		if rel == nil || !ok {
			lose(n)
			return true
		}
		seq++
		cands = append(cands, candidate{spec: spec, idx: idx, slot: slot, value: strings.TrimSpace(n.Text()), node: n, seq: seq})
		keepAttrs(n, "")
		return true
	})

	// A party is a borrower only when it says so.
	borrowerParty := map[int]bool{}
	for _, c := range cands {
		if c.spec.fixed != "" && c.spec.group == groupBorrower {
			borrowerParty[c.idx] = c.value == c.spec.fixed
		}
	}

	type key struct {
		spec *fieldSpec
		idx  int
	}
	taken := map[key]bool{}
	accepted := make([]candidate, 0, len(cands))
	for _, c := range cands {
		k := key{c.spec, c.idx}
		switch {
		case c.spec.group == groupBorrower && !borrowerParty[c.idx],
			c.spec.fixed != "" && c.value != c.spec.fixed,
			c.spec.enum != nil && !enumHasWire(c.spec.enum, c.value),
			c.value == "",
			taken[k]:
			lost = append(lost, unmapped{seq: c.seq, node: contracts.UnmappedNode{XPath: c.node.XPath(), RawValue: c.node.Text()}})
			continue
		}
		taken[k] = true
		accepted = append(accepted, c)
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		a, b := accepted[i], accepted[j]
		if a.spec.group != b.spec.group {
			return a.spec.group < b.spec.group
		}
		if a.idx != b.idx {
			return a.idx < b.idx
		}
		return a.spec.order < b.spec.order
	})
	for _, c := range accepted {
		res.CoreFields = append(res.CoreFields, contracts.FieldValue{Path: c.spec.render(c.idx, c.slot), Value: c.value})
	}

	sort.SliceStable(lost, func(i, j int) bool { return lost[i].seq < lost[j].seq })
	nodes := make([]contracts.UnmappedNode, len(lost))
	for i, u := range lost {
		nodes[i] = u.node
	}
	return res, nodes
}

// DealFromWire rebuilds a canonical deal from a mapping result. Entity
// indices are compacted in order of first appearance. The deal has no
// reference; the entity store assigns one on create.
func DealFromWire(res contracts.MappingResult) (*canonical.Deal, error) {
	d := &canonical.Deal{}
	positions := map[group]map[int]int{
		groupProperty: {},
		groupBorrower: {},
		groupFee:      {},
	}

	for _, f := range res.CoreFields {
		path, err := parsePath(f.Path)
		if err != nil {
			return nil, fmt.Errorf("core field %q: %w", f.Path, err)
		}
		spec, idx, _, ok := lookup(path)
		if !ok {
			return nil, fmt.Errorf("core field %q has no canonical counterpart", f.Path)
		}

		v := f.Value
		if spec.enum != nil {
			c, ok := spec.enum.FromMISMO(v)
			if !ok {
				return nil, fmt.Errorf("core field %q: %q is not a known %s", f.Path, v, spec.enum.Name)
			}
			v = c
		}

		pos := 0
		if spec.group != groupLoan {
			m := positions[spec.group]
			p, seen := m[idx]
			if !seen {
				p = len(m)
				m[idx] = p
				grow(d, spec.group, p+1)
			}
			pos = p
		}
		spec.set(d, pos, v)
	}

	if len(res.ExtensionFields) > 0 {
		d.Extensions = make(map[string]string, len(res.ExtensionFields))
		for k, v := range res.ExtensionFields {
			d.Extensions[k] = v
		}
	}
	d.Normalize()
	return d, nil
}

func grow(d *canonical.Deal, g group, n int) {
	switch g {
	case groupProperty:
		for len(d.Properties) < n {
			d.Properties = append(d.Properties, canonical.Property{})
		}
	case groupBorrower:
		for len(d.Borrowers) < n {
			d.Borrowers = append(d.Borrowers, canonical.Borrower{})
		}
	case groupFee:
		for len(d.Fees) < n {
			d.Fees = append(d.Fees, canonical.Fee{})
		}
	}
}

func enumHasWire(e *canonical.Enum, v string) bool {
	_, ok := e.FromMISMO(v)
	return ok
}

// withinFirstDeal reports whether steps descend from the first DEAL.
func withinFirstDeal(steps []mismoxml.Step, rootNS string) bool {
	if len(steps) < 1+len(mismoxml.DealPath) {
		return false
	}
	for i, name := range mismoxml.DealPath {
		s := steps[i+1]
		if s.Name != name || s.Index != 1 || s.Namespace != rootNS {
			return false
		}
	}
	return true
}

func isHeaderLeaf(steps []mismoxml.Step, rootNS string) bool {
	want := []string{"ABOUT_VERSIONS", "ABOUT_VERSION", "DataVersionIdentifier"}
	if len(steps) != 1+len(want) {
		return false
	}
	for i, name := range want {
		s := steps[i+1]
		if s.Name != name || s.Index != 1 || s.Namespace != rootNS {
			return false
		}
	}
	return true
}

func isExtensionField(n mismoxml.Node, rootNS string) bool {
	last := n.Steps[len(n.Steps)-1]
	return last.Name == schemapack.ExtensionFieldName && last.Namespace != rootNS
}

// underExtensionOther checks a DEAL-relative path of EXTENSION/OTHER/<field>.
func underExtensionOther(rel []mismoxml.Step, rootNS string) bool {
	return len(rel) == 3 &&
		rel[0].Name == "EXTENSION" && rel[0].Namespace == rootNS &&
		rel[1].Name == "OTHER" && rel[1].Namespace == rootNS
}
