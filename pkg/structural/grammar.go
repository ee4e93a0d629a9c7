package structural

import (
	"github.com/beevik/etree"

	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

// checkGrammar validates sequence order and occurrence bounds for every
// standard-namespace container the pack grammar models. Elements in other
// namespaces are extension content and are neither checked nor descended into.
func (c *checker) checkGrammar() {
	ns := c.pack.Namespace
	c.doc.Walk(func(n mismoxml.Node) bool {
		if n.Element.NamespaceURI() != ns {
			return false
		}
		if model, ok := c.pack.Grammar.Model(n.Element.Tag); ok {
			c.checkSequence(n, model)
		}
		return true
	})
}

func (c *checker) checkSequence(n mismoxml.Node, model []schemapack.Particle) {
	container := n.Element.Tag
	at := n.XPath()
	counts := make([]int, len(model))
	seen := map[string]int{}
	pos := 0
	var last string

	for _, child := range standardChildren(n.Element, c.pack.Namespace) {
		seen[child.Tag]++
		where := at + "/" + mismoxml.Step{Name: child.Tag, Prefix: child.Space, Index: seen[child.Tag]}.String()

		rank, ok := c.pack.Grammar.Rank(container, child.Tag)
		if !ok {
			c.add(contracts.Errorf(contracts.CategoryStructural, conform.ReasonGrammarUnexpectedElement, where,
				"%s is not allowed in %s", child.Tag, container))
			continue
		}
		counts[rank]++
		if rank < pos {
			c.add(contracts.Errorf(contracts.CategoryStructural, conform.ReasonGrammarOrder, where,
				"%s must appear before %s in %s", child.Tag, last, container))
			continue
		}
		pos = rank
		last = child.Tag
	}

	for i, p := range model {
		switch {
		case counts[i] < p.Min:
			c.add(contracts.Errorf(contracts.CategoryStructural, conform.ReasonGrammarCardinality, at,
				"%s requires at least %d %s, found %d", container, p.Min, p.Name, counts[i]))
		case p.Max != schemapack.UnboundedOccurrences && counts[i] > p.Max:
			c.add(contracts.Errorf(contracts.CategoryStructural, conform.ReasonGrammarCardinality, at,
				"%s allows at most %d %s, found %d", container, p.Max, p.Name, counts[i]))
		}
	}
}

func standardChildren(e *etree.Element, ns string) []*etree.Element {
	var out []*etree.Element
	for _, ch := range e.ChildElements() {
		if ch.NamespaceURI() == ns {
			out = append(out, ch)
		}
	}
	return out
}
