// Package structural validates MISMO documents against the rules of a schema
// pack: root element, namespaces, version and dictionary identifiers, vendor
// extension placement and, for strict packs, the element grammar.
package structural

import (
	"log/slog"

	"github.com/beevik/etree"

	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

// Validator checks documents against schema packs. It holds no per-call
// state and is safe for concurrent use.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a structural validator.
func NewValidator() *Validator {
	return &Validator{logger: slog.Default().With("component", "structural")}
}

// Validate parses data and checks it against pack. A document that is not
// well-formed yields a single DOCUMENT_MALFORMED error and nothing else is
// checked.
func (v *Validator) Validate(data []byte, pack *schemapack.SchemaPack) contracts.ValidationReport {
	doc, err := mismoxml.Parse(data)
	if err != nil {
		return Malformed(err)
	}
	return v.ValidateDocument(doc, pack)
}

// Malformed is the report for a document that could not be parsed.
func Malformed(err error) contracts.ValidationReport {
	return contracts.NewValidationReport(stamp(contracts.Errorf(contracts.CategoryStructural,
		conform.ReasonDocumentMalformed, "document", "document is not well-formed XML: %v", err)))
}

// ValidateDocument checks an already parsed document.
func (v *Validator) ValidateDocument(doc *mismoxml.Document, pack *schemapack.SchemaPack) contracts.ValidationReport {
	c := &checker{doc: doc, pack: pack, h: doc.Header, root: doc.Root()}
	c.rootStep = "/" + mismoxml.Step{Name: c.root.Tag, Prefix: c.root.Space, Index: 1}.String()

	rootOK := c.checkRoot()
	c.checkNamespaces()
	c.checkVersion()
	c.checkLDD()
	c.checkExtensionPlacement()
	if pack.Strict() && rootOK {
		c.checkGrammar()
	}

	report := contracts.NewValidationReport(contracts.WithStage(conform.StageStructural, c.findings)...)
	v.logger.Debug("structural validation complete",
		"pack", pack.ID,
		"profile", pack.Profile,
		"status", report.Status,
		"errors", report.Summary.Errors,
		"warnings", report.Summary.Warnings,
	)
	return report
}

func stamp(f contracts.Finding) contracts.Finding {
	f.Stage = conform.StageStructural
	return f
}

type checker struct {
	doc      *mismoxml.Document
	pack     *schemapack.SchemaPack
	h        mismoxml.Header
	root     *etree.Element
	rootStep string
	findings []contracts.Finding
}

func (c *checker) add(f contracts.Finding) {
	c.findings = append(c.findings, f)
}

func (c *checker) checkRoot() bool {
	ok := true
	if c.h.RootName != c.pack.RootElement {
		ok = false
		c.add(contracts.Errorf(contracts.CategoryStructural, conform.ReasonRootElementMismatch, c.rootStep,
			"root element is %q, pack %s expects %q", c.h.RootName, c.pack.ID, c.pack.RootElement))
	}
	if c.h.RootNamespace != c.pack.Namespace {
		ok = false
		c.add(contracts.Errorf(contracts.CategoryStructural, conform.ReasonRootNamespaceMismatch, c.rootStep,
			"root element is in namespace %q, pack %s expects %q", c.h.RootNamespace, c.pack.ID, c.pack.Namespace))
	}
	return ok
}

func (c *checker) checkNamespaces() {
	for _, uri := range c.pack.RequiredNamespaces {
		if !c.h.Declares(uri) {
			c.add(contracts.Errorf(contracts.CategoryStructural, conform.ReasonNamespaceMissing, c.rootStep,
				"required namespace %q is not declared", uri))
		}
	}
}

func (c *checker) checkVersion() {
	field := c.rootStep + "/@" + schemapack.VersionAttribute
	if !c.h.HasVersion || c.h.VersionIdentifier == "" {
		c.add(contracts.Errorf(contracts.CategoryVersion, conform.ReasonVersionMissing, field,
			"%s is missing", schemapack.VersionAttribute))
		return
	}
	switch c.pack.CheckVersion(c.h.VersionIdentifier) {
	case schemapack.VersionIncompatible:
		c.add(contracts.Errorf(contracts.CategoryVersion, conform.ReasonVersionIncompatible, field,
			"declared version %q is not compatible with %s", c.h.VersionIdentifier, c.pack.Version))
	case schemapack.VersionPatchMismatch:
		c.add(contracts.Warnf(contracts.CategoryVersion, conform.ReasonVersionPatchMismatch, field,
			"declared version %q differs from %s in patch level", c.h.VersionIdentifier, c.pack.Version))
	}
}

func (c *checker) checkLDD() {
	field := c.rootStep + "/ABOUT_VERSIONS[1]/ABOUT_VERSION[1]/DataVersionIdentifier[1]"
	got := c.h.LDDIdentifier
	if got == "" {
		c.add(contracts.Warnf(contracts.CategoryVersion, conform.ReasonLDDMissing, field,
			"DataVersionIdentifier is missing, expected %q", c.pack.LDDIdentifier))
		return
	}
	if got == c.pack.LDDIdentifier {
		return
	}
	// A differing build alone is reported as BUILD_MISMATCH; anything else,
	// including a difference in case, is LDD_MISMATCH.
	version, build, ok := schemapack.ParseLDD(got)
	buildDiffers := ok && build != c.pack.Build
	if !ok || version != c.pack.Version || !buildDiffers {
		c.add(contracts.Warnf(contracts.CategoryVersion, conform.ReasonLDDMismatch, field,
			"DataVersionIdentifier %q does not match %q", got, c.pack.LDDIdentifier))
	}
	if buildDiffers {
		c.add(contracts.Warnf(contracts.CategoryVersion, conform.ReasonBuildMismatch, field,
			"document declares build %s, pack %s targets build %s", build, c.pack.ID, c.pack.Build))
	}
}

// checkExtensionPlacement flags vendor ExtensionField elements written in the
// standard namespace.
func (c *checker) checkExtensionPlacement() {
	c.doc.Walk(func(n mismoxml.Node) bool {
		if n.Element.Tag == schemapack.ExtensionFieldName && n.Element.NamespaceURI() == c.pack.Namespace {
			c.add(contracts.Errorf(contracts.CategoryStructural, conform.ReasonExtensionInStandardNamespace, n.XPath(),
				"%s must be in the vendor namespace %q, not the standard namespace",
				schemapack.ExtensionFieldName, c.pack.ExtensionNamespace))
		}
		return true
	})
}
