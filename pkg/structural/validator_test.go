package structural

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mapping"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

func registry(t *testing.T) *schemapack.Registry {
	t.Helper()
	reg, err := schemapack.NewBuiltinRegistry("")
	require.NoError(t, err)
	return reg
}

func pack(t *testing.T, id string) *schemapack.SchemaPack {
	t.Helper()
	p, err := registry(t).Resolve(id)
	require.NoError(t, err)
	return p
}

// doc renders a small message; body replaces the DEAL content.
func doc(rootAttrs, ldd, body string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<MESSAGE ` + rootAttrs + `>
  <ABOUT_VERSIONS><ABOUT_VERSION><DataVersionIdentifier>` + ldd + `</DataVersionIdentifier></ABOUT_VERSION></ABOUT_VERSIONS>
  <DEAL_SETS><DEAL_SET><DEALS><DEAL>` + body + `</DEAL></DEALS></DEAL_SET></DEAL_SETS>
</MESSAGE>`)
}

const (
	stdAttrs  = `xmlns="http://www.mismo.org/residential/2009/schemas" xmlns:ext="urn:mismo-pipeline:extensions:v1" MISMOReferenceModelIdentifier="3.4.0"`
	ldd324    = "MISMO_3.4.0_B324"
	loansBody = `<LOANS><LOAN><TERMS_OF_LOAN><BaseLoanAmount>1</BaseLoanAmount></TERMS_OF_LOAN></LOAN></LOANS>`
)

func codes(r contracts.ValidationReport) []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, f.Code)
	}
	return out
}

func generated(t *testing.T, p *schemapack.SchemaPack) []byte {
	t.Helper()
	d := &canonical.Deal{
		Loan: canonical.Loan{Identifier: "LN-1", Amount: "250000", InterestRate: "6", TermMonths: "360",
			Purpose: "purchase", LienPriority: "first_lien", AmortizationType: "fixed", MortgageType: "va"},
		Borrowers: []canonical.Borrower{
			{FirstName: "Ana", LastName: "Silva", Email: "ana@example.com", Phone: "5125550100", Classification: "primary"},
			{FirstName: "Ben", LastName: "Silva", Email: "ben@example.com"},
		},
		Properties: []canonical.Property{{AddressLine: "1 Main St", City: "Austin", State: "TX", PostalCode: "78701", EstimatedValue: "400000", Usage: "investment"}},
		Fees:       []canonical.Fee{{Type: "title", Amount: "900", PaidTo: "third_party"}},
		Extensions: map[string]string{"crm_lead_id": "L-1"},
	}
	out, err := mismoxml.Generate(mapping.ToWireFields(d), p)
	require.NoError(t, err)
	return out
}

func TestValidate_GeneratedDocumentsPass(t *testing.T) {
	v := NewValidator()
	for _, p := range registry(t).List() {
		r := v.Validate(generated(t, p), p)
		assert.Equal(t, contracts.StatusPass, r.Status, "%s: %v", p.ID, r.Findings)
	}
}

func TestValidate_Malformed(t *testing.T) {
	r := NewValidator().Validate([]byte("<MESSAGE><DEAL></MESSAGE>"), pack(t, schemapack.PackB324Strict))
	require.Len(t, r.Findings, 1)
	assert.Equal(t, conform.ReasonDocumentMalformed, r.Findings[0].Code)
	assert.Equal(t, contracts.CategoryStructural, r.Findings[0].Category)
	assert.Equal(t, conform.StageStructural, r.Findings[0].Stage)
	assert.Equal(t, contracts.StatusFail, r.Status)
}

func TestValidate_RootAndNamespaces(t *testing.T) {
	v := NewValidator()
	p := pack(t, schemapack.PackB324)

	wrongRoot := strings.Replace(string(doc(stdAttrs, ldd324, loansBody)), "MESSAGE", "ENVELOPE", 2)
	r := v.Validate([]byte(wrongRoot), p)
	assert.Equal(t, []string{conform.ReasonRootElementMismatch}, codes(r))

	r = v.Validate(doc(`xmlns="urn:other" xmlns:ext="urn:mismo-pipeline:extensions:v1" xmlns:m="http://www.mismo.org/residential/2009/schemas" MISMOReferenceModelIdentifier="3.4.0"`, ldd324, loansBody), p)
	assert.Contains(t, codes(r), conform.ReasonRootNamespaceMismatch)
	assert.Equal(t, contracts.StatusFail, r.Status)

	r = v.Validate(doc(`xmlns="http://www.mismo.org/residential/2009/schemas" MISMOReferenceModelIdentifier="3.4.0"`, ldd324, loansBody), p)
	assert.Equal(t, []string{conform.ReasonNamespaceMissing}, codes(r))
	assert.Contains(t, r.Findings[0].Message, schemapack.DefaultExtNamespace)
}

func TestValidate_VersionAttribute(t *testing.T) {
	v := NewValidator()
	p := pack(t, schemapack.PackB324)
	ns := `xmlns="http://www.mismo.org/residential/2009/schemas" xmlns:ext="urn:mismo-pipeline:extensions:v1"`

	r := v.Validate(doc(ns, ldd324, loansBody), p)
	assert.Equal(t, []string{conform.ReasonVersionMissing}, codes(r))
	assert.Equal(t, contracts.StatusFail, r.Status)
	assert.Equal(t, contracts.CategoryVersion, r.Findings[0].Category)

	r = v.Validate(doc(ns+` MISMOReferenceModelIdentifier="3.3.0"`, ldd324, loansBody), p)
	assert.Equal(t, []string{conform.ReasonVersionIncompatible}, codes(r))
	assert.Equal(t, contracts.StatusFail, r.Status)

	r = v.Validate(doc(ns+` MISMOReferenceModelIdentifier="3.4.1"`, ldd324, loansBody), p)
	assert.Equal(t, []string{conform.ReasonVersionPatchMismatch}, codes(r))
	assert.Equal(t, contracts.StatusPassWithWarnings, r.Status)
}

func TestValidate_DictionaryIdentifier(t *testing.T) {
	v := NewValidator()
	p := pack(t, schemapack.PackB324)

	r := v.Validate(doc(stdAttrs, "", loansBody), p)
	assert.Equal(t, []string{conform.ReasonLDDMissing}, codes(r))
	assert.Equal(t, contracts.StatusPassWithWarnings, r.Status)

	r = v.Validate(doc(stdAttrs, "MISMO_3.3.1_B301", loansBody), p)
	assert.Equal(t, []string{conform.ReasonLDDMismatch, conform.ReasonBuildMismatch}, codes(r))

	r = v.Validate(doc(stdAttrs, "mismo_3.4.0_b324", loansBody), p)
	assert.Equal(t, []string{conform.ReasonLDDMismatch}, codes(r))
	assert.Equal(t, contracts.StatusPassWithWarnings, r.Status)

	r = v.Validate(doc(stdAttrs, ldd324, loansBody), p)
	assert.Equal(t, contracts.StatusPass, r.Status)
}

func TestValidate_BuildMismatchIsAWarning(t *testing.T) {
	b325 := generated(t, pack(t, schemapack.PackB325))
	r := NewValidator().Validate(b325, pack(t, schemapack.PackB324))

	assert.Equal(t, contracts.StatusPassWithWarnings, r.Status)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, conform.ReasonBuildMismatch, r.Findings[0].Code)
	assert.Equal(t, contracts.CategoryVersion, r.Findings[0].Category)
	assert.Equal(t, contracts.SeverityWarning, r.Findings[0].Severity)
}

func TestValidate_ExtensionInStandardNamespace(t *testing.T) {
	body := loansBody + `<EXTENSION><OTHER><ExtensionField Name="x">1</ExtensionField></OTHER></EXTENSION>`
	r := NewValidator().Validate(doc(stdAttrs, ldd324, body), pack(t, schemapack.PackB324))
	require.Equal(t, []string{conform.ReasonExtensionInStandardNamespace}, codes(r))
	assert.Equal(t, "/MESSAGE[1]/DEAL_SETS[1]/DEAL_SET[1]/DEALS[1]/DEAL[1]/EXTENSION[1]/OTHER[1]/ExtensionField[1]", r.Findings[0].Field)
}

func TestValidate_StrictGrammar(t *testing.T) {
	v := NewValidator()
	strict := pack(t, schemapack.PackB324Strict)
	std := pack(t, schemapack.PackB324)

	cases := []struct {
		name  string
		body  string
		codes []string
	}{
		{
			name:  "minimal",
			body:  loansBody,
			codes: []string{},
		},
		{
			name:  "order",
			body:  loansBody + `<COLLATERALS><COLLATERAL><SUBJECT_PROPERTY/></COLLATERAL></COLLATERALS>`,
			codes: []string{conform.ReasonGrammarOrder},
		},
		{
			name:  "missing required child",
			body:  `<PARTIES><PARTY/></PARTIES>`,
			codes: []string{conform.ReasonGrammarCardinality},
		},
		{
			name:  "too many",
			body:  `<LOANS><LOAN><TERMS_OF_LOAN/><TERMS_OF_LOAN/></LOAN></LOANS>`,
			codes: []string{conform.ReasonGrammarCardinality},
		},
		{
			name:  "unexpected",
			body:  `<LOANS><LOAN><TERMS_OF_LOAN><Colour>red</Colour></TERMS_OF_LOAN></LOAN></LOANS>`,
			codes: []string{conform.ReasonGrammarUnexpectedElement},
		},
		{
			name:  "foreign content ignored",
			body:  loansBody + `<EXTENSION><OTHER><ext:ExtensionField Name="a">1</ext:ExtensionField><ext:Anything><Nested/></ext:Anything></OTHER></EXTENSION>`,
			codes: []string{},
		},
		{
			name:  "empty extension",
			body:  loansBody + `<EXTENSION><OTHER/></EXTENSION>`,
			codes: []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := doc(stdAttrs, ldd324, tc.body)
			r := v.Validate(data, strict)
			assert.Equal(t, tc.codes, codes(r), "%v", r.Findings)

			assert.Empty(t, v.Validate(data, std).Findings, "standard profile skips the grammar")
		})
	}
}

func TestValidate_GrammarFindingLocations(t *testing.T) {
	body := `<LOANS><LOAN><TERMS_OF_LOAN><NoteRatePercent>5</NoteRatePercent><BaseLoanAmount>1</BaseLoanAmount></TERMS_OF_LOAN></LOAN></LOANS>`
	r := NewValidator().Validate(doc(stdAttrs, ldd324, body), pack(t, schemapack.PackB324Strict))
	require.Len(t, r.Findings, 1)
	f := r.Findings[0]
	assert.Equal(t, conform.ReasonGrammarOrder, f.Code)
	assert.Equal(t, "/MESSAGE[1]/DEAL_SETS[1]/DEAL_SET[1]/DEALS[1]/DEAL[1]/LOANS[1]/LOAN[1]/TERMS_OF_LOAN[1]/BaseLoanAmount[1]", f.Field)
	assert.Contains(t, f.Message, "NoteRatePercent")
}
