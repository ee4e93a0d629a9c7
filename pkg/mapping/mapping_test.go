package mapping

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

func fullDeal() *canonical.Deal {
	return &canonical.Deal{
		Reference: "deal-1",
		Product:   "MORTGAGE",
		Loan: canonical.Loan{
			Identifier:       "LN-42",
			Amount:           "250000",
			InterestRate:     "6.125",
			TermMonths:       "360",
			Purpose:          "cash_out_refinance",
			MortgageType:     "conventional",
			LienPriority:     "first_lien",
			AmortizationType: "fixed",
			CashOutAmount:    "40000",
		},
		Borrowers: []canonical.Borrower{
			{FirstName: "Ana", LastName: "Silva", Email: "ana@example.com", Phone: "5125550100", Classification: "primary"},
			{FirstName: "Ben", LastName: "Silva", Phone: "5125550101", Classification: "secondary"},
		},
		Properties: []canonical.Property{
			{AddressLine: "1 Main St", City: "Austin", State: "TX", PostalCode: "78701", Usage: "primary_residence", EstimatedValue: "400000"},
		},
		Fees: []canonical.Fee{
			{Type: "appraisal", Amount: "550", PaidTo: "third_party"},
			{Type: "origination", Amount: "1250.50", PaidTo: "lender"},
		},
		Extensions: map[string]string{"crm_lead_id": "L-77", "referral_source": "partner"},
	}
}

func roundTrip(t *testing.T, d *canonical.Deal) (contracts.MappingResult, contracts.MappingResult, []contracts.UnmappedNode) {
	t.Helper()
	reg, err := schemapack.NewBuiltinRegistry("")
	require.NoError(t, err)

	out := ToWireFields(d)
	xml, err := mismoxml.Generate(out, reg.Default())
	require.NoError(t, err)
	doc, err := mismoxml.Parse(xml)
	require.NoError(t, err)
	back, unmapped := FromWireFields(doc)
	return out, back, unmapped
}

func TestToWireFields_TableOrderAndTransforms(t *testing.T) {
	res := ToWireFields(fullDeal())

	core := res.Core()
	assert.Equal(t, "CashOutRefinance", core["LOANS/LOAN/TERMS_OF_LOAN/LoanPurposeType"])
	assert.Equal(t, "250000", core["LOANS/LOAN/TERMS_OF_LOAN/BaseLoanAmount"])
	assert.Equal(t, "ThirdPartyProvider", core["LOANS/LOAN/FEE_INFORMATION/FEES/FEE[1]/FEE_DETAIL/FeePaidToType"])
	assert.Equal(t, "Borrower", core["PARTIES/PARTY[2]/ROLES/ROLE/ROLE_DETAIL/PartyRoleType"])

	// Ben has no email, so his telephone takes the first contact point.
	assert.Equal(t, "5125550101",
		core["PARTIES/PARTY[2]/INDIVIDUAL/CONTACT_POINTS/CONTACT_POINT[1]/CONTACT_POINT_TELEPHONE/ContactPointTelephoneValue"])
	assert.Equal(t, "5125550100",
		core["PARTIES/PARTY[1]/INDIVIDUAL/CONTACT_POINTS/CONTACT_POINT[2]/CONTACT_POINT_TELEPHONE/ContactPointTelephoneValue"])

	assert.Equal(t, "LOANS/LOAN/LOAN_IDENTIFIERS/LOAN_IDENTIFIER/LoanIdentifier", res.CoreFields[0].Path)
	assert.True(t, strings.HasPrefix(res.CoreFields[len(res.CoreFields)-1].Path, "LOANS/LOAN/FEE_INFORMATION/FEES/FEE[2]"))

	assert.Equal(t, []string{"crm_lead_id", "referral_source"}, res.ExtensionKeys())
	for _, f := range res.CoreFields {
		assert.NotContains(t, f.Path, "crm_lead_id", "extension data never becomes a core element")
	}
}

func TestToWireFields_Deterministic(t *testing.T) {
	a := ToWireFields(fullDeal())
	b := ToWireFields(fullDeal())
	assert.Equal(t, a, b)
}

func TestToWireFields_CollidingExtensionKeys(t *testing.T) {
	d := fullDeal()
	d.Extensions = map[string]string{"lead": "A", " lead": "B", "lead ": "C"}
	for i := 0; i < 100; i++ {
		assert.Equal(t, map[string]string{"lead": "B"}, ToWireFields(d).ExtensionFields)
	}
}

func TestToWireFields_DoesNotMutate(t *testing.T) {
	d := fullDeal()
	before := d.Clone()
	_ = ToWireFields(d)
	assert.Equal(t, before, d)
}

func TestRoundTrip_CoreFieldsExact(t *testing.T) {
	out, back, unmapped := roundTrip(t, fullDeal())
	assert.Equal(t, out.CoreFields, back.CoreFields)
	assert.Equal(t, out.ExtensionFields, back.ExtensionFields)
	assert.Empty(t, unmapped)
}

func TestDealFromWire(t *testing.T) {
	_, back, _ := roundTrip(t, fullDeal())
	d, err := DealFromWire(back)
	require.NoError(t, err)

	want := fullDeal()
	want.Reference = ""
	want.Product = ""
	assert.Equal(t, want, d)
}

func TestDealFromWire_Errors(t *testing.T) {
	res := contracts.NewMappingResult()
	res.CoreFields = []contracts.FieldValue{{Path: "LOANS/LOAN/TERMS_OF_LOAN/Unknown", Value: "x"}}
	_, err := DealFromWire(res)
	require.ErrorContains(t, err, "no canonical counterpart")

	res.CoreFields = []contracts.FieldValue{{Path: "LOANS/LOAN/TERMS_OF_LOAN/LoanPurposeType", Value: "Barter"}}
	_, err = DealFromWire(res)
	require.ErrorContains(t, err, "not a known loan purpose")

	res.CoreFields = []contracts.FieldValue{{Path: "PARTIES/PARTY[x]/INDIVIDUAL/NAME/FirstName", Value: "A"}}
	_, err = DealFromWire(res)
	require.Error(t, err)
}

const counterpartyDoc = `<?xml version="1.0" encoding="UTF-8"?>
<MESSAGE xmlns="http://www.mismo.org/residential/2009/schemas" xmlns:ext="urn:mismo-pipeline:extensions:v1" xmlns:lx="urn:lender-x" MISMOReferenceModelIdentifier="3.4.0">
  <ABOUT_VERSIONS>
    <ABOUT_VERSION>
      <DataVersionIdentifier>MISMO_3.4.0_B324</DataVersionIdentifier>
    </ABOUT_VERSION>
  </ABOUT_VERSIONS>
  <DEAL_SETS>
    <DEAL_SET>
      <DEALS>
        <DEAL>
          <LOANS>
            <LOAN>
              <TERMS_OF_LOAN>
                <BaseLoanAmount>300000</BaseLoanAmount>
                <LoanPurposeType>MortgageModification</LoanPurposeType>
                <InvestorCommitmentCode>IC-9</InvestorCommitmentCode>
              </TERMS_OF_LOAN>
            </LOAN>
          </LOANS>
          <PARTIES>
            <PARTY>
              <INDIVIDUAL><NAME><FirstName>Cara</FirstName></NAME></INDIVIDUAL>
              <ROLES><ROLE><ROLE_DETAIL><PartyRoleType>Borrower</PartyRoleType></ROLE_DETAIL></ROLE></ROLES>
            </PARTY>
            <PARTY>
              <INDIVIDUAL><NAME><FirstName>Loan Officer</FirstName></NAME></INDIVIDUAL>
              <ROLES><ROLE><ROLE_DETAIL><PartyRoleType>LoanOriginator</PartyRoleType></ROLE_DETAIL></ROLE></ROLES>
            </PARTY>
          </PARTIES>
          <EXTENSION>
            <OTHER>
              <ext:ExtensionField Name="crm_lead_id">L-1</ext:ExtensionField>
              <ext:ExtensionField Name="crm_lead_id">L-2</ext:ExtensionField>
              <lx:Score band="A">712</lx:Score>
            </OTHER>
          </EXTENSION>
        </DEAL>
      </DEALS>
    </DEAL_SET>
  </DEAL_SETS>
  <lx:Routing>desk-4</lx:Routing>
</MESSAGE>`

func TestFromWireFields_RetainsEverythingUnmapped(t *testing.T) {
	doc, err := mismoxml.Parse([]byte(counterpartyDoc))
	require.NoError(t, err)

	res, unmapped := FromWireFields(doc)

	core := res.Core()
	assert.Equal(t, "300000", core["LOANS/LOAN/TERMS_OF_LOAN/BaseLoanAmount"])
	assert.Equal(t, "Cara", core["PARTIES/PARTY[1]/INDIVIDUAL/NAME/FirstName"])
	_, hasPurpose := core["LOANS/LOAN/TERMS_OF_LOAN/LoanPurposeType"]
	assert.False(t, hasPurpose, "unknown enum values are not mapped")
	assert.Equal(t, map[string]string{"crm_lead_id": "L-1"}, res.ExtensionFields)

	byPath := map[string]string{}
	for _, u := range unmapped {
		byPath[u.XPath] = u.RawValue
	}
	deal := "/MESSAGE[1]/DEAL_SETS[1]/DEAL_SET[1]/DEALS[1]/DEAL[1]"
	assert.Equal(t, "IC-9", byPath[deal+"/LOANS[1]/LOAN[1]/TERMS_OF_LOAN[1]/InvestorCommitmentCode[1]"])
	assert.Equal(t, "MortgageModification", byPath[deal+"/LOANS[1]/LOAN[1]/TERMS_OF_LOAN[1]/LoanPurposeType[1]"])
	assert.Equal(t, "Loan Officer", byPath[deal+"/PARTIES[1]/PARTY[2]/INDIVIDUAL[1]/NAME[1]/FirstName[1]"])
	assert.Equal(t, "LoanOriginator", byPath[deal+"/PARTIES[1]/PARTY[2]/ROLES[1]/ROLE[1]/ROLE_DETAIL[1]/PartyRoleType[1]"])
	assert.Equal(t, "L-2", byPath[deal+"/EXTENSION[1]/OTHER[1]/ext:ExtensionField[2]"])
	assert.Equal(t, "712", byPath[deal+"/EXTENSION[1]/OTHER[1]/lx:Score[1]"])
	assert.Equal(t, "A", byPath[deal+"/EXTENSION[1]/OTHER[1]/lx:Score[1]/@band"])
	assert.Equal(t, "desk-4", byPath["/MESSAGE[1]/lx:Routing[1]"])

	// Document order is preserved.
	require.NotEmpty(t, unmapped)
	assert.Equal(t, deal+"/LOANS[1]/LOAN[1]/TERMS_OF_LOAN[1]/LoanPurposeType[1]", unmapped[0].XPath)
	assert.Equal(t, "/MESSAGE[1]/lx:Routing[1]", unmapped[len(unmapped)-1].XPath)

	d, err := DealFromWire(res)
	require.NoError(t, err)
	require.Len(t, d.Borrowers, 1)
	assert.Equal(t, "Cara", d.Borrowers[0].FirstName)
}

const attributedDoc = `<?xml version="1.0" encoding="UTF-8"?>
<MESSAGE xmlns="http://www.mismo.org/residential/2009/schemas" xmlns:xlink="http://www.w3.org/1999/xlink" xmlns:ext="urn:mismo-pipeline:extensions:v1" MISMOReferenceModelIdentifier="3.4.0" MessageID="M-1">
  <ABOUT_VERSIONS>
    <ABOUT_VERSION>
      <DataVersionIdentifier>MISMO_3.4.0_B324</DataVersionIdentifier>
    </ABOUT_VERSION>
  </ABOUT_VERSIONS>
  <DEAL_SETS>
    <DEAL_SET>
      <DEALS>
        <DEAL>
          <LOANS>
            <LOAN LoanRoleType="SubjectLoan">
              <TERMS_OF_LOAN>
                <BaseLoanAmount SensitiveIndicator="true">300000</BaseLoanAmount>
              </TERMS_OF_LOAN>
            </LOAN>
          </LOANS>
          <PARTIES>
            <PARTY SequenceNumber="1" xlink:label="PARTY_1">
              <INDIVIDUAL><NAME><FirstName>Cara</FirstName></NAME></INDIVIDUAL>
              <ROLES><ROLE><ROLE_DETAIL><PartyRoleType>Borrower</PartyRoleType></ROLE_DETAIL></ROLE></ROLES>
            </PARTY>
          </PARTIES>
          <EXTENSION>
            <OTHER>
              <ext:ExtensionField Name="crm_lead_id" Source="crm">L-1</ext:ExtensionField>
            </OTHER>
          </EXTENSION>
        </DEAL>
      </DEALS>
    </DEAL_SET>
  </DEAL_SETS>
</MESSAGE>`

func TestFromWireFields_RetainsAttributes(t *testing.T) {
	doc, err := mismoxml.Parse([]byte(attributedDoc))
	require.NoError(t, err)

	res, unmapped := FromWireFields(doc)

	core := res.Core()
	assert.Equal(t, "300000", core["LOANS/LOAN/TERMS_OF_LOAN/BaseLoanAmount"])
	assert.Equal(t, "Cara", core["PARTIES/PARTY[1]/INDIVIDUAL/NAME/FirstName"])
	assert.Equal(t, map[string]string{"crm_lead_id": "L-1"}, res.ExtensionFields)

	deal := "/MESSAGE[1]/DEAL_SETS[1]/DEAL_SET[1]/DEALS[1]/DEAL[1]"
	assert.Equal(t, []contracts.UnmappedNode{
		{XPath: "/MESSAGE[1]/@MessageID", RawValue: "M-1"},
		{XPath: deal + "/LOANS[1]/LOAN[1]/@LoanRoleType", RawValue: "SubjectLoan"},
		{XPath: deal + "/LOANS[1]/LOAN[1]/TERMS_OF_LOAN[1]/BaseLoanAmount[1]/@SensitiveIndicator", RawValue: "true"},
		{XPath: deal + "/PARTIES[1]/PARTY[1]/@SequenceNumber", RawValue: "1"},
		{XPath: deal + "/PARTIES[1]/PARTY[1]/@xlink:label", RawValue: "PARTY_1"},
		{XPath: deal + "/EXTENSION[1]/OTHER[1]/ext:ExtensionField[1]/@Source", RawValue: "crm"},
	}, unmapped)
}

func TestFromWireFields_NoDeal(t *testing.T) {
	doc, err := mismoxml.Parse([]byte(`<MESSAGE xmlns="http://www.mismo.org/residential/2009/schemas"><Foo>bar</Foo><Empty/></MESSAGE>`))
	require.NoError(t, err)
	res, unmapped := FromWireFields(doc)
	assert.Empty(t, res.CoreFields)
	require.Len(t, unmapped, 2)
	assert.Equal(t, "/MESSAGE[1]/Foo[1]", unmapped[0].XPath)
	assert.Equal(t, "bar", unmapped[0].RawValue)
	assert.Equal(t, "/MESSAGE[1]/Empty[1]", unmapped[1].XPath)
}

func TestPaths(t *testing.T) {
	paths := Paths()
	assert.Contains(t, paths, "LOANS/LOAN/TERMS_OF_LOAN/BaseLoanAmount")
	assert.Contains(t, paths, PartyRolePath)
}
