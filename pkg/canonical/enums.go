package canonical

import "strings"

// EnumValue pairs a canonical code with its MISMO enumeration value.
type EnumValue struct {
	Canonical string
	MISMO     string
}

// Enum is a closed allow-list shared by preflight and the field mapper.
type Enum struct {
	Name   string
	Values []EnumValue
}

// Allowed reports whether v is a canonical member of the enumeration.
func (e Enum) Allowed(v string) bool {
	_, ok := e.ToMISMO(v)
	return ok
}

// ToMISMO maps a canonical value to its wire value.
func (e Enum) ToMISMO(v string) (string, bool) {
	for _, ev := range e.Values {
		if ev.Canonical == v {
			return ev.MISMO, true
		}
	}
	return "", false
}

// FromMISMO maps a wire value back to the canonical value.
func (e Enum) FromMISMO(v string) (string, bool) {
	for _, ev := range e.Values {
		if ev.MISMO == v {
			return ev.Canonical, true
		}
	}
	return "", false
}

// Canonicals lists the canonical members, in table order.
func (e Enum) Canonicals() []string {
	out := make([]string, len(e.Values))
	for i, ev := range e.Values {
		out[i] = ev.Canonical
	}
	return out
}

// String renders the allow-list for messages.
func (e Enum) String() string {
	return strings.Join(e.Canonicals(), ", ")
}

var (
	LoanPurposes = Enum{Name: "loan purpose", Values: []EnumValue{
		{"purchase", "Purchase"},
		{"refinance", "Refinance"},
		{"cash_out_refinance", "CashOutRefinance"},
		{"construction", "ConstructionToPermanent"},
		{"other", "Other"},
	}}

	MortgageTypes = Enum{Name: "mortgage type", Values: []EnumValue{
		{"conventional", "Conventional"},
		{"fha", "FHA"},
		{"va", "VA"},
		{"usda", "USDARuralDevelopment"},
		{"other", "Other"},
	}}

	LienPriorities = Enum{Name: "lien priority", Values: []EnumValue{
		{"first_lien", "FirstLien"},
		{"second_lien", "SecondLien"},
		{"third_lien", "ThirdLien"},
		{"other", "Other"},
	}}

	AmortizationTypes = Enum{Name: "amortization type", Values: []EnumValue{
		{"fixed", "Fixed"},
		{"adjustable", "AdjustableRate"},
		{"graduated_payment", "GraduatedPaymentMortgage"},
		{"other", "Other"},
	}}

	PropertyUsages = Enum{Name: "property usage", Values: []EnumValue{
		{"primary_residence", "PrimaryResidence"},
		{"second_home", "SecondHome"},
		{"investment", "Investment"},
	}}

	BorrowerClassifications = Enum{Name: "borrower classification", Values: []EnumValue{
		{"primary", "Primary"},
		{"secondary", "Secondary"},
	}}

	FeeTypes = Enum{Name: "fee type", Values: []EnumValue{
		{"appraisal", "AppraisalFee"},
		{"credit_report", "CreditReportFee"},
		{"origination", "LoanOriginationFee"},
		{"title", "TitleLendersCoveragePremium"},
		{"recording", "RecordingFeeForDeed"},
		{"flood_certification", "FloodCertification"},
		{"other", "Other"},
	}}

	FeePaidTo = Enum{Name: "fee paid-to", Values: []EnumValue{
		{"lender", "Lender"},
		{"broker", "Broker"},
		{"third_party", "ThirdPartyProvider"},
		{"investor", "Investor"},
		{"other", "Other"},
	}}

	StateCodes = identityEnum("state code",
		"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "DC", "FL", "GA", "HI", "ID", "IL", "IN",
		"IA", "KS", "KY", "LA", "ME", "MD", "MA", "MI", "MN", "MS", "MO", "MT", "NE", "NV", "NH",
		"NJ", "NM", "NY", "NC", "ND", "OH", "OK", "OR", "PA", "RI", "SC", "SD", "TN", "TX", "UT",
		"VT", "VA", "WA", "WV", "WI", "WY", "PR", "GU", "VI", "AS", "MP",
	)
)

func identityEnum(name string, values ...string) Enum {
	e := Enum{Name: name, Values: make([]EnumValue, len(values))}
	for i, v := range values {
		e.Values[i] = EnumValue{Canonical: v, MISMO: v}
	}
	return e
}

// PartyRoleBorrower is the MISMO role written for every canonical borrower.
const PartyRoleBorrower = "Borrower"
