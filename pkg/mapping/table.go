// Package mapping translates between canonical deals and MISMO element
// paths. The path table is fixed at init and read-only afterwards.
//
// Paths are relative to the DEAL container. In table patterns '#' stands
// for the 1-based index of the owning entity (collateral, party, fee) and
// '*' for a per-entity slot that is allocated in table order, so a party
// without an email still writes its telephone at CONTACT_POINT[1].
package mapping

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
)

type group int

const (
	groupLoan group = iota
	groupProperty
	groupBorrower
	groupFee
)

func (g group) String() string {
	switch g {
	case groupLoan:
		return "loan"
	case groupProperty:
		return "property"
	case groupBorrower:
		return "borrower"
	default:
		return "fee"
	}
}

type segKind int

const (
	segFixed segKind = iota
	segGroup
	segSlot
)

type patSeg struct {
	name string
	kind segKind
}

type fieldSpec struct {
	order   int
	group   group
	field   string // canonical field name used in findings, e.g. loan.amount
	pattern string
	segs    []patSeg
	enum    *canonical.Enum
	fixed   string // constant wire value; the field carries no canonical data
	get     func(d *canonical.Deal, i int) string
	set     func(d *canonical.Deal, i int, v string)
}

// Field names, shared with preflight so findings and paths line up.
const (
	FieldLoanIdentifier   = "loan.identifier"
	FieldLoanAmount       = "loan.amount"
	FieldInterestRate     = "loan.interest_rate"
	FieldTermMonths       = "loan.term_months"
	FieldPurpose          = "loan.purpose"
	FieldMortgageType     = "loan.mortgage_type"
	FieldLienPriority     = "loan.lien_priority"
	FieldAmortizationType = "loan.amortization_type"
	FieldCashOutAmount    = "loan.cash_out_amount"
)

const (
	collateralPrefix = "COLLATERALS/COLLATERAL[#]/SUBJECT_PROPERTY/"
	partyPrefix      = "PARTIES/PARTY[#]/"
	feePrefix        = "LOANS/LOAN/FEE_INFORMATION/FEES/FEE[#]/FEE_DETAIL/"
	termsPrefix      = "LOANS/LOAN/TERMS_OF_LOAN/"
)

// PartyRolePath is the role leaf that marks a party as a borrower.
const PartyRolePath = partyPrefix + "ROLES/ROLE/ROLE_DETAIL/PartyRoleType"

var table = buildTable()

func buildTable() []*fieldSpec {
	l := func(field, pattern string, enum *canonical.Enum, ptr func(*canonical.Loan) *string) *fieldSpec {
		return &fieldSpec{
			group: groupLoan, field: field, pattern: pattern, enum: enum,
			get: func(d *canonical.Deal, _ int) string { return *ptr(&d.Loan) },
			set: func(d *canonical.Deal, _ int, v string) { *ptr(&d.Loan) = v },
		}
	}
	ln := func(field, pattern string, ptr func(*canonical.Loan) *canonical.Number) *fieldSpec {
		return &fieldSpec{
			group: groupLoan, field: field, pattern: pattern,
			get: func(d *canonical.Deal, _ int) string { return string(*ptr(&d.Loan)) },
			set: func(d *canonical.Deal, _ int, v string) { *ptr(&d.Loan) = canonical.Number(v) },
		}
	}
	p := func(field, pattern string, enum *canonical.Enum, ptr func(*canonical.Property) *string) *fieldSpec {
		return &fieldSpec{
			group: groupProperty, field: field, pattern: collateralPrefix + pattern, enum: enum,
			get: func(d *canonical.Deal, i int) string { return *ptr(&d.Properties[i]) },
			set: func(d *canonical.Deal, i int, v string) { *ptr(&d.Properties[i]) = v },
		}
	}
	b := func(field, pattern string, enum *canonical.Enum, ptr func(*canonical.Borrower) *string) *fieldSpec {
		return &fieldSpec{
			group: groupBorrower, field: field, pattern: partyPrefix + pattern, enum: enum,
			get: func(d *canonical.Deal, i int) string { return *ptr(&d.Borrowers[i]) },
			set: func(d *canonical.Deal, i int, v string) { *ptr(&d.Borrowers[i]) = v },
		}
	}
	f := func(field, pattern string, enum *canonical.Enum, ptr func(*canonical.Fee) *string) *fieldSpec {
		return &fieldSpec{
			group: groupFee, field: field, pattern: feePrefix + pattern, enum: enum,
			get: func(d *canonical.Deal, i int) string { return *ptr(&d.Fees[i]) },
			set: func(d *canonical.Deal, i int, v string) { *ptr(&d.Fees[i]) = v },
		}
	}

	specs := []*fieldSpec{
		l(FieldLoanIdentifier, "LOANS/LOAN/LOAN_IDENTIFIERS/LOAN_IDENTIFIER/LoanIdentifier", nil,
			func(x *canonical.Loan) *string { return &x.Identifier }),
		ln(FieldLoanAmount, termsPrefix+"BaseLoanAmount",
			func(x *canonical.Loan) *canonical.Number { return &x.Amount }),
		ln(FieldInterestRate, termsPrefix+"NoteRatePercent",
			func(x *canonical.Loan) *canonical.Number { return &x.InterestRate }),
		l(FieldPurpose, termsPrefix+"LoanPurposeType", &canonical.LoanPurposes,
			func(x *canonical.Loan) *string { return &x.Purpose }),
		l(FieldMortgageType, termsPrefix+"MortgageType", &canonical.MortgageTypes,
			func(x *canonical.Loan) *string { return &x.MortgageType }),
		l(FieldLienPriority, termsPrefix+"LienPriorityType", &canonical.LienPriorities,
			func(x *canonical.Loan) *string { return &x.LienPriority }),
		ln(FieldTermMonths, "LOANS/LOAN/MATURITY/MATURITY_RULE/LoanMaturityPeriodCount",
			func(x *canonical.Loan) *canonical.Number { return &x.TermMonths }),
		l(FieldAmortizationType, "LOANS/LOAN/AMORTIZATION/AMORTIZATION_RULE/AmortizationType", &canonical.AmortizationTypes,
			func(x *canonical.Loan) *string { return &x.AmortizationType }),
		ln(FieldCashOutAmount, "LOANS/LOAN/REFINANCE/RefinanceCashOutAmount",
			func(x *canonical.Loan) *canonical.Number { return &x.CashOutAmount }),

		p("address_line", "ADDRESS/AddressLineText", nil, func(x *canonical.Property) *string { return &x.AddressLine }),
		p("city", "ADDRESS/CityName", nil, func(x *canonical.Property) *string { return &x.City }),
		p("postal_code", "ADDRESS/PostalCode", nil, func(x *canonical.Property) *string { return &x.PostalCode }),
		p("state", "ADDRESS/StateCode", &canonical.StateCodes, func(x *canonical.Property) *string { return &x.State }),
		{
			group: groupProperty, field: "estimated_value", pattern: collateralPrefix + "PROPERTY_DETAIL/PropertyEstimatedValueAmount",
			get: func(d *canonical.Deal, i int) string { return string(d.Properties[i].EstimatedValue) },
			set: func(d *canonical.Deal, i int, v string) { d.Properties[i].EstimatedValue = canonical.Number(v) },
		},
		p("usage", "PROPERTY_DETAIL/PropertyUsageType", &canonical.PropertyUsages, func(x *canonical.Property) *string { return &x.Usage }),

		b("first_name", "INDIVIDUAL/NAME/FirstName", nil, func(x *canonical.Borrower) *string { return &x.FirstName }),
		b("last_name", "INDIVIDUAL/NAME/LastName", nil, func(x *canonical.Borrower) *string { return &x.LastName }),
		b("email", "INDIVIDUAL/CONTACT_POINTS/CONTACT_POINT[*]/CONTACT_POINT_EMAIL/ContactPointEmailValue", nil,
			func(x *canonical.Borrower) *string { return &x.Email }),
		b("phone", "INDIVIDUAL/CONTACT_POINTS/CONTACT_POINT[*]/CONTACT_POINT_TELEPHONE/ContactPointTelephoneValue", nil,
			func(x *canonical.Borrower) *string { return &x.Phone }),
		b("classification", "ROLES/ROLE/BORROWER/BORROWER_DETAIL/BorrowerClassificationType", &canonical.BorrowerClassifications,
			func(x *canonical.Borrower) *string { return &x.Classification }),
		{
			group: groupBorrower, field: "role", pattern: PartyRolePath, fixed: canonical.PartyRoleBorrower,
			get: func(*canonical.Deal, int) string { return canonical.PartyRoleBorrower },
			set: func(*canonical.Deal, int, string) {},
		},

		f("type", "FeeType", &canonical.FeeTypes, func(x *canonical.Fee) *string { return &x.Type }),
		{
			group: groupFee, field: "amount", pattern: feePrefix + "FeeActualTotalAmount",
			get: func(d *canonical.Deal, i int) string { return string(d.Fees[i].Amount) },
			set: func(d *canonical.Deal, i int, v string) { d.Fees[i].Amount = canonical.Number(v) },
		},
		f("paid_to", "FeePaidToType", &canonical.FeePaidTo, func(x *canonical.Fee) *string { return &x.PaidTo }),
	}

	for i, s := range specs {
		s.order = i
		s.segs = mustParsePattern(s.pattern)
	}
	return specs
}

func mustParsePattern(p string) []patSeg {
	parts := strings.Split(p, "/")
	segs := make([]patSeg, len(parts))
	for i, part := range parts {
		switch {
		case strings.HasSuffix(part, "[#]"):
			segs[i] = patSeg{name: strings.TrimSuffix(part, "[#]"), kind: segGroup}
		case strings.HasSuffix(part, "[*]"):
			segs[i] = patSeg{name: strings.TrimSuffix(part, "[*]"), kind: segSlot}
		case strings.ContainsAny(part, "[]"):
			panic(fmt.Sprintf("mapping: bad pattern segment %q", part))
		default:
			segs[i] = patSeg{name: part}
		}
	}
	return segs
}

// seg is one concrete path step.
type seg struct {
	name  string
	index int
}

// match reports whether concrete segments fit the field pattern, returning the
// entity index and slot.
func (s *fieldSpec) match(path []seg) (idx, slot int, ok bool) {
	if len(path) != len(s.segs) {
		return 0, 0, false
	}
	for i, ps := range s.segs {
		c := path[i]
		if c.name != ps.name {
			return 0, 0, false
		}
		switch ps.kind {
		case segFixed:
			if c.index != 1 {
				return 0, 0, false
			}
		case segGroup:
			idx = c.index
		case segSlot:
			slot = c.index
		}
	}
	return idx, slot, true
}

// render writes the concrete relative path for an entity index and slot.
func (s *fieldSpec) render(idx, slot int) string {
	var b strings.Builder
	for i, ps := range s.segs {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(ps.name)
		switch ps.kind {
		case segGroup:
			b.WriteString("[" + strconv.Itoa(idx) + "]")
		case segSlot:
			b.WriteString("[" + strconv.Itoa(slot) + "]")
		}
	}
	return b.String()
}

// slotKey identifies the repeating container a slot spec allocates from.
func (s *fieldSpec) slotKey() string {
	for i, ps := range s.segs {
		if ps.kind == segSlot {
			names := make([]string, i+1)
			for j := 0; j <= i; j++ {
				names[j] = s.segs[j].name
			}
			return strings.Join(names, "/")
		}
	}
	return ""
}

// parsePath splits a concrete relative path like PARTIES/PARTY[2]/X.
func parsePath(p string) ([]seg, error) {
	parts := strings.Split(p, "/")
	out := make([]seg, len(parts))
	for i, part := range parts {
		name, idx := part, 1
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, fmt.Errorf("bad path segment %q", part)
			}
			n, err := strconv.Atoi(part[open+1 : len(part)-1])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("bad index in %q", part)
			}
			name, idx = part[:open], n
		}
		if name == "" {
			return nil, fmt.Errorf("empty segment in %q", p)
		}
		out[i] = seg{name: name, index: idx}
	}
	return out, nil
}

func lookup(path []seg) (*fieldSpec, int, int, bool) {
	for _, s := range table {
		if idx, slot, ok := s.match(path); ok {
			return s, idx, slot, true
		}
	}
	return nil, 0, 0, false
}

// Paths lists the table's patterns in order.
func Paths() []string {
	out := make([]string, len(table))
	for i, s := range table {
		out[i] = s.pattern
	}
	return out
}
