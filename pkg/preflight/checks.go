package preflight

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mapping"
)

// Limits applied by the datatype check.
const (
	MaxTermMonths   = 600
	MaxInterestRate = 100.0
)

func borrowerField(i int, name string) string { return fmt.Sprintf("borrowers[%d].%s", i, name) }
func propertyField(i int, name string) string { return fmt.Sprintf("properties[%d].%s", i, name) }
func feeField(i int, name string) string      { return fmt.Sprintf("fees[%d].%s", i, name) }

func missing(field string) contracts.Finding {
	return contracts.Errorf(contracts.CategoryMissingRequired, conform.ReasonMissingRequiredField, field,
		"%s is required", field)
}

// --- PF1: required fields ---

type requiredCheck struct{}

func (requiredCheck) ID() string   { return "PF1" }
func (requiredCheck) Name() string { return "Required fields" }

func (requiredCheck) Run(in *Input) []contracts.Finding {
	d := in.Deal
	var out []contracts.Finding
	need := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			out = append(out, missing(field))
		}
	}

	if in.Pack != nil && in.Pack.Strict() {
		need(mapping.FieldLoanIdentifier, d.Loan.Identifier)
	}
	need(mapping.FieldLoanAmount, d.Loan.Amount.String())
	need(mapping.FieldInterestRate, d.Loan.InterestRate.String())
	need(mapping.FieldTermMonths, d.Loan.TermMonths.String())
	need(mapping.FieldPurpose, d.Loan.Purpose)

	if len(d.Properties) == 0 {
		out = append(out, contracts.Errorf(contracts.CategoryMissingRequired, conform.ReasonMissingProperty,
			"properties", "at least one property is required"))
	}
	for i, p := range d.Properties {
		need(propertyField(i, "address_line"), p.AddressLine)
		need(propertyField(i, "city"), p.City)
		need(propertyField(i, "state"), p.State)
		need(propertyField(i, "postal_code"), p.PostalCode)
	}

	if len(d.Borrowers) == 0 {
		out = append(out, contracts.Errorf(contracts.CategoryMissingRequired, conform.ReasonMissingBorrower,
			"borrowers", "at least one borrower is required"))
	}
	for i, b := range d.Borrowers {
		need(borrowerField(i, "first_name"), b.FirstName)
		need(borrowerField(i, "last_name"), b.LastName)
		need(borrowerField(i, "email"), b.Email)
	}
	return out
}

// --- PF2: enumerations ---

type enumCheck struct{}

func (enumCheck) ID() string   { return "PF2" }
func (enumCheck) Name() string { return "Enumerated values" }

func (enumCheck) Run(in *Input) []contracts.Finding {
	d := in.Deal
	var out []contracts.Finding
	member := func(field, value string, e canonical.Enum) {
		if value == "" || e.Allowed(value) {
			return
		}
		out = append(out, contracts.Errorf(contracts.CategoryEnumViolation, conform.ReasonEnumNotAllowed, field,
			"%q is not a valid %s; allowed: %s", value, e.Name, e))
	}

	member(mapping.FieldPurpose, d.Loan.Purpose, canonical.LoanPurposes)
	member(mapping.FieldMortgageType, d.Loan.MortgageType, canonical.MortgageTypes)
	member(mapping.FieldLienPriority, d.Loan.LienPriority, canonical.LienPriorities)
	member(mapping.FieldAmortizationType, d.Loan.AmortizationType, canonical.AmortizationTypes)
	for i, p := range d.Properties {
		member(propertyField(i, "state"), p.State, canonical.StateCodes)
		member(propertyField(i, "usage"), p.Usage, canonical.PropertyUsages)
	}
	for i, b := range d.Borrowers {
		member(borrowerField(i, "classification"), b.Classification, canonical.BorrowerClassifications)
	}
	for i, f := range d.Fees {
		member(feeField(i, "type"), f.Type, canonical.FeeTypes)
		member(feeField(i, "paid_to"), f.PaidTo, canonical.FeePaidTo)
	}
	return out
}

// --- PF3: datatypes ---

type datatypeCheck struct{}

func (datatypeCheck) ID() string   { return "PF3" }
func (datatypeCheck) Name() string { return "Datatypes" }

func (datatypeCheck) Run(in *Input) []contracts.Finding {
	d := in.Deal
	var out []contracts.Finding
	add := func(f *contracts.Finding) {
		if f != nil {
			out = append(out, *f)
		}
	}

	add(positive(mapping.FieldLoanAmount, d.Loan.Amount))
	add(interestRate(mapping.FieldInterestRate, d.Loan.InterestRate))
	add(termMonths(mapping.FieldTermMonths, d.Loan.TermMonths))
	add(positive(mapping.FieldCashOutAmount, d.Loan.CashOutAmount))
	for i, p := range d.Properties {
		add(postalCode(propertyField(i, "postal_code"), p.PostalCode))
		add(positive(propertyField(i, "estimated_value"), p.EstimatedValue))
	}
	for i, b := range d.Borrowers {
		add(email(borrowerField(i, "email"), b.Email))
		add(phone(borrowerField(i, "phone"), b.Phone))
	}
	for i, f := range d.Fees {
		add(positive(feeField(i, "amount"), f.Amount))
	}
	for _, k := range canonical.ExtensionKeyCollisions(d.Extensions) {
		add(datatypeErr(conform.ReasonExtensionKeyCollision, "extensions."+k,
			"more than one extension key normalises to %q", k))
	}
	return out
}

func datatypeErr(code, field, format string, args ...any) *contracts.Finding {
	f := contracts.Errorf(contracts.CategoryDatatype, code, field, format, args...)
	return &f
}

// positive accepts an absent value; presence is the required check's job.
func positive(field string, n canonical.Number) *contracts.Finding {
	if n.Empty() {
		return nil
	}
	v, ok := n.Float()
	if !ok {
		return datatypeErr(conform.ReasonNotNumeric, field, "%s must be numeric, got %q", field, n)
	}
	if v <= 0 {
		return datatypeErr(conform.ReasonNotPositiveNumber, field, "%s must be a positive number, got %s", field, n)
	}
	return nil
}

func interestRate(field string, n canonical.Number) *contracts.Finding {
	if n.Empty() {
		return nil
	}
	v, ok := n.Float()
	if !ok {
		return datatypeErr(conform.ReasonNotNumeric, field, "%s must be numeric, got %q", field, n)
	}
	if v <= 0 || v > MaxInterestRate {
		return datatypeErr(conform.ReasonOutOfRange, field, "%s must be greater than 0 and at most %g, got %s",
			field, MaxInterestRate, n)
	}
	return nil
}

func termMonths(field string, n canonical.Number) *contracts.Finding {
	if n.Empty() {
		return nil
	}
	v, ok := n.Int()
	if !ok {
		return datatypeErr(conform.ReasonNotInteger, field, "%s must be a whole number of months, got %q", field, n)
	}
	if v <= 0 {
		return datatypeErr(conform.ReasonNotPositiveNumber, field, "%s must be positive, got %d", field, v)
	}
	if v > MaxTermMonths {
		return datatypeErr(conform.ReasonOutOfRange, field, "%s must be at most %d, got %d", field, MaxTermMonths, v)
	}
	return nil
}

// email accepts a bare addr-spec; display names are rejected.
func email(field, s string) *contracts.Finding {
	if s == "" {
		return nil
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" || !strings.Contains(s[strings.LastIndexByte(s, '@')+1:], ".") {
		return datatypeErr(conform.ReasonInvalidEmail, field, "%s is not a valid email address: %q", field, s)
	}
	return nil
}

// postalCode accepts ZIP (12345) and ZIP+4 (123456789 or 12345-6789).
func postalCode(field, s string) *contracts.Finding {
	if s == "" {
		return nil
	}
	digits := s
	if len(s) == 10 && s[5] == '-' {
		digits = s[:5] + s[6:]
	}
	if (len(digits) == 5 || len(digits) == 9) && allDigits(digits) {
		return nil
	}
	return datatypeErr(conform.ReasonInvalidPostalCode, field, "%s must be 5 or 9 digits, got %q", field, s)
}

// phone accepts ten digits with optional spaces, dots, dashes and parentheses.
func phone(field, s string) *contracts.Finding {
	if s == "" {
		return nil
	}
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return datatypeErr(conform.ReasonInvalidPhone, field, "%s must be a 10 digit number, got %q", field, s)
		}
	}
	if digits.Len() != 10 {
		return datatypeErr(conform.ReasonInvalidPhone, field, "%s must be a 10 digit number, got %q", field, s)
	}
	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
