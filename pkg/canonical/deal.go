// Package canonical defines the platform's internal, standard-independent
// loan deal. Anything without a MISMO element path lives only in the
// Extensions bag.
package canonical

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Deal is one loan deal as held by the entity store.
type Deal struct {
	Reference  string            `json:"reference"`
	Product    string            `json:"product,omitempty"`
	Loan       Loan              `json:"loan"`
	Borrowers  []Borrower        `json:"borrowers"`
	Properties []Property        `json:"properties"`
	Fees       []Fee             `json:"fees,omitempty"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// Loan carries the loan terms.
type Loan struct {
	Identifier       string `json:"identifier,omitempty"`
	Amount           Number `json:"amount,omitempty"`
	InterestRate     Number `json:"interest_rate,omitempty"`
	TermMonths       Number `json:"term_months,omitempty"`
	Purpose          string `json:"purpose,omitempty"`
	MortgageType     string `json:"mortgage_type,omitempty"`
	LienPriority     string `json:"lien_priority,omitempty"`
	AmortizationType string `json:"amortization_type,omitempty"`
	CashOutAmount    Number `json:"cash_out_amount,omitempty"`
}

// Borrower is one natural-person party on the loan.
type Borrower struct {
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// Property is one subject property.
type Property struct {
	AddressLine    string `json:"address_line,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
	Usage          string `json:"usage,omitempty"`
	EstimatedValue Number `json:"estimated_value,omitempty"`
}

// Fee is one closing cost line.
type Fee struct {
	Type   string `json:"type,omitempty"`
	Amount Number `json:"amount,omitempty"`
	PaidTo string `json:"paid_to,omitempty"`
}

// Clone returns a deep copy so callers can never alias a deal they were handed.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	out := *d
	out.Borrowers = append([]Borrower(nil), d.Borrowers...)
	out.Properties = append([]Property(nil), d.Properties...)
	out.Fees = append([]Fee(nil), d.Fees...)
	if d.Extensions != nil {
		out.Extensions = make(map[string]string, len(d.Extensions))
		for k, v := range d.Extensions {
			out.Extensions[k] = v
		}
	}
	return &out
}

// Normalize rewrites every string in NFC form and trims surrounding space.
func (d *Deal) Normalize() {
	n := func(s *string) { *s = NormalizeText(*s) }
	nn := func(v *Number) { *v = Number(NormalizeText(string(*v))) }

	n(&d.Reference)
	n(&d.Product)
	n(&d.Loan.Identifier)
	nn(&d.Loan.Amount)
	nn(&d.Loan.InterestRate)
	nn(&d.Loan.TermMonths)
	n(&d.Loan.Purpose)
	n(&d.Loan.MortgageType)
	n(&d.Loan.LienPriority)
	n(&d.Loan.AmortizationType)
	nn(&d.Loan.CashOutAmount)
	for i := range d.Borrowers {
		b := &d.Borrowers[i]
		n(&b.FirstName)
		n(&b.LastName)
		n(&b.Email)
		n(&b.Phone)
		n(&b.Classification)
	}
	for i := range d.Properties {
		p := &d.Properties[i]
		n(&p.AddressLine)
		n(&p.City)
		n(&p.State)
		n(&p.PostalCode)
		n(&p.Usage)
		nn(&p.EstimatedValue)
	}
	for i := range d.Fees {
		f := &d.Fees[i]
		n(&f.Type)
		nn(&f.Amount)
		n(&f.PaidTo)
	}
	if len(d.Extensions) > 0 {
		d.Extensions = NormalizeExtensions(d.Extensions)
	}
}

// NormalizeExtensions normalises extension keys and values. Raw keys are
// visited in byte order, so when two of them normalise to the same key the
// smallest raw key wins regardless of map iteration order.
func NormalizeExtensions(ext map[string]string) map[string]string {
	out := make(map[string]string, len(ext))
	for _, k := range sortedKeys(ext) {
		nk := NormalizeText(k)
		if _, taken := out[nk]; taken {
			continue
		}
		out[nk] = NormalizeText(ext[k])
	}
	return out
}

// ExtensionKeyCollisions returns, sorted, every normalised extension key
// that more than one raw key maps to.
func ExtensionKeyCollisions(ext map[string]string) []string {
	seen := make(map[string]int, len(ext))
	for k := range ext {
		seen[NormalizeText(k)]++
	}
	var out []string
	for k, n := range seen {
		if n > 1 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeText trims s and converts it to Unicode NFC.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Number is a textual decimal. It keeps the caller's representation so that
// absence ("") and malformed values stay distinguishable from zero.
type Number string

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*n = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*n = Number(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = Number(num.String())
	return nil
}

// Empty reports whether no value was supplied.
func (n Number) Empty() bool {
	return strings.TrimSpace(string(n)) == ""
}

// Float parses the value. NaN and infinities are rejected.
func (n Number) Float() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int parses the value as a whole number.
func (n Number) Int() (int64, bool) {
	i, err := strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

func (n Number) String() string { return string(n) }
