package preflight

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mapping"
)

// FirstLienReferenceKey is the extension field a second-lien purchase uses to
// point at its first lien.
const FirstLienReferenceKey = "first_lien_reference"

// Rule is a cross-field condition written in CEL over the deal view. Expr
// evaluates to true when the rule is violated.
type Rule struct {
	ID       string
	Field    string
	Code     string
	Severity contracts.Severity
	Expr     string
	Message  string
}

// BuiltinRules are recommendations, so every one of them is a warning.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:       "cash_out_amount_missing",
			Field:    mapping.FieldCashOutAmount,
			Code:     conform.ReasonCashOutAmountMissing,
			Severity: contracts.SeverityWarning,
			Expr:     `deal.loan.purpose == "cash_out_refinance" && !has(deal.loan.cash_out_amount)`,
			Message:  "cash-out refinance should carry a cash-out amount",
		},
		{
			ID:       "cash_out_amount_unexpected",
			Field:    mapping.FieldCashOutAmount,
			Code:     conform.ReasonCashOutAmountUnexpected,
			Severity: contracts.SeverityWarning,
			Expr: `has(deal.loan.cash_out_amount) && deal.loan.purpose != "" &&
				deal.loan.purpose != "cash_out_refinance"`,
			Message: "cash-out amount is only meaningful for a cash-out refinance",
		},
		{
			ID:       "loan_exceeds_value",
			Field:    mapping.FieldLoanAmount,
			Code:     conform.ReasonLoanExceedsValue,
			Severity: contracts.SeverityWarning,
			Expr: `has(deal.loan.amount) && size(deal.properties) > 0 &&
				has(deal.properties[0].estimated_value) &&
				deal.loan.amount > deal.properties[0].estimated_value`,
			Message: "loan amount exceeds the subject property's estimated value",
		},
		{
			ID:       "second_lien_first_reference",
			Field:    "extensions." + FirstLienReferenceKey,
			Code:     conform.ReasonSecondLienWithoutFirstRef,
			Severity: contracts.SeverityWarning,
			Expr: `deal.loan.lien_priority == "second_lien" && deal.loan.purpose == "purchase" &&
				!("` + FirstLienReferenceKey + `" in deal.extensions)`,
			Message: "second-lien purchase should reference its first lien",
		},
	}
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// --- PF4: conditional rules ---

type conditionalCheck struct {
	rules []compiledRule
}

func newConditionalCheck(rules []Rule) (*conditionalCheck, error) {
	env, err := cel.NewEnv(
		cel.Variable("deal", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	seen := map[string]bool{}
	c := &conditionalCheck{}
	for _, r := range rules {
		if r.ID == "" || seen[r.ID] {
			return nil, fmt.Errorf("rule id %q is empty or duplicated", r.ID)
		}
		seen[r.ID] = true
		if !r.Severity.Valid() {
			return nil, fmt.Errorf("rule %s: invalid severity %q", r.ID, r.Severity)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		c.rules = append(c.rules, compiledRule{Rule: r, prg: prg})
	}
	return c, nil
}

func (*conditionalCheck) ID() string   { return "PF4" }
func (*conditionalCheck) Name() string { return "Conditional rules" }

// Run evaluates rules in registration order. A rule that cannot be evaluated
// is reported as a system error rather than being skipped.
func (c *conditionalCheck) Run(in *Input) []contracts.Finding {
	vars := map[string]any{"deal": dealView(in.Deal)}
	var out []contracts.Finding
	for _, r := range c.rules {
		val, _, err := r.prg.Eval(vars)
		if err != nil {
			out = append(out, contracts.Errorf(contracts.CategorySystem, conform.ReasonRuleEvaluationFailed, r.Field,
				"rule %s could not be evaluated: %v", r.ID, err))
			continue
		}
		violated, ok := val.Value().(bool)
		if !ok {
			out = append(out, contracts.Errorf(contracts.CategorySystem, conform.ReasonRuleEvaluationFailed, r.Field,
				"rule %s returned %T, want bool", r.ID, val.Value()))
			continue
		}
		if violated {
			out = append(out, contracts.Finding{
				Field:    r.Field,
				Message:  r.Message,
				Severity: r.Severity,
				Category: contracts.CategoryConditionalLogic,
				Code:     r.Code,
			})
		}
	}
	return out
}

// dealView is the CEL input. Numbers appear as doubles only when present and
// parseable, so has() doubles as a presence test.
func dealView(d *canonical.Deal) map[string]any {
	num := func(m map[string]any, key string, n canonical.Number) {
		if v, ok := n.Float(); ok {
			m[key] = v
		}
	}

	loan := map[string]any{
		"identifier":        d.Loan.Identifier,
		"purpose":           d.Loan.Purpose,
		"mortgage_type":     d.Loan.MortgageType,
		"lien_priority":     d.Loan.LienPriority,
		"amortization_type": d.Loan.AmortizationType,
	}
	num(loan, "amount", d.Loan.Amount)
	num(loan, "interest_rate", d.Loan.InterestRate)
	num(loan, "term_months", d.Loan.TermMonths)
	num(loan, "cash_out_amount", d.Loan.CashOutAmount)

	props := make([]any, 0, len(d.Properties))
	for _, p := range d.Properties {
		m := map[string]any{
			"address_line": p.AddressLine,
			"city":         p.City,
			"state":        p.State,
			"postal_code":  p.PostalCode,
			"usage":        p.Usage,
		}
		num(m, "estimated_value", p.EstimatedValue)
		props = append(props, m)
	}

	borrowers := make([]any, 0, len(d.Borrowers))
	for _, b := range d.Borrowers {
		borrowers = append(borrowers, map[string]any{
			"first_name":     b.FirstName,
			"last_name":      b.LastName,
			"email":          b.Email,
			"phone":          b.Phone,
			"classification": b.Classification,
		})
	}

	fees := make([]any, 0, len(d.Fees))
	for _, f := range d.Fees {
		m := map[string]any{"type": f.Type, "paid_to": f.PaidTo}
		num(m, "amount", f.Amount)
		fees = append(fees, m)
	}

	ext := make(map[string]any, len(d.Extensions))
	for k, v := range canonical.NormalizeExtensions(d.Extensions) {
		ext[k] = v
	}

	return map[string]any{
		"reference":  d.Reference,
		"product":    d.Product,
		"loan":       loan,
		"properties": props,
		"borrowers":  borrowers,
		"fees":       fees,
		"extensions": ext,
	}
}
