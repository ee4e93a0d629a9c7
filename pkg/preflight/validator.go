// Package preflight validates canonical deals before any XML is generated.
//
// Checks run in a fixed order (required, enum, datatype, conditional) and
// every finding they produce is kept in that order. The validator never
// mutates the deal it is given.
package preflight

import (
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

// Input is what every check sees. Deal is a private copy.
type Input struct {
	Deal *canonical.Deal
	Pack *schemapack.SchemaPack
}

// Check is one preflight pass.
type Check interface {
	// ID returns the stable check identifier (e.g. "PF1").
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Run inspects the input and returns its findings in a stable order.
	Run(in *Input) []contracts.Finding
}

// Validator runs the preflight checks.
type Validator struct {
	checks []Check
	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*validatorConfig)

type validatorConfig struct {
	rules []Rule
}

// WithRules appends conditional rules after the built-in ones.
func WithRules(rules ...Rule) Option {
	return func(c *validatorConfig) {
		c.rules = append(c.rules, rules...)
	}
}

// NewValidator compiles the conditional rules and returns a validator with
// the four checks in their fixed order.
func NewValidator(opts ...Option) (*Validator, error) {
	cfg := &validatorConfig{rules: BuiltinRules()}
	for _, opt := range opts {
		opt(cfg)
	}
	cond, err := newConditionalCheck(cfg.rules)
	if err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}
	return &Validator{
		checks: []Check{requiredCheck{}, enumCheck{}, datatypeCheck{}, cond},
		logger: slog.Default().With("component", "preflight"),
	}, nil
}

// Checks returns the checks in execution order.
func (v *Validator) Checks() []Check {
	return append([]Check(nil), v.checks...)
}

// Validate runs every check and always returns a ValidationReport. A check
// that panics contributes a system finding and the remaining checks still run.
func (v *Validator) Validate(deal *canonical.Deal, pack *schemapack.SchemaPack) contracts.ValidationReport {
	if deal == nil {
		return contracts.NewValidationReport(stamp(contracts.Errorf(contracts.CategoryMissingRequired,
			conform.ReasonMissingRequiredField, "deal", "deal is required")))
	}
	in := &Input{Deal: deal.Clone(), Pack: pack}

	var findings []contracts.Finding
	for _, c := range v.checks {
		out := conform.Guard(conform.StagePreflight, func() []contracts.Finding { return c.Run(in) })
		findings = append(findings, out...)
	}
	report := contracts.NewValidationReport(contracts.WithStage(conform.StagePreflight, findings)...)
	v.logger.Debug("preflight complete",
		"deal", deal.Reference,
		"status", report.Status,
		"errors", report.Summary.Errors,
		"warnings", report.Summary.Warnings,
	)
	return report
}

func stamp(f contracts.Finding) contracts.Finding {
	f.Stage = conform.StagePreflight
	return f
}
