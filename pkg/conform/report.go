// Package conform assembles conformance reports and owns the stable reason
// codes carried by findings.
package conform

import (
	"time"

	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

// SchemaVersion identifies the report layout.
const SchemaVersion = "mismo-conformance/v1"

// Direction of a pipeline run.
type Direction string

const (
	DirectionExport Direction = "export"
	DirectionImport Direction = "import"
)

// ConformanceReport is the persisted record of one run's findings and
// status. It is never modified after Build returns it.
type ConformanceReport struct {
	SchemaVersion string                      `json:"schema_version"`
	RunID         string                      `json:"run_id"`
	Direction     Direction                   `json:"direction"`
	Pack          schemapack.Ref              `json:"pack"`
	Status        contracts.Status            `json:"status"`
	Preflight     *contracts.ValidationReport `json:"preflight,omitempty"`
	Structural    *contracts.ValidationReport `json:"structural,omitempty"`
	Validation    contracts.ValidationReport  `json:"validation"`
	Mapping       *contracts.MappingResult    `json:"mapping,omitempty"`
	UnmappedNodes []contracts.UnmappedNode    `json:"unmapped_nodes,omitempty"`
	ContentHash   string                      `json:"content_hash,omitempty"`
	ArtifactRef   string                      `json:"artifact_ref,omitempty"`
	DuplicateOf   string                      `json:"duplicate_of,omitempty"`
	GeneratedAt   time.Time                   `json:"generated_at"`
}

// BuildInput carries the stage results a report is assembled from. Nil
// reports mean the stage did not run.
type BuildInput struct {
	RunID       string
	Direction   Direction
	Pack        *schemapack.SchemaPack
	Preflight   *contracts.ValidationReport
	Structural  *contracts.ValidationReport
	System      []contracts.Finding
	Mapping     *contracts.MappingResult
	Unmapped    []contracts.UnmappedNode
	ContentHash string
	// ArtifactRef is the artifact-store key of the document the run kept.
	ArtifactRef string
	DuplicateOf string
}

// Reporter builds conformance reports.
type Reporter struct {
	clock func() time.Time
}

// NewReporter creates a reporter using the wall clock.
func NewReporter() *Reporter {
	return &Reporter{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (r *Reporter) WithClock(clock func() time.Time) *Reporter {
	r.clock = clock
	return r
}

// Build aggregates the stage results. Validation is preflight findings,
// then structural findings, then system findings, in that order; Status
// echoes the merged verdict and adds no judgment of its own.
func (r *Reporter) Build(in BuildInput) *ConformanceReport {
	var parts []contracts.ValidationReport
	rep := &ConformanceReport{
		SchemaVersion: SchemaVersion,
		RunID:         in.RunID,
		Direction:     in.Direction,
		ContentHash:   in.ContentHash,
		ArtifactRef:   in.ArtifactRef,
		DuplicateOf:   in.DuplicateOf,
		GeneratedAt:   r.clock().UTC(),
	}
	if in.Pack != nil {
		rep.Pack = in.Pack.Ref()
	}
	if in.Preflight != nil {
		p := contracts.NewValidationReport(contracts.WithStage(StagePreflight, in.Preflight.Findings)...)
		rep.Preflight = &p
		parts = append(parts, p)
	}
	if in.Structural != nil {
		s := contracts.NewValidationReport(contracts.WithStage(StageStructural, in.Structural.Findings)...)
		rep.Structural = &s
		parts = append(parts, s)
	}
	if len(in.System) > 0 {
		parts = append(parts, contracts.NewValidationReport(in.System...))
	}
	rep.Validation = contracts.Merge(parts...)
	rep.Status = rep.Validation.Status

	if in.Mapping != nil {
		m := copyMapping(*in.Mapping)
		rep.Mapping = &m
	}
	if len(in.Unmapped) > 0 {
		rep.UnmappedNodes = append([]contracts.UnmappedNode(nil), in.Unmapped...)
	}
	return rep
}

// Digest returns the sha256: digest of the report's RFC 8785 canonical JSON.
func Digest(rep *ConformanceReport) (string, error) {
	return canonicalize.Digest(rep)
}

// Marshal returns the report's canonical JSON, the form stored as an artifact.
func Marshal(rep *ConformanceReport) ([]byte, error) {
	return canonicalize.CanonicalJSON(rep)
}

func copyMapping(m contracts.MappingResult) contracts.MappingResult {
	out := contracts.NewMappingResult()
	out.CoreFields = append(out.CoreFields, m.CoreFields...)
	for k, v := range m.ExtensionFields {
		out.ExtensionFields[k] = v
	}
	return out
}
