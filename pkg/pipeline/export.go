package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/entitystore"
	"github.com/Mindburn-Labs/mismo/pkg/mapping"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
)

// ExportRequest asks for one deal to be converted to MISMO XML.
type ExportRequest struct {
	DealReference string
	// PackID pins the schema pack. Empty selects the pack configured for the
	// deal's product, then the registry default.
	PackID string
	// SkipPreflight goes straight to generation. Structural validation still
	// runs.
	SkipPreflight bool
}

// ExportResult is an export run's outcome. XML is set only for completed
// runs; a document that failed structural validation is kept in the
// artifact store under Report.ArtifactRef but never returned.
type ExportResult struct {
	Result
	XML []byte
}

// Exporter converts canonical deals into MISMO XML.
type Exporter struct {
	deps   Deps
	source DealSource
}

// NewExporter creates an exporter reading deals from source.
func NewExporter(deps Deps, source DealSource) (*Exporter, error) {
	if source == nil {
		return nil, errors.New("pipeline: deal source is required")
	}
	if err := deps.init(); err != nil {
		return nil, err
	}
	return &Exporter{deps: deps, source: source}, nil
}

// Export runs fetch, preflight, mapping, generation, structural validation,
// hashing and reporting, stopping at the first stage that fails. The error
// is non-nil only when the run could not be started or recorded; every other
// outcome is described by the result.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	req.DealReference = strings.TrimSpace(req.DealReference)
	if req.DealReference == "" {
		return nil, errors.New("pipeline: deal reference is required")
	}
	pinned, err := e.deps.resolve(req.PackID)
	if err != nil {
		return nil, err
	}
	r, err := e.deps.start(ctx, conform.DirectionExport, req.DealReference, req.PackID)
	if err != nil {
		return nil, err
	}
	r.pack = pinned

	var (
		deal   *canonical.Deal
		pre    *contracts.ValidationReport
		result *contracts.MappingResult
		xml    []byte
		st     contracts.ValidationReport
		hash   string
		kept   string
	)
	in := func() conform.BuildInput {
		b := conform.BuildInput{
			Preflight:   pre,
			Mapping:     result,
			ContentHash: hash,
			ArtifactRef: kept,
		}
		if st.Status != "" {
			s := st
			b.Structural = &s
		}
		return b
	}
	stop := func(status runstore.Status) (*ExportResult, error) {
		res, err := r.finish(terminal{status: status, input: in(), byteSize: int64(len(xml))})
		if err != nil {
			return nil, err
		}
		return &ExportResult{Result: *res}, nil
	}

	if !r.step(conform.StageFetch, func(ctx context.Context) error {
		d, err := e.source.FetchDeal(ctx, req.DealReference)
		switch {
		case err == nil && d == nil:
			return systemFailure(conform.ReasonDealNotFound, fmt.Errorf("deal %s not found", req.DealReference))
		case err == nil:
			deal = d
			return nil
		case errors.Is(err, entitystore.ErrDealNotFound):
			return systemFailure(conform.ReasonDealNotFound, err)
		}
		var shape *canonical.ShapeError
		if errors.As(err, &shape) {
			return systemFailure(conform.ReasonDealUndecodable, err)
		}
		if ctx.Err() != nil {
			return err
		}
		return systemFailure(conform.ReasonEntityStoreUnavailable, err)
	}) {
		return stop(runstore.StatusFailed)
	}
	if r.pack == nil {
		r.pack = e.deps.Registry.ForProduct(deal.Product)
	}

	if !req.SkipPreflight {
		if !r.step(conform.StagePreflight, func(context.Context) error {
			rep := e.deps.Preflight.Validate(deal, r.pack)
			pre = &rep
			return nil
		}) {
			return stop(runstore.StatusFailed)
		}
		if hasSystemError(*pre) {
			return stop(runstore.StatusFailed)
		}
		if pre.Failed() {
			return stop(runstore.StatusBlocked)
		}
	}

	if !r.step(conform.StageMapping, func(context.Context) error {
		m := mapping.ToWireFields(deal)
		result = &m
		return nil
	}) {
		return stop(runstore.StatusFailed)
	}

	if !r.step(conform.StageGeneration, func(context.Context) error {
		out, err := mismoxml.Generate(*result, r.pack)
		if err != nil {
			return systemFailure(conform.ReasonGenerationFailed, err)
		}
		xml = out
		return nil
	}) {
		return stop(runstore.StatusFailed)
	}

	if !r.step(conform.StageStructural, func(ctx context.Context) error {
		st = e.deps.Structural.Validate(xml, r.pack)
		if !st.Failed() {
			return nil
		}
		// Withheld documents are kept for diagnosis.
		ref, err := e.deps.Artifacts.Store(ctx, xml)
		if err != nil {
			r.logger.Warn("failed to keep rejected document", "error", err)
			return nil
		}
		kept = ref
		return nil
	}) || st.Failed() {
		return stop(runstore.StatusFailed)
	}

	if !r.step(conform.StageHashing, func(ctx context.Context) error {
		h := canonicalize.ContentHash(xml)
		if err := r.storeDocument(ctx, xml, h); err != nil {
			return err
		}
		hash, kept = h, h
		return nil
	}) {
		return stop(runstore.StatusFailed)
	}

	if !r.step(conform.StageReporting, func(context.Context) error { return nil }) {
		return stop(runstore.StatusFailed)
	}
	status := runstore.StatusCompleted
	if st.HasWarnings() || (pre != nil && pre.HasWarnings()) {
		status = runstore.StatusCompletedWithWarnings
	}
	res, err := r.finish(terminal{status: status, input: in(), byteSize: int64(len(xml)), claim: true})
	if err != nil {
		return nil, err
	}
	out := &ExportResult{Result: *res}
	if res.Run.Status.Succeeded() {
		out.XML = xml
	}
	return out, nil
}
