package pipeline

import (
	"bytes"
	"context"
	"errors"

	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mapping"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
	"github.com/Mindburn-Labs/mismo/pkg/structural"
)

// ImportRequest asks for one inbound MISMO document to become a deal.
type ImportRequest struct {
	XML []byte
	// PackID pins the schema pack. Empty detects it from the document.
	PackID string
	// RawOnly keeps the document and its hash without mapping it, even when
	// it fails structural validation.
	RawOnly bool
}

// ImportResult is an import run's outcome.
type ImportResult struct {
	Result
}

// Importer converts inbound MISMO XML into canonical deals.
type Importer struct {
	deps Deps
	sink DealSink
}

// NewImporter creates an importer writing deals to sink. A nil sink is
// allowed when only raw-only imports will be requested.
func NewImporter(deps Deps, sink DealSink) (*Importer, error) {
	if err := deps.init(); err != nil {
		return nil, err
	}
	return &Importer{deps: deps, sink: sink}, nil
}

// ErrNoSink is returned for mapped imports on an importer built without a
// deal sink.
var ErrNoSink = errors.New("pipeline: no deal sink configured")

// Import runs pack detection, structural validation, mapping and
// persistence. The inbound bytes are always hashed and kept in the artifact
// store once validation lets the document through; unmapped nodes travel
// with the deal and the report. The error is non-nil only when the run could
// not be started or recorded.
func (i *Importer) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if len(bytes.TrimSpace(req.XML)) == 0 {
		return nil, errors.New("pipeline: document is empty")
	}
	if !req.RawOnly && i.sink == nil {
		return nil, ErrNoSink
	}
	pinned, err := i.deps.resolve(req.PackID)
	if err != nil {
		return nil, err
	}
	r, err := i.deps.start(ctx, conform.DirectionImport, "", req.PackID)
	if err != nil {
		return nil, err
	}
	r.pack = pinned

	var (
		doc      *mismoxml.Document
		st       contracts.ValidationReport
		result   *contracts.MappingResult
		unmapped []contracts.UnmappedNode
		deal     *canonical.Deal
		hash     = canonicalize.ContentHash(req.XML)
		kept     string
		created  string
	)
	finish := func(status runstore.Status) (*ImportResult, error) {
		in := conform.BuildInput{
			Mapping:     result,
			Unmapped:    unmapped,
			ContentHash: hash,
			ArtifactRef: kept,
		}
		if st.Status != "" {
			s := st
			in.Structural = &s
		}
		res, err := r.finish(terminal{
			status:               status,
			input:                in,
			byteSize:             int64(len(req.XML)),
			createdDealReference: created,
			claim:                kept != "",
		})
		if err != nil {
			return nil, err
		}
		return &ImportResult{Result: *res}, nil
	}

	if !r.step(conform.StageDetectPack, func(context.Context) error {
		if r.pack == nil {
			id := mismoxml.DetectPack(i.deps.Registry, req.XML)
			p, err := i.deps.Registry.Resolve(id)
			if err != nil {
				return err
			}
			r.pack = p
		}
		return nil
	}) {
		return finish(runstore.StatusFailed)
	}

	if !r.step(conform.StageStructural, func(context.Context) error {
		d, err := mismoxml.Parse(req.XML)
		if err != nil {
			st = structural.Malformed(err)
			return nil
		}
		doc = d
		st = i.deps.Structural.ValidateDocument(doc, r.pack)
		return nil
	}) {
		return finish(runstore.StatusFailed)
	}
	if st.Failed() && !req.RawOnly {
		return finish(runstore.StatusBlocked)
	}

	if req.RawOnly {
		if !r.step(conform.StagePersist, func(ctx context.Context) error {
			if err := r.storeDocument(ctx, req.XML, hash); err != nil {
				return err
			}
			kept = hash
			return nil
		}) {
			return finish(runstore.StatusFailed)
		}
		return finish(runstore.StatusImportedRawOnly)
	}

	if !r.step(conform.StageMapping, func(context.Context) error {
		m, nodes := mapping.FromWireFields(doc)
		result, unmapped = &m, nodes
		d, err := mapping.DealFromWire(m)
		if err != nil {
			return systemFailure(conform.ReasonMappingFailed, err)
		}
		deal = d
		return nil
	}) {
		return finish(runstore.StatusFailed)
	}

	if !r.step(conform.StagePersist, func(ctx context.Context) error {
		if err := r.storeDocument(ctx, req.XML, hash); err != nil {
			return err
		}
		kept = hash
		ref, err := i.sink.CreateDeal(ctx, deal, unmapped, hash)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return systemFailure(conform.ReasonEntityStoreUnavailable, err)
		}
		created = ref
		return nil
	}) {
		return finish(runstore.StatusFailed)
	}
	return finish(runstore.StatusImported)
}
