package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mismo/pkg/artifacts"
	"github.com/Mindburn-Labs/mismo/pkg/auth"
	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/entitystore"
	"github.com/Mindburn-Labs/mismo/pkg/pipeline"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
	"github.com/Mindburn-Labs/mismo/pkg/submission"
)

type dealMap map[string]*canonical.Deal

func (m dealMap) FetchDeal(_ context.Context, ref string) (*canonical.Deal, error) {
	d, ok := m[ref]
	if !ok {
		return nil, entitystore.ErrDealNotFound
	}
	return d.Clone(), nil
}

type sinkFunc func(ctx context.Context, d *canonical.Deal, unmapped []contracts.UnmappedNode, key string) (string, error)

func (f sinkFunc) CreateDeal(ctx context.Context, d *canonical.Deal, unmapped []contracts.UnmappedNode, key string) (string, error) {
	return f(ctx, d, unmapped, key)
}

func deal() *canonical.Deal {
	return &canonical.Deal{
		Loan: canonical.Loan{
			Identifier: "LN-7", Amount: "300000", InterestRate: "5.5", TermMonths: "360",
			Purpose: "purchase", MortgageType: "conventional", LienPriority: "first_lien", AmortizationType: "fixed",
		},
		Borrowers:  []canonical.Borrower{{FirstName: "Cara", LastName: "Diaz", Email: "cara@example.com"}},
		Properties: []canonical.Property{{AddressLine: "9 Elm St", City: "Boise", State: "ID", PostalCode: "83702", EstimatedValue: "450000"}},
	}
}

type fixture struct {
	srv   *httptest.Server
	runs  *runstore.MemoryStore
	store artifacts.Store
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	reg, err := schemapack.NewBuiltinRegistry("")
	require.NoError(t, err)
	fs, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	runs := runstore.NewMemoryStore()

	blocked := deal()
	blocked.Loan.Amount = "0"
	deps := pipeline.Deps{Registry: reg, Runs: runs, Artifacts: fs}
	exp, err := pipeline.NewExporter(deps, dealMap{"deal-7": deal(), "deal-0": blocked})
	require.NoError(t, err)
	imp, err := pipeline.NewImporter(deps, sinkFunc(func(context.Context, *canonical.Deal, []contracts.UnmappedNode, string) (string, error) {
		return "created-1", nil
	}))
	require.NoError(t, err)

	opts := Options{Registry: reg, Runs: runs, Artifacts: fs, Exporter: exp, Importer: imp}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewServer(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return &fixture{srv: srv, runs: runs, store: fs}
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body []byte, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) export(t *testing.T, ref string) (*http.Response, RunResponse) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/v1/exports", "application/json", []byte(`{"deal_reference":"`+ref+`"}`))
	var out RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func decodeProblem(t *testing.T, resp *http.Response) ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, resp.StatusCode, p.Status)
	assert.Equal(t, fmt.Sprintf("%s%d", ProblemTypeBase, resp.StatusCode), p.Type)
	return p
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func TestNewServer_RequiresStores(t *testing.T) {
	_, err := NewServer(Options{})
	require.ErrorContains(t, err, "registry")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestExport_CompletedThenFetchArtifacts(t *testing.T) {
	f := newFixture(t, nil)
	resp, out := f.export(t, "deal-7")

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, runstore.StatusCompleted, out.Run.Status)
	require.NotEmpty(t, out.XML)
	assert.Equal(t, out.Run.ContentHash, resp.Header.Get("X-Content-Hash"))
	assert.Equal(t, contracts.StatusPass, out.Report.Status)

	run := f.do(t, http.MethodGet, "/v1/runs/"+out.Run.RunID, "", nil)
	require.Equal(t, http.StatusOK, run.StatusCode)
	var got runstore.Run
	require.NoError(t, json.NewDecoder(run.Body).Decode(&got))
	assert.Equal(t, out.Run.RunID, got.RunID)
	assert.Equal(t, out.Run.ContentHash, got.ContentHash)

	doc := f.do(t, http.MethodGet, "/v1/runs/"+out.Run.RunID+"/document", "", nil)
	require.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, "application/xml", doc.Header.Get("Content-Type"))
	assert.Equal(t, out.XML, string(readAll(t, doc)))

	rep := f.do(t, http.MethodGet, "/v1/runs/"+out.Run.RunID+"/report", "", nil)
	require.Equal(t, http.StatusOK, rep.StatusCode)
	var stored conform.ConformanceReport
	require.NoError(t, json.NewDecoder(rep.Body).Decode(&stored))
	assert.Equal(t, out.Run.RunID, stored.RunID)
	assert.Equal(t, out.Run.ContentHash, stored.ContentHash)
}

func TestExport_BlockedIs422(t *testing.T) {
	f := newFixture(t, nil)
	resp, out := f.export(t, "deal-0")

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, runstore.StatusBlocked, out.Run.Status)
	assert.Empty(t, out.XML)
	assert.Equal(t, contracts.StatusFail, out.Report.Status)
	var codes []string
	for _, f := range out.Report.Validation.Findings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, conform.ReasonNotPositiveNumber)

	doc := f.do(t, http.MethodGet, "/v1/runs/"+out.Run.RunID+"/document", "", nil)
	assert.Equal(t, http.StatusNotFound, doc.StatusCode)
	decodeProblem(t, doc)
}

func TestExport_RequestErrors(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxBodyBytes = 128 })

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"unknown field", `{"deal":"x"}`, http.StatusBadRequest},
		{"missing reference", `{}`, http.StatusBadRequest},
		{"unknown pack", `{"deal_reference":"deal-7","pack_id":"mismo-9"}`, http.StatusBadRequest},
		{"too large", `{"deal_reference":"` + strings.Repeat("x", 200) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/v1/exports", "application/json", []byte(tc.body))
			assert.Equal(t, tc.status, resp.StatusCode)
			p := decodeProblem(t, resp)
			assert.Equal(t, "/v1/exports", p.Instance)
			assert.NotEmpty(t, p.TraceID)
		})
	}

	runs, err := f.runs.List(context.Background(), runstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestUnconfiguredFeaturesAre503(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Exporter = nil
		o.Importer = nil
	})
	resp := f.do(t, http.MethodPost, "/v1/exports", "application/json", []byte(`{"deal_reference":"deal-7"}`))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	decodeProblem(t, resp)

	resp = f.do(t, http.MethodPost, "/v1/imports", "application/xml", []byte("<MESSAGE/>"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/runs/r1/submit", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestImport(t *testing.T) {
	f := newFixture(t, nil)
	_, exported := f.export(t, "deal-7")

	resp := f.do(t, http.MethodPost, "/v1/imports", "application/xml", []byte(exported.XML))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, runstore.StatusImported, out.Run.Status)
	assert.Equal(t, "created-1", out.Run.CreatedDealReference)
	assert.Empty(t, out.XML)

	resp = f.do(t, http.MethodPost, "/v1/imports?raw_only=true", "application/xml", []byte("<MESSAGE><DEAL></MESSAGE>"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, runstore.StatusImportedRawOnly, out.Run.Status)

	resp = f.do(t, http.MethodPost, "/v1/imports", "application/xml", []byte("<MESSAGE><DEAL></MESSAGE>"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, runstore.StatusBlocked, out.Run.Status)

	resp = f.do(t, http.MethodPost, "/v1/imports?raw_only=maybe", "application/xml", []byte("<MESSAGE/>"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/imports", "application/xml", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/imports?pack_id=nope", "application/xml", []byte("<MESSAGE/>"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidate(t *testing.T) {
	f := newFixture(t, nil)
	_, exported := f.export(t, "deal-7")

	resp := f.do(t, http.MethodPost, "/v1/validate", "application/xml", []byte(exported.XML))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out ValidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, schemapack.PackB324, out.Pack.ID)
	assert.Equal(t, contracts.StatusPass, out.Validation.Status)

	resp = f.do(t, http.MethodPost, "/v1/validate?pack_id="+schemapack.PackB325, "application/xml", []byte(exported.XML))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, contracts.StatusPassWithWarnings, out.Validation.Status)

	resp = f.do(t, http.MethodPost, "/v1/validate", "application/xml", []byte("<MESSAGE>"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, conform.ReasonDocumentMalformed, out.Validation.Findings[0].Code)

	resp = f.do(t, http.MethodPost, "/v1/validate?pack_id=nope", "application/xml", []byte(exported.XML))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	runs, err := f.runs.List(context.Background(), runstore.Filter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1, "validation records no run")
}

func TestPacks(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/v1/packs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var packs []PackInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&packs))
	require.Len(t, packs, 3)

	defaults := 0
	for _, p := range packs {
		if p.Default {
			defaults++
			assert.Equal(t, schemapack.PackB324, p.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestRuns(t *testing.T) {
	f := newFixture(t, nil)
	_, first := f.export(t, "deal-7")
	f.export(t, "deal-0")
	f.export(t, "deal-7")

	list := func(query string) []runstore.Run {
		resp := f.do(t, http.MethodGet, "/v1/runs"+query, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var runs []runstore.Run
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
		return runs
	}
	assert.Len(t, list(""), 3)
	assert.Len(t, list("?status=blocked"), 1)
	assert.Len(t, list("?deal_reference=deal-7"), 2)
	assert.Len(t, list("?limit=1"), 1)
	assert.Len(t, list("?direction=import"), 0)
	assert.Len(t, list("?content_hash="+first.Run.ContentHash), 2)

	for _, q := range []string{"?direction=sideways", "?status=done", "?limit=-1"} {
		resp := f.do(t, http.MethodGet, "/v1/runs"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp := f.do(t, http.MethodGet, "/v1/runs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	p := decodeProblem(t, resp)
	assert.Contains(t, p.Detail, "missing")
}

func TestUnknownRouteAndMethod(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/v2/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	decodeProblem(t, resp)

	resp = f.do(t, http.MethodDelete, "/v1/packs", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	decodeProblem(t, resp)
}

func TestBearerAuth(t *testing.T) {
	signer, err := auth.NewTokenSigner("api-secret", TokenAudience)
	require.NoError(t, err)
	f := newFixture(t, func(o *Options) { o.Tokens = signer })

	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/packs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	decodeProblem(t, resp)

	other, err := auth.NewTokenSigner("api-secret", "entity-store")
	require.NoError(t, err)
	wrong, err := other.Sign("read")
	require.NoError(t, err)
	resp = f.do(t, http.MethodGet, "/v1/packs", "", nil, "Authorization", "Bearer "+wrong)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := signer.Sign("read")
	require.NoError(t, err)
	resp = f.do(t, http.MethodGet, "/v1/packs", "", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RPS = 0.001
		o.Burst = 2
	})
	for i := 0; i < 2; i++ {
		resp := f.do(t, http.MethodGet, "/healthz", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	decodeProblem(t, resp)
}

func TestSubmit(t *testing.T) {
	keys := make(chan string, 4)
	counterparty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{"receipt_id":"rcpt-1"}`))
	}))
	t.Cleanup(counterparty.Close)
	sub, err := submission.New(submission.Config{URL: counterparty.URL})
	require.NoError(t, err)
	f := newFixture(t, func(o *Options) { o.Submitter = sub })

	_, done := f.export(t, "deal-7")
	resp := f.do(t, http.MethodPost, "/v1/runs/"+done.Run.RunID+"/submit", "", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var receipt submission.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	assert.Equal(t, "rcpt-1", receipt.ReceiptID)
	assert.Equal(t, done.Run.ContentHash, <-keys)

	_, blocked := f.export(t, "deal-0")
	resp = f.do(t, http.MethodPost, "/v1/runs/"+blocked.Run.RunID+"/submit", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	imp := f.do(t, http.MethodPost, "/v1/imports", "application/xml", []byte(done.XML))
	var imported RunResponse
	require.NoError(t, json.NewDecoder(imp.Body).Decode(&imported))
	resp = f.do(t, http.MethodPost, "/v1/runs/"+imported.Run.RunID+"/submit", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "imports are never submitted")
}
