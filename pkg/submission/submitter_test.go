package submission

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/retry"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
)

var xmlDoc = []byte(`<MESSAGE/>`)

func completedRun() runstore.Run {
	return runstore.Run{
		RunID:       "run-1",
		Direction:   conform.DirectionExport,
		Status:      runstore.StatusCompleted,
		ContentHash: canonicalize.ContentHash(xmlDoc),
	}
}

func TestSubmittable(t *testing.T) {
	assert.NoError(t, Submittable(completedRun(), xmlDoc))

	warn := completedRun()
	warn.Status = runstore.StatusCompletedWithWarnings
	assert.NoError(t, Submittable(warn, xmlDoc))

	cases := map[string]func(*runstore.Run){
		"blocked": func(r *runstore.Run) { r.Status = runstore.StatusBlocked },
		"failed":  func(r *runstore.Run) { r.Status = runstore.StatusFailed },
		"running": func(r *runstore.Run) { r.Status = runstore.StatusRunning },
		"import":  func(r *runstore.Run) { r.Direction = conform.DirectionImport; r.Status = runstore.StatusImported },
		"hash":    func(r *runstore.Run) { r.ContentHash = canonicalize.ContentHash([]byte("other")) },
		"no hash": func(r *runstore.Run) { r.ContentHash = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := completedRun()
			mutate(&r)
			assert.ErrorIs(t, Submittable(r, xmlDoc), ErrNotSubmittable)
		})
	}
}

func TestSubmit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, completedRun().ContentHash, r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, xmlDoc, body)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"receipt_id": "rcpt-7"}`))
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL, Secret: "k", Retry: retry.Policy{BaseMs: 1, MaxAttempts: 3}})
	require.NoError(t, err)

	receipt, err := s.Submit(context.Background(), completedRun(), xmlDoc)
	require.NoError(t, err)
	assert.Equal(t, "rcpt-7", receipt.ReceiptID)
	assert.Equal(t, "run-1", receipt.RunID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubmit_RefusesWithoutCalling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("counterparty must not be called")
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL})
	require.NoError(t, err)
	run := completedRun()
	run.Status = runstore.StatusBlocked
	_, err = s.Submit(context.Background(), run, xmlDoc)
	assert.ErrorIs(t, err, ErrNotSubmittable)
}

func TestSubmit_Rejected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "schema violation", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s, err := New(Config{URL: srv.URL, Retry: retry.Policy{BaseMs: 1, MaxAttempts: 3}})
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), completedRun(), xmlDoc)
	assert.ErrorContains(t, err, "schema violation")
	assert.Equal(t, int32(1), calls.Load())
}
