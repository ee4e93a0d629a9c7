// Package submission pushes conformant export documents to a counterparty.
// Only documents whose run completed and whose bytes match the recorded
// content hash may leave the platform.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/mismo/pkg/auth"
	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/retry"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
)

// Audience is the aud claim of tokens sent to the counterparty.
const Audience = "submission"

// ErrNotSubmittable is returned for runs that may not be submitted.
var ErrNotSubmittable = errors.New("run is not submittable")

// Receipt acknowledges an accepted submission.
type Receipt struct {
	RunID       string    `json:"run_id"`
	ContentHash string    `json:"content_hash"`
	ReceiptID   string    `json:"receipt_id"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// Config configures a Submitter.
type Config struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
}

// Submitter posts MISMO XML to the counterparty endpoint.
type Submitter struct {
	url     string
	http    *http.Client
	timeout time.Duration
	retrier *retry.Retrier
	signer  *auth.TokenSigner
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Submitter.
func New(cfg Config) (*Submitter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("submission: url is required")
	}
	s := &Submitter{
		url:     cfg.URL,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		now:     time.Now,
		logger:  slog.Default().With("component", "submission"),
	}
	if s.http == nil {
		s.http = &http.Client{}
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy
	}
	s.retrier = retry.New(policy)
	if cfg.Secret != "" {
		signer, err := auth.NewTokenSigner(cfg.Secret, Audience)
		if err != nil {
			return nil, err
		}
		s.signer = signer
	}
	return s, nil
}

// Submittable checks that run is a completed export whose hash matches xml.
func Submittable(run runstore.Run, xml []byte) error {
	switch {
	case run.Direction != conform.DirectionExport:
		return fmt.Errorf("%w: run %s is an %s run", ErrNotSubmittable, run.RunID, run.Direction)
	case run.Status != runstore.StatusCompleted && run.Status != runstore.StatusCompletedWithWarnings:
		return fmt.Errorf("%w: run %s is %s", ErrNotSubmittable, run.RunID, run.Status)
	case run.ContentHash == "" || !canonicalize.VerifyContentHash(xml, run.ContentHash):
		return fmt.Errorf("%w: run %s: document does not match content hash %s", ErrNotSubmittable, run.RunID, run.ContentHash)
	}
	return nil
}

// Submit sends xml for run. The content hash is the idempotency key, so the
// counterparty can deduplicate retried and repeated submissions.
func (s *Submitter) Submit(ctx context.Context, run runstore.Run, xml []byte) (*Receipt, error) {
	if err := Submittable(run, xml); err != nil {
		return nil, err
	}

	var receipt Receipt
	err := s.retrier.Do(ctx, "submission:"+run.ContentHash, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, s.url, bytes.NewReader(xml))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/xml")
		req.Header.Set("Idempotency-Key", run.ContentHash)
		req.Header.Set("X-Run-ID", run.RunID)
		if s.signer != nil {
			token, err := s.signer.Sign("submit")
			if err != nil {
				return retry.Permanent(err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			s.logger.WarnContext(ctx, "submission attempt failed", "run_id", run.RunID, "attempt", attempt, "error", err)
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("counterparty returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return retry.Permanent(err)
		}
		var body struct {
			ReceiptID string `json:"receipt_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return retry.Permanent(fmt.Errorf("decode receipt: %w", err))
		}
		receipt = Receipt{
			RunID:       run.RunID,
			ContentHash: run.ContentHash,
			ReceiptID:   body.ReceiptID,
			AcceptedAt:  s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submission: run %s: %w", run.RunID, err)
	}
	s.logger.InfoContext(ctx, "document submitted", "run_id", run.RunID, "content_hash", run.ContentHash, "receipt_id", receipt.ReceiptID)
	return &receipt, nil
}
