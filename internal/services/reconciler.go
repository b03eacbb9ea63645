package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lllllllleong/receiptflow/internal/receipts"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeConcurrency = 16
	defaultProbeTimeout     = 10 * time.Second
)

// KeyStatus is the reconciliation result for one raw upload key.
type KeyStatus struct {
	Key       string
	ParsedKey string
	Parsed    bool
}

// StatusReconciler checks, for each upload key, whether its parsed artifact
// exists.
type StatusReconciler struct {
	store       ObjectLister
	concurrency int
	timeout     time.Duration
}

// NewStatusReconciler caps in-flight probes at concurrency and the whole
// fan-out at timeout. Non-positive values use the defaults.
func NewStatusReconciler(store ObjectLister, concurrency int, timeout time.Duration) *StatusReconciler {
	if concurrency <= 0 {
		concurrency = defaultProbeConcurrency
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &StatusReconciler{store: store, concurrency: concurrency, timeout: timeout}
}

// Reconcile returns one KeyStatus per key, in input order. A probe that
// errors or times out reports Parsed=false; it never fails the batch.
func (r *StatusReconciler) Reconcile(ctx context.Context, bucket string, keys []string) []KeyStatus {
	results := make([]KeyStatus, len(keys))

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var eg errgroup.Group
	eg.SetLimit(r.concurrency)

	for i, key := range keys {
		eg.Go(func() error {
			parsedKey := receipts.ParsedKey(key)
			exists, err := r.store.Exists(probeCtx, bucket, parsedKey)
			if err != nil {
				slog.Warn("Parsed artifact probe failed; reporting as unparsed.", "bucket", bucket, "parsedKey", parsedKey, "error", err)
				exists = false
			}
			results[i] = KeyStatus{Key: key, ParsedKey: parsedKey, Parsed: exists}
			return nil
		})
	}
	_ = eg.Wait()

	return results
}
