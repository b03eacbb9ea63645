package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/receiptflow/internal/models"
)

// ReprocessFunction re-runs ingestion for uploads handed over by the retry
// workflow and clears their dead-letter entries once they succeed.
type ReprocessFunction struct {
	ingest      *IngestFunction
	deadLetters DeadLetterStore
}

// NewReprocess creates a ReprocessFunction from the same environment as
// the ingest function, sharing its dead-letter store.
func NewReprocess(ctx context.Context) (*ReprocessFunction, error) {
	ingest, err := NewIngest(ctx)
	if err != nil {
		return nil, err
	}
	return NewReprocessWith(ingest, ingest.deadLetters), nil
}

// NewReprocessWith wires a ReprocessFunction from explicit dependencies.
// deadLetters may be nil.
func NewReprocessWith(ingest *IngestFunction, deadLetters DeadLetterStore) *ReprocessFunction {
	return &ReprocessFunction{ingest: ingest, deadLetters: deadLetters}
}

// Process re-ingests the requested uploads. The response is always
// populated; the error is non-nil when the request is invalid or any unit
// failed again.
func (f *ReprocessFunction) Process(ctx context.Context, req *models.ReprocessRequest) (*models.ReprocessResponse, error) {
	if len(req.Records) == 0 {
		return nil, fmt.Errorf("%w: records must not be empty", ErrInvalidRequest)
	}
	for i, rec := range req.Records {
		if rec.Bucket == "" || rec.Key == "" {
			return nil, fmt.Errorf("%w: record %d needs both bucket and key", ErrInvalidRequest, i)
		}
	}

	logCtx := slog.With("recordCount", len(req.Records))
	logCtx.Info("Starting reprocess.")

	report, err := f.ingest.Reingest(ctx, req.Records)
	var batchErr *BatchError
	if err != nil && !errors.As(err, &batchErr) {
		logCtx.Error("Reprocess failed", "error", err)
		return nil, err
	}

	f.resolve(ctx, report.succeeded)

	resp := &models.ReprocessResponse{
		OK:        err == nil,
		Processed: nonNil(report.Processed),
		Skipped:   nonNil(report.Skipped),
		Failed:    report.Failed,
	}
	if resp.Failed == nil {
		resp.Failed = []models.FailedUpload{}
	}
	logCtx.Info("Reprocess complete.", "processed", len(resp.Processed), "skipped", len(resp.Skipped), "failed", len(resp.Failed))
	return resp, err
}

func (f *ReprocessFunction) resolve(ctx context.Context, succeeded []models.UploadRecord) {
	if f.deadLetters == nil {
		return
	}
	for _, rec := range succeeded {
		if err := f.deadLetters.Resolve(ctx, rec.Bucket, rec.Key); err != nil {
			slog.Warn("Failed to resolve dead-letter entry.", "gcsBucket", rec.Bucket, "gcsObject", rec.Key, "error", err)
		}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
