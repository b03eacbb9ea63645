package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/receiptflow/internal/models"
)

// ErrInvalidRequest marks client input errors; entry points map it to 400.
var ErrInvalidRequest = errors.New("invalid request")

// ObjectLister is the read side of the object store used by listing.
type ObjectLister interface {
	ListPage(ctx context.Context, bucket, prefix, pageToken string, pageSize int) ([]string, string, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// ArtifactWriter writes parsed artifacts.
type ArtifactWriter interface {
	WriteObject(ctx context.Context, bucket, key, contentType string, body []byte) error
}

// URLSigner issues presigned upload URLs.
type URLSigner interface {
	SignedPutURL(bucket, key, contentType string, ttl time.Duration) (string, error)
}

// ExpenseAnalyzer runs managed expense analysis on a stored document.
type ExpenseAnalyzer interface {
	AnalyzeExpense(ctx context.Context, gcsURI, mimeType string) (*models.ExpenseAnalysis, error)
}

// DeadLetterStore records failed ingestion units and clears them once they
// succeed. Record reports whether the unit was not already marked FAILED.
type DeadLetterStore interface {
	Record(ctx context.Context, bucket, key string, cause error) (bool, error)
	Resolve(ctx context.Context, bucket, key string) error
}

// RetryScheduler hands failed units to an out-of-band retry.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, records []models.UploadRecord) (string, error)
}

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BatchError reports the units of an ingestion batch that failed. Units not
// listed were written successfully or skipped.
type BatchError struct {
	Failed []models.FailedUpload
}

func (e *BatchError) Error() string {
	keys := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		keys[i] = f.Key
	}
	return fmt.Sprintf("%d upload(s) failed to ingest: %s", len(e.Failed), strings.Join(keys, ", "))
}
