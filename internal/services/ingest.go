package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/receiptflow/internal/gcp"
	"github.com/Lllllllleong/receiptflow/internal/models"
	"github.com/Lllllllleong/receiptflow/internal/receipts"
	"golang.org/x/sync/errgroup"
)

const (
	defaultIngestConcurrency = 4
	artifactContentType      = "application/json"
)

// IngestConfig holds configuration for the receipt-ingest service.
type IngestConfig struct {
	ProjectID            string
	VertexAIRegion       string
	AnalysisModel        string
	KMSKey               string
	Concurrency          int
	DeadLetterCollection string
	RetryWorkflowID      string
	WorkflowLocation     string
}

// IngestFunction turns uploaded receipts into parsed artifacts.
type IngestFunction struct {
	analyzer    ExpenseAnalyzer
	writer      ArtifactWriter
	deadLetters DeadLetterStore
	retries     RetryScheduler
	concurrency int
	now         func() time.Time
}

// IngestReport is the per-unit outcome of one ingestion batch.
type IngestReport struct {
	Processed []string
	Skipped   []string
	Failed    []models.FailedUpload

	// succeeded holds the full records behind Processed; the same key may
	// appear in more than one bucket.
	succeeded []models.UploadRecord
}

func loadIngestConfig() (*IngestConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	concurrency, err := gcp.GetEnvInt("INGEST_CONCURRENCY", defaultIngestConcurrency)
	if err != nil {
		return nil, err
	}
	region := gcp.GetEnv("REGION", "us-central1")
	return &IngestConfig{
		ProjectID:            projectID,
		VertexAIRegion:       gcp.GetEnv("VERTEX_AI_REGION", region),
		AnalysisModel:        gcp.GetEnv("ANALYSIS_MODEL", gcp.DefaultExpenseModel),
		KMSKey:               gcp.GetEnv("KMS_KEY", ""),
		Concurrency:          concurrency,
		DeadLetterCollection: gcp.GetEnv("DEADLETTER_COLLECTION", "ingestFailures"),
		RetryWorkflowID:      gcp.GetEnv("RETRY_WORKFLOW_ID", ""),
		WorkflowLocation:     gcp.GetEnv("WORKFLOW_LOCATION", region),
	}, nil
}

// NewIngest creates an IngestFunction from the environment. The dead-letter
// store is disabled by an empty DEADLETTER_COLLECTION and the retry
// hand-off by an empty RETRY_WORKFLOW_ID.
func NewIngest(ctx context.Context) (*IngestFunction, error) {
	config, err := loadIngestConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.AnalysisModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	var deadLetters DeadLetterStore
	if config.DeadLetterCollection != "" {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		deadLetters = gcp.NewDeadLetterStore(firestoreClient, config.DeadLetterCollection)
	}

	var retries RetryScheduler
	if config.RetryWorkflowID != "" {
		scheduler, err := gcp.NewRetryScheduler(ctx, config.ProjectID, config.WorkflowLocation, config.RetryWorkflowID)
		if err != nil {
			return nil, err
		}
		retries = scheduler
	}

	f := NewIngestWith(*config, vertexClient, gcp.NewObjectStore(storageClient, config.KMSKey), deadLetters, retries)
	slog.Info("Receipt ingest logic initialized.", "model", config.AnalysisModel, "retryWorkflowId", config.RetryWorkflowID)
	return f, nil
}

// NewIngestWith wires an IngestFunction from explicit dependencies.
// deadLetters and retries may be nil.
func NewIngestWith(config IngestConfig, analyzer ExpenseAnalyzer, writer ArtifactWriter, deadLetters DeadLetterStore, retries RetryScheduler) *IngestFunction {
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = defaultIngestConcurrency
	}
	return &IngestFunction{
		analyzer:    analyzer,
		writer:      writer,
		deadLetters: deadLetters,
		retries:     retries,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Process handles one storage finalize event.
func (f *IngestFunction) Process(ctx context.Context, e models.GCSEvent, eventTime time.Time) error {
	_, err := f.Ingest(ctx, []models.UploadRecord{{
		Bucket:      e.Bucket,
		Key:         e.Name,
		ContentType: e.ContentType,
		EventTime:   eventTime,
	}})
	return err
}

// Ingest processes a batch of uploads and hands failures to the retry
// workflow. The returned error is a *BatchError when any unit failed.
func (f *IngestFunction) Ingest(ctx context.Context, records []models.UploadRecord) (*IngestReport, error) {
	return f.run(ctx, records, true)
}

// Reingest is Ingest without scheduling another retry; the caller is the
// retry workflow itself.
func (f *IngestFunction) Reingest(ctx context.Context, records []models.UploadRecord) (*IngestReport, error) {
	return f.run(ctx, records, false)
}

type unitOutcome int

const (
	outcomeProcessed unitOutcome = iota
	outcomeSkipped
	outcomeFailed
)

func (f *IngestFunction) run(ctx context.Context, records []models.UploadRecord, scheduleRetry bool) (*IngestReport, error) {
	outcomes := make([]unitOutcome, len(records))
	errs := make([]error, len(records))

	var eg errgroup.Group
	eg.SetLimit(f.concurrency)
	for i, rec := range records {
		if !receipts.IsUploadKey(rec.Key) {
			slog.Info("Skipping object outside uploads/ prefix.", "gcsBucket", rec.Bucket, "gcsObject", rec.Key)
			outcomes[i] = outcomeSkipped
			continue
		}
		eg.Go(func() error {
			if err := f.ingestOne(ctx, rec); err != nil {
				outcomes[i] = outcomeFailed
				errs[i] = err
			}
			return nil
		})
	}
	_ = eg.Wait()

	report := &IngestReport{}
	var retry []models.UploadRecord
	for i, rec := range records {
		switch outcomes[i] {
		case outcomeProcessed:
			report.Processed = append(report.Processed, rec.Key)
			report.succeeded = append(report.succeeded, rec)
		case outcomeSkipped:
			report.Skipped = append(report.Skipped, rec.Key)
		case outcomeFailed:
			report.Failed = append(report.Failed, models.FailedUpload{Key: rec.Key, Error: errs[i].Error()})
			if f.recordFailure(ctx, rec, errs[i]) {
				retry = append(retry, rec)
			}
		}
	}

	if len(report.Failed) == 0 {
		return report, nil
	}
	if scheduleRetry && len(retry) > 0 {
		f.scheduleRetry(ctx, retry)
	}
	return report, &BatchError{Failed: report.Failed}
}

// ingestOne analyses one upload and writes its parsed artifact.
func (f *IngestFunction) ingestOne(ctx context.Context, rec models.UploadRecord) error {
	logCtx := slog.With("gcsBucket", rec.Bucket, "gcsObject", rec.Key)
	logCtx.Info("Processing new upload.")

	mimeType := rec.ContentType
	if mimeType == "" {
		mimeType = receipts.DefaultContentType
	}
	gcsURI := fmt.Sprintf("gs://%s/%s", rec.Bucket, rec.Key)

	analysis, err := f.analyzer.AnalyzeExpense(ctx, gcsURI, mimeType)
	if err != nil {
		logCtx.Error("Expense analysis failed", "error", err)
		return err
	}

	ts := rec.EventTime
	if ts.IsZero() {
		ts = f.now()
	}
	body, err := BuildArtifact(rec.Bucket, rec.Key, analysis, ts)
	if err != nil {
		logCtx.Error("Failed to build parsed artifact", "error", err)
		return err
	}

	parsedKey := receipts.ParsedKey(rec.Key)
	if err := f.writer.WriteObject(ctx, rec.Bucket, parsedKey, artifactContentType, body); err != nil {
		logCtx.Error("Failed to write parsed artifact", "error", err, "parsedKey", parsedKey)
		return err
	}

	logCtx.Info("Parsed artifact written.", "parsedKey", parsedKey)
	return nil
}

// BuildArtifact renders the parsed artifact JSON for an upload. The output
// depends only on its arguments.
func BuildArtifact(bucket, key string, analysis *models.ExpenseAnalysis, ts time.Time) ([]byte, error) {
	var docs []models.ExpenseDocument
	if analysis != nil {
		docs = analysis.ExpenseDocuments
	}
	pages := len(docs)
	if pages == 0 {
		pages = 1
	}
	artifact := models.ParsedArtifact{
		SourceBucket: bucket,
		SourceKey:    key,
		Parsed:       receipts.ExtractFields(docs),
		OCRMeta: models.OCRMeta{
			Pages: pages,
			TS:    ts.UTC().Format(models.TimestampLayout),
		},
	}
	body, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parsed artifact: %w", err)
	}
	return body, nil
}

// recordFailure dead-letters a failed unit and reports whether it still
// needs a retry workflow. A unit that was already FAILED is a redelivery of
// a failure whose workflow is running, so it gets no second execution.
func (f *IngestFunction) recordFailure(ctx context.Context, rec models.UploadRecord, cause error) bool {
	if f.deadLetters == nil {
		return true
	}
	newFailure, err := f.deadLetters.Record(ctx, rec.Bucket, rec.Key, cause)
	if err != nil {
		slog.Error("CRITICAL: Failed to record ingest failure.", "gcsBucket", rec.Bucket, "gcsObject", rec.Key, "error", err)
		return true
	}
	if !newFailure {
		slog.Info("Upload already awaiting retry.", "gcsBucket", rec.Bucket, "gcsObject", rec.Key)
	}
	return newFailure
}

func (f *IngestFunction) scheduleRetry(ctx context.Context, failed []models.UploadRecord) {
	if f.retries == nil {
		return
	}
	execName, err := f.retries.ScheduleRetry(ctx, failed)
	if err != nil {
		slog.Error("Failed to schedule retry workflow.", "failedCount", len(failed), "error", err)
		return
	}
	slog.Info("Retry workflow scheduled.", "execution", execName, "failedCount", len(failed))
}
