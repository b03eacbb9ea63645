package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/receiptflow/internal/models"
	"github.com/Lllllllleong/receiptflow/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var eventTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func receiptAnalysis() *models.ExpenseAnalysis {
	return &models.ExpenseAnalysis{ExpenseDocuments: []models.ExpenseDocument{{
		SummaryFields: []models.SummaryField{
			{Label: "Vendor Name", Value: "ACME Hardware"},
			{Label: "Total Due", Value: "$45.00"},
		},
	}}}
}

func TestIngest_WritesParsedArtifact(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, "gs://receipts/uploads/acme/job1/2024/abc", "image/png").
		Return(receiptAnalysis(), nil)
	store := newFakeStore()
	f := services.NewIngestWith(services.IngestConfig{}, analyzer, store, nil, nil)

	err := f.Process(context.Background(), models.GCSEvent{
		Bucket:      "receipts",
		Name:        "uploads/acme/job1/2024/abc",
		ContentType: "image/png",
	}, eventTime)
	require.NoError(t, err)

	body, ok := store.written("parsed/acme/job1/2024/abc.json")
	require.True(t, ok)
	assert.JSONEq(t, `{
		"sourceBucket": "receipts",
		"sourceKey": "uploads/acme/job1/2024/abc",
		"parsed": {"merchant": "ACME Hardware", "total": "45.00", "vat": null, "date": null},
		"ocrMeta": {"pages": 1, "ts": "2024-03-01T09:30:00.000Z"}
	}`, string(body))
	analyzer.AssertExpectations(t)
}

func TestIngest_DefaultsContentType(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, "gs://receipts/uploads/a/b/2024/x", "image/jpeg").
		Return(&models.ExpenseAnalysis{}, nil)
	store := newFakeStore()
	f := services.NewIngestWith(services.IngestConfig{}, analyzer, store, nil, nil)

	require.NoError(t, f.Process(context.Background(), models.GCSEvent{Bucket: "receipts", Name: "uploads/a/b/2024/x"}, eventTime))
	analyzer.AssertExpectations(t)
}

func TestIngest_SkipsKeysOutsideUploads(t *testing.T) {
	analyzer := new(MockAnalyzer)
	store := newFakeStore()
	f := services.NewIngestWith(services.IngestConfig{}, analyzer, store, nil, nil)

	report, err := f.Ingest(context.Background(), []models.UploadRecord{
		{Bucket: "receipts", Key: "parsed/acme/job1/2024/abc.json"},
		{Bucket: "receipts", Key: "other/file"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"parsed/acme/job1/2024/abc.json", "other/file"}, report.Skipped)
	assert.Empty(t, report.Processed)
	assert.Empty(t, store.writes)
	analyzer.AssertNotCalled(t, "AnalyzeExpense", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_SameEventWritesIdenticalBytes(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, mock.Anything, mock.Anything).Return(receiptAnalysis(), nil)
	store := newFakeStore()
	f := services.NewIngestWith(services.IngestConfig{}, analyzer, store, nil, nil)
	event := models.GCSEvent{Bucket: "receipts", Name: "uploads/acme/job1/2024/abc"}

	require.NoError(t, f.Process(context.Background(), event, eventTime))
	first, _ := store.written("parsed/acme/job1/2024/abc.json")
	require.NoError(t, f.Process(context.Background(), event, eventTime))
	second, _ := store.written("parsed/acme/job1/2024/abc.json")

	assert.Equal(t, first, second)
	analyzer.AssertNumberOfCalls(t, "AnalyzeExpense", 2)
}

func TestIngest_PartialFailureIsolatesUnits(t *testing.T) {
	analyzeErr := errors.New("document unreadable")
	good := models.UploadRecord{Bucket: "receipts", Key: "uploads/acme/job1/2024/good", EventTime: eventTime}
	bad := models.UploadRecord{Bucket: "receipts", Key: "uploads/acme/job1/2024/bad", EventTime: eventTime}
	unwritable := models.UploadRecord{Bucket: "receipts", Key: "uploads/acme/job1/2024/unwritable", EventTime: eventTime}

	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, "gs://receipts/uploads/acme/job1/2024/good", mock.Anything).Return(receiptAnalysis(), nil)
	analyzer.On("AnalyzeExpense", mock.Anything, "gs://receipts/uploads/acme/job1/2024/bad", mock.Anything).Return(nil, analyzeErr)
	analyzer.On("AnalyzeExpense", mock.Anything, "gs://receipts/uploads/acme/job1/2024/unwritable", mock.Anything).Return(receiptAnalysis(), nil)

	store := newFakeStore()
	store.writeErrs["parsed/acme/job1/2024/unwritable.json"] = errors.New("quota exceeded")

	deadLetters := new(MockDeadLetters)
	deadLetters.On("Record", mock.Anything, "receipts", bad.Key, mock.MatchedBy(func(err error) bool {
		return errors.Is(err, analyzeErr)
	})).Return(true, nil).Once()
	deadLetters.On("Record", mock.Anything, "receipts", unwritable.Key, mock.Anything).Return(true, nil).Once()

	retries := new(MockRetryScheduler)
	retries.On("ScheduleRetry", mock.Anything, []models.UploadRecord{bad, unwritable}).
		Return("projects/p/locations/l/workflows/w/executions/1", nil).Once()

	f := services.NewIngestWith(services.IngestConfig{Concurrency: 2}, analyzer, store, deadLetters, retries)
	report, err := f.Ingest(context.Background(), []models.UploadRecord{good, bad, unwritable})

	var batchErr *services.BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failed, 2)
	assert.Equal(t, bad.Key, batchErr.Failed[0].Key)
	assert.Equal(t, "document unreadable", batchErr.Failed[0].Error)
	assert.Equal(t, unwritable.Key, batchErr.Failed[1].Key)
	assert.Contains(t, err.Error(), "2 upload(s) failed")

	assert.Equal(t, []string{good.Key}, report.Processed)
	_, written := store.written("parsed/acme/job1/2024/good.json")
	assert.True(t, written)

	deadLetters.AssertExpectations(t)
	deadLetters.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, good.Key, mock.Anything)
	retries.AssertExpectations(t)
}

func TestIngest_RetrySchedulingFailureKeepsBatchError(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	retries := new(MockRetryScheduler)
	retries.On("ScheduleRetry", mock.Anything, mock.Anything).Return("", errors.New("workflow missing"))

	f := services.NewIngestWith(services.IngestConfig{}, analyzer, newFakeStore(), nil, retries)
	_, err := f.Ingest(context.Background(), []models.UploadRecord{{Bucket: "receipts", Key: "uploads/a/b/2024/x"}})

	var batchErr *services.BatchError
	require.ErrorAs(t, err, &batchErr)
	retries.AssertNumberOfCalls(t, "ScheduleRetry", 1)
}

func TestIngest_RedeliveredFailureStartsNoSecondRetry(t *testing.T) {
	fresh := models.UploadRecord{Bucket: "receipts", Key: "uploads/a/b/2024/fresh", EventTime: eventTime}
	pending := models.UploadRecord{Bucket: "receipts", Key: "uploads/a/b/2024/pending", EventTime: eventTime}

	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("unreadable"))
	deadLetters := new(MockDeadLetters)
	deadLetters.On("Record", mock.Anything, "receipts", fresh.Key, mock.Anything).Return(true, nil).Once()
	deadLetters.On("Record", mock.Anything, "receipts", pending.Key, mock.Anything).Return(false, nil).Once()
	retries := new(MockRetryScheduler)
	retries.On("ScheduleRetry", mock.Anything, []models.UploadRecord{fresh}).Return("exec-1", nil).Once()

	f := services.NewIngestWith(services.IngestConfig{}, analyzer, newFakeStore(), deadLetters, retries)
	_, err := f.Ingest(context.Background(), []models.UploadRecord{fresh, pending})

	var batchErr *services.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Len(t, batchErr.Failed, 2)
	deadLetters.AssertExpectations(t)
	retries.AssertExpectations(t)
}

func TestIngest_AllFailuresAlreadyPendingSkipsRetry(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("unreadable"))
	deadLetters := new(MockDeadLetters)
	deadLetters.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	retries := new(MockRetryScheduler)

	f := services.NewIngestWith(services.IngestConfig{}, analyzer, newFakeStore(), deadLetters, retries)
	err := f.Process(context.Background(), models.GCSEvent{Bucket: "receipts", Name: "uploads/a/b/2024/x"}, eventTime)

	var batchErr *services.BatchError
	require.ErrorAs(t, err, &batchErr)
	retries.AssertNotCalled(t, "ScheduleRetry", mock.Anything, mock.Anything)
}

func TestIngest_DeadLetterErrorStillSchedulesRetry(t *testing.T) {
	rec := models.UploadRecord{Bucket: "receipts", Key: "uploads/a/b/2024/x"}
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("unreadable"))
	deadLetters := new(MockDeadLetters)
	deadLetters.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("firestore down"))
	retries := new(MockRetryScheduler)
	retries.On("ScheduleRetry", mock.Anything, []models.UploadRecord{rec}).Return("exec-1", nil).Once()

	f := services.NewIngestWith(services.IngestConfig{}, analyzer, newFakeStore(), deadLetters, retries)
	_, err := f.Ingest(context.Background(), []models.UploadRecord{rec})

	var batchErr *services.BatchError
	require.ErrorAs(t, err, &batchErr)
	retries.AssertExpectations(t)
}

func TestReingest_DoesNotScheduleRetry(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("AnalyzeExpense", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("still broken"))
	retries := new(MockRetryScheduler)

	f := services.NewIngestWith(services.IngestConfig{}, analyzer, newFakeStore(), nil, retries)
	_, err := f.Reingest(context.Background(), []models.UploadRecord{{Bucket: "receipts", Key: "uploads/a/b/2024/x"}})

	var batchErr *services.BatchError
	require.ErrorAs(t, err, &batchErr)
	retries.AssertNotCalled(t, "ScheduleRetry", mock.Anything, mock.Anything)
}

func TestBuildArtifact(t *testing.T) {
	t.Run("no documents counts one page", func(t *testing.T) {
		body, err := services.BuildArtifact("receipts", "uploads/a/b/2024/x", nil, eventTime)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"sourceBucket": "receipts",
			"sourceKey": "uploads/a/b/2024/x",
			"parsed": {"merchant": null, "total": null, "vat": null, "date": null},
			"ocrMeta": {"pages": 1, "ts": "2024-03-01T09:30:00.000Z"}
		}`, string(body))
	})

	t.Run("pages follow document count", func(t *testing.T) {
		analysis := &models.ExpenseAnalysis{ExpenseDocuments: make([]models.ExpenseDocument, 3)}
		body, err := services.BuildArtifact("receipts", "uploads/a/b/2024/x", analysis, eventTime)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"pages": 3`)
	})

	t.Run("timestamp is rendered in UTC", func(t *testing.T) {
		local := time.Date(2024, 3, 1, 10, 30, 0, 123_000_000, time.FixedZone("CET", 3600))
		body, err := services.BuildArtifact("receipts", "uploads/a/b/2024/x", nil, local)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"ts": "2024-03-01T09:30:00.123Z"`)
	})
}
