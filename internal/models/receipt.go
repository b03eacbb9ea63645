package models

import "time"

// TimestampLayout renders UTC times as 2024-03-01T09:30:00.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SummaryField is one label/value pair found by expense analysis.
type SummaryField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ExpenseDocument is one logical expense document (usually one page).
type ExpenseDocument struct {
	SummaryFields []SummaryField `json:"summaryFields"`
}

// ExpenseAnalysis is the structured result of analysing one upload.
type ExpenseAnalysis struct {
	ExpenseDocuments []ExpenseDocument `json:"expenseDocuments"`
}

// ExtractionRecord holds the best-effort receipt fields. Missing values
// serialize as null.
type ExtractionRecord struct {
	Merchant *string `json:"merchant"`
	Total    *string `json:"total"`
	VAT      *string `json:"vat"`
	Date     *string `json:"date"`
}

// OCRMeta describes the analysis run that produced a parsed artifact.
type OCRMeta struct {
	Pages int    `json:"pages"`
	TS    string `json:"ts"`
}

// ParsedArtifact is the JSON document written to parsed/... for an upload.
type ParsedArtifact struct {
	SourceBucket string           `json:"sourceBucket"`
	SourceKey    string           `json:"sourceKey"`
	Parsed       ExtractionRecord `json:"parsed"`
	OCRMeta      OCRMeta          `json:"ocrMeta"`
}

// UploadRecord identifies one uploaded object to ingest.
type UploadRecord struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	ContentType string    `json:"contentType,omitempty"`
	EventTime   time.Time `json:"-"`
}
