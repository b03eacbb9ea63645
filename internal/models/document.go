package models

import "time"

// Ingest failure statuses.
const (
	IngestStatusFailed   = "FAILED"
	IngestStatusResolved = "RESOLVED"
)

// IngestFailure is the dead-letter record for one upload that could not be
// ingested. It lives in Firestore, keyed by a hash of bucket and key.
type IngestFailure struct {
	Bucket       string    `firestore:"bucket,omitempty"`
	Key          string    `firestore:"key,omitempty"`
	Status       string    `firestore:"status,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	Attempts     int       `firestore:"attempts,omitempty"`
	LastFailedAt time.Time `firestore:"lastFailedAt,omitempty"`
	ResolvedAt   time.Time `firestore:"resolvedAt,omitempty"`
}
