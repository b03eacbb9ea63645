package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/receiptflow/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// DeadLetterStore keeps one IngestFailure document per failed upload.
type DeadLetterStore struct {
	client     *firestore.Client
	collection string
}

// NewDeadLetterStore returns a store writing to the given collection.
func NewDeadLetterStore(client *firestore.Client, collection string) *DeadLetterStore {
	return &DeadLetterStore{client: client, collection: collection}
}

// FailureID is the document ID for an upload: Firestore IDs cannot contain
// the slashes found in object keys.
func FailureID(bucket, key string) string {
	sum := sha256.Sum256([]byte(bucket + "/" + key))
	return hex.EncodeToString(sum[:])
}

// Record marks an upload as failed and bumps its attempt counter. It reports
// true when the upload was not already FAILED: no entry, or a resolved one.
func (d *DeadLetterStore) Record(ctx context.Context, bucket, key string, cause error) (bool, error) {
	ref := d.client.Collection(d.collection).Doc(FailureID(bucket, key))
	var newFailure bool
	err := d.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var rec models.IngestFailure
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&rec); err != nil {
				return err
			}
		}
		newFailure = rec.Status != models.IngestStatusFailed

		rec.Bucket = bucket
		rec.Key = key
		rec.Status = models.IngestStatusFailed
		rec.ErrorDetails = cause.Error()
		rec.Attempts++
		rec.LastFailedAt = time.Now().UTC()
		rec.ResolvedAt = time.Time{}
		return tx.Set(ref, rec)
	})
	if err != nil {
		return false, fmt.Errorf("failed to record ingest failure for %s: %w", key, err)
	}
	return newFailure, nil
}

// Resolve marks a previously failed upload as resolved. Uploads that never
// failed have no document, which is not an error.
func (d *DeadLetterStore) Resolve(ctx context.Context, bucket, key string) error {
	ref := d.client.Collection(d.collection).Doc(FailureID(bucket, key))
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "status", Value: models.IngestStatusResolved},
		{Path: "resolvedAt", Value: firestore.ServerTimestamp},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve ingest failure for %s: %w", key, err)
	}
	return nil
}
