package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/receiptflow/internal/models"
	"github.com/Lllllllleong/receiptflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	ingestInstance *services.IngestFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Triggered by google.cloud.storage.object.v1.finalized on the uploads bucket.
	functions.CloudEvent("IngestReceipt", ingestReceipt)
}

// main is required by the Go Functions Framework.
func main() {}

func ingestReceipt(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestInstance, initErr = services.NewIngest(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed so the trigger may retry.
	return ingestInstance.Process(ctx, gcsEvent, e.Time())
}
