package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/receiptflow/internal/api"
	"github.com/Lllllllleong/receiptflow/internal/models"
	"github.com/Lllllllleong/receiptflow/internal/services"
)

var (
	reprocessInstance *services.ReprocessFunction
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Called by the retry workflow with the uploads that failed ingestion.
	functions.HTTP("ReprocessReceipts", handleReprocess)
}

// main is required by the Go Functions Framework.
func main() {}

func handleReprocess(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		reprocessInstance, initErr = services.NewReprocess(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Reprocess initialization failed", "error", initErr)
		api.WriteError(w, http.StatusInternalServerError, "failed to initialize service")
		return
	}

	var req models.ReprocessRequest
	if err := api.DecodeJSON(r.Body, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := reprocessInstance.Process(r.Context(), &req)
	var batchErr *services.BatchError
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		api.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &batchErr):
		// 5xx makes the workflow retry the call; the body says which units failed.
		api.WriteJSON(w, http.StatusInternalServerError, res)
	case err != nil:
		api.WriteError(w, http.StatusInternalServerError, "reprocess failed")
	default:
		api.WriteJSON(w, http.StatusOK, res)
	}
}
