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
	brokerInstance *services.UploadBrokerFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "RequestUploadURL" is the entry point name configured in GCP.
	functions.HTTP("RequestUploadURL", handleRequestUploadURL)
}

// main is required by the Go Functions Framework.
func main() {}

func handleRequestUploadURL(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		brokerInstance, initErr = services.NewUploadBroker(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: UploadBroker initialization failed", "error", initErr)
		api.WriteError(w, http.StatusInternalServerError, "failed to initialize service")
		return
	}
	if r.Method != http.MethodPost {
		api.WriteError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}

	var req models.UploadURLRequest
	if err := api.DecodeJSON(r.Body, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := brokerInstance.Process(r.Context(), &req)
	if errors.Is(err, services.ErrInvalidRequest) {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		// The specific error is already logged inside the Process method.
		api.WriteError(w, http.StatusInternalServerError, "failed to issue upload URL")
		return
	}

	api.WriteJSON(w, http.StatusOK, res)
}
