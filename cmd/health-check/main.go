package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/receiptflow/internal/api"
	"github.com/Lllllllleong/receiptflow/internal/services"
)

var (
	healthInstance *services.HealthFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HealthCheck", handleHealthCheck)
}

// main is required by the Go Functions Framework.
func main() {}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		healthInstance, initErr = services.NewHealth(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: HealthCheck initialization failed", "error", initErr)
		api.WriteError(w, http.StatusInternalServerError, "failed to initialize service")
		return
	}

	api.WriteJSON(w, http.StatusOK, healthInstance.Process(r.Context()))
}
