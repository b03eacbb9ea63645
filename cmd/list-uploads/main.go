package main

import (
	"context"
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
	listingInstance *services.ListingFunction
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ListUploads", handleListUploads)
}

// main is required by the Go Functions Framework.
func main() {}

func handleListUploads(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		listingInstance, initErr = services.NewListing(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Listing initialization failed", "error", initErr)
		api.WriteError(w, http.StatusInternalServerError, "failed to initialize service")
		return
	}

	q := r.URL.Query()
	req := models.ListUploadsRequest{
		CompanyID: q.Get("companyId"),
		JobRef:    q.Get("jobRef"),
	}

	res, err := listingInstance.Process(r.Context(), &req)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "failed to list uploads")
		return
	}

	api.WriteJSON(w, http.StatusOK, res)
}
