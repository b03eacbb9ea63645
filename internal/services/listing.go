package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/receiptflow/internal/gcp"
	"github.com/Lllllllleong/receiptflow/internal/models"
	"github.com/Lllllllleong/receiptflow/internal/receipts"
)

const listPageSize = 1000

// ListingConfig holds configuration for the list-uploads service.
type ListingConfig struct {
	Bucket           string
	PageSize         int
	ProbeConcurrency int
	ProbeTimeout     time.Duration
}

// ListingFunction lists uploads under a company/job prefix with their
// parse status.
type ListingFunction struct {
	store      ObjectLister
	reconciler *StatusReconciler
	config     ListingConfig
}

func loadListingConfig() (*ListingConfig, error) {
	bucket := gcp.GetEnv("BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("BUCKET environment variable must be set")
	}
	concurrency, err := gcp.GetEnvInt("LIST_PROBE_CONCURRENCY", defaultProbeConcurrency)
	if err != nil {
		return nil, err
	}
	timeout, err := gcp.GetEnvDuration("LIST_PROBE_TIMEOUT", defaultProbeTimeout)
	if err != nil {
		return nil, err
	}
	return &ListingConfig{
		Bucket:           bucket,
		PageSize:         listPageSize,
		ProbeConcurrency: concurrency,
		ProbeTimeout:     timeout,
	}, nil
}

// NewListing creates a ListingFunction from the environment.
func NewListing(ctx context.Context) (*ListingFunction, error) {
	config, err := loadListingConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewListingWith(*config, gcp.NewObjectStore(storageClient, "")), nil
}

// NewListingWith wires a ListingFunction from explicit dependencies.
func NewListingWith(config ListingConfig, store ObjectLister) *ListingFunction {
	if config.PageSize <= 0 {
		config.PageSize = listPageSize
	}
	return &ListingFunction{
		store:      store,
		reconciler: NewStatusReconciler(store, config.ProbeConcurrency, config.ProbeTimeout),
		config:     config,
	}
}

// Process lists every upload under the requested prefix and reports whether
// each one has been parsed. Only a listing failure is returned as an error.
func (f *ListingFunction) Process(ctx context.Context, req *models.ListUploadsRequest) (*models.ListUploadsResponse, error) {
	companyID := req.CompanyID
	if companyID == "" {
		companyID = receipts.DefaultCompanyID
	}
	prefix := receipts.ListPrefix(companyID, req.JobRef)
	logCtx := slog.With("bucket", f.config.Bucket, "prefix", prefix)

	keys, err := f.listKeys(ctx, prefix)
	if err != nil {
		logCtx.Error("Failed to list uploads", "error", err)
		return nil, err
	}

	var jobRef *string
	if req.JobRef != "" {
		jobRef = &req.JobRef
	}

	statuses := f.reconciler.Reconcile(ctx, f.config.Bucket, keys)
	items := make([]models.ListingEntry, len(statuses))
	for i, st := range statuses {
		items[i] = models.ListingEntry{
			Key:       st.Key,
			ParsedKey: st.ParsedKey,
			Parsed:    st.Parsed,
			CompanyID: companyID,
			JobRef:    jobRef,
		}
	}

	logCtx.Info("Listed uploads.", "count", len(items))
	return &models.ListUploadsResponse{
		Bucket: f.config.Bucket,
		Prefix: prefix,
		Count:  len(items),
		Items:  items,
	}, nil
}

// listKeys drains every page under prefix, dropping pseudo-directory markers.
func (f *ListingFunction) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		page, next, err := f.store.ListPage(ctx, f.config.Bucket, prefix, token, f.config.PageSize)
		if err != nil {
			return nil, err
		}
		for _, k := range page {
			if !strings.HasSuffix(k, "/") {
				keys = append(keys, k)
			}
		}
		if next == "" {
			return keys, nil
		}
		token = next
	}
}
