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

// uploadURLTTL is how long an issued upload URL stays valid.
const uploadURLTTL = 60 * time.Second

// UploadConfig holds configuration for the upload-url service.
type UploadConfig struct {
	Bucket string
	KMSKey string
	URLTTL time.Duration
}

// UploadBrokerFunction issues presigned upload URLs.
type UploadBrokerFunction struct {
	signer URLSigner
	config UploadConfig
	now    func() time.Time
}

func loadUploadConfig() (*UploadConfig, error) {
	bucket := gcp.GetEnv("BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("BUCKET environment variable must be set")
	}
	return &UploadConfig{
		Bucket: bucket,
		KMSKey: gcp.GetEnv("KMS_KEY", ""),
		URLTTL: uploadURLTTL,
	}, nil
}

// NewUploadBroker creates an UploadBrokerFunction from the environment.
func NewUploadBroker(ctx context.Context) (*UploadBrokerFunction, error) {
	config, err := loadUploadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewUploadBrokerWith(*config, gcp.NewObjectStore(storageClient, config.KMSKey)), nil
}

// NewUploadBrokerWith wires an UploadBrokerFunction from explicit dependencies.
func NewUploadBrokerWith(config UploadConfig, signer URLSigner) *UploadBrokerFunction {
	if config.URLTTL <= 0 {
		config.URLTTL = uploadURLTTL
	}
	return &UploadBrokerFunction{signer: signer, config: config, now: time.Now}
}

// Process generates a fresh upload key and a signed PUT URL bound to it and
// to the requested content type.
func (f *UploadBrokerFunction) Process(ctx context.Context, req *models.UploadURLRequest) (*models.UploadURLResponse, error) {
	contentType := strings.TrimSpace(req.ContentType)
	switch {
	case req.ContentType == "":
		contentType = receipts.DefaultContentType
	case contentType == "":
		return nil, fmt.Errorf("%w: contentType must not be blank", ErrInvalidRequest)
	}
	companyID := req.CompanyID
	if companyID == "" {
		companyID = receipts.DefaultCompanyID
	}
	jobRef := req.JobRef
	if jobRef == "" {
		jobRef = receipts.DefaultJobRef
	}
	if err := receipts.ValidateSegment("companyId", companyID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := receipts.ValidateSegment("jobRef", jobRef); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	key := receipts.UploadKey(companyID, jobRef, f.now())
	logCtx := slog.With("bucket", f.config.Bucket, "key", key, "contentType", contentType)

	url, err := f.signer.SignedPutURL(f.config.Bucket, key, contentType, f.config.URLTTL)
	if err != nil {
		logCtx.Error("Failed to sign upload URL", "error", err)
		return nil, err
	}

	logCtx.Info("Issued upload URL.", "ttl", f.config.URLTTL.String())
	return &models.UploadURLResponse{URL: url, Key: key, Bucket: f.config.Bucket}, nil
}
