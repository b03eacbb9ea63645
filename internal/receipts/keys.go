package receipts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	UploadsPrefix = "uploads/"
	ParsedPrefix  = "parsed/"
	parsedSuffix  = ".json"

	DefaultCompanyID   = "demo"
	DefaultJobRef      = "unassigned"
	DefaultContentType = "image/jpeg"
)

// IsUploadKey reports whether key names a raw upload.
func IsUploadKey(key string) bool {
	return strings.HasPrefix(key, UploadsPrefix)
}

// ParsedKey maps a raw upload key to the key of its parsed artifact:
// uploads/a/b/2024/x -> parsed/a/b/2024/x.json.
func ParsedKey(rawKey string) string {
	return ParsedPrefix + strings.TrimPrefix(rawKey, UploadsPrefix) + parsedSuffix
}

// UploadKey builds a fresh upload key for the given scope.
func UploadKey(companyID, jobRef string, now time.Time) string {
	return fmt.Sprintf("%s%s/%s/%d/%s", UploadsPrefix, companyID, jobRef, now.UTC().Year(), uuid.NewString())
}

// ListPrefix returns the listing prefix for a company and optional job.
// An empty companyID falls back to DefaultCompanyID.
func ListPrefix(companyID, jobRef string) string {
	if companyID == "" {
		companyID = DefaultCompanyID
	}
	parts := []string{strings.TrimSuffix(UploadsPrefix, "/"), companyID}
	if jobRef != "" {
		parts = append(parts, jobRef)
	}
	return strings.Join(parts, "/") + "/"
}

// ValidateSegment rejects values that would escape their slot in a key path.
func ValidateSegment(name, value string) error {
	if value == "." || value == ".." || strings.Contains(value, "/") {
		return fmt.Errorf("%s %q must not contain path separators", name, value)
	}
	return nil
}
