package models

// These structs define the JSON payloads for the HTTP functions and the
// storage event that triggers ingestion.

// HealthResponse is the output of the health-check function.
type HealthResponse struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Time     string `json:"time"`
	Database string `json:"database,omitempty"`
}

// UploadURLRequest is the input for the upload-url function. Every field
// is optional.
type UploadURLRequest struct {
	ContentType string `json:"contentType"`
	CompanyID   string `json:"companyId"`
	JobRef      string `json:"jobRef"`
}

// UploadURLResponse is the output of the upload-url function.
type UploadURLResponse struct {
	URL    string `json:"url"`
	Key    string `json:"key"`
	Bucket string `json:"bucket"`
}

// ListUploadsRequest carries the optional listing scope.
type ListUploadsRequest struct {
	CompanyID string
	JobRef    string
}

// ListingEntry is the per-upload status returned by list-uploads.
type ListingEntry struct {
	Key       string  `json:"key"`
	ParsedKey string  `json:"parsedKey"`
	Parsed    bool    `json:"parsed"`
	CompanyID string  `json:"companyId"`
	JobRef    *string `json:"jobRef"`
}

// ListUploadsResponse is the output of the list-uploads function.
type ListUploadsResponse struct {
	Bucket string         `json:"bucket"`
	Prefix string         `json:"prefix"`
	Count  int            `json:"count"`
	Items  []ListingEntry `json:"items"`
}

// GCSEvent is the data payload of a storage object finalized CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// ReprocessRequest is sent by the retry workflow.
type ReprocessRequest struct {
	Records []UploadRecord `json:"records"`
}

// FailedUpload names one upload whose ingestion failed.
type FailedUpload struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// ReprocessResponse is the output of the reprocess function.
type ReprocessResponse struct {
	OK        bool           `json:"ok"`
	Processed []string       `json:"processed"`
	Skipped   []string       `json:"skipped"`
	Failed    []FailedUpload `json:"failed"`
}

// ErrorResponse is the body of a 4xx/5xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
