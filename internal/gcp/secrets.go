package gcp

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretStore reads secret payloads from Secret Manager.
type SecretStore struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretStore creates a Secret Manager client. projectID qualifies
// short secret IDs.
func NewSecretStore(ctx context.Context, projectID string) (*SecretStore, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &SecretStore{client: client, projectID: projectID}, nil
}

// Access returns the payload of the given secret.
func (s *SecretStore) Access(ctx context.Context, secretID string) ([]byte, error) {
	name, err := SecretVersionName(s.projectID, secretID)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return resp.GetPayload().GetData(), nil
}

// SecretVersionName accepts a short secret ID, a secret resource name or a
// full version name and returns a version name, defaulting to "latest".
func SecretVersionName(projectID, secretID string) (string, error) {
	if secretID == "" {
		return "", fmt.Errorf("secret ID must be provided")
	}
	if strings.HasPrefix(secretID, "projects/") {
		if strings.Contains(secretID, "/versions/") {
			return secretID, nil
		}
		return secretID + "/versions/latest", nil
	}
	if projectID == "" {
		return "", fmt.Errorf("projectID must be provided for short secret ID %q", secretID)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretID), nil
}
