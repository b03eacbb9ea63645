package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/receiptflow/internal/models"
)

// RetryScheduler hands failed uploads to a Cloud Workflow that calls the
// reprocess function with its own backoff.
type RetryScheduler struct {
	client *executions.Client
	parent string
}

// NewRetryScheduler creates an executions client for the given workflow.
func NewRetryScheduler(ctx context.Context, projectID, location, workflowID string) (*RetryScheduler, error) {
	if projectID == "" || location == "" || workflowID == "" {
		return nil, fmt.Errorf("NewRetryScheduler: projectID, location and workflowID cannot be empty")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &RetryScheduler{
		client: client,
		parent: WorkflowParent(projectID, location, workflowID),
	}, nil
}

// WorkflowParent is the resource name executions are created under.
func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// ScheduleRetry starts one workflow execution for the given uploads and
// returns the execution name.
func (r *RetryScheduler) ScheduleRetry(ctx context.Context, records []models.UploadRecord) (string, error) {
	payloadBytes, err := json.Marshal(models.ReprocessRequest{Records: records})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := r.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: r.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return exec.GetName(), nil
}
