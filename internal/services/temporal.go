package services

import (
	"context"
	"fmt"
	"strings"

	"kb-platform-console/internal/config"
	"kb-platform-console/internal/models"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
)

// uploadWorkflowPrefix is how the gateway names ingestion workflows:
// "upload-<document id>".
const uploadWorkflowPrefix = "upload-"

type workflowDescriber interface {
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
	Close()
}

// TemporalClient resolves ingestion status straight from the ingestion
// workflow, for deployments where the status endpoint lags behind.
// The ingestion id is the workflow id.
type TemporalClient struct {
	client workflowDescriber
}

func NewTemporalClient(cfg *config.TemporalConfig) (*TemporalClient, error) {
	c, err := client.Dial(client.Options{
		HostPort:  fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	return &TemporalClient{client: c}, nil
}

func (tc *TemporalClient) Close() {
	tc.client.Close()
}

func (tc *TemporalClient) QueryWorkflowStatus(ctx context.Context, workflowID string) (*workflowservice.DescribeWorkflowExecutionResponse, error) {
	return tc.client.DescribeWorkflowExecution(ctx, workflowID, "")
}

func (tc *TemporalClient) FetchStatus(ctx context.Context, ingestionID string) (*models.IngestionStatus, error) {
	resp, err := tc.QueryWorkflowStatus(ctx, ingestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %s: %w", ingestionID, err)
	}

	status := resp.GetWorkflowExecutionInfo().GetStatus()
	switch status {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return &models.IngestionStatus{
			Status:     models.IngestionStatusCompleted,
			DocumentID: strings.TrimPrefix(ingestionID, uploadWorkflowPrefix),
		}, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return &models.IngestionStatus{
			Status:       models.IngestionStatusFailed,
			ErrorMessage: fmt.Sprintf("Ingestion workflow ended with status %s", strings.ToLower(status.String())),
		}, nil
	default:
		return &models.IngestionStatus{Status: "processing"}, nil
	}
}
