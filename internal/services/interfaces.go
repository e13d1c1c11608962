package services

import (
	"context"
	"net/http"

	"kb-platform-console/internal/models"
)

// UploadTransport defines the interface for sending a batch of files.
type UploadTransport interface {
	// Upload sends files as one request, reporting aggregate progress.
	Upload(ctx context.Context, files []models.SourceFile, onProgress ProgressFunc) (*UploadAck, error)
}

// StatusFetcher defines the status-fetch primitive the poller relies on.
type StatusFetcher interface {
	// FetchStatus returns the current ingestion status of a job.
	FetchStatus(ctx context.Context, ingestionID string) (*models.IngestionStatus, error)
}

// QueryTransport defines the interface for posting a question.
type QueryTransport interface {
	// Query returns the raw response; the caller closes its body.
	Query(ctx context.Context, req models.QueryRequest) (*http.Response, error)
}

// ChunkStore defines the interface for looking up full chunk text.
type ChunkStore interface {
	// FetchChunkContent returns chunk id -> full content for known ids.
	FetchChunkContent(ctx context.Context, chunkIDs []string) (map[string]string, error)
}

// FeedbackSender defines the fire-and-forget feedback call.
type FeedbackSender interface {
	SendFeedback(ctx context.Context, req models.FeedbackRequest) error
}

var (
	_ UploadTransport = (*Client)(nil)
	_ StatusFetcher   = (*Client)(nil)
	_ QueryTransport  = (*Client)(nil)
	_ FeedbackSender  = (*Client)(nil)
	_ StatusFetcher   = (*TemporalClient)(nil)
	_ ChunkStore      = (*QdrantClient)(nil)
)
