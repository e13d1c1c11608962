package mocks

import (
	"context"
	"net/http"

	"kb-platform-console/internal/models"
	"kb-platform-console/internal/services"

	"github.com/stretchr/testify/mock"
)

// MockUploadTransport is a mock implementation of services.UploadTransport.
// A Run hook can drive the progress callback.
type MockUploadTransport struct {
	mock.Mock
}

func NewMockUploadTransport() *MockUploadTransport {
	return &MockUploadTransport{}
}

func (m *MockUploadTransport) Upload(ctx context.Context, files []models.SourceFile, onProgress services.ProgressFunc) (*services.UploadAck, error) {
	args := m.Called(ctx, files, onProgress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.UploadAck), args.Error(1)
}

// MockStatusFetcher is a mock implementation of services.StatusFetcher.
type MockStatusFetcher struct {
	mock.Mock
}

func NewMockStatusFetcher() *MockStatusFetcher {
	return &MockStatusFetcher{}
}

func (m *MockStatusFetcher) FetchStatus(ctx context.Context, ingestionID string) (*models.IngestionStatus, error) {
	args := m.Called(ctx, ingestionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IngestionStatus), args.Error(1)
}

// MockQueryTransport is a mock implementation of services.QueryTransport.
type MockQueryTransport struct {
	mock.Mock
}

func NewMockQueryTransport() *MockQueryTransport {
	return &MockQueryTransport{}
}

func (m *MockQueryTransport) Query(ctx context.Context, req models.QueryRequest) (*http.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// MockChunkStore is a mock implementation of services.ChunkStore.
type MockChunkStore struct {
	mock.Mock
}

func NewMockChunkStore() *MockChunkStore {
	return &MockChunkStore{}
}

func (m *MockChunkStore) FetchChunkContent(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	args := m.Called(ctx, chunkIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// MockFeedbackSender is a mock implementation of services.FeedbackSender.
type MockFeedbackSender struct {
	mock.Mock
}

func NewMockFeedbackSender() *MockFeedbackSender {
	return &MockFeedbackSender{}
}

func (m *MockFeedbackSender) SendFeedback(ctx context.Context, req models.FeedbackRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}
