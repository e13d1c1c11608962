package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"kb-platform-console/internal/models"
	"kb-platform-console/internal/repository"
	"kb-platform-console/internal/services"
	"kb-platform-console/internal/services/mocks"
	"kb-platform-console/internal/validator"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	m        *Manager
	uploader *mocks.MockUploadTransport
	status   *mocks.MockStatusFetcher
	store    repository.StateStore
	clock    time.Time
}

func newHarness(t *testing.T, store repository.StateStore) *harness {
	t.Helper()
	if store == nil {
		store = repository.NewMemoryStore()
	}
	h := &harness{
		uploader: mocks.NewMockUploadTransport(),
		status:   mocks.NewMockStatusFetcher(),
		store:    store,
		clock:    epoch,
	}
	h.m = NewManager(h.uploader, h.status, store, Options{
		Namespace:    "test",
		PollInterval: time.Hour,
	}, zerolog.Nop())
	h.m.now = func() time.Time { return h.clock }
	t.Cleanup(h.m.Close)
	return h
}

func batchOf(n int) func([]models.SourceFile) bool {
	return func(files []models.SourceFile) bool { return len(files) == n }
}

func pdf(name string) models.SourceFile {
	return models.SourceFile{Name: name, Content: []byte("%PDF " + name)}
}

func named(names ...string) func([]models.SourceFile) bool {
	return func(files []models.SourceFile) bool {
		if len(files) != len(names) {
			return false
		}
		for i, f := range files {
			if f.Name != names[i] {
				return false
			}
		}
		return true
	}
}

func statuses(files []models.UploadedFile) map[string]models.FileStatus {
	out := make(map[string]models.FileStatus, len(files))
	for _, f := range files {
		out[f.Filename] = f.Status
	}
	return out
}

func TestManager_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("Upload_JobCompleted", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(batchOf(2)), mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "completed"}, nil)

		err := h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), {Name: "b.exe", Content: []byte("x")}, pdf("c.pdf")})

		require.NoError(t, err)
		files := h.m.Files()
		require.Len(t, files, 2)
		for _, f := range files {
			assert.Equal(t, models.FileStatusSuccess, f.Status)
			assert.Equal(t, 100, f.Progress)
			assert.Equal(t, "pdf", f.Format)
		}
		rejections := h.m.Rejections()
		require.Contains(t, rejections, "b.exe")
		assert.Equal(t, validator.ReasonUnsupportedFormat, rejections["b.exe"].Reason)
		assert.Equal(t, 3, len(files)+len(rejections))
		h.uploader.AssertExpectations(t)
	})

	t.Run("Upload_JobFailed", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "failed", ErrorMessage: "corrupt"}, nil)

		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf")}))

		f := h.m.Files()[0]
		assert.Equal(t, models.FileStatusError, f.Status)
		assert.Equal(t, "corrupt", f.ErrorMessage)
	})

	t.Run("Upload_JobWithoutIDFails", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, Status: "queued"}, nil)

		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf")}))

		f := h.m.Files()[0]
		assert.Equal(t, models.FileStatusError, f.Status)
		assert.Equal(t, untrackedMessage, f.ErrorMessage)
	})

	t.Run("Upload_AllRejected", func(t *testing.T) {
		h := newHarness(t, nil)

		err := h.m.Upload(ctx, []models.SourceFile{{Name: "x.zip", Content: []byte("z")}})

		require.NoError(t, err)
		assert.Empty(t, h.m.Files())
		assert.Len(t, h.m.Rejections(), 1)
		h.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Upload_EmptySelection", func(t *testing.T) {
		h := newHarness(t, nil)

		err := h.m.Upload(ctx, nil)

		assert.ErrorIs(t, err, validator.ErrNoFiles)
		assert.Empty(t, h.m.Files())
	})

	t.Run("Upload_PerFileAck", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckPerFile, IngestionID: "batch-1", Files: []services.FileResult{
				{Filename: "b.pdf", Succeeded: false, Message: "empty document"},
				{Filename: "a.pdf", Succeeded: true, DocumentID: "doc-a"},
				{Filename: "zzz.pdf", Succeeded: true, DocumentID: "doc-z"},
			}}, nil)

		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf"), pdf("c.pdf")}))

		files := h.m.Files()
		require.Len(t, files, 3)
		assert.Equal(t, models.FileStatusSuccess, files[0].Status)
		assert.Equal(t, "doc-a", files[0].DocumentID)
		assert.Equal(t, models.FileStatusError, files[1].Status)
		assert.Equal(t, "empty document", files[1].ErrorMessage)
		// The third result has no name match and falls back to its position.
		assert.Equal(t, models.FileStatusSuccess, files[2].Status)
		assert.Equal(t, "doc-z", files[2].DocumentID)
	})

	t.Run("Upload_PerFileAckMissingResult", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckPerFile, Files: []services.FileResult{
				{Filename: "a.pdf", Succeeded: true},
			}}, nil)

		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf")}))

		files := h.m.Files()
		assert.Equal(t, models.FileStatusSuccess, files[0].Status)
		assert.Equal(t, models.FileStatusError, files[1].Status)
		assert.Equal(t, "No result returned by server", files[1].ErrorMessage)
	})

	t.Run("Upload_ProgressAppliesToBatch", func(t *testing.T) {
		h := newHarness(t, nil)
		var mid, saved []models.UploadedFile
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				args.Get(2).(services.ProgressFunc)(40)
				mid = h.m.Files()
				repository.LoadJSON(ctx, h.store, zerolog.Nop(), repository.Key("test", stateRecord), &saved)
			}).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "completed"}, nil)

		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf")}))

		require.Len(t, mid, 2)
		for _, f := range mid {
			assert.Equal(t, models.FileStatusUploading, f.Status)
			assert.Equal(t, 40, f.Progress)
		}
		require.Len(t, saved, 2)
		for _, f := range saved {
			assert.Equal(t, 40, f.Progress)
		}
	})

	t.Run("Upload_NetworkErrorFailsOnlyInFlight", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(batchOf(1)), mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "completed"}, nil).Once()
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(batchOf(2)), mock.Anything).
			Return(nil, &services.UploadError{Kind: services.UploadNetworkError, Message: "Network error: no response from server"}).Once()

		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("done.pdf")}))
		err := h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf")})

		var uerr *services.UploadError
		require.True(t, errors.As(err, &uerr))
		got := statuses(h.m.Files())
		assert.Equal(t, models.FileStatusSuccess, got["done.pdf"])
		assert.Equal(t, models.FileStatusError, got["a.pdf"])
		assert.Equal(t, models.FileStatusError, got["b.pdf"])
		assert.Equal(t, "Network error: no response from server", h.m.Files()[1].ErrorMessage)
	})

	t.Run("Upload_CancelLeavesFilesUploading", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(batchOf(1)), mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "completed"}, nil).Once()

		started := make(chan struct{})
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(batchOf(2)), mock.Anything).
			Run(func(args mock.Arguments) {
				close(started)
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, &services.UploadError{Kind: services.UploadCanceled, Message: "Upload canceled"}).Once()

		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("done.pdf")}))

		done := make(chan error, 1)
		go func() { done <- h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf")}) }()
		<-started
		h.m.Cancel()

		var uerr *services.UploadError
		require.True(t, errors.As(<-done, &uerr))
		assert.Equal(t, services.UploadCanceled, uerr.Kind)
		got := statuses(h.m.Files())
		assert.Equal(t, models.FileStatusSuccess, got["done.pdf"])
		assert.Equal(t, models.FileStatusUploading, got["a.pdf"])
		assert.Equal(t, models.FileStatusUploading, got["b.pdf"])
	})
}

func TestManager_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("Retry_ReplaysSingleFile", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(batchOf(2)), mock.Anything).
			Return(nil, &services.UploadError{Kind: services.UploadServerError, StatusCode: 500, Message: "boom"}).Once()
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(func(files []models.SourceFile) bool {
			return len(files) == 1 && files[0].Name == "a.pdf"
		}), mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-2", Status: "processing"}, nil).Once()

		require.Error(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf")}))
		first := h.m.Files()[0]
		h.clock = epoch.Add(time.Minute)

		require.NoError(t, h.m.Retry(ctx, first.ID))

		files := h.m.Files()
		assert.Equal(t, first.ID, files[0].ID)
		assert.Equal(t, models.FileStatusProcessing, files[0].Status)
		assert.Equal(t, "job-2", files[0].IngestionID)
		assert.Empty(t, files[0].ErrorMessage)
		assert.Equal(t, epoch.Add(time.Minute), files[0].UploadedAt)
		assert.Equal(t, models.FileStatusError, files[1].Status)
		assert.Equal(t, "boom", files[1].ErrorMessage)
		h.uploader.AssertExpectations(t)
	})

	t.Run("Retry_AfterReattach", func(t *testing.T) {
		store := repository.NewMemoryStore()
		h := newHarness(t, store)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &services.UploadError{Kind: services.UploadServerError, Message: "boom"}).Once()
		require.Error(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf")}))

		restored := newHarness(t, store)
		id := restored.m.Files()[0].ID
		restored.uploader.On("Upload", mock.Anything, mock.MatchedBy(batchOf(1)), mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "completed"}, nil)

		assert.Error(t, restored.m.Reattach(id, pdf("other.pdf")))
		require.NoError(t, restored.m.Reattach(id, pdf("a.pdf")))
		require.NoError(t, restored.m.Retry(ctx, id))

		assert.Equal(t, models.FileStatusSuccess, restored.m.Files()[0].Status)
	})

	t.Run("Retry_RefusedWhileBatchInFlight", func(t *testing.T) {
		h := newHarness(t, nil)
		started := make(chan struct{})
		release := make(chan struct{})
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(named("a.pdf", "b.pdf")), mock.Anything).
			Run(func(args mock.Arguments) {
				close(started)
				<-release
			}).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-old", Status: "failed", ErrorMessage: "stale"}, nil).Once()
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(named("a.pdf")), mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-new", Status: "completed", DocumentID: "doc-a"}, nil).Once()

		done := make(chan error, 1)
		go func() { done <- h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf")}) }()
		<-started
		id := h.m.Files()[0].ID

		assert.ErrorIs(t, h.m.Retry(ctx, id), ErrNotRetryable)

		close(release)
		require.NoError(t, <-done)
		files := h.m.Files()
		assert.Equal(t, models.FileStatusError, files[0].Status)
		assert.Equal(t, "job-old", files[0].IngestionID)

		require.NoError(t, h.m.Retry(ctx, id))

		files = h.m.Files()
		assert.Equal(t, models.FileStatusSuccess, files[0].Status)
		assert.Equal(t, "job-new", files[0].IngestionID)
		assert.Equal(t, "doc-a", files[0].DocumentID)
		assert.Equal(t, models.FileStatusError, files[1].Status)
		assert.Equal(t, "stale", files[1].ErrorMessage)
		h.uploader.AssertExpectations(t)
	})

	t.Run("Retry_RefusedForResolvedFiles", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckPerFile, Files: []services.FileResult{
				{Filename: "a.pdf", Succeeded: true, DocumentID: "doc-a"},
			}}, nil).Once()
		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf")}))
		before := h.m.Files()

		assert.ErrorIs(t, h.m.Retry(ctx, before[0].ID), ErrNotRetryable)
		assert.Equal(t, before, h.m.Files())
		h.uploader.AssertNumberOfCalls(t, "Upload", 1)
	})

	t.Run("Retry_AllowedAfterCancel", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(named("a.pdf", "b.pdf")), mock.Anything).
			Return(nil, &services.UploadError{Kind: services.UploadCanceled, Message: "Upload canceled"}).Once()
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(named("a.pdf")), mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "completed"}, nil).Once()

		require.Error(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf")}))
		files := h.m.Files()
		require.Equal(t, models.FileStatusUploading, files[0].Status)

		require.NoError(t, h.m.Retry(ctx, files[0].ID))

		got := statuses(h.m.Files())
		assert.Equal(t, models.FileStatusSuccess, got["a.pdf"])
		assert.Equal(t, models.FileStatusUploading, got["b.pdf"])
	})

	t.Run("Retry_CancelLeavesOtherUploads", func(t *testing.T) {
		h := newHarness(t, nil)
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(named("a.pdf")), mock.Anything).
			Return(nil, &services.UploadError{Kind: services.UploadServerError, Message: "boom"}).Once()
		require.Error(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf")}))
		id := h.m.Files()[0].ID

		retrying := make(chan struct{})
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(named("a.pdf")), mock.Anything).
			Run(func(args mock.Arguments) {
				close(retrying)
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, &services.UploadError{Kind: services.UploadCanceled, Message: "Upload canceled"}).Once()

		uploading := make(chan struct{})
		release := make(chan struct{})
		var batchCtx context.Context
		h.uploader.On("Upload", mock.Anything, mock.MatchedBy(named("c.pdf", "d.pdf")), mock.Anything).
			Run(func(args mock.Arguments) {
				batchCtx = args.Get(0).(context.Context)
				close(uploading)
				<-release
			}).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-2", Status: "completed"}, nil).Once()

		retryCtx, cancelRetry := context.WithCancel(ctx)
		defer cancelRetry()
		retried := make(chan error, 1)
		go func() { retried <- h.m.Retry(retryCtx, id) }()
		uploaded := make(chan error, 1)
		go func() { uploaded <- h.m.Upload(ctx, []models.SourceFile{pdf("c.pdf"), pdf("d.pdf")}) }()
		<-retrying
		<-uploading

		cancelRetry()
		var uerr *services.UploadError
		require.True(t, errors.As(<-retried, &uerr))
		assert.Equal(t, services.UploadCanceled, uerr.Kind)
		assert.NoError(t, batchCtx.Err())

		close(release)
		require.NoError(t, <-uploaded)
		got := statuses(h.m.Files())
		assert.Equal(t, models.FileStatusUploading, got["a.pdf"])
		assert.Equal(t, models.FileStatusSuccess, got["c.pdf"])
		assert.Equal(t, models.FileStatusSuccess, got["d.pdf"])
		h.uploader.AssertExpectations(t)
	})

	t.Run("Retry_UnknownFile", func(t *testing.T) {
		h := newHarness(t, nil)

		assert.ErrorIs(t, h.m.Retry(ctx, "nope"), ErrUnknownFile)
	})

	t.Run("Retry_NoContentAfterRestore", func(t *testing.T) {
		store := repository.NewMemoryStore()
		h := newHarness(t, store)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &services.UploadError{Kind: services.UploadServerError, Message: "boom"})
		require.Error(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf")}))

		restored := newHarness(t, store)
		before := restored.m.Files()

		err := restored.m.Retry(ctx, before[0].ID)

		assert.ErrorIs(t, err, ErrNoContent)
		assert.Equal(t, before, restored.m.Files())
		restored.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestManager_Poll(t *testing.T) {
	ctx := context.Background()

	processing := func(h *harness, names ...string) {
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "queued"}, nil).Once()
		var files []models.SourceFile
		for _, n := range names {
			files = append(files, pdf(n))
		}
		_ = h.m.Upload(ctx, files)
	}

	t.Run("PollOnce_ProcessingThenFailed", func(t *testing.T) {
		h := newHarness(t, nil)
		processing(h, "a.pdf")
		require.Equal(t, models.FileStatusProcessing, h.m.Files()[0].Status)
		h.status.On("FetchStatus", mock.Anything, "job-1").
			Return(&models.IngestionStatus{Status: "failed", ErrorMessage: "OCR failed"}, nil)

		h.m.PollOnce(ctx)

		f := h.m.Files()[0]
		assert.Equal(t, models.FileStatusError, f.Status)
		assert.Equal(t, "OCR failed", f.ErrorMessage)
	})

	t.Run("PollOnce_CompletedCapturesDocument", func(t *testing.T) {
		h := newHarness(t, nil)
		processing(h, "a.pdf")
		h.status.On("FetchStatus", mock.Anything, "job-1").
			Return(&models.IngestionStatus{Status: "completed", DocumentID: "doc-9"}, nil)

		h.m.PollOnce(ctx)

		f := h.m.Files()[0]
		assert.Equal(t, models.FileStatusSuccess, f.Status)
		assert.Equal(t, "doc-9", f.DocumentID)
	})

	t.Run("PollOnce_UnknownStatusIsNoop", func(t *testing.T) {
		h := newHarness(t, nil)
		processing(h, "a.pdf")
		h.status.On("FetchStatus", mock.Anything, "job-1").
			Return(&models.IngestionStatus{Status: "chunking"}, nil)

		h.m.PollOnce(ctx)

		assert.Equal(t, models.FileStatusProcessing, h.m.Files()[0].Status)
	})

	t.Run("PollOnce_FailureNeverFlipsToError", func(t *testing.T) {
		h := newHarness(t, nil)
		processing(h, "a.pdf")
		h.status.On("FetchStatus", mock.Anything, "job-1").Return(nil, errors.New("connection refused"))

		h.m.PollOnce(ctx)
		h.m.PollOnce(ctx)

		assert.Equal(t, models.FileStatusProcessing, h.m.Files()[0].Status)
		h.status.AssertNumberOfCalls(t, "FetchStatus", 2)
	})

	t.Run("PollOnce_Timeout", func(t *testing.T) {
		h := newHarness(t, nil)
		processing(h, "a.pdf")
		h.clock = epoch.Add(DefaultPollTimeout + time.Second)

		h.m.PollOnce(ctx)

		f := h.m.Files()[0]
		assert.Equal(t, models.FileStatusError, f.Status)
		assert.Contains(t, f.ErrorMessage, "timed out")
		h.status.AssertNotCalled(t, "FetchStatus", mock.Anything, mock.Anything)
	})

	t.Run("PollOnce_TimeoutWithoutJobID", func(t *testing.T) {
		store := repository.NewMemoryStore()
		require.NoError(t, repository.SaveJSON(ctx, store, zerolog.Nop(), repository.Key("test", stateRecord), []models.UploadedFile{
			{ID: "f1", Filename: "a.pdf", Format: "pdf", UploadedAt: epoch, Status: models.FileStatusProcessing},
		}))
		h := newHarness(t, store)
		h.clock = epoch.Add(DefaultPollTimeout + time.Second)

		h.m.PollOnce(ctx)

		f := h.m.Files()[0]
		assert.Equal(t, models.FileStatusError, f.Status)
		assert.Contains(t, f.ErrorMessage, "timed out")
		h.status.AssertNotCalled(t, "FetchStatus", mock.Anything, mock.Anything)
	})

	t.Run("PollOnce_OneRequestPerJob", func(t *testing.T) {
		h := newHarness(t, nil)
		processing(h, "a.pdf", "b.pdf")
		h.status.On("FetchStatus", mock.Anything, "job-1").
			Return(&models.IngestionStatus{Status: "completed"}, nil).Once()

		h.m.PollOnce(ctx)

		for _, f := range h.m.Files() {
			assert.Equal(t, models.FileStatusSuccess, f.Status)
		}
		h.status.AssertNumberOfCalls(t, "FetchStatus", 1)
	})

	t.Run("PollOnce_ResolvedFilesAreSkipped", func(t *testing.T) {
		h := newHarness(t, nil)
		processing(h, "a.pdf")
		h.status.On("FetchStatus", mock.Anything, "job-1").
			Return(&models.IngestionStatus{Status: "completed"}, nil).Once()

		h.m.PollOnce(ctx)
		h.m.PollOnce(ctx)

		h.status.AssertNumberOfCalls(t, "FetchStatus", 1)
	})

	t.Run("Poller_RunsUntilResolved", func(t *testing.T) {
		uploader := mocks.NewMockUploadTransport()
		status := mocks.NewMockStatusFetcher()
		m := NewManager(uploader, status, repository.NewMemoryStore(), Options{PollInterval: 10 * time.Millisecond}, zerolog.Nop())
		defer m.Close()
		uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "processing"}, nil)
		status.On("FetchStatus", mock.Anything, "job-1").
			Return(&models.IngestionStatus{Status: "processing"}, nil).Twice()
		status.On("FetchStatus", mock.Anything, "job-1").
			Return(&models.IngestionStatus{Status: "completed"}, nil)

		require.NoError(t, m.Upload(ctx, []models.SourceFile{pdf("a.pdf")}))

		assert.Eventually(t, func() bool {
			return m.Files()[0].Status == models.FileStatusSuccess
		}, 2*time.Second, 5*time.Millisecond)
		assert.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return !m.polling
		}, time.Second, 5*time.Millisecond)
	})
}

func TestManager_Persistence(t *testing.T) {
	ctx := context.Background()

	t.Run("Persistence_RoundTrip", func(t *testing.T) {
		store := repository.NewMemoryStore()
		h := newHarness(t, store)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "completed", DocumentID: "doc-1"}, nil)
		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf")}))

		restored := newHarness(t, store)

		assert.Equal(t, h.m.Files(), restored.m.Files())
		assert.True(t, restored.m.Files()[0].UploadedAt.Equal(epoch))
	})

	t.Run("Persistence_RestoredProcessingResumesPolling", func(t *testing.T) {
		store := repository.NewMemoryStore()
		require.NoError(t, repository.SaveJSON(ctx, store, zerolog.Nop(), repository.Key("test", stateRecord), []models.UploadedFile{
			{ID: "f1", Filename: "a.pdf", UploadedAt: time.Now(), Status: models.FileStatusProcessing, IngestionID: "job-1"},
		}))

		h := newHarness(t, store)

		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		assert.True(t, h.m.polling)
	})

	t.Run("Persistence_CorruptRecordStartsEmpty", func(t *testing.T) {
		store := repository.NewMemoryStore()
		require.NoError(t, store.Save(ctx, repository.Key("test", stateRecord), []byte("{not json")))

		h := newHarness(t, store)

		assert.Empty(t, h.m.Files())
	})

	t.Run("Persistence_RemoveAndClear", func(t *testing.T) {
		store := repository.NewMemoryStore()
		h := newHarness(t, store)
		h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.UploadAck{Kind: services.AckJob, IngestionID: "job-1", Status: "completed"}, nil)
		require.NoError(t, h.m.Upload(ctx, []models.SourceFile{pdf("a.pdf"), pdf("b.pdf")}))

		assert.True(t, h.m.Remove(h.m.Files()[0].ID))
		assert.False(t, h.m.Remove("nope"))
		assert.Len(t, newHarness(t, store).m.Files(), 1)

		h.m.Clear()
		assert.Empty(t, h.m.Files())
		assert.Empty(t, newHarness(t, store).m.Files())
	})
}
