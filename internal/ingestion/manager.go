// Package ingestion tracks files from selection through upload and
// background processing to a terminal state.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kb-platform-console/internal/models"
	"kb-platform-console/internal/repository"
	"kb-platform-console/internal/services"
	"kb-platform-console/internal/validator"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 10 * time.Minute

	stateRecord = "ingestion_files"

	untrackedMessage = "Server accepted the file without an ingestion id to track"
	saveTimeout = 5 * time.Second
)

var (
	// ErrPollTimeout marks a file that stayed in processing past the poll
	// ceiling.
	ErrPollTimeout = errors.New("processing timed out")
	ErrUnknownFile = errors.New("file is not tracked")
	// ErrNoContent is returned by Retry when the file's original bytes are
	// no longer held, e.g. after a restart. The record is left untouched.
	ErrNoContent = errors.New("original file content is no longer available")
	// ErrNotRetryable is returned by Retry for a file that is still being
	// uploaded by another call, or that already reached processing or
	// success.
	ErrNotRetryable = errors.New("file cannot be retried in its current state")
)

type Options struct {
	Namespace    string
	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxFileSize  int64
}

// Manager owns the tracked-file list. All mutation happens under mu;
// network calls run outside it and merge their results back by file id.
type Manager struct {
	uploader  services.UploadTransport
	status    services.StatusFetcher
	store     repository.StateStore
	validator *validator.Validator
	logger    zerolog.Logger

	key          string
	pollInterval time.Duration
	pollTimeout  time.Duration
	now          func() time.Time

	mu         sync.Mutex
	files      []models.UploadedFile
	sources    map[string]models.SourceFile
	rejections map[string]*validator.ValidationError
	inflight   map[uint64]context.CancelFunc
	owner      map[string]uint64
	nextCall   uint64
	polling    bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager restores any persisted file list and resumes polling for
// files that were still processing. status may be nil, in which case
// processing files are only resolved by timeout.
func NewManager(uploader services.UploadTransport, status services.StatusFetcher, store repository.StateStore, opts Options, logger zerolog.Logger) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		uploader:     uploader,
		status:       status,
		store:        store,
		validator:    validator.New(opts.MaxFileSize),
		logger:       logger.With().Str("component", "ingestion").Logger(),
		key:          repository.Key(opts.Namespace, stateRecord),
		pollInterval: opts.PollInterval,
		pollTimeout:  opts.PollTimeout,
		now:          time.Now,
		sources:      make(map[string]models.SourceFile),
		rejections:   make(map[string]*validator.ValidationError),
		inflight:     make(map[uint64]context.CancelFunc),
		owner:        make(map[string]uint64),
		ctx:          ctx,
		cancel:       cancel,
	}

	var restored []models.UploadedFile
	if repository.LoadJSON(ctx, store, m.logger, m.key, &restored) {
		m.files = restored
		m.logger.Debug().Int("files", len(restored)).Msg("Restored ingestion session")
	}

	m.mu.Lock()
	m.startPollingLocked()
	m.mu.Unlock()

	return m
}

// Files returns a snapshot of the tracked files in selection order.
func (m *Manager) Files() []models.UploadedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UploadedFile(nil), m.files...)
}

// Rejections returns the files the last selection refused, keyed by
// filename.
func (m *Manager) Rejections() map[string]*validator.ValidationError {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*validator.ValidationError, len(m.rejections))
	for k, v := range m.rejections {
		out[k] = v
	}
	return out
}

// Upload validates a selection, starts tracking the accepted files and
// sends them as one batch. Rejected files never enter the tracked list.
// The returned error is the transport's; file records already reflect it.
func (m *Manager) Upload(ctx context.Context, files []models.SourceFile) error {
	result, err := m.validator.Validate(files)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.rejections = result.Rejected
	if err != nil {
		m.mu.Unlock()
		return err
	}

	now := m.now()
	ids := make([]string, 0, len(result.Accepted))
	for _, f := range result.Accepted {
		format, _ := validator.Format(f.Name)
		record := models.UploadedFile{
			ID:         uuid.New().String(),
			Filename:   f.Name,
			Size:       f.Len(),
			Format:     format,
			UploadedAt: now,
			Status:     models.FileStatusUploading,
		}
		m.files = append(m.files, record)
		m.sources[record.ID] = f
		ids = append(ids, record.ID)
	}
	m.saveLocked()
	var call uint64
	if len(ids) > 0 {
		call = m.beginCallLocked(ids, cancel)
	}
	m.mu.Unlock()

	for name, rej := range result.Rejected {
		m.logger.Info().Str("filename", name).Str("reason", string(rej.Reason)).Msg("File rejected")
	}

	if len(ids) == 0 {
		return nil
	}
	return m.submit(callCtx, call, ids, result.Accepted)
}

// Retry re-submits one file on its own, replaying the upload state
// machine for that record only. Only failed files, and files left uploading
// by a canceled or interrupted call, can be retried. Results of the call
// the file was taken from are ignored afterwards.
func (m *Manager) Retry(ctx context.Context, id string) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return ErrUnknownFile
	}
	if !m.retryableLocked(i) {
		m.mu.Unlock()
		return ErrNotRetryable
	}
	source, ok := m.sources[id]
	if !ok {
		m.mu.Unlock()
		return ErrNoContent
	}

	m.files[i] = models.UploadedFile{
		ID:         id,
		Filename:   m.files[i].Filename,
		Size:       m.files[i].Size,
		Format:     m.files[i].Format,
		UploadedAt: m.now(),
		Status:     models.FileStatusUploading,
	}
	m.saveLocked()
	call := m.beginCallLocked([]string{id}, cancel)
	m.mu.Unlock()

	return m.submit(callCtx, call, []string{id}, []models.SourceFile{source})
}

func (m *Manager) retryableLocked(i int) bool {
	switch m.files[i].Status {
	case models.FileStatusError:
		return true
	case models.FileStatusUploading:
		_, busy := m.owner[m.files[i].ID]
		return !busy
	default:
		return false
	}
}

// Reattach supplies the original bytes of a tracked file again, so a
// record restored from storage can be retried. The filename must match.
func (m *Manager) Reattach(id string, file models.SourceFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return ErrUnknownFile
	}
	if m.files[i].Filename != file.Name {
		return fmt.Errorf("file %s is tracked as %q, not %q", id, m.files[i].Filename, file.Name)
	}
	m.sources[id] = file
	return nil
}

// Cancel aborts every upload call in flight. Affected files keep their
// current state and can be retried or removed.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.inflight {
		cancel()
	}
}

// Remove stops tracking one file. It reports whether the file was known.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return false
	}
	m.files = append(m.files[:i], m.files[i+1:]...)
	delete(m.sources, id)
	m.saveLocked()
	return true
}

// Clear drops every tracked file and the last selection's rejections.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files = nil
	m.sources = make(map[string]models.SourceFile)
	m.rejections = make(map[string]*validator.ValidationError)
	m.saveLocked()
}

// Close stops the poller and waits for it to exit. In-flight uploads are
// not affected.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// beginCallLocked registers an upload call and makes it the owner of ids.
// Only the owning call may write results into a record.
func (m *Manager) beginCallLocked(ids []string, cancel context.CancelFunc) uint64 {
	m.nextCall++
	call := m.nextCall
	m.inflight[call] = cancel
	for _, id := range ids {
		m.owner[id] = call
	}
	return call
}

func (m *Manager) endCallLocked(call uint64, ids []string) {
	delete(m.inflight, call)
	for _, id := range ids {
		if m.owner[id] == call {
			delete(m.owner, id)
		}
	}
}

func (m *Manager) ownsLocked(call uint64, id string) bool {
	return m.owner[id] == call
}

func (m *Manager) submit(ctx context.Context, call uint64, ids []string, sources []models.SourceFile) error {
	ack, err := m.uploader.Upload(ctx, sources, func(percent int) {
		m.setProgress(call, ids, percent)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endCallLocked(call, ids)

	if err != nil {
		m.failUploadLocked(call, ids, err)
		return err
	}

	switch ack.Kind {
	case services.AckPerFile:
		m.applyPerFileLocked(call, ids, ack)
	default:
		m.applyJobLocked(call, ids, ack)
	}
	m.saveLocked()
	m.startPollingLocked()
	return nil
}

// setProgress applies batch-level progress to the batch files still
// uploading under this call.
func (m *Manager) setProgress(call uint64, ids []string, percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, id := range ids {
		if !m.ownsLocked(call, id) {
			continue
		}
		if i := m.indexLocked(id); i >= 0 && m.files[i].Status == models.FileStatusUploading && m.files[i].Progress != percent {
			m.files[i].Progress = percent
			changed = true
		}
	}
	if changed {
		m.saveLocked()
	}
}

func (m *Manager) failUploadLocked(call uint64, ids []string, err error) {
	var uerr *services.UploadError
	if errors.As(err, &uerr) && uerr.Kind == services.UploadCanceled {
		m.logger.Info().Int("files", len(ids)).Msg("Upload canceled")
		return
	}

	msg := err.Error()
	if uerr != nil && uerr.Message != "" {
		msg = uerr.Message
	}

	for _, id := range ids {
		if !m.ownsLocked(call, id) {
			continue
		}
		if i := m.indexLocked(id); i >= 0 && m.files[i].Status == models.FileStatusUploading {
			m.files[i].Status = models.FileStatusError
			m.files[i].ErrorMessage = msg
		}
	}
	m.logger.Warn().Err(err).Int("files", len(ids)).Msg("Upload failed")
	m.saveLocked()
}

// applyPerFileLocked matches each result to a batch file by filename, then
// by position. Results that match nothing are ignored; batch files left
// without a result fail. Files since taken over by another call keep their
// state.
func (m *Manager) applyPerFileLocked(call uint64, ids []string, ack *services.UploadAck) {
	matched := make(map[string]bool, len(ids))

	for pos, result := range ack.Files {
		id := ""
		for _, candidate := range ids {
			if matched[candidate] {
				continue
			}
			if i := m.indexLocked(candidate); i >= 0 && m.files[i].Filename == result.Filename {
				id = candidate
				break
			}
		}
		if id == "" && pos < len(ids) && !matched[ids[pos]] {
			id = ids[pos]
		}
		if id == "" {
			m.logger.Warn().Str("filename", result.Filename).Msg("Ignoring upload result for unknown file")
			continue
		}
		matched[id] = true

		i := m.indexLocked(id)
		if i < 0 || !m.ownsLocked(call, id) {
			continue
		}
		f := &m.files[i]
		f.Progress = 100
		f.IngestionID = ack.IngestionID
		if result.Succeeded {
			f.Status = models.FileStatusSuccess
			f.DocumentID = result.DocumentID
			f.ErrorMessage = ""
		} else {
			f.Status = models.FileStatusError
			f.ErrorMessage = firstNonEmpty(result.Message, "Upload failed")
		}
	}

	for _, id := range ids {
		if matched[id] || !m.ownsLocked(call, id) {
			continue
		}
		if i := m.indexLocked(id); i >= 0 && m.files[i].Status == models.FileStatusUploading {
			m.files[i].Status = models.FileStatusError
			m.files[i].ErrorMessage = "No result returned by server"
		}
	}
}

func (m *Manager) applyJobLocked(call uint64, ids []string, ack *services.UploadAck) {
	untracked := ack.IngestionID == "" &&
		ack.Status != models.IngestionStatusCompleted &&
		ack.Status != models.IngestionStatusFailed
	if untracked {
		m.logger.Warn().Str("status", ack.Status).Msg("Job acknowledgment without an ingestion id")
	}

	for _, id := range ids {
		i := m.indexLocked(id)
		if i < 0 || !m.ownsLocked(call, id) {
			continue
		}
		f := &m.files[i]
		f.Progress = 100
		f.IngestionID = ack.IngestionID

		switch ack.Status {
		case models.IngestionStatusCompleted:
			f.Status = models.FileStatusSuccess
			if len(ids) == 1 {
				f.DocumentID = ack.DocumentID
			}
		case models.IngestionStatusFailed:
			f.Status = models.FileStatusError
			f.ErrorMessage = firstNonEmpty(ack.ErrorMessage, "Ingestion failed")
		default:
			if untracked {
				f.Status = models.FileStatusError
				f.ErrorMessage = untrackedMessage
				continue
			}
			f.Status = models.FileStatusProcessing
		}
	}
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.files {
		if m.files[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) saveLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	_ = repository.SaveJSON(ctx, m.store, m.logger, m.key, m.files)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf("Processing timed out after %s", d)
}
