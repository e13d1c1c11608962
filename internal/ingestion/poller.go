package ingestion

import (
	"context"
	"time"

	"kb-platform-console/internal/models"
)

// startPollingLocked launches the poll loop if a file needs it and none is
// running. The loop stops itself once nothing is left to poll.
func (m *Manager) startPollingLocked() {
	if m.polling || m.closed || !m.pollableLocked() {
		return
	}
	m.polling = true
	m.wg.Add(1)
	go m.pollLoop()
}

func (m *Manager) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.Debug().Dur("interval", m.pollInterval).Msg("Status poller started")
	for {
		select {
		case <-m.ctx.Done():
			m.mu.Lock()
			m.polling = false
			m.mu.Unlock()
			return
		case <-ticker.C:
		}

		m.PollOnce(m.ctx)

		m.mu.Lock()
		if !m.pollableLocked() {
			m.polling = false
			m.mu.Unlock()
			m.logger.Debug().Msg("Status poller idle")
			return
		}
		m.mu.Unlock()
	}
}

// pollableLocked reports whether any file is processing. Files without a
// job identifier are never fetched but still time out.
func (m *Manager) pollableLocked() bool {
	for _, f := range m.files {
		if f.Status == models.FileStatusProcessing {
			return true
		}
	}
	return false
}

// PollOnce runs one reconciliation tick: files past the poll ceiling are
// timed out, and every other processing file is checked against its job
// status. Files sharing a job share one status request. A failed request
// leaves its files processing for the next tick.
func (m *Manager) PollOnce(ctx context.Context) {
	m.mu.Lock()
	now := m.now()
	changed := false
	var jobs []string
	seen := make(map[string]bool)

	for i := range m.files {
		f := &m.files[i]
		if f.Status != models.FileStatusProcessing {
			continue
		}
		if now.Sub(f.UploadedAt) > m.pollTimeout {
			f.Status = models.FileStatusError
			f.ErrorMessage = timeoutMessage(m.pollTimeout)
			changed = true
			m.logger.Warn().Err(ErrPollTimeout).Str("file_id", f.ID).Str("ingestion_id", f.IngestionID).Msg("Ingestion timed out")
			continue
		}
		if f.IngestionID != "" && !seen[f.IngestionID] {
			seen[f.IngestionID] = true
			jobs = append(jobs, f.IngestionID)
		}
	}
	if changed {
		m.saveLocked()
	}
	m.mu.Unlock()

	if m.status == nil || len(jobs) == 0 {
		return
	}

	results := make(map[string]*models.IngestionStatus, len(jobs))
	for _, job := range jobs {
		status, err := m.status.FetchStatus(ctx, job)
		if err != nil {
			m.logger.Warn().Err(err).Str("ingestion_id", job).Msg("Status poll failed")
			continue
		}
		results[job] = status
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed = false
	for i := range m.files {
		f := &m.files[i]
		if f.Status != models.FileStatusProcessing {
			continue
		}
		status, ok := results[f.IngestionID]
		if !ok {
			continue
		}

		switch status.Status {
		case models.IngestionStatusCompleted:
			f.Status = models.FileStatusSuccess
			f.ErrorMessage = ""
			if status.DocumentID != "" {
				f.DocumentID = status.DocumentID
			}
			changed = true
		case models.IngestionStatusFailed:
			f.Status = models.FileStatusError
			f.ErrorMessage = firstNonEmpty(status.ErrorMessage, "Ingestion failed")
			changed = true
		}
	}
	if changed {
		m.saveLocked()
	}
}
