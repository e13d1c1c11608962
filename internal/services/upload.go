package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"kb-platform-console/internal/models"
)

// ProgressFunc receives aggregate progress (0-100) for a whole upload
// call. One multipart body cannot report per-file progress, so every file
// in the batch shares the same value.
type ProgressFunc func(percent int)

// Upload sends files as one multipart request with one "files" part per
// file. Cancelling ctx aborts the request and yields an UploadCanceled
// error.
func (c *Client) Upload(ctx context.Context, files []models.SourceFile, onProgress ProgressFunc) (*UploadAck, error) {
	body, contentType, err := encodeMultipart(files)
	if err != nil {
		return nil, &UploadError{Kind: UploadNetworkError, Message: "failed to encode upload body", Err: err}
	}

	reader := newProgressReader(body, onProgress)
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/ingestion/upload", reader)
	if err != nil {
		return nil, &UploadError{Kind: UploadNetworkError, Message: "failed to build upload request", Err: err}
	}
	httpReq.ContentLength = int64(len(body))
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, &UploadError{Kind: UploadCanceled, Message: "Upload canceled", Err: ctx.Err()}
		}
		return nil, &UploadError{Kind: UploadNetworkError, Message: "Network error: no response from server", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, uploadErrorForStatus(resp.StatusCode, errorMessage(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &UploadError{Kind: UploadCanceled, Message: "Upload canceled", Err: ctx.Err()}
		}
		return nil, &UploadError{Kind: UploadNetworkError, Message: "failed to read upload response", Err: err}
	}

	ack, err := ParseUploadAck(data)
	if err != nil {
		return nil, &UploadError{Kind: UploadServerError, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	reader.report(100)

	c.logger.Debug().
		Str("ack_kind", ack.Kind.String()).
		Str("ingestion_id", ack.IngestionID).
		Int("files", len(files)).
		Msg("Upload acknowledged")

	return ack, nil
}

func encodeMultipart(files []models.SourceFile) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := w.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part for %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", fmt.Errorf("failed to write part for %s: %w", f.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// progressReader reports how much of the request body the transport has
// consumed. Percentages only move forward.
type progressReader struct {
	r          *bytes.Reader
	total      int
	read       int
	onProgress ProgressFunc

	mu   sync.Mutex
	last int
}

func newProgressReader(body []byte, onProgress ProgressFunc) *progressReader {
	return &progressReader{r: bytes.NewReader(body), total: len(body), onProgress: onProgress, last: -1}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += n
	if p.total > 0 {
		// 99 at most: 100 is reserved for an acknowledged upload.
		p.report(min(99, p.read*100/p.total))
	}
	return n, err
}

func (p *progressReader) report(percent int) {
	if p.onProgress == nil {
		return
	}
	p.mu.Lock()
	if percent <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = percent
	p.mu.Unlock()
	p.onProgress(percent)
}
