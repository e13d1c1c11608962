package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kb-platform-console/internal/models"
)

type UploadErrorKind string

const (
	UploadUnsupportedFormat UploadErrorKind = "unsupported_format"
	UploadTooLarge          UploadErrorKind = "too_large"
	UploadServerError       UploadErrorKind = "server_error"
	UploadNetworkError      UploadErrorKind = "network_error"
	UploadCanceled          UploadErrorKind = "canceled"
)

// UploadError is the classified failure of one upload call.
type UploadError struct {
	Kind       UploadErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed (%s, HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upload failed (%s): %s", e.Kind, e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// uploadErrorForStatus maps a non-2xx upload response onto an error kind.
func uploadErrorForStatus(status int, message string) *UploadError {
	kind := UploadServerError
	switch {
	case status == http.StatusBadRequest:
		kind = UploadUnsupportedFormat
	case status == http.StatusRequestEntityTooLarge:
		kind = UploadTooLarge
	}
	return &UploadError{Kind: kind, StatusCode: status, Message: message}
}

type QueryErrorKind string

const (
	QueryAPIError     QueryErrorKind = "api_error"
	QueryNetworkError QueryErrorKind = "network_error"
	QueryStreamError  QueryErrorKind = "stream_error"
	QueryUnknownError QueryErrorKind = "unknown_error"
)

// QueryError is the classified failure of one conversation turn.
type QueryError struct {
	Kind       QueryErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *QueryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("query failed (%s, HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("query failed (%s): %s", e.Kind, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// errorMessage extracts a human readable message from an error response
// body. It understands the gateway envelope {"error":{"message"}}, a bare
// {"detail"} or {"message"}, and falls back to the status text.
func errorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var envelope models.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}

	if obj, err := models.ParseRawObject(body); err == nil {
		if msg := obj.String("detail", "message", "error"); msg != "" {
			return msg
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "{") {
		return text
	}

	return http.StatusText(resp.StatusCode)
}
