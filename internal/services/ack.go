package services

import (
	"fmt"
	"strings"
	"time"

	"kb-platform-console/internal/models"
)

// AckKind discriminates the two acknowledgment schemas the upload endpoint
// has shipped.
type AckKind int

const (
	// AckPerFile carries an individual result for every uploaded file.
	AckPerFile AckKind = iota + 1
	// AckJob carries one aggregate status for a background ingestion job.
	AckJob
)

func (k AckKind) String() string {
	switch k {
	case AckPerFile:
		return "per_file"
	case AckJob:
		return "job"
	default:
		return "unknown"
	}
}

type FileResult struct {
	DocumentID string
	Filename   string
	Size       int64
	UploadedAt *time.Time
	Succeeded  bool
	Message    string
}

// UploadAck is the normalized acknowledgment of POST /ingestion/upload.
// Files is set for AckPerFile; Status, DocumentID and ErrorMessage for
// AckJob.
type UploadAck struct {
	Kind         AckKind
	IngestionID  string
	Files        []FileResult
	Status       string
	DocumentID   string
	ErrorMessage string
}

// ParseUploadAck decides which schema data uses and normalizes it. The
// snake_case job identifier is the discriminator; without it, a files
// array means per-file results, and a lone camelCase identifier is still
// treated as a job.
func ParseUploadAck(data []byte) (*UploadAck, error) {
	obj, err := models.ParseRawObject(data)
	if err != nil {
		return nil, fmt.Errorf("malformed upload acknowledgment: %w", err)
	}

	switch {
	case obj.Has("ingestion_id"):
		return parseJobAck(obj), nil
	case obj.Has("files"):
		return parsePerFileAck(obj), nil
	case obj.Has("ingestionId"):
		return parseJobAck(obj), nil
	default:
		return nil, fmt.Errorf("malformed upload acknowledgment: neither job identifier nor files present")
	}
}

func parseJobAck(obj models.RawObject) *UploadAck {
	return &UploadAck{
		Kind:         AckJob,
		IngestionID:  obj.String("ingestion_id", "ingestionId"),
		Status:       strings.ToLower(obj.String("status")),
		DocumentID:   obj.String("document_id", "documentId"),
		ErrorMessage: obj.String("error_message", "errorMessage", "message"),
	}
}

func parsePerFileAck(obj models.RawObject) *UploadAck {
	ack := &UploadAck{
		Kind:        AckPerFile,
		IngestionID: obj.String("ingestionId", "ingestion_id"),
	}

	for _, f := range obj.Objects("files") {
		size, _ := f.Float("size")
		ack.Files = append(ack.Files, FileResult{
			DocumentID: f.String("documentId", "document_id"),
			Filename:   f.String("filename", "file_name"),
			Size:       int64(size),
			UploadedAt: f.Time("uploadedAt", "uploaded_at"),
			Succeeded:  !isFailureStatus(f.String("status")),
			Message:    f.String("message", "error_message", "errorMessage"),
		})
	}

	return ack
}

func isFailureStatus(status string) bool {
	switch strings.ToLower(status) {
	case "error", "failed", "failure", "rejected":
		return true
	default:
		return false
	}
}
