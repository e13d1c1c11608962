package validator

import (
	"fmt"
	"path/filepath"
	"strings"

	"kb-platform-console/internal/models"
)

// DefaultMaxFileSize is the per-file ceiling enforced before upload.
const DefaultMaxFileSize int64 = 50 << 20

type Reason string

const (
	ReasonNoFiles           Reason = "no_files"
	ReasonUnsupportedFormat Reason = "unsupported_format"
	ReasonTooLarge          Reason = "too_large"
)

// ValidationError is a local rejection. It never reaches the network.
type ValidationError struct {
	Filename string
	Reason   Reason
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Filename == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

// ErrNoFiles rejects an empty selection as a whole.
var ErrNoFiles = &ValidationError{Reason: ReasonNoFiles, Message: "No files selected"}

// synonyms folds alternate extensions onto the canonical format name.
var synonyms = map[string]string{
	"pdf":      "pdf",
	"txt":      "txt",
	"text":     "txt",
	"md":       "md",
	"markdown": "md",
	"docx":     "docx",
	"html":     "html",
	"htm":      "html",
	"csv":      "csv",
	"json":     "json",
}

// Format returns the canonical format of filename and whether it is on
// the allow-list.
func Format(filename string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	format, ok := synonyms[ext]
	if !ok {
		return ext, false
	}
	return format, true
}

type Result struct {
	Accepted []models.SourceFile
	Rejected map[string]*ValidationError
}

type Validator struct {
	maxSize int64
}

func New(maxSize int64) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Validator{maxSize: maxSize}
}

// Validate partitions files into accepted and rejected, preserving order.
// The input slice is not modified.
func (v *Validator) Validate(files []models.SourceFile) (Result, error) {
	if len(files) == 0 {
		return Result{Rejected: map[string]*ValidationError{}}, ErrNoFiles
	}

	result := Result{
		Accepted: make([]models.SourceFile, 0, len(files)),
		Rejected: make(map[string]*ValidationError),
	}

	for _, f := range files {
		format, ok := Format(f.Name)
		if !ok {
			result.Rejected[f.Name] = &ValidationError{
				Filename: f.Name,
				Reason:   ReasonUnsupportedFormat,
				Message:  fmt.Sprintf("Unsupported file format %q", format),
			}
			continue
		}
		if f.Len() > v.maxSize {
			result.Rejected[f.Name] = &ValidationError{
				Filename: f.Name,
				Reason:   ReasonTooLarge,
				Message:  fmt.Sprintf("File exceeds the %d MB limit", v.maxSize>>20),
			}
			continue
		}
		result.Accepted = append(result.Accepted, f)
	}

	return result, nil
}
