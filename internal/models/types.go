package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of the local conversation history. Assistant
// messages are created as streaming placeholders and filled in as
// progress events arrive.
type ChatMessage struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Citations   []Citation     `json:"citations"`
	UsedChunks  []UsedChunk    `json:"used_chunks"`
	Timestamp   time.Time      `json:"timestamp"`
	IsStreaming bool           `json:"is_streaming"`
	Error       string         `json:"error,omitempty"`
	Metadata    *QueryMetadata `json:"metadata,omitempty"`
}

type Citation struct {
	ID             string   `json:"id"`
	DocumentID     string   `json:"document_id"`
	DocumentName   string   `json:"document_name"`
	Passage        string   `json:"passage"`
	ChunkID        string   `json:"chunk_id,omitempty"`
	SourceIndex    *int     `json:"source_index,omitempty"`
	Page           *int     `json:"page,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// UsedChunk is a retrieval fragment the answer was grounded on. Rank is a
// sort key only: the server does not guarantee it is unique or contiguous.
type UsedChunk struct {
	ChunkID         string     `json:"chunk_id"`
	Rank            int        `json:"rank"`
	SimilarityScore float64    `json:"similarity_score"`
	ContentPreview  string     `json:"content_preview"`
	DocumentID      string     `json:"document_id,omitempty"`
	SourceFile      string     `json:"source_file,omitempty"`
	Page            *int       `json:"page,omitempty"`
	FullContent     string     `json:"full_content,omitempty"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"`
}

type QueryMetadata struct {
	ConversationID   string  `json:"conversation_id,omitempty"`
	Model            string  `json:"model,omitempty"`
	ProcessingTimeMs float64 `json:"processing_time_ms,omitempty"`
	TokensUsed       int     `json:"tokens_used,omitempty"`
	ChunksRetrieved  int     `json:"chunks_retrieved,omitempty"`
}

type FileStatus string

const (
	FileStatusUploading  FileStatus = "uploading"
	FileStatusProcessing FileStatus = "processing"
	FileStatusSuccess    FileStatus = "success"
	FileStatusError      FileStatus = "error"
)

// UploadedFile is the client-owned record of one file selected for
// ingestion. Server responses are translated into it, never stored as is.
type UploadedFile struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	Size         int64      `json:"size"`
	Format       string     `json:"format"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	Status       FileStatus `json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DocumentID   string     `json:"document_id,omitempty"`
	IngestionID  string     `json:"ingestion_id,omitempty"`
}

// SourceFile is a file picked by the user, held in memory so a failed
// upload can be retried.
type SourceFile struct {
	Name    string
	Size    int64
	Content []byte
}

// Len reports the declared size, falling back to the content length.
func (f SourceFile) Len() int64 {
	if f.Size > 0 {
		return f.Size
	}
	return int64(len(f.Content))
}

const (
	IngestionStatusCompleted = "completed"
	IngestionStatusFailed    = "failed"
)

// IngestionStatus is the normalized answer of GET /ingestion/status/{id}.
type IngestionStatus struct {
	Status       string `json:"status"`
	DocumentID   string `json:"document_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type QueryRequest struct {
	Query          string   `json:"query"`
	ConversationID string   `json:"conversationId"`
	DocumentIDs    []string `json:"documentIds,omitempty"`
	MaxTokens      int      `json:"maxTokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
}

type FeedbackRequest struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Rating         string `json:"rating"`
	Comment        string `json:"comment,omitempty"`
}

type EventType string

const (
	EventStart EventType = "start"
	EventChunk EventType = "chunk"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// ProgressEvent is the uniform unit yielded by the stream normalizer,
// whichever response mode the backend chose.
type ProgressEvent struct {
	Type       EventType
	Content    string
	Citations  []Citation
	UsedChunks []UsedChunk
	Metadata   *QueryMetadata
	Error      string
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
