// Package testutil provides an in-process knowledge-base backend for tests.
package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"kb-platform-console/internal/models"
	"kb-platform-console/pkg/sse"

	"github.com/gin-gonic/gin"
)

// Reply is one canned response: an HTTP status and a JSON body.
type Reply struct {
	Code int
	Body any
}

// Backend mimics the upload, status, query and feedback endpoints. Tests
// configure the canned replies before issuing requests; the recorded
// requests can be inspected afterwards.
type Backend struct {
	Server *httptest.Server

	mu sync.Mutex

	// UploadReply answers POST /ingestion/upload.
	UploadReply Reply
	// BlockUpload holds upload requests open until the client goes away.
	BlockUpload bool
	// Statuses holds queued replies per ingestion id. The last reply is
	// repeated once the queue is drained.
	Statuses map[string][]Reply
	// QueryJSON, when set, is returned as a single application/json document.
	QueryJSON any
	// QueryStream is written verbatim as a text/event-stream body.
	QueryStream string
	// QueryError, when non-zero, fails the query with this status.
	QueryError int
	// Token, when set, is required as a bearer token on every API route.
	Token string

	uploads     [][]string
	statusCalls map[string]int
	queries     []models.QueryRequest
	feedback    []models.FeedbackRequest
}

func NewBackend(t *testing.T) *Backend {
	t.Helper()

	gin.SetMode(gin.TestMode)
	b := &Backend{
		UploadReply: Reply{Code: http.StatusOK, Body: map[string]any{"ingestion_id": "job-1", "status": "completed"}},
		Statuses:    make(map[string][]Reply),
		statusCalls: make(map[string]int),
	}

	router := gin.New()
	api := router.Group("/api/v1")
	api.Use(b.bearerAuth())
	{
		api.POST("/ingestion/upload", b.upload)
		api.GET("/ingestion/status/:id", b.status)
		api.POST("/query", b.query)
		api.POST("/feedback", b.recordFeedback)
		api.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, models.HealthResponse{Status: "healthy", Timestamp: time.Now().Format(time.RFC3339)})
		})
	}

	b.Server = httptest.NewServer(router)
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the API base URL clients should be configured with.
func (b *Backend) URL() string {
	return b.Server.URL + "/api/v1"
}

// Set applies fn to the backend configuration under its lock.
func (b *Backend) Set(fn func(b *Backend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *Backend) Uploads() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.uploads...)
}

func (b *Backend) StatusCalls(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusCalls[id]
}

func (b *Backend) Queries() []models.QueryRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.QueryRequest(nil), b.queries...)
}

func (b *Backend) Feedback() []models.FeedbackRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.FeedbackRequest(nil), b.feedback...)
}

func (b *Backend) upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "VALIDATION_ERROR", Message: "No files provided"},
		})
		return
	}

	var names []string
	for _, fh := range form.File["files"] {
		names = append(names, fh.Filename)
	}

	b.mu.Lock()
	b.uploads = append(b.uploads, names)
	block := b.BlockUpload
	reply := b.UploadReply
	b.mu.Unlock()

	if block {
		<-c.Request.Context().Done()
		return
	}

	c.JSON(reply.Code, reply.Body)
}

func (b *Backend) status(c *gin.Context) {
	id := c.Param("id")

	b.mu.Lock()
	b.statusCalls[id]++
	queue := b.Statuses[id]
	var reply Reply
	switch {
	case len(queue) == 0:
		reply = Reply{Code: http.StatusNotFound, Body: models.ErrorResponse{
			Error: models.ErrorDetail{Code: "NOT_FOUND", Message: "Ingestion job not found"},
		}}
	case len(queue) == 1:
		reply = queue[0]
	default:
		reply = queue[0]
		b.Statuses[id] = queue[1:]
	}
	b.mu.Unlock()

	c.JSON(reply.Code, reply.Body)
}

func (b *Backend) query(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "VALIDATION_ERROR", Message: "Invalid request format"},
		})
		return
	}

	b.mu.Lock()
	b.queries = append(b.queries, req)
	failWith, doc, stream := b.QueryError, b.QueryJSON, b.QueryStream
	b.mu.Unlock()

	if failWith != 0 {
		c.JSON(failWith, models.ErrorResponse{
			Error: models.ErrorDetail{Code: "INTERNAL_ERROR", Message: "Failed to query"},
		})
		return
	}

	if doc != nil {
		c.JSON(http.StatusOK, doc)
		return
	}

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.WriteString(stream)
	c.Writer.Flush()
}

func (b *Backend) recordFeedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.feedback = append(b.feedback, req)
	b.mu.Unlock()

	c.Status(http.StatusAccepted)
}

// Frames encodes payloads as consecutive event frames.
func Frames(payloads ...any) string {
	var buf bytes.Buffer
	for _, p := range payloads {
		if err := sse.WriteFrame(&buf, p); err != nil {
			panic(err)
		}
	}
	return buf.String()
}
