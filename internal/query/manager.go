// Package query keeps the conversation history and drives one question
// at a time through the query endpoint.
package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"kb-platform-console/internal/models"
	"kb-platform-console/internal/repository"
	"kb-platform-console/internal/services"
	"kb-platform-console/internal/stream"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	stateRecord = "chat_history"
	saveTimeout = 5 * time.Second
)

var (
	ErrEmptyQuery     = errors.New("query is empty")
	ErrUnknownMessage = errors.New("message not found")
)

type Options struct {
	Namespace   string
	DocumentIDs []string
	MaxTokens   int
	Temperature *float64
}

// EventFunc observes normalized events as they are merged into the
// assistant message.
type EventFunc func(ev models.ProgressEvent)

// history is the persisted form of a conversation.
type history struct {
	ConversationID string               `json:"conversation_id"`
	Messages       []models.ChatMessage `json:"messages"`
}

type Manager struct {
	transport  services.QueryTransport
	chunks     services.ChunkStore
	feedback   services.FeedbackSender
	store      repository.StateStore
	normalizer *stream.Normalizer
	logger     zerolog.Logger
	key        string
	opts       Options
	now        func() time.Time

	mu             sync.Mutex
	conversationID string
	messages       []models.ChatMessage
}

// NewManager restores the persisted conversation, if any. chunks and
// feedback are optional.
func NewManager(transport services.QueryTransport, chunks services.ChunkStore, feedback services.FeedbackSender, store repository.StateStore, opts Options, logger zerolog.Logger) *Manager {
	m := &Manager{
		transport:  transport,
		chunks:     chunks,
		feedback:   feedback,
		store:      store,
		normalizer: stream.NewNormalizer(logger),
		logger:     logger.With().Str("component", "query").Logger(),
		key:        repository.Key(opts.Namespace, stateRecord),
		opts:       opts,
		now:        time.Now,
	}

	var h history
	if repository.LoadJSON(context.Background(), store, m.logger, m.key, &h) {
		m.conversationID = h.ConversationID
		m.messages = h.Messages
	}
	if m.conversationID == "" {
		m.conversationID = uuid.New().String()
	}

	return m
}

func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Messages returns the history in display order.
func (m *Manager) Messages() []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatMessage(nil), m.messages...)
}

// Reset clears the history and starts a new conversation.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.conversationID = uuid.New().String()
	m.saveLocked()
}

func (m *Manager) Submit(ctx context.Context, text string) (models.ChatMessage, error) {
	return m.Ask(ctx, text, nil)
}

// Ask appends the question and a streaming assistant placeholder, then
// fills the placeholder from the response. The returned message is the
// placeholder's final state; on failure it carries the error as well.
func (m *Manager) Ask(ctx context.Context, text string, onEvent EventFunc) (models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, ErrEmptyQuery
	}

	m.mu.Lock()
	now := m.now()
	m.messages = append(m.messages,
		models.ChatMessage{
			ID:         uuid.New().String(),
			Role:       models.RoleUser,
			Content:    text,
			Citations:  []models.Citation{},
			UsedChunks: []models.UsedChunk{},
			Timestamp:  now,
		},
		models.ChatMessage{
			ID:          uuid.New().String(),
			Role:        models.RoleAssistant,
			Citations:   []models.Citation{},
			UsedChunks:  []models.UsedChunk{},
			Timestamp:   now,
			IsStreaming: true,
		},
	)
	placeholder := m.messages[len(m.messages)-1].ID
	req := models.QueryRequest{
		Query:          text,
		ConversationID: m.conversationID,
		DocumentIDs:    m.opts.DocumentIDs,
		MaxTokens:      m.opts.MaxTokens,
		Temperature:    m.opts.Temperature,
	}
	m.saveLocked()
	m.mu.Unlock()

	resp, err := m.transport.Query(ctx, req)
	if err != nil {
		qerr := asQueryError(err)
		m.fail(placeholder, qerr.Message)
		return m.message(placeholder), qerr
	}

	s := m.normalizer.ParseResponse(resp)
	defer s.Close()

	ended := false
	for s.Next() {
		ev := s.Event()

		switch ev.Type {
		case models.EventChunk:
			m.update(placeholder, false, func(msg *models.ChatMessage) {
				msg.Content += ev.Content
			})
		case models.EventEnd:
			m.enrich(ctx, ev.UsedChunks)
			m.update(placeholder, true, func(msg *models.ChatMessage) {
				msg.Citations = ev.Citations
				msg.UsedChunks = ev.UsedChunks
				msg.Metadata = ev.Metadata
				msg.IsStreaming = false
			})
			ended = true
		case models.EventError:
			m.fail(placeholder, ev.Error)
			if onEvent != nil {
				onEvent(ev)
			}
			kind := services.QueryStreamError
			if s.Err() == nil && ctx.Err() == nil {
				kind = services.QueryAPIError
			}
			return m.message(placeholder), &services.QueryError{Kind: kind, Message: ev.Error, Err: s.Err()}
		}

		if onEvent != nil {
			onEvent(ev)
		}
		if ended {
			break
		}
	}

	if !ended {
		msg := m.message(placeholder)
		if msg.Content == "" {
			const reason = "Response ended before any answer was received"
			m.fail(placeholder, reason)
			return m.message(placeholder), &services.QueryError{Kind: services.QueryStreamError, Message: reason}
		}
		m.update(placeholder, true, func(msg *models.ChatMessage) {
			msg.IsStreaming = false
		})
		m.logger.Warn().Str("message_id", placeholder).Msg("Stream ended without an end event")
	}

	return m.message(placeholder), nil
}

// SendFeedback rates an assistant message. It is fire-and-forget: the
// outcome never changes local state.
func (m *Manager) SendFeedback(ctx context.Context, messageID, rating, comment string) error {
	m.mu.Lock()
	i := m.indexLocked(messageID)
	conversationID := m.conversationID
	m.mu.Unlock()

	if i < 0 {
		return ErrUnknownMessage
	}
	if m.feedback == nil {
		return nil
	}

	return m.feedback.SendFeedback(ctx, models.FeedbackRequest{
		MessageID:      messageID,
		ConversationID: conversationID,
		Rating:         rating,
		Comment:        comment,
	})
}

// enrich fills in full chunk text from the chunk store. Lookup failures
// leave the previews as they are.
func (m *Manager) enrich(ctx context.Context, chunks []models.UsedChunk) {
	if m.chunks == nil || len(chunks) == 0 {
		return
	}

	var ids []string
	for _, c := range chunks {
		if c.FullContent == "" && c.ChunkID != "" {
			ids = append(ids, c.ChunkID)
		}
	}
	if len(ids) == 0 {
		return
	}

	content, err := m.chunks.FetchChunkContent(ctx, ids)
	if err != nil {
		m.logger.Warn().Err(err).Int("chunks", len(ids)).Msg("Failed to enrich used chunks")
		return
	}
	for i := range chunks {
		if text, ok := content[chunks[i].ChunkID]; ok && chunks[i].FullContent == "" {
			chunks[i].FullContent = text
		}
	}
}

// update applies fn to one message under the lock.
func (m *Manager) update(id string, persist bool, fn func(msg *models.ChatMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexLocked(id)
	if i < 0 {
		return
	}
	fn(&m.messages[i])
	if persist {
		m.saveLocked()
	}
}

func (m *Manager) fail(id, reason string) {
	m.update(id, true, func(msg *models.ChatMessage) {
		msg.IsStreaming = false
		msg.Error = reason
	})
	m.logger.Warn().Str("message_id", id).Str("error", reason).Msg("Query failed")
}

func (m *Manager) message(id string) models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.messages[i]
	}
	return models.ChatMessage{ID: id}
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.messages {
		if m.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) saveLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	_ = repository.SaveJSON(ctx, m.store, m.logger, m.key, history{
		ConversationID: m.conversationID,
		Messages:       m.messages,
	})
}

func asQueryError(err error) *services.QueryError {
	var qerr *services.QueryError
	if errors.As(err, &qerr) {
		return qerr
	}
	return &services.QueryError{Kind: services.QueryUnknownError, Message: err.Error(), Err: err}
}
