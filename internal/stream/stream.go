// Package stream turns a query response into a uniform sequence of
// progress events, whether the backend answered with one JSON document or
// with an incremental event stream.
package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"kb-platform-console/internal/models"
	"kb-platform-console/pkg/sse"

	"github.com/rs/zerolog"
)

// doneMarker is the optional sentinel some backends send as a final frame.
const doneMarker = "[DONE]"

// ParseError describes one event frame that could not be decoded. It is
// recoverable: the frame is logged and skipped.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed event frame %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Normalizer struct {
	logger zerolog.Logger
}

func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// ParseResponse parses resp according to its Content-Type. Closing the
// returned stream closes the response body.
func (n *Normalizer) ParseResponse(resp *http.Response) *Stream {
	s := n.Parse(resp.Header.Get("Content-Type"), resp.Body)
	s.closer = resp.Body
	return s
}

// Parse returns a lazy, finite event sequence over body. A JSON content
// type selects single-document mode; anything else is read as an event
// stream.
func (n *Normalizer) Parse(contentType string, body io.Reader) *Stream {
	return &Stream{
		logger:   n.logger,
		reader:   bufio.NewReaderSize(body, 64*1024),
		document: isJSON(contentType),
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Stream yields ProgressEvents in arrival order. It is not restartable.
//
//	s := normalizer.ParseResponse(resp)
//	defer s.Close()
//	for s.Next() {
//	    ev := s.Event()
//	}
//	if err := s.Err(); err != nil { ... }
//
// A read failure is delivered both as a final error event and through
// Err.
type Stream struct {
	logger   zerolog.Logger
	reader   *bufio.Reader
	closer   io.Closer
	document bool

	pending []models.ProgressEvent
	current models.ProgressEvent
	err     error
	done    bool
}

func (s *Stream) Next() bool {
	if len(s.pending) > 0 {
		s.current, s.pending = s.pending[0], s.pending[1:]
		return true
	}
	if s.done {
		return false
	}

	if s.document {
		s.done = true
		s.pending = s.readDocument()
		return s.Next()
	}

	ev, ok := s.nextFrame()
	if !ok {
		return s.Next()
	}
	s.current = ev
	return true
}

func (s *Stream) Event() models.ProgressEvent {
	return s.current
}

// Err returns the read error that ended the stream, if any. Malformed
// frames are not reported here.
func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) Close() error {
	s.done = true
	s.pending = nil
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// readDocument synthesizes start, chunk and end from a complete JSON
// answer.
func (s *Stream) readDocument() []models.ProgressEvent {
	data, err := io.ReadAll(s.reader)
	if err != nil {
		s.err = fmt.Errorf("failed to read response: %w", err)
		return []models.ProgressEvent{{Type: models.EventError, Error: s.err.Error()}}
	}

	obj, err := models.ParseRawObject(data)
	if err != nil {
		s.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Malformed JSON query response")
		return []models.ProgressEvent{{Type: models.EventError, Error: "Malformed response from server"}}
	}

	return []models.ProgressEvent{
		{Type: models.EventStart},
		{Type: models.EventChunk, Content: obj.String("answer", "response", "content")},
		endEvent(obj),
	}
}

// nextFrame reads lines until one decodes into an event. It returns false
// once the stream is exhausted, after queueing a final event if the
// stream ended on a read error.
func (s *Stream) nextFrame() (models.ProgressEvent, bool) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			// A trailing unterminated line still counts as a frame.
			if ev, ok := s.decodeLine(line); ok {
				s.queueReadError(err)
				return ev, true
			}
			s.queueReadError(err)
			return models.ProgressEvent{}, false
		}

		if ev, ok := s.decodeLine(line); ok {
			return ev, true
		}
	}
}

func (s *Stream) queueReadError(err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	s.err = fmt.Errorf("stream read failed: %w", err)
	s.pending = append(s.pending, models.ProgressEvent{Type: models.EventError, Error: s.err.Error()})
}

func (s *Stream) decodeLine(line string) (models.ProgressEvent, bool) {
	line = strings.TrimRight(line, "\r\n")
	payload, ok := strings.CutPrefix(line, strings.TrimSpace(sse.DataPrefix))
	if !ok {
		return models.ProgressEvent{}, false
	}
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == doneMarker {
		return models.ProgressEvent{}, false
	}

	obj, err := models.ParseRawObject([]byte(payload))
	if err != nil {
		s.logger.Warn().Err(&ParseError{Line: payload, Err: err}).Msg("Skipping malformed event frame")
		return models.ProgressEvent{}, false
	}

	ev, ok := frameEvent(obj)
	if !ok {
		s.logger.Debug().Str("type", obj.String("type")).Msg("Skipping unknown event frame")
		return models.ProgressEvent{}, false
	}
	return ev, true
}

func frameEvent(obj models.RawObject) (models.ProgressEvent, bool) {
	switch models.EventType(strings.ToLower(obj.String("type"))) {
	case models.EventStart:
		return models.ProgressEvent{Type: models.EventStart}, true
	case models.EventChunk:
		return models.ProgressEvent{Type: models.EventChunk, Content: obj.String("content", "text", "delta")}, true
	case models.EventEnd:
		return endEvent(obj), true
	case models.EventError:
		msg := obj.String("message", "error", "detail")
		if msg == "" {
			msg = obj.String("code")
		}
		if msg == "" {
			msg = "Stream error"
		}
		return models.ProgressEvent{Type: models.EventError, Error: msg}, true
	default:
		return models.ProgressEvent{}, false
	}
}
