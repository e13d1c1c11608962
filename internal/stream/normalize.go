package stream

import (
	"sort"
	"strconv"

	"kb-platform-console/internal/models"
)

// Both spellings are accepted for every optional field. The snake_case
// form is listed first and wins when a payload carries both.

func normalizeCitations(objs []models.RawObject) []models.Citation {
	citations := make([]models.Citation, 0, len(objs))
	for i, o := range objs {
		id := o.String("id", "citation_id", "citationId")
		if id == "" {
			id = indexID(i)
		}
		citations = append(citations, models.Citation{
			ID:             id,
			DocumentID:     o.String("document_id", "documentId"),
			DocumentName:   o.String("document_name", "documentName", "source_file", "sourceFile", "filename"),
			Passage:        o.String("passage", "text", "content_preview", "contentPreview"),
			ChunkID:        o.String("chunk_id", "chunkId"),
			SourceIndex:    o.IntPtr("source_index", "sourceIndex"),
			Page:           o.IntPtr("page", "page_number", "pageNumber"),
			RelevanceScore: o.FloatPtr("relevance_score", "relevanceScore", "score"),
		})
	}
	return citations
}

func indexID(i int) string {
	return "citation-" + strconv.Itoa(i+1)
}

// normalizeUsedChunks returns chunks in canonical display order: ascending
// rank, ties kept in arrival order.
func normalizeUsedChunks(objs []models.RawObject) []models.UsedChunk {
	chunks := make([]models.UsedChunk, 0, len(objs))
	for _, o := range objs {
		rank, _ := o.Int("rank")
		score, _ := o.Float("similarity_score", "similarityScore", "score")
		chunks = append(chunks, models.UsedChunk{
			ChunkID:         o.String("chunk_id", "chunkId", "id"),
			Rank:            rank,
			SimilarityScore: score,
			ContentPreview:  o.String("content_preview", "contentPreview", "content", "text"),
			DocumentID:      o.String("document_id", "documentId"),
			SourceFile:      o.String("source_file", "sourceFile", "document_name", "documentName"),
			Page:            o.IntPtr("page", "page_number", "pageNumber"),
			FullContent:     o.String("full_content", "fullContent"),
			UploadedAt:      o.Time("uploaded_at", "uploadedAt"),
		})
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Rank < chunks[j].Rank })
	return chunks
}

func normalizeMetadata(o models.RawObject) *models.QueryMetadata {
	if o == nil {
		return nil
	}
	meta := &models.QueryMetadata{
		ConversationID: o.String("conversation_id", "conversationId"),
		Model:          o.String("model"),
	}
	meta.ProcessingTimeMs, _ = o.Float("processing_time_ms", "processingTimeMs")
	meta.TokensUsed, _ = o.Int("tokens_used", "tokensUsed")
	meta.ChunksRetrieved, _ = o.Int("chunks_retrieved", "chunksRetrieved")
	if *meta == (models.QueryMetadata{}) {
		return nil
	}
	return meta
}

// endEvent builds the terminal event from an object carrying citations,
// used chunks and metadata. Top-level metadata fields are accepted when
// no nested metadata object is present.
func endEvent(o models.RawObject) models.ProgressEvent {
	chunks := normalizeUsedChunks(o.Objects("used_chunks", "usedChunks"))
	citations := LinkCitations(normalizeCitations(o.Objects("citations", "sources")), chunks)

	metaObj, ok := o.Object("metadata")
	if !ok {
		metaObj = o
	}

	return models.ProgressEvent{
		Type:       models.EventEnd,
		Citations:  citations,
		UsedChunks: chunks,
		Metadata:   normalizeMetadata(metaObj),
	}
}

// ResolveChunk finds the used chunk a citation points at. An explicit
// chunk id is tried first; otherwise the citation's source index is
// matched against chunk rank. A citation with no resolvable link yields
// false.
func ResolveChunk(c models.Citation, chunks []models.UsedChunk) (models.UsedChunk, bool) {
	if c.ChunkID != "" {
		for _, chunk := range chunks {
			if chunk.ChunkID == c.ChunkID {
				return chunk, true
			}
		}
	}
	if c.SourceIndex != nil {
		for _, chunk := range chunks {
			if chunk.Rank == *c.SourceIndex {
				return chunk, true
			}
		}
	}
	return models.UsedChunk{}, false
}

// LinkCitations fills in the chunk id of every citation that resolves to
// one of chunks. Unresolved citations are returned unchanged.
func LinkCitations(citations []models.Citation, chunks []models.UsedChunk) []models.Citation {
	for i := range citations {
		if citations[i].ChunkID != "" {
			continue
		}
		if chunk, ok := ResolveChunk(citations[i], chunks); ok {
			citations[i].ChunkID = chunk.ChunkID
		}
	}
	return citations
}
