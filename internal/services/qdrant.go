package services

import (
	"context"
	"fmt"

	"kb-platform-console/internal/config"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type pointsScroller interface {
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

// QdrantClient looks up the full text of chunks an answer cited but only
// previewed.
type QdrantClient struct {
	pointsClient pointsScroller
	collection   string
	conn         *grpc.ClientConn
}

func NewQdrantClient(cfg *config.QdrantConfig) (*QdrantClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantClient{
		pointsClient: pb.NewPointsClient(conn),
		collection:   cfg.Collection,
		conn:         conn,
	}, nil
}

func (q *QdrantClient) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// FetchChunkContent returns chunk id -> full text for the ids it found.
func (q *QdrantClient) FetchChunkContent(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	if len(chunkIDs) == 0 {
		return map[string]string{}, nil
	}

	filter := &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: "chunk_id",
						Match: &pb.Match{
							MatchValue: &pb.Match_Keywords{
								Keywords: &pb.RepeatedStrings{Strings: chunkIDs},
							},
						},
					},
				},
			},
		},
	}

	limit := uint32(len(chunkIDs))
	resp, err := q.pointsClient.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks from qdrant: %w", err)
	}

	content := make(map[string]string, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		payload := point.GetPayload()
		id := payload["chunk_id"].GetStringValue()
		if id == "" {
			continue
		}
		text := payload["text"].GetStringValue()
		if text == "" {
			text = payload["content"].GetStringValue()
		}
		if text != "" {
			content[id] = text
		}
	}

	return content, nil
}
