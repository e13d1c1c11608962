package repository

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: make(map[string][]byte)}
	store := &S3Store{client: fake, bucket: "b", prefix: "sessions/"}

	t.Run("Load_NoSuchKey", func(t *testing.T) {
		_, err := store.Load(ctx, "ns:chat_history")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Save_ThenLoad", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "ns:chat_history", []byte(`{"messages":[]}`)))
		assert.Contains(t, fake.objects, "b/sessions/ns/chat_history.json")

		data, err := store.Load(ctx, "ns:chat_history")
		require.NoError(t, err)
		assert.Equal(t, `{"messages":[]}`, string(data))
	})
}
