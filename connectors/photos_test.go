package connectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"scrollfeed/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	pages   map[string]*s3.ListObjectsV2Output
	heads   map[string]*s3.HeadObjectOutput
	prefix  string
	maxKeys int32
}

func (f *fakeObjects) List(_ context.Context, _ string, prefix string, maxKeys int32, token *string) (*s3.ListObjectsV2Output, error) {
	f.prefix, f.maxKeys = prefix, maxKeys
	return f.pages[aws.ToString(token)], nil
}

func (f *fakeObjects) Head(_ context.Context, _ string, key string) (*s3.HeadObjectOutput, error) {
	if h, ok := f.heads[key]; ok {
		return h, nil
	}
	return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
}

func (f *fakeObjects) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	if key == "alice/broken.jpg" {
		return "", errors.New("sign failed")
	}
	return "https://" + bucket + ".example/" + key, nil
}

func object(key string, at time.Time) s3types.Object {
	return s3types.Object{Key: aws.String(key), LastModified: aws.Time(at), Size: aws.Int64(1024)}
}

func TestPhotosPaging(t *testing.T) {
	taken := time.Date(2024, 7, 4, 18, 0, 0, 0, time.UTC)
	store := &fakeObjects{pages: map[string]*s3.ListObjectsV2Output{
		"": {
			Contents: []s3types.Object{
				object("alice/2024/beach/sunset.JPG", taken),
				object("alice/notes.txt", taken),
				object("alice/broken.jpg", taken),
			},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("tok-2"),
		},
		"tok-2": {
			Contents:    []s3types.Object{object("alice/cat.png", taken)},
			IsTruncated: aws.Bool(false),
		},
	}}
	p := NewPhotos(store, 0)
	q := types.QueryConfig{Key: "roll", Source: "photos", Limit: 20, Params: map[string]string{"bucket": "lib"}}

	page, err := p.FetchPage(context.Background(), q, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice/", store.prefix)
	assert.Equal(t, int32(20), store.maxKeys)
	require.Len(t, page.Items, 2)

	sunset := page.Items[0]
	assert.Equal(t, "alice/2024/beach/sunset.JPG", sunset.ID)
	assert.Equal(t, "sunset", sunset.Title)
	assert.Equal(t, "2024/beach", sunset.Subsource())
	assert.Equal(t, "https://lib.example/alice/2024/beach/sunset.JPG", sunset.Image)
	assert.True(t, taken.Equal(sunset.Timestamp))
	assert.Empty(t, page.Items[1].Image)
	assert.Equal(t, "tok-2", page.Cursor)

	page, err = p.FetchPage(context.Background(), q, "alice", "tok-2")
	require.NoError(t, err)
	assert.True(t, page.Exhausted)
	assert.Empty(t, page.Items[0].Subsource())
	assert.True(t, p.UserScoped(q))
}

func TestPhotosDetail(t *testing.T) {
	store := &fakeObjects{heads: map[string]*s3.HeadObjectOutput{
		"alice/cat.png": {
			ContentLength: aws.Int64(2048),
			ContentType:   aws.String("image/png"),
			Metadata:      map[string]string{"camera": "x100", "album": "pets"},
		},
	}}
	p := NewPhotos(store, time.Minute)
	q := types.QueryConfig{Params: map[string]string{"bucket": "lib"}}

	d, err := p.GetDetail(context.Background(), q, "alice/cat.png", nil, "alice")
	require.NoError(t, err)
	require.Len(t, d.Sections, 2)
	assert.Equal(t, []string{"size: 2048 bytes", "type: image/png", "album: pets", "camera: x100"}, d.Sections[0].Items)

	_, err = p.GetDetail(context.Background(), q, "alice/gone.png", nil, "alice")
	assert.ErrorIs(t, err, ErrNoDetail)
}

func TestPhotosRequiresBucket(t *testing.T) {
	p := NewPhotos(&fakeObjects{}, 0)
	_, err := p.FetchPage(context.Background(), types.QueryConfig{Key: "roll"}, "alice", "")
	assert.ErrorContains(t, err, "missing bucket")
}
