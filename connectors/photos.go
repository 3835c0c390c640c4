package connectors

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"scrollfeed/common"
	"scrollfeed/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore is the subset of the S3 wrapper the photo library uses.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string, maxKeys int32, continuationToken *string) (*s3.ListObjectsV2Output, error)
	Head(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

var _ ObjectStore = (*common.S3)(nil)

var photoExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".heic": true,
}

// Photos pages through a photo library stored in an S3 bucket, one object
// per photo. The sub-folder of a photo becomes its album.
//
// Query params:
//
//	bucket  bucket name, required
//	prefix  key prefix, "{user}" is replaced by the user id (default "{user}/")
type Photos struct {
	store      ObjectStore
	presignTTL time.Duration
}

// NewPhotos creates a photo library connector.
func NewPhotos(store ObjectStore, presignTTL time.Duration) *Photos {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &Photos{store: store, presignTTL: presignTTL}
}

// UserScoped is true: every user has their own library.
func (p *Photos) UserScoped(types.QueryConfig) bool { return true }

func (p *Photos) prefix(q types.QueryConfig, user string) string {
	return strings.ReplaceAll(q.Param("prefix", "{user}/"), "{user}", user)
}

// FetchPage lists the next page of photos using the S3 continuation token
// as cursor.
func (p *Photos) FetchPage(ctx context.Context, q types.QueryConfig, user, cursor string) (*types.Page, error) {
	if p.store == nil {
		return nil, fmt.Errorf("query %s: no object store configured", q.Key)
	}
	bucket := q.Param("bucket", "")
	if bucket == "" {
		return nil, fmt.Errorf("query %s: missing bucket param", q.Key)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	var token *string
	if cursor != "" {
		token = aws.String(cursor)
	}

	prefix := p.prefix(q, user)
	out, err := p.store.List(ctx, bucket, prefix, int32(limit), token)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}

	page := &types.Page{}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if !photoExtensions[strings.ToLower(path.Ext(key))] {
			continue
		}
		item := types.FeedItem{
			ID:    key,
			Title: strings.TrimSuffix(path.Base(key), path.Ext(key)),
			Meta: map[string]any{
				"key":  key,
				"size": aws.ToInt64(obj.Size),
			},
		}
		if album := strings.Trim(strings.TrimPrefix(path.Dir(key), strings.TrimSuffix(prefix, "/")), "/"); album != "" && album != "." {
			item.Meta["category"] = album
		}
		if obj.LastModified != nil {
			item.Timestamp = *obj.LastModified
		}
		if u, err := p.store.PresignGet(ctx, bucket, key, p.presignTTL); err == nil {
			item.Image = u
		}
		page.Items = append(page.Items, item)
	}

	if aws.ToBool(out.IsTruncated) && aws.ToString(out.NextContinuationToken) != "" {
		page.Cursor = aws.ToString(out.NextContinuationToken)
	} else {
		page.Exhausted = true
	}
	return page, nil
}

// GetDetail returns the object metadata of one photo.
func (p *Photos) GetDetail(ctx context.Context, q types.QueryConfig, localID string, _ map[string]any, _ string) (*types.Detail, error) {
	if p.store == nil {
		return nil, ErrNoDetail
	}
	bucket := q.Param("bucket", "")
	head, err := p.store.Head(ctx, bucket, localID)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, fmt.Errorf("photo %s: %w", localID, ErrNoDetail)
		}
		return nil, err
	}

	facts := []string{fmt.Sprintf("size: %d bytes", aws.ToInt64(head.ContentLength))}
	if ct := aws.ToString(head.ContentType); ct != "" {
		facts = append(facts, "type: "+ct)
	}
	if head.LastModified != nil {
		facts = append(facts, "taken: "+head.LastModified.Format(time.RFC1123))
	}
	keys := make([]string, 0, len(head.Metadata))
	for k := range head.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		facts = append(facts, k+": "+head.Metadata[k])
	}

	d := &types.Detail{Sections: []types.Section{{Type: "facts", Title: path.Base(localID), Items: facts}}}
	if u, err := p.store.PresignGet(ctx, bucket, localID, p.presignTTL); err == nil {
		d.Sections = append(d.Sections, types.Section{Type: "image", Body: u})
	}
	return d, nil
}
