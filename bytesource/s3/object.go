// Package s3 reads containers stored in Amazon S3 or an S3-compatible store.
//
// An Object turns ranged GetObject requests into an io.ReaderAt, and Open
// wraps it in a bytesource.Window so the container reader sees the same
// sliding-window semantics it gets from a local file. Each window refill
// costs one request, so a larger window suits remote reads.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/arloliu/mcapkit/bytesource"
)

// DefaultWindowSize is the window used by Open unless overridden.
const DefaultWindowSize = 4 * 1024 * 1024

// ErrNotFound is returned when the object does not exist.
var ErrNotFound = errors.New("s3 object not found")

// API is the subset of *s3.Client used for reading objects.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

// Object is a read-only S3 object addressed by ranged reads.
type Object struct {
	ctx    context.Context
	client API
	bucket string
	key    string
	size   int64
}

var _ io.ReaderAt = (*Object)(nil)

// NewObject looks up the object size with HeadObject.
//
// ctx bounds every later read made through the Object.
func NewObject(ctx context.Context, client API, bucket, key string) (*Object, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}

		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	return &Object{
		ctx:    ctx,
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

// Size returns the object length in bytes.
func (o *Object) Size() int64 {
	return o.size
}

// ReadAt fetches len(p) bytes at off with a single ranged GetObject.
func (o *Object) ReadAt(p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := o.ctx.Err(); err != nil {
		return 0, err
	}

	end := off + int64(len(p)) - 1
	if end >= o.size {
		end = o.size - 1
	}

	resp, err := o.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, fmt.Errorf("get s3://%s/%s range %d-%d: %w", o.bucket, o.key, off, end, err)
	}
	defer resp.Body.Close()

	want := int(end - off + 1)
	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, err
	}
	if want < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// Open returns a windowed Source over the object.
func Open(ctx context.Context, client API, bucket, key string, opts ...bytesource.Option) (*bytesource.Window, error) {
	obj, err := NewObject(ctx, client, bucket, key)
	if err != nil {
		return nil, err
	}

	all := append([]bytesource.Option{bytesource.WithWindowSize(DefaultWindowSize)}, opts...)

	return bytesource.NewReaderAt(obj, uint64(obj.Size()), all...)
}

// ParseURL splits "s3://bucket/key" into bucket and key.
func ParseURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url has no object key: %q", raw)
	}

	return u.Host, key, nil
}

// IsURL reports whether raw uses the s3:// scheme.
func IsURL(raw string) bool {
	return strings.HasPrefix(raw, "s3://")
}
