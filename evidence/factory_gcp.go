//go:build gcp

package evidence

import "context"

func newGCSBlobs(ctx context.Context, bucket, prefix string) (Blobs, error) {
	return NewGCSBlobs(ctx, bucket, prefix)
}
