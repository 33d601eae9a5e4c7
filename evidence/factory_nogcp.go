//go:build !gcp

package evidence

import (
	"context"
	"fmt"
)

func newGCSBlobs(context.Context, string, string) (Blobs, error) {
	return nil, fmt.Errorf("evidence: GCS storage is not enabled in this build (use -tags gcp)")
}
