package blob

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shuttlehq/shuttle/pkg/types"
)

var (
	// ErrNotFound is returned when a blob ID is unknown.
	ErrNotFound = errors.New("blob not found")

	// ErrConfig is returned when a backend is missing required setup.
	ErrConfig = errors.New("blob backend misconfigured")
)

// batchChunkSize bounds the per-goroutine slice in BatchGetText fan-out.
const batchChunkSize = 50

// Store is the content-addressed body store connectors park document bytes
// in before queueing events. Blobs are immutable once written; garbage
// collection is a separate concern.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	PutWithPrefix(ctx context.Context, prefix string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Size(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id string) error
	Metadata(ctx context.Context, id string) (*types.BlobMeta, error)
	// FindByHash returns the ID of some blob with the given SHA-256 hex
	// digest, or empty when none exists. Connectors use it to dedup bodies
	// before writing.
	FindByHash(ctx context.Context, sha256Hex string) (string, error)
	// BatchGetText fetches many blobs as strings, fanning out in chunks.
	BatchGetText(ctx context.Context, ids []string) (map[string]string, error)
	Backend() string
}

// batchGetText is the shared BatchGetText implementation: chunked errgroup
// fan-out over Get.
func batchGetText(ctx context.Context, s Store, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		g.Go(func() error {
			for _, id := range chunk {
				data, err := s.Get(ctx, id)
				if err != nil {
					return err
				}
				mu.Lock()
				out[id] = string(data)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
