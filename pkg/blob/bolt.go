package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/shuttlehq/shuttle/pkg/types"
)

var (
	bucketBlobs     = []byte("content_blobs")
	bucketBlobMeta  = []byte("content_blob_meta")
	bucketBlobHash  = []byte("content_blob_hash_index")
	backendEmbedded = "embedded"
)

// BoltStore keeps blob bytes in the coordinator database. Content and
// metadata are written in one transaction, so a blob is never half-present.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore attaches the blob buckets to the shared database.
func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlobs, bucketBlobMeta, bucketBlobHash} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Backend() string { return backendEmbedded }

func (s *BoltStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	return s.PutWithPrefix(ctx, "", data, contentType)
}

func (s *BoltStore) PutWithPrefix(ctx context.Context, prefix string, data []byte, contentType string) (string, error) {
	id := ulid.Make().String()
	if prefix != "" {
		id = prefix + "-" + id
	}

	sum := sha256.Sum256(data)
	meta := &types.BlobMeta{
		ID:          id,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		Backend:     backendEmbedded,
		CreatedAt:   time.Now(),
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlobs).Put([]byte(id), data); err != nil {
			return err
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketBlobMeta).Put([]byte(id), raw); err != nil {
			return err
		}
		// First writer wins; later blobs with the same content keep their
		// own IDs but the index keeps pointing at the original.
		hb := tx.Bucket(bucketBlobHash)
		if hb.Get([]byte(meta.SHA256)) == nil {
			return hb.Put([]byte(meta.SHA256), []byte(id))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return id, nil
}

func (s *BoltStore) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlobs).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		// Copy out: bolt memory is only valid inside the transaction.
		data = make([]byte, len(raw))
		copy(data, raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltStore) Size(ctx context.Context, id string) (int64, error) {
	meta, err := s.Metadata(ctx, id)
	if err != nil {
		return 0, err
	}
	return meta.Size, nil
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(bucketBlobMeta)
		raw := mb.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var meta types.BlobMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBlobs).Delete([]byte(id)); err != nil {
			return err
		}
		if err := mb.Delete([]byte(id)); err != nil {
			return err
		}
		hb := tx.Bucket(bucketBlobHash)
		if string(hb.Get([]byte(meta.SHA256))) == id {
			return hb.Delete([]byte(meta.SHA256))
		}
		return nil
	})
}

func (s *BoltStore) Metadata(ctx context.Context, id string) (*types.BlobMeta, error) {
	var meta types.BlobMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlobMeta).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(raw, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *BoltStore) FindByHash(ctx context.Context, sha256Hex string) (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlobHash).Get([]byte(sha256Hex))
		if raw != nil {
			id = string(raw)
		}
		return nil
	})
	return id, err
}

func (s *BoltStore) BatchGetText(ctx context.Context, ids []string) (map[string]string, error) {
	return batchGetText(ctx, s, ids)
}
