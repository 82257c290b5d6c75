package object

import (
	"context"
	"io"
)

// Store defines the contract for saving and retrieving binary objects under
// opaque keys. Put is atomic per key: either the full contents become visible
// or none at all. Delete is idempotent.
type Store interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
