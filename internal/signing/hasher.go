package signing

import (
	"context"
	"fmt"
	"sort"

	"esign-backend/internal/documents"
	"esign-backend/internal/shared/storage/object"
	"esign-backend/internal/shared/util"
)

// DocHash pairs a document with the SHA-256 of its stored bytes.
type DocHash struct {
	DocID  string `json:"doc_id"`
	SHA256 string `json:"sha256"`
}

// HashDocuments streams every document's bytes out of the blob store and
// returns the hash list sorted by doc_id. The hash reflects what is on disk
// at call time, not what was uploaded.
func HashDocuments(ctx context.Context, store object.Store, docs []documents.Document) ([]DocHash, error) {
	out := make([]DocHash, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc, err := store.Get(ctx, doc.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", doc.ID, err)
		}
		sum, _, err := util.SHA256Reader(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("hash document %s: %w", doc.ID, err)
		}
		out = append(out, DocHash{DocID: doc.ID, SHA256: sum})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}
