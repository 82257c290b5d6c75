package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"esign-backend/internal/shared/canonical"
)

// ComputeHash derives the chain hash for an event given its predecessor's
// hash (empty string for the first event). The hash input is
// prev_hex + "\n" + canonical JSON of {type, metadata, created_at}.
func ComputeHash(prevHash string, eventType EventType, metadata map[string]any, createdAt time.Time) (string, error) {
	body, err := canonical.JSON(map[string]any{
		"type":       string(eventType),
		"metadata":   normalizeMetadata(metadata),
		"created_at": createdAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("audit hash: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte("\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func normalizeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	OK      bool  `json:"ok"`
	BreakAt int64 `json:"breakAt,omitempty"`
	Events  int   `json:"events"`
}

// VerifyChain recomputes every hash in insertion order and reports the first
// event whose stored hash or predecessor link does not match.
func VerifyChain(events []Event) (VerifyResult, error) {
	prev := ""
	for _, ev := range events {
		if ev.PrevEventHash != prev {
			return VerifyResult{OK: false, BreakAt: ev.ID, Events: len(events)}, nil
		}
		want, err := ComputeHash(prev, ev.Type, ev.Metadata, ev.CreatedAt)
		if err != nil {
			return VerifyResult{}, err
		}
		if ev.EventHash != want {
			return VerifyResult{OK: false, BreakAt: ev.ID, Events: len(events)}, nil
		}
		prev = ev.EventHash
	}
	return VerifyResult{OK: true, Events: len(events)}, nil
}
