package queue

import (
	"context"
	"sync"
)

// MemoryClient buffers messages in memory for dev and tests.
type MemoryClient struct {
	mu   sync.Mutex
	msgs []Message
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

func (c *MemoryClient) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

// Messages returns a snapshot of everything sent so far.
func (c *MemoryClient) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

var _ Client = (*MemoryClient)(nil)
