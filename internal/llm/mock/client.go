package mock

import (
	"context"
	"sync"

	"github.com/acme/outbound-survey/internal/llm"
)

// Client replays scripted completions for tests.
type Client struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llm.Request
}

// NewClient constructs a mock with the given scripted responses, returned in
// order. When the script runs out the last response repeats.
func NewClient(responses ...string) *Client {
	return &Client{responses: responses}
}

// Fail makes every completion return err.
func (c *Client) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Requests returns the captured completion requests.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Complete pops the next scripted response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return "", nil
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}
