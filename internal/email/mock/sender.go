package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/outbound-survey/internal/email"
)

// Sender records sent emails for tests and development.
type Sender struct {
	mu      sync.Mutex
	sent    []email.OutboundEmail
	failErr error
	counter int
}

func NewSender() *Sender {
	return &Sender{}
}

// Fail makes every send return err until cleared with nil.
func (s *Sender) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Sent returns the messages delivered so far.
func (s *Sender) Sent() []email.OutboundEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]email.OutboundEmail, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *Sender) Send(ctx context.Context, msg email.OutboundEmail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return "", s.failErr
	}
	s.sent = append(s.sent, msg)
	s.counter++
	return fmt.Sprintf("mock-message-%d", s.counter), nil
}
