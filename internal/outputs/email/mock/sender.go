package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/dealwatch/internal/outputs/email"
)

// Sender records messages in memory. When Err is set every send fails.
type Sender struct {
	mu       sync.Mutex
	messages []email.Message
	Err      error
}

func (s *Sender) Send(_ context.Context, message email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.messages = append(s.messages, message)
	return nil
}

func (s *Sender) Messages() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]email.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
