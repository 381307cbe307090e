package sender

import (
	"context"
	"net/http"
	"sync"
)

// Mock is a scriptable in-memory sender for tests and for running the
// dashboard without a live mail account ("mock" driver).
//
// By default every send succeeds. Set Fn to script outcomes.
type Mock struct {
	mu    sync.Mutex
	sent  []Message
	Fn    func(msg Message) (Result, error)
	Delay func() // optional hook, called while not holding the lock
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if m.Delay != nil {
		m.Delay()
	}

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	fn := m.Fn
	m.mu.Unlock()

	if fn != nil {
		return fn(msg)
	}
	return Result{StatusCode: http.StatusOK}, nil
}

// Sent returns a copy of every message handed to Send, in order.
func (m *Mock) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
