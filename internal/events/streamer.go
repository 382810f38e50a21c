package events

import (
	"sync"
	"time"
)

// Update announces a new value for one register.
type Update struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Valid     bool      `json:"valid"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Streamer struct {
	mu          sync.RWMutex
	subscribers []chan Update
}

func NewStreamer() *Streamer {
	return &Streamer{
		subscribers: make([]chan Update, 0),
	}
}

func (s *Streamer) Subscribe() <-chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Update, 100)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *Streamer) Unsubscribe(ch <-chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

func (s *Streamer) Broadcast(update Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			// Skip if channel is full
		}
	}
}

// SubscriberCount is used by the status endpoint.
func (s *Streamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
