package judo

import (
	"sync"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/events"
)

// LiveValue is the current decoded value of one register.
type LiveValue struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	Valid     bool      `json:"valid"`
}

// Store holds the LiveValues of one device and announces every change.
type Store struct {
	mu       sync.RWMutex
	values   map[string]LiveValue
	streamer *events.Streamer
	now      func() time.Time
}

func NewStore(streamer *events.Streamer) *Store {
	return &Store{
		values:   make(map[string]LiveValue),
		streamer: streamer,
		now:      time.Now,
	}
}

func (s *Store) Get(key string) (LiveValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Store) Set(key string, value any) LiveValue {
	lv := LiveValue{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now(),
		Valid:     true,
	}

	s.mu.Lock()
	s.values[key] = lv
	s.mu.Unlock()

	if s.streamer != nil {
		s.streamer.Broadcast(events.Update{
			Key:       lv.Key,
			Value:     lv.Value,
			Valid:     lv.Valid,
			UpdatedAt: lv.UpdatedAt,
		})
	}
	return lv
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
