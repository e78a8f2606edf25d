package report

import (
	"context"
	"sync"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// Storage keeps rendered report content by key.
type Storage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, string, error)
	DeleteObject(ctx context.Context, key string) error
}

type storedObject struct {
	body        []byte
	contentType string
}

type InMemoryStorage struct {
	mu   sync.RWMutex
	data map[string]storedObject
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{data: map[string]storedObject{}}
}

func (s *InMemoryStorage) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = storedObject{body: append([]byte(nil), body...), contentType: contentType}
	return ctx.Err()
}

func (s *InMemoryStorage) GetObject(_ context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[key]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	return append([]byte(nil), obj.body...), obj.contentType, nil
}

func (s *InMemoryStorage) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
