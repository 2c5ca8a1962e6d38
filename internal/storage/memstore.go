package storage

import (
	"context"
	"sync"

	"catalog-showcase/internal/domain"
)

// MemBlobStore is a BlobStore kept in process memory.
type MemBlobStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{values: make(map[string][]byte)}
}

func (s *MemBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemBlobStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.values[key] = v
	return nil
}

func (s *MemBlobStore) Close() error { return nil }

// MemDocumentStore is a DocumentStore kept in process memory. Watchers are
// notified asynchronously, one goroutine per watcher.
type MemDocumentStore struct {
	mu       sync.RWMutex
	docs     map[string]domain.Catalog
	order    []string
	watchers map[int]chan string
	nextW    int
}

func NewMemDocumentStore() *MemDocumentStore {
	return &MemDocumentStore{
		docs:     make(map[string]domain.Catalog),
		watchers: make(map[int]chan string),
	}
}

func (s *MemDocumentStore) Get(_ context.Context, id string) (*domain.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := doc.Clone()
	return &cp, nil
}

func (s *MemDocumentStore) Put(_ context.Context, doc *domain.Catalog) error {
	s.mu.Lock()
	if _, ok := s.docs[doc.ID]; !ok {
		s.order = append(s.order, doc.ID)
	}
	s.docs[doc.ID] = doc.Clone()
	s.mu.Unlock()

	s.publish(doc.ID)
	return nil
}

func (s *MemDocumentStore) Update(_ context.Context, doc *domain.Catalog) error {
	s.mu.Lock()
	if _, ok := s.docs[doc.ID]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.docs[doc.ID] = doc.Clone()
	s.mu.Unlock()

	s.publish(doc.ID)
	return nil
}

func (s *MemDocumentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.docs[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.docs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publish(id)
	return nil
}

func (s *MemDocumentStore) List(_ context.Context) ([]domain.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Catalog, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id].Clone())
	}
	return out, nil
}

func (s *MemDocumentStore) Watch(ctx context.Context, onChange func(id string)) (func(), error) {
	ch := make(chan string, 64)

	s.mu.Lock()
	key := s.nextW
	s.nextW++
	s.watchers[key] = ch
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case id, ok := <-ch:
				if !ok {
					return
				}
				onChange(id)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, key)
			close(ch)
			s.mu.Unlock()
			<-done
		})
	}
	return stop, nil
}

func (s *MemDocumentStore) publish(id string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers {
		select {
		case ch <- id:
		default:
			// a full buffer already guarantees a pending refresh
		}
	}
}

func (s *MemDocumentStore) Close() error { return nil }
