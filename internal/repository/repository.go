package repository

import (
	"context"
	"sync"

	"catalog-showcase/internal/domain"
)

// Listener receives the full catalog collection after every change
type Listener func(catalogs []domain.Catalog)

// CatalogRepository defines the data access contract for catalogs and their images.
//
// Reads are served from an in-memory mirror and never hit the backend. Mutations
// go to the backend; when the mirror reflects them depends on the variant.
type CatalogRepository interface {
	Init(ctx context.Context) error
	Dispose()

	CreateCatalog(ctx context.Context, name string) (*domain.Catalog, error)
	UpdateCatalog(ctx context.Context, id string, patch domain.CatalogPatch) error
	DeleteCatalog(ctx context.Context, id string) error

	CreateImage(ctx context.Context, catalogID string, input domain.ImageInput) (*domain.Image, error)
	UpdateImage(ctx context.Context, catalogID, imageID string, patch domain.ImagePatch) error
	DeleteImage(ctx context.Context, catalogID, imageID string) error

	GetCatalog(id string) *domain.Catalog
	GetAllCatalogs() []domain.Catalog

	// Subscribe registers l and returns the function that releases it.
	// Releasing more than once is a no-op.
	Subscribe(l Listener) (unsubscribe func())
}

// mirror is the in-memory copy of the collection shared by both variants
type mirror struct {
	mu       sync.RWMutex
	catalogs []domain.Catalog

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func newMirror() *mirror {
	return &mirror{
		catalogs:  []domain.Catalog{},
		listeners: make(map[int]Listener),
	}
}

func (m *mirror) get(id string) *domain.Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.catalogs {
		if m.catalogs[i].ID == id {
			c := m.catalogs[i].Clone()
			return &c
		}
	}
	return nil
}

func (m *mirror) all() []domain.Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.CloneCatalogs(m.catalogs)
}

// replace swaps the whole collection and notifies listeners
func (m *mirror) replace(catalogs []domain.Catalog) {
	m.mu.Lock()
	m.catalogs = catalogs
	m.mu.Unlock()

	m.notify()
}

func (m *mirror) subscribe(l Listener) func() {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			delete(m.listeners, id)
			m.lmu.Unlock()
		})
	}
}

func (m *mirror) notify() {
	m.lmu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.lmu.Unlock()

	for _, l := range listeners {
		l(m.all())
	}
}

func (m *mirror) dropListeners() {
	m.lmu.Lock()
	m.listeners = make(map[int]Listener)
	m.lmu.Unlock()
}

func findCatalog(catalogs []domain.Catalog, id string) int {
	for i := range catalogs {
		if catalogs[i].ID == id {
			return i
		}
	}
	return -1
}
