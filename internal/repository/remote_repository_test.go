package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gatedDocumentStore holds back change notifications until released
type gatedDocumentStore struct {
	*storage.MemDocumentStore

	mu       sync.Mutex
	onChange func(string)
	pending  []string
}

func (s *gatedDocumentStore) Put(ctx context.Context, doc *domain.Catalog) error {
	if err := s.MemDocumentStore.Put(ctx, doc); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = append(s.pending, doc.ID)
	s.mu.Unlock()
	return nil
}

func (s *gatedDocumentStore) Update(ctx context.Context, doc *domain.Catalog) error {
	if err := s.MemDocumentStore.Update(ctx, doc); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = append(s.pending, doc.ID)
	s.mu.Unlock()
	return nil
}

func (s *gatedDocumentStore) Watch(_ context.Context, onChange func(string)) (func(), error) {
	s.mu.Lock()
	s.onChange = onChange
	s.mu.Unlock()
	return func() {}, nil
}

func (s *gatedDocumentStore) release() {
	s.mu.Lock()
	pending, fn := s.pending, s.onChange
	s.pending = nil
	s.mu.Unlock()
	for _, id := range pending {
		fn(id)
	}
}

// deleteAfterReadStore deletes every document right after it is read, as if
// another client removed the catalog between read and write-back
type deleteAfterReadStore struct {
	storage.DocumentStore
}

func (s deleteAfterReadStore) Get(ctx context.Context, id string) (*domain.Catalog, error) {
	doc, err := s.DocumentStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DocumentStore.Delete(ctx, id); err != nil {
		return nil, err
	}
	return doc, nil
}

type failingWatchStore struct {
	*storage.MemDocumentStore
}

func (failingWatchStore) Watch(context.Context, func(string)) (func(), error) {
	return nil, errors.New("connection refused")
}

func TestRemoteRepository_CreatedCatalogAppearsOnlyAfterNotification(t *testing.T) {
	ctx := context.Background()
	store := &gatedDocumentStore{MemDocumentStore: storage.NewMemDocumentStore()}
	repo := NewRemoteRepository(store, zap.NewNop())
	require.NoError(t, repo.Init(ctx))
	defer repo.Dispose()

	c, err := repo.CreateCatalog(ctx, "Summer")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	assert.Nil(t, repo.GetCatalog(c.ID))
	assert.Empty(t, repo.GetAllCatalogs())

	// Images can be attached before the mirror catches up since the
	// existence check goes to the backend.
	_, err = repo.CreateImage(ctx, c.ID, domain.ImageInput{Name: "Shirt", Price: 25.99, ImageURL: "https://x/a.jpg"})
	require.NoError(t, err)

	store.release()

	got := repo.GetCatalog(c.ID)
	require.NotNil(t, got)
	assert.Equal(t, "Summer", got.Name)
	assert.Len(t, got.Images, 1)
}

func TestRemoteRepository_ImageArrayIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemDocumentStore()
	repo := NewRemoteRepository(store, zap.NewNop())
	require.NoError(t, repo.Init(ctx))
	defer repo.Dispose()

	c, err := repo.CreateCatalog(ctx, "Summer")
	require.NoError(t, err)

	// Two writers read the same document, then both write back.
	stale, err := store.Get(ctx, c.ID)
	require.NoError(t, err)

	_, err = repo.CreateImage(ctx, c.ID, domain.ImageInput{Name: "Shirt", Price: 1, ImageURL: "https://x/a.jpg"})
	require.NoError(t, err)

	stale.Images = append(stale.Images, domain.Image{ID: "other", Name: "Hat", Price: 2, ImageURL: "https://x/b.jpg"})
	require.NoError(t, store.Put(ctx, stale))

	require.Eventually(t, func() bool {
		got := repo.GetCatalog(c.ID)
		return got != nil && len(got.Images) == 1 && got.Images[0].ID == "other"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRemoteRepository_MirrorReplacedOnEveryNotification(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemDocumentStore()
	require.NoError(t, store.Put(ctx, &domain.Catalog{ID: "existing", Name: "Existing", Images: []domain.Image{}}))

	repo := NewRemoteRepository(store, zap.NewNop())
	require.NoError(t, repo.Init(ctx))
	defer repo.Dispose()

	require.NotNil(t, repo.GetCatalog("existing"))

	// A write from another client is picked up through the subscription.
	require.NoError(t, store.Delete(ctx, "existing"))
	require.Eventually(t, func() bool { return repo.GetCatalog("existing") == nil }, 2*time.Second, 5*time.Millisecond)
}

func TestRemoteRepository_DisposeStopsUpdates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemDocumentStore()
	repo := NewRemoteRepository(store, zap.NewNop())
	require.NoError(t, repo.Init(ctx))

	calls := 0
	var mu sync.Mutex
	repo.Subscribe(func([]domain.Catalog) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	repo.Dispose()
	repo.Dispose()

	require.NoError(t, store.Put(ctx, &domain.Catalog{ID: "late", Name: "Late", Images: []domain.Image{}}))
	time.Sleep(50 * time.Millisecond)

	assert.Nil(t, repo.GetCatalog("late"))
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()
}

func TestRemoteRepository_InitSurfacesSubscribeFailure(t *testing.T) {
	repo := NewRemoteRepository(failingWatchStore{storage.NewMemDocumentStore()}, zap.NewNop())
	err := repo.Init(context.Background())
	assert.ErrorIs(t, err, domain.ErrBackend)
}

func TestRemoteRepository_WritesNeverResurrectDeletedCatalog(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.DocumentStore{
		"memory": func(*testing.T) storage.DocumentStore { return storage.NewMemDocumentStore() },
		"redis": func(t *testing.T) storage.DocumentStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return storage.NewRedisDocumentStore(client, "test", zap.NewNop())
		},
	}

	name := "Winter"
	price := 30.0
	writes := map[string]func(repo CatalogRepository, catalogID string) error{
		"create image": func(repo CatalogRepository, id string) error {
			_, err := repo.CreateImage(context.Background(), id, domain.ImageInput{Name: "Shirt", Price: 25.99, ImageURL: "https://x/a.jpg"})
			return err
		},
		"update catalog": func(repo CatalogRepository, id string) error {
			return repo.UpdateCatalog(context.Background(), id, domain.CatalogPatch{Name: &name})
		},
		"update image": func(repo CatalogRepository, id string) error {
			return repo.UpdateImage(context.Background(), id, "img-1", domain.ImagePatch{Price: &price})
		},
		"delete image": func(repo CatalogRepository, id string) error {
			return repo.DeleteImage(context.Background(), id, "img-1")
		},
	}

	for backendName, newStore := range backends {
		for writeName, write := range writes {
			t.Run(backendName+"/"+writeName, func(t *testing.T) {
				ctx := context.Background()
				store := newStore(t)
				require.NoError(t, store.Put(ctx, &domain.Catalog{ID: "cat-1", Name: "Summer", Images: []domain.Image{
					{ID: "img-1", Name: "Hat", Price: 9.5, ImageURL: "https://x/b.jpg"},
				}}))

				repo := NewRemoteRepository(deleteAfterReadStore{store}, zap.NewNop())
				require.NoError(t, repo.Init(ctx))
				defer repo.Dispose()

				err := write(repo, "cat-1")
				assert.ErrorIs(t, err, domain.ErrNotFound)

				all, err := store.List(ctx)
				require.NoError(t, err)
				assert.Empty(t, all)
			})
		}
	}
}
