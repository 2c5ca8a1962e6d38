package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/storage"

	"go.uber.org/zap"
)

// DefaultLocalKey is the blob key holding the serialized collection
const DefaultLocalKey = "catalogsAppData"

// LocalRepository keeps the whole collection as one JSON blob in a BlobStore.
// Every mutation rewrites the blob and is visible to readers when the call
// returns.
type LocalRepository struct {
	store  storage.BlobStore
	key    string
	seed   []domain.Catalog
	logger *zap.Logger
	now    func() time.Time

	*mirror
	writeMu sync.Mutex
}

// NewLocalRepository creates a local repository; seed is written when the
// store holds no collection yet.
func NewLocalRepository(store storage.BlobStore, key string, seed []domain.Catalog, logger *zap.Logger) *LocalRepository {
	if key == "" {
		key = DefaultLocalKey
	}
	return &LocalRepository{
		store:  store,
		key:    key,
		seed:   seed,
		logger: logger,
		now:    time.Now,
		mirror: newMirror(),
	}
}

func (r *LocalRepository) Init(ctx context.Context) error {
	raw, err := r.store.Get(ctx, r.key)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Info("No persisted catalogs, writing seed",
			zap.String("key", r.key),
			zap.Int("catalogs", len(r.seed)),
		)
		catalogs := domain.CloneCatalogs(r.seed)
		if err := r.persist(ctx, "init", catalogs); err != nil {
			return err
		}
		r.mirror.replace(catalogs)
		return nil
	}
	if err != nil {
		return domain.NewBackendError("init", err)
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return domain.NewBackendError("init", err)
	}
	for i := range doc.Catalogs {
		if doc.Catalogs[i].Images == nil {
			doc.Catalogs[i].Images = []domain.Image{}
		}
	}

	r.logger.Info("Loaded persisted catalogs",
		zap.String("key", r.key),
		zap.Int("catalogs", len(doc.Catalogs)),
	)
	r.mirror.replace(doc.Catalogs)
	return nil
}

func (r *LocalRepository) Dispose() {
	r.mirror.dropListeners()
}

func (r *LocalRepository) CreateCatalog(ctx context.Context, name string) (*domain.Catalog, error) {
	if err := domain.ValidateCatalogName(name); err != nil {
		return nil, err
	}

	var created domain.Catalog
	err := r.mutate(ctx, "create catalog", func(catalogs []domain.Catalog) ([]domain.Catalog, error) {
		created = domain.Catalog{
			ID:     r.newID("cat", func(id string) bool { return findCatalog(catalogs, id) >= 0 }),
			Name:   name,
			Images: []domain.Image{},
		}
		return append(catalogs, created), nil
	})
	if err != nil {
		return nil, err
	}

	out := created.Clone()
	return &out, nil
}

func (r *LocalRepository) UpdateCatalog(ctx context.Context, id string, patch domain.CatalogPatch) error {
	if patch.Name != nil {
		if err := domain.ValidateCatalogName(*patch.Name); err != nil {
			return err
		}
	}

	return r.mutate(ctx, "update catalog", func(catalogs []domain.Catalog) ([]domain.Catalog, error) {
		idx := findCatalog(catalogs, id)
		if idx < 0 {
			return nil, domain.CatalogNotFound(id)
		}
		patch.Apply(&catalogs[idx])
		return catalogs, nil
	})
}

func (r *LocalRepository) DeleteCatalog(ctx context.Context, id string) error {
	return r.mutate(ctx, "delete catalog", func(catalogs []domain.Catalog) ([]domain.Catalog, error) {
		idx := findCatalog(catalogs, id)
		if idx < 0 {
			return nil, domain.CatalogNotFound(id)
		}
		return append(catalogs[:idx], catalogs[idx+1:]...), nil
	})
}

func (r *LocalRepository) CreateImage(ctx context.Context, catalogID string, input domain.ImageInput) (*domain.Image, error) {
	if err := domain.ValidateImageInput(input); err != nil {
		return nil, err
	}

	var created domain.Image
	err := r.mutate(ctx, "create image", func(catalogs []domain.Catalog) ([]domain.Catalog, error) {
		idx := findCatalog(catalogs, catalogID)
		if idx < 0 {
			return nil, domain.CatalogNotFound(catalogID)
		}
		c := &catalogs[idx]
		created = input.WithID(r.newID("img", func(id string) bool { return c.FindImage(id) >= 0 }))
		c.Images = append(c.Images, created)
		return catalogs, nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *LocalRepository) UpdateImage(ctx context.Context, catalogID, imageID string, patch domain.ImagePatch) error {
	return r.mutate(ctx, "update image", func(catalogs []domain.Catalog) ([]domain.Catalog, error) {
		idx := findCatalog(catalogs, catalogID)
		if idx < 0 {
			return nil, domain.CatalogNotFound(catalogID)
		}
		c := &catalogs[idx]
		imgIdx := c.FindImage(imageID)
		if imgIdx < 0 {
			return nil, domain.ImageNotFound(imageID)
		}

		merged := c.Images[imgIdx]
		patch.Apply(&merged)
		if err := domain.ValidateImage(merged); err != nil {
			return nil, err
		}
		c.Images[imgIdx] = merged
		return catalogs, nil
	})
}

func (r *LocalRepository) DeleteImage(ctx context.Context, catalogID, imageID string) error {
	return r.mutate(ctx, "delete image", func(catalogs []domain.Catalog) ([]domain.Catalog, error) {
		idx := findCatalog(catalogs, catalogID)
		if idx < 0 {
			return nil, domain.CatalogNotFound(catalogID)
		}
		c := &catalogs[idx]
		imgIdx := c.FindImage(imageID)
		if imgIdx < 0 {
			return nil, domain.ImageNotFound(imageID)
		}
		c.Images = append(c.Images[:imgIdx], c.Images[imgIdx+1:]...)
		return catalogs, nil
	})
}

func (r *LocalRepository) GetCatalog(id string) *domain.Catalog {
	return r.mirror.get(id)
}

func (r *LocalRepository) GetAllCatalogs() []domain.Catalog {
	return r.mirror.all()
}

func (r *LocalRepository) Subscribe(l Listener) func() {
	return r.mirror.subscribe(l)
}

// mutate applies fn to a copy of the collection, persists the result and only
// then publishes it to the mirror. A failed write leaves the mirror untouched.
func (r *LocalRepository) mutate(ctx context.Context, op string, fn func([]domain.Catalog) ([]domain.Catalog, error)) error {
	r.writeMu.Lock()

	next, err := fn(r.mirror.all())
	if err != nil {
		r.writeMu.Unlock()
		return err
	}
	if err := r.persist(ctx, op, next); err != nil {
		r.writeMu.Unlock()
		return err
	}

	r.mirror.mu.Lock()
	r.mirror.catalogs = next
	r.mirror.mu.Unlock()
	r.writeMu.Unlock()

	r.mirror.notify()
	return nil
}

func (r *LocalRepository) persist(ctx context.Context, op string, catalogs []domain.Catalog) error {
	raw, err := encodeDocument(catalogs)
	if err != nil {
		return domain.NewBackendError(op, fmt.Errorf("failed to encode catalogs: %w", err))
	}
	if err := r.store.Put(ctx, r.key, raw); err != nil {
		r.logger.Error("Failed to persist catalogs", zap.String("op", op), zap.Error(err))
		return domain.NewBackendError(op, err)
	}
	return nil
}

// newID derives an id from the current time in milliseconds, stepping forward
// until it does not collide.
func (r *LocalRepository) newID(prefix string, taken func(string) bool) string {
	ms := r.now().UnixMilli()
	for {
		id := prefix + "-" + strconv.FormatInt(ms, 10)
		if !taken(id) {
			return id
		}
		ms++
	}
}
