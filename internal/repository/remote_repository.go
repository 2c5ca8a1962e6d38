package repository

import (
	"context"
	"errors"
	"sync"

	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RemoteRepository works against a realtime DocumentStore. Each catalog is one
// document with its images inline, so image mutations rewrite the whole array
// (last write wins).
//
// The mirror is only updated from change notifications: a mutation returning
// successfully does not mean GetCatalog already reflects it.
type RemoteRepository struct {
	store  storage.DocumentStore
	logger *zap.Logger
	newID  func() string

	*mirror

	// refreshMu keeps full reloads from overlapping
	refreshMu sync.Mutex

	lifeMu    sync.Mutex
	stopWatch func()
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRemoteRepository(store storage.DocumentStore, logger *zap.Logger) *RemoteRepository {
	return &RemoteRepository{
		store:  store,
		logger: logger,
		newID:  uuid.NewString,
		mirror: newMirror(),
	}
}

// Init subscribes to the collection before the first load so no write can
// fall between the two.
func (r *RemoteRepository) Init(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.stopWatch != nil {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	stop, err := r.store.Watch(r.ctx, func(id string) {
		r.logger.Debug("Catalog change notification", zap.String("catalog_id", id))
		if err := r.refresh(r.ctx); err != nil && r.ctx.Err() == nil {
			r.logger.Error("Failed to refresh catalogs after change", zap.Error(err))
		}
	})
	if err != nil {
		r.cancel()
		return domain.NewBackendError("subscribe", err)
	}
	r.stopWatch = stop

	if err := r.refresh(ctx); err != nil {
		r.stopWatch()
		r.stopWatch = nil
		r.cancel()
		return err
	}
	return nil
}

// Dispose stops the change subscription and releases every listener.
func (r *RemoteRepository) Dispose() {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.stopWatch != nil {
		r.cancel()
		r.stopWatch()
		r.stopWatch = nil
	}
	r.mirror.dropListeners()
}

func (r *RemoteRepository) refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	catalogs, err := r.store.List(ctx)
	if err != nil {
		return domain.NewBackendError("refresh", err)
	}
	for i := range catalogs {
		if catalogs[i].Images == nil {
			catalogs[i].Images = []domain.Image{}
		}
	}
	r.mirror.replace(catalogs)
	return nil
}

func (r *RemoteRepository) CreateCatalog(ctx context.Context, name string) (*domain.Catalog, error) {
	if err := domain.ValidateCatalogName(name); err != nil {
		return nil, err
	}

	doc := &domain.Catalog{
		ID:     r.newID(),
		Name:   name,
		Images: []domain.Image{},
	}
	if err := r.store.Put(ctx, doc); err != nil {
		return nil, domain.NewBackendError("create catalog", err)
	}

	r.logger.Debug("Catalog written", zap.String("catalog_id", doc.ID))
	return doc, nil
}

func (r *RemoteRepository) UpdateCatalog(ctx context.Context, id string, patch domain.CatalogPatch) error {
	if patch.Name != nil {
		if err := domain.ValidateCatalogName(*patch.Name); err != nil {
			return err
		}
	}

	doc, err := r.load(ctx, "update catalog", id)
	if err != nil {
		return err
	}
	patch.Apply(doc)
	return r.update(ctx, "update catalog", doc)
}

func (r *RemoteRepository) DeleteCatalog(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.CatalogNotFound(id)
		}
		return domain.NewBackendError("delete catalog", err)
	}
	return nil
}

func (r *RemoteRepository) CreateImage(ctx context.Context, catalogID string, input domain.ImageInput) (*domain.Image, error) {
	if err := domain.ValidateImageInput(input); err != nil {
		return nil, err
	}

	doc, err := r.load(ctx, "create image", catalogID)
	if err != nil {
		return nil, err
	}

	img := input.WithID(r.newID())
	doc.Images = append(doc.Images, img)
	if err := r.update(ctx, "create image", doc); err != nil {
		return nil, err
	}
	return &img, nil
}

func (r *RemoteRepository) UpdateImage(ctx context.Context, catalogID, imageID string, patch domain.ImagePatch) error {
	doc, err := r.load(ctx, "update image", catalogID)
	if err != nil {
		return err
	}

	idx := doc.FindImage(imageID)
	if idx < 0 {
		return domain.ImageNotFound(imageID)
	}
	merged := doc.Images[idx]
	patch.Apply(&merged)
	if err := domain.ValidateImage(merged); err != nil {
		return err
	}
	doc.Images[idx] = merged

	return r.update(ctx, "update image", doc)
}

func (r *RemoteRepository) DeleteImage(ctx context.Context, catalogID, imageID string) error {
	doc, err := r.load(ctx, "delete image", catalogID)
	if err != nil {
		return err
	}

	idx := doc.FindImage(imageID)
	if idx < 0 {
		return domain.ImageNotFound(imageID)
	}
	doc.Images = append(doc.Images[:idx], doc.Images[idx+1:]...)

	return r.update(ctx, "delete image", doc)
}

func (r *RemoteRepository) GetCatalog(id string) *domain.Catalog {
	return r.mirror.get(id)
}

func (r *RemoteRepository) GetAllCatalogs() []domain.Catalog {
	return r.mirror.all()
}

func (r *RemoteRepository) Subscribe(l Listener) func() {
	return r.mirror.subscribe(l)
}

func (r *RemoteRepository) load(ctx context.Context, op, id string) (*domain.Catalog, error) {
	doc, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.CatalogNotFound(id)
		}
		return nil, domain.NewBackendError(op, err)
	}
	if doc.Images == nil {
		doc.Images = []domain.Image{}
	}
	return doc, nil
}

// update writes back a document read by load. A catalog deleted in between
// stays deleted.
func (r *RemoteRepository) update(ctx context.Context, op string, doc *domain.Catalog) error {
	if err := r.store.Update(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.CatalogNotFound(doc.ID)
		}
		return domain.NewBackendError(op, err)
	}
	return nil
}
