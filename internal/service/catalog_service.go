package service

import (
	"context"
	"errors"
	"fmt"

	"catalog-showcase/internal/assets"
	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/repository"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// ErrAssetsDisabled is returned by uploads when no asset store is configured
var ErrAssetsDisabled = errors.New("image uploads are not enabled")

// UploadRequest carries a product image file and the fields of the image
// record created for it
type UploadRequest struct {
	Name     string
	Price    float64
	Filename string
	Data     []byte
}

// CatalogService defines the catalog management workflows
type CatalogService interface {
	ListCatalogs() []domain.Catalog
	GetCatalog(id string) (*domain.Catalog, error)
	CreateCatalog(ctx context.Context, name string) (*domain.Catalog, error)
	CreateCatalogWithImages(ctx context.Context, name string, images []domain.ImageInput) (*domain.Catalog, error)
	UpdateCatalog(ctx context.Context, id string, patch domain.CatalogPatch) error
	DeleteCatalog(ctx context.Context, id string) error

	ListImages(catalogID string) ([]domain.Image, error)
	GetImage(catalogID, imageID string) (*domain.Image, error)
	CreateImage(ctx context.Context, catalogID string, input domain.ImageInput) (*domain.Image, error)
	UploadImage(ctx context.Context, catalogID string, req UploadRequest) (*domain.Image, error)
	UpdateImage(ctx context.Context, catalogID, imageID string, patch domain.ImagePatch) error
	DeleteImage(ctx context.Context, catalogID, imageID string) error

	Subscribe(l repository.Listener) (unsubscribe func())
}

type catalogService struct {
	repo   repository.CatalogRepository
	assets assets.Store
	logger *zap.Logger
}

// NewCatalogService creates a new CatalogService. store may be nil, which
// disables uploads and asset cleanup.
func NewCatalogService(repo repository.CatalogRepository, store assets.Store, logger *zap.Logger) CatalogService {
	return &catalogService{
		repo:   repo,
		assets: store,
		logger: logger,
	}
}

func (s *catalogService) ListCatalogs() []domain.Catalog {
	return s.repo.GetAllCatalogs()
}

// GetCatalog reads from the repository mirror and reports a missing id as
// a NotFoundError
func (s *catalogService) GetCatalog(id string) (*domain.Catalog, error) {
	c := s.repo.GetCatalog(id)
	if c == nil {
		return nil, domain.CatalogNotFound(id)
	}
	return c, nil
}

func (s *catalogService) CreateCatalog(ctx context.Context, name string) (*domain.Catalog, error) {
	c, err := s.repo.CreateCatalog(ctx, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Catalog created", zap.String("catalog_id", c.ID), zap.String("name", c.Name))
	return c, nil
}

// CreateCatalogWithImages validates everything up front, then creates the
// catalog followed by each image in order. A failure part way through
// returns the catalog together with the error; nothing is rolled back.
func (s *catalogService) CreateCatalogWithImages(ctx context.Context, name string, images []domain.ImageInput) (*domain.Catalog, error) {
	if err := domain.ValidateCatalogName(name); err != nil {
		return nil, err
	}
	for i, in := range images {
		if err := domain.ValidateImageInput(in); err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
	}

	c, err := s.CreateCatalog(ctx, name)
	if err != nil {
		return nil, err
	}

	for i, in := range images {
		img, err := s.repo.CreateImage(ctx, c.ID, in)
		if err != nil {
			s.logger.Error("Failed to create initial image",
				zap.String("catalog_id", c.ID),
				zap.Int("index", i),
				zap.Error(err),
			)
			return c, fmt.Errorf("image %d: %w", i, err)
		}
		c.Images = append(c.Images, *img)
	}

	return c, nil
}

func (s *catalogService) UpdateCatalog(ctx context.Context, id string, patch domain.CatalogPatch) error {
	if err := s.repo.UpdateCatalog(ctx, id, patch); err != nil {
		return err
	}
	s.logger.Info("Catalog updated", zap.String("catalog_id", id))
	return nil
}

// DeleteCatalog removes the uploaded objects of every image first. Object
// deletions run concurrently and their failures are only logged.
func (s *catalogService) DeleteCatalog(ctx context.Context, id string) error {
	if s.assets != nil {
		if c := s.repo.GetCatalog(id); c != nil {
			s.deleteAssets(ctx, c.Images)
		}
	}

	if err := s.repo.DeleteCatalog(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Catalog deleted", zap.String("catalog_id", id))
	return nil
}

func (s *catalogService) deleteAssets(ctx context.Context, images []domain.Image) {
	var wg conc.WaitGroup
	for _, img := range images {
		img := img
		wg.Go(func() {
			if err := s.assets.Delete(ctx, img.ImageURL); err != nil {
				s.logger.Warn("Failed to delete image object",
					zap.String("image_id", img.ID),
					zap.String("url", img.ImageURL),
					zap.Error(err),
				)
			}
		})
	}
	wg.Wait()
}

func (s *catalogService) ListImages(catalogID string) ([]domain.Image, error) {
	c, err := s.GetCatalog(catalogID)
	if err != nil {
		return nil, err
	}
	return c.Images, nil
}

func (s *catalogService) GetImage(catalogID, imageID string) (*domain.Image, error) {
	c, err := s.GetCatalog(catalogID)
	if err != nil {
		return nil, err
	}
	i := c.FindImage(imageID)
	if i < 0 {
		return nil, domain.ImageNotFound(imageID)
	}
	img := c.Images[i]
	return &img, nil
}

func (s *catalogService) CreateImage(ctx context.Context, catalogID string, input domain.ImageInput) (*domain.Image, error) {
	img, err := s.repo.CreateImage(ctx, catalogID, input)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Image created", zap.String("catalog_id", catalogID), zap.String("image_id", img.ID))
	return img, nil
}

// UploadImage stores the file in the asset store and creates an image
// record pointing at it. The record fields are validated before anything
// is uploaded.
func (s *catalogService) UploadImage(ctx context.Context, catalogID string, req UploadRequest) (*domain.Image, error) {
	if s.assets == nil {
		return nil, ErrAssetsDisabled
	}

	// placeholder URL only to run the record validation ahead of the upload
	probe := domain.Image{Name: req.Name, Price: req.Price, ImageURL: "https://upload.invalid/pending"}
	if err := domain.ValidateImage(probe); err != nil {
		return nil, err
	}

	url, err := s.assets.Upload(ctx, catalogID, req.Filename, req.Data)
	if err != nil {
		return nil, err
	}

	img, err := s.repo.CreateImage(ctx, catalogID, domain.ImageInput{Name: req.Name, Price: req.Price, ImageURL: url})
	if err != nil {
		if delErr := s.assets.Delete(ctx, url); delErr != nil {
			s.logger.Warn("Failed to remove orphaned upload", zap.String("url", url), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("Image uploaded", zap.String("catalog_id", catalogID), zap.String("image_id", img.ID))
	return img, nil
}

func (s *catalogService) UpdateImage(ctx context.Context, catalogID, imageID string, patch domain.ImagePatch) error {
	if err := s.repo.UpdateImage(ctx, catalogID, imageID, patch); err != nil {
		return err
	}
	s.logger.Info("Image updated", zap.String("catalog_id", catalogID), zap.String("image_id", imageID))
	return nil
}

func (s *catalogService) DeleteImage(ctx context.Context, catalogID, imageID string) error {
	if err := s.repo.DeleteImage(ctx, catalogID, imageID); err != nil {
		return err
	}
	s.logger.Info("Image deleted", zap.String("catalog_id", catalogID), zap.String("image_id", imageID))
	return nil
}

func (s *catalogService) Subscribe(l repository.Listener) func() {
	return s.repo.Subscribe(l)
}
