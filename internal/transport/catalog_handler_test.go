package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"catalog-showcase/internal/assets"
	"catalog-showcase/internal/domain"
	"catalog-showcase/internal/imageres"
	"catalog-showcase/internal/middleware"
	"catalog-showcase/internal/repository"
	"catalog-showcase/internal/service"
	"catalog-showcase/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type mockAssetStore struct {
	mock.Mock
}

func (m *mockAssetStore) EnsureBucket(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockAssetStore) Upload(ctx context.Context, catalogID, filename string, data []byte) (string, error) {
	args := m.Called(ctx, catalogID, filename, data)
	return args.String(0), args.Error(1)
}

func (m *mockAssetStore) Delete(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

type stubResolver struct {
	snap imageres.Snapshot
	err  error
}

func (s stubResolver) Resolve(_ context.Context, url string) (imageres.Snapshot, error) {
	snap := s.snap
	snap.CandidateURL = url
	return snap, s.err
}

type testAPI struct {
	router http.Handler
	svc    service.CatalogService
	token  string
}

func newTestAPI(t *testing.T, store *mockAssetStore) *testAPI {
	t.Helper()
	logger := zap.NewNop()

	repo := repository.NewLocalRepository(storage.NewMemBlobStore(), "", nil, logger)
	require.NoError(t, repo.Init(context.Background()))
	t.Cleanup(repo.Dispose)

	var assetStore assets.Store
	if store != nil {
		assetStore = store
	}
	svc := service.NewCatalogService(repo, assetStore, logger)

	router := chi.NewRouter()
	NewCatalogHandler(svc, 1<<20, logger).RegisterRoutes(router,
		middleware.AuthMiddleware(testSecret, logger),
		middleware.RequireAdmin(logger),
	)
	NewImageHandler(stubResolver{snap: imageres.Snapshot{State: imageres.Loaded, Src: "https://x/a.jpg"}}, logger).RegisterRoutes(router)

	token, err := service.NewTokenService(testSecret).IssueToken("ops", service.RoleAdmin, time.Hour)
	require.NoError(t, err)

	return &testAPI{router: router, svc: svc, token: token}
}

func (a *testAPI) do(method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCatalogLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodPost, "/api/admin/catalogs", map[string]interface{}{"name": "Summer"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[domain.Catalog](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Summer", created.Name)
	assert.Empty(t, created.Images)

	w = api.do(http.MethodPost, "/api/admin/catalogs/"+created.ID+"/images",
		ImageRequest{Name: "Shirt", Price: 25.99, ImageURL: "https://x/a.jpg"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	img := decodeBody[domain.Image](t, w)
	assert.Equal(t, "Shirt", img.Name)
	assert.Equal(t, 25.99, img.Price)

	w = api.do(http.MethodGet, "/api/catalogs/"+created.ID, nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[domain.Catalog](t, w)
	assert.Equal(t, []domain.Image{img}, got.Images)

	w = api.do(http.MethodPatch, "/api/admin/catalogs/"+created.ID, map[string]string{"name": "Summer 2024"}, true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodPatch, "/api/admin/catalogs/"+created.ID+"/images/"+img.ID, map[string]float64{"price": 19.5}, true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodGet, "/api/admin/catalogs/"+created.ID+"/images/"+img.ID, nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decodeBody[domain.Image](t, w)
	assert.Equal(t, 19.5, updated.Price)
	assert.Equal(t, "Shirt", updated.Name)

	w = api.do(http.MethodGet, "/api/catalogs", nil, false)
	list := decodeBody[[]domain.Catalog](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "Summer 2024", list[0].Name)

	w = api.do(http.MethodDelete, "/api/admin/catalogs/"+created.ID, nil, true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodGet, "/api/catalogs/"+created.ID, nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateCatalogWithInitialImages(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodPost, "/api/admin/catalogs", CreateCatalogRequest{
		Name: "Summer",
		Images: []ImageRequest{
			{Name: "Shirt", Price: 25.99, ImageURL: "https://x/a.jpg"},
			{Name: "Hat", Price: 9.99, ImageURL: "https://x/b.jpg"},
		},
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decodeBody[domain.Catalog](t, w)
	require.Len(t, created.Images, 2)

	w = api.do(http.MethodGet, "/api/admin/catalogs/"+created.ID+"/images", nil, true)
	images := decodeBody[[]domain.Image](t, w)
	assert.Equal(t, created.Images, images)
}

func TestValidationErrorsReturn400(t *testing.T) {
	api := newTestAPI(t, nil)
	c, err := api.svc.CreateCatalog(context.Background(), "Summer")
	require.NoError(t, err)

	tests := []struct {
		name  string
		path  string
		body  interface{}
		field string
	}{
		{"blank catalog name", "/api/admin/catalogs", map[string]string{"name": "  "}, "name"},
		{"blank image name", "/api/admin/catalogs/" + c.ID + "/images", ImageRequest{Name: "", Price: 10, ImageURL: "https://x/a.jpg"}, "name"},
		{"zero price", "/api/admin/catalogs/" + c.ID + "/images", ImageRequest{Name: "Shirt", Price: 0, ImageURL: "https://x/a.jpg"}, "price"},
		{"relative url", "/api/admin/catalogs/" + c.ID + "/images", ImageRequest{Name: "Shirt", Price: 1, ImageURL: "not-a-url"}, "imageUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, tt.path, tt.body, true)
			require.Equal(t, http.StatusBadRequest, w.Code)

			resp := decodeBody[struct {
				Error struct {
					Details struct {
						ValidationErrors []domain.FieldError `json:"validation_errors"`
					} `json:"details"`
				} `json:"error"`
			}](t, w)
			require.NotEmpty(t, resp.Error.Details.ValidationErrors)
			assert.Equal(t, tt.field, resp.Error.Details.ValidationErrors[0].Field)
		})
	}

	got, err := api.svc.GetCatalog(c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Images)
}

func TestPatchValidationHappensAfterMerge(t *testing.T) {
	api := newTestAPI(t, nil)
	c, err := api.svc.CreateCatalogWithImages(context.Background(), "Summer", []domain.ImageInput{
		{Name: "Shirt", Price: 1, ImageURL: "https://x/a.jpg"},
	})
	require.NoError(t, err)

	w := api.do(http.MethodPatch, "/api/admin/catalogs/"+c.ID+"/images/"+c.Images[0].ID, map[string]string{"name": ""}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPatch, "/api/admin/catalogs/"+c.ID, map[string]string{"name": ""}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFoundMapsTo404(t *testing.T) {
	api := newTestAPI(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/catalogs/missing"},
		{http.MethodDelete, "/api/admin/catalogs/missing"},
		{http.MethodGet, "/api/admin/catalogs/missing/images"},
		{http.MethodDelete, "/api/admin/catalogs/missing/images/img"},
	} {
		w := api.do(tc.method, tc.path, nil, true)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.method+" "+tc.path)
	}
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodGet, "/api/admin/catalogs", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	userToken, err := service.NewTokenService(testSecret).IssueToken("someone", "user", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/catalogs", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	w = api.do(http.MethodGet, "/api/catalogs", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	store := &mockAssetStore{}
	api := newTestAPI(t, store)
	c, err := api.svc.CreateCatalog(context.Background(), "Summer")
	require.NoError(t, err)

	content := []byte("png-bytes")
	store.On("Upload", mock.Anything, c.ID, "shirt.png", content).Return("https://cdn/catalogs/"+c.ID+"/1-shirt.png", nil).Once()

	body, contentType := multipartUpload(t, map[string]string{"name": "Shirt", "price": "25.99"}, "shirt.png", content)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/catalogs/"+c.ID+"/images/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+api.token)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	img := decodeBody[domain.Image](t, w)
	assert.Equal(t, "https://cdn/catalogs/"+c.ID+"/1-shirt.png", img.ImageURL)
	store.AssertExpectations(t)
}

func TestUploadImage_Errors(t *testing.T) {
	disabled := newTestAPI(t, nil)
	c, err := disabled.svc.CreateCatalog(context.Background(), "Summer")
	require.NoError(t, err)

	send := func(api *testAPI, fields map[string]string, filename string) *httptest.ResponseRecorder {
		body, contentType := multipartUpload(t, fields, filename, []byte("data"))
		req := httptest.NewRequest(http.MethodPost, "/api/admin/catalogs/"+c.ID+"/images/upload", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+api.token)
		w := httptest.NewRecorder()
		api.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNotImplemented, send(disabled, map[string]string{"name": "Shirt", "price": "1"}, "a.png").Code)
	assert.Equal(t, http.StatusBadRequest, send(disabled, map[string]string{"name": "Shirt", "price": "abc"}, "a.png").Code)
	assert.Equal(t, http.StatusBadRequest, send(disabled, map[string]string{"name": "Shirt", "price": "1"}, "").Code)
}

func TestBackendErrorsMapTo502(t *testing.T) {
	w := httptest.NewRecorder()
	respondWithServiceError(w, zap.NewNop(), domain.NewBackendError("create image", errors.New("redis: connection refused")))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "redis")

	w = httptest.NewRecorder()
	respondWithServiceError(w, zap.NewNop(), errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestResolveImage(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodGet, "/api/images/resolve?url=https://x/a.jpg", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"loaded","candidateUrl":"https://x/a.jpg","src":"https://x/a.jpg","showShimmer":false}`, w.Body.String())

	w = api.do(http.MethodGet, "/api/images/resolve", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamCatalogs(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/catalogs/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan []domain.Catalog, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var catalogs []domain.Catalog
			if json.Unmarshal([]byte(data), &catalogs) == nil {
				events <- catalogs
			}
		}
		close(events)
	}()

	next := func() []domain.Catalog {
		select {
		case c, ok := <-events:
			require.True(t, ok, "stream closed")
			return c
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return nil
		}
	}

	assert.Empty(t, next())

	_, err = api.svc.CreateCatalog(context.Background(), "Summer")
	require.NoError(t, err)

	latest := next()
	for len(latest) != 1 {
		latest = next()
	}
	assert.Equal(t, "Summer", latest[0].Name)
}

func TestProperty_InvalidImagePayloadsAreRejected(t *testing.T) {
	api := newTestAPI(t, nil)
	c, err := api.svc.CreateCatalog(context.Background(), "Summer")
	require.NoError(t, err)

	properties := gopter.NewProperties(nil)

	properties.Property("invalid image payloads never append an image", prop.ForAll(
		func(invalidCase int, price float64) bool {
			req := ImageRequest{Name: "Shirt", Price: 10, ImageURL: "https://x/a.jpg"}
			switch invalidCase % 3 {
			case 0:
				req.Name = "   "
			case 1:
				req.Price = -price
			case 2:
				req.ImageURL = "x/a.jpg"
			}

			w := api.do(http.MethodPost, "/api/admin/catalogs/"+c.ID+"/images", req, true)
			if w.Code != http.StatusBadRequest {
				t.Logf("FAIL: Expected 400 status code, got %d", w.Code)
				return false
			}

			got, err := api.svc.GetCatalog(c.ID)
			return err == nil && len(got.Images) == 0
		},
		gen.IntRange(0, 100),
		gen.Float64Range(0, 1000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
