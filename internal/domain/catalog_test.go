package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImage(t *testing.T) {
	tests := []struct {
		name   string
		image  Image
		fields []string
	}{
		{
			name:  "valid",
			image: Image{Name: "Shirt", Price: 25.99, ImageURL: "https://x/a.jpg"},
		},
		{
			name:   "blank name",
			image:  Image{Name: "   ", Price: 10, ImageURL: "https://x/a.jpg"},
			fields: []string{"name"},
		},
		{
			name:   "zero price",
			image:  Image{Name: "Shirt", Price: 0, ImageURL: "https://x/a.jpg"},
			fields: []string{"price"},
		},
		{
			name:   "negative price",
			image:  Image{Name: "Shirt", Price: -3, ImageURL: "https://x/a.jpg"},
			fields: []string{"price"},
		},
		{
			name:   "infinite price",
			image:  Image{Name: "Shirt", Price: math.Inf(1), ImageURL: "https://x/a.jpg"},
			fields: []string{"price"},
		},
		{
			name:   "NaN price",
			image:  Image{Name: "Shirt", Price: math.NaN(), ImageURL: "https://x/a.jpg"},
			fields: []string{"price"},
		},
		{
			name:   "relative url",
			image:  Image{Name: "Shirt", Price: 1, ImageURL: "not-a-url"},
			fields: []string{"imageUrl"},
		},
		{
			name:   "everything wrong",
			image:  Image{},
			fields: []string{"name", "price", "imageUrl"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImage(tt.image)
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				assert.True(t, IsValidImageRecord(tt.image))
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.False(t, IsValidImageRecord(tt.image))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			got := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				got = append(got, f.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestValidateCatalogName(t *testing.T) {
	assert.NoError(t, ValidateCatalogName("Summer"))
	assert.ErrorIs(t, ValidateCatalogName(""), ErrValidation)
	assert.ErrorIs(t, ValidateCatalogName(" \t"), ErrValidation)
}

func TestIsAbsoluteURL(t *testing.T) {
	assert.True(t, IsAbsoluteURL("https://x/a.jpg"))
	assert.True(t, IsAbsoluteURL("http://example.com"))
	assert.False(t, IsAbsoluteURL(""))
	assert.False(t, IsAbsoluteURL("not-a-url"))
	assert.False(t, IsAbsoluteURL("/relative/path.png"))
}

func TestPatchesOnlyTouchProvidedFields(t *testing.T) {
	c := Catalog{ID: "cat-1", Name: "Summer", Images: []Image{{ID: "img-1", Name: "Shirt", Price: 2, ImageURL: "https://x/a.jpg"}}}
	name := "Winter"
	CatalogPatch{Name: &name}.Apply(&c)
	assert.Equal(t, "Winter", c.Name)
	assert.Equal(t, "cat-1", c.ID)
	assert.Len(t, c.Images, 1)

	img := c.Images[0]
	price := 9.5
	ImagePatch{Price: &price}.Apply(&img)
	assert.Equal(t, Image{ID: "img-1", Name: "Shirt", Price: 9.5, ImageURL: "https://x/a.jpg"}, img)
}

func TestCloneIsDeep(t *testing.T) {
	c := Catalog{ID: "cat-1", Name: "Summer", Images: []Image{{ID: "img-1", Name: "Shirt"}}}
	cp := c.Clone()
	cp.Images[0].Name = "changed"
	assert.Equal(t, "Shirt", c.Images[0].Name)
}

// non-positive prices never validate
func TestProperty_NonPositivePricesAreRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("price <= 0 is a validation error", prop.ForAll(
		func(name string, price float64) bool {
			err := ValidateImage(Image{Name: name, Price: price, ImageURL: "https://x/a.jpg"})
			return errors.Is(err, ErrValidation)
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.Float64Range(-10000, 0),
	))

	properties.Property("positive prices with valid fields pass", prop.ForAll(
		func(name string, price float64) bool {
			return ValidateImage(Image{Name: name, Price: price, ImageURL: "https://x/a.jpg"}) == nil
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.Float64Range(0.01, 9999.99),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
