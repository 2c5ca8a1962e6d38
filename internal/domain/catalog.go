package domain

// Catalog represents a named collection of product images
type Catalog struct {
	ID     string  `json:"id"`
	Name   string  `json:"name" validate:"notblank"`
	Images []Image `json:"images"`
}

// Image represents a product record nested under a catalog
type Image struct {
	ID       string  `json:"id"`
	Name     string  `json:"name" validate:"notblank"`
	Price    float64 `json:"price" validate:"gt=0"`
	ImageURL string  `json:"imageUrl" validate:"required,url"`
}

// ImageInput is the data of an image before an id is assigned
type ImageInput struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"imageUrl"`
}

// WithID builds an Image from the input using the given id
func (in ImageInput) WithID(id string) Image {
	return Image{
		ID:       id,
		Name:     in.Name,
		Price:    in.Price,
		ImageURL: in.ImageURL,
	}
}

// CatalogPatch holds the catalog fields to merge; nil fields are left untouched
type CatalogPatch struct {
	Name *string `json:"name,omitempty"`
}

// Apply merges the patch into c
func (p CatalogPatch) Apply(c *Catalog) {
	if p.Name != nil {
		c.Name = *p.Name
	}
}

// ImagePatch holds the image fields to merge; nil fields are left untouched
type ImagePatch struct {
	Name     *string  `json:"name,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	ImageURL *string  `json:"imageUrl,omitempty"`
}

// Apply merges the patch into img
func (p ImagePatch) Apply(img *Image) {
	if p.Name != nil {
		img.Name = *p.Name
	}
	if p.Price != nil {
		img.Price = *p.Price
	}
	if p.ImageURL != nil {
		img.ImageURL = *p.ImageURL
	}
}

// Clone returns a deep copy of the catalog
func (c Catalog) Clone() Catalog {
	out := c
	out.Images = make([]Image, len(c.Images))
	copy(out.Images, c.Images)
	return out
}

// FindImage returns the index of the image with the given id, or -1
func (c Catalog) FindImage(imageID string) int {
	for i := range c.Images {
		if c.Images[i].ID == imageID {
			return i
		}
	}
	return -1
}

// CloneCatalogs deep-copies a catalog slice
func CloneCatalogs(catalogs []Catalog) []Catalog {
	out := make([]Catalog, len(catalogs))
	for i := range catalogs {
		out[i] = catalogs[i].Clone()
	}
	return out
}
