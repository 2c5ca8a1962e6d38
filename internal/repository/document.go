package repository

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"catalog-showcase/internal/domain"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

// document is the persisted shape of the whole collection
type document struct {
	Catalogs []domain.Catalog `json:"catalogs"`
}

//go:embed seed.yaml
var defaultSeed []byte

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["catalogs"],
  "properties": {
    "catalogs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "images"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "images": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "name", "price", "imageUrl"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "name": {"type": "string"},
                "price": {"type": "number"},
                "imageUrl": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid catalog document schema: %v", err))
	}
	compiledSchema = s
}

// decodeDocument validates raw against the document schema and decodes it
func decodeDocument(raw []byte) (*document, error) {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("catalog document does not match schema: %s", strings.Join(msgs, "; "))
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog document: %w", err)
	}
	return &doc, nil
}

func encodeDocument(catalogs []domain.Catalog) ([]byte, error) {
	return json.Marshal(document{Catalogs: catalogs})
}

// LoadSeed reads the initial catalogs from a YAML or JSON file, or the
// built-in samples when path is empty.
func LoadSeed(path string) ([]domain.Catalog, error) {
	data := defaultSeed
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
	}

	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	for i := range doc.Catalogs {
		if doc.Catalogs[i].Images == nil {
			doc.Catalogs[i].Images = []domain.Image{}
		}
	}
	return doc.Catalogs, nil
}
