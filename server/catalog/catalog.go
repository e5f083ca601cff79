// Package catalog loads the static product list that is rendered into the
// system instruction.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Product is one catalog entry.
type Product struct {
	Name     string   `json:"name" yaml:"name"`
	Benefit  string   `json:"benefit" yaml:"benefit"`
	Price    string   `json:"price" yaml:"price"`
	Variants []string `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// Catalog is a read-only product list. The zero value is an empty catalog.
type Catalog struct {
	products []Product
}

// New returns a catalog holding a copy of products.
func New(products []Product) *Catalog {
	c := &Catalog{products: make([]Product, len(products))}
	copy(c.products, products)
	return c
}

// Empty returns a catalog with no products.
func Empty() *Catalog {
	return &Catalog{}
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.products)
}

// Products returns a copy of the product list.
func (c *Catalog) Products() []Product {
	if c == nil {
		return nil
	}
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// Load reads a product list from path. Files ending in .json are decoded as
// JSON, everything else as YAML. The document is either a bare list or an
// object with a "products" key.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	products, err := decode(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}

	for i, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("catalog %s: product %d has no name", path, i)
		}
	}
	return New(products), nil
}

// LoadOrEmpty loads the catalog at path. An empty path or any load failure
// yields an empty catalog; failures are logged as warnings.
func LoadOrEmpty(path string, logger *zap.Logger) *Catalog {
	if path == "" {
		logger.Warn("no product catalog configured, running with empty catalog")
		return Empty()
	}

	c, err := Load(path)
	if err != nil {
		logger.Warn("failed to load product catalog, running with empty catalog",
			zap.String("path", path),
			zap.Error(err))
		return Empty()
	}

	logger.Info("product catalog loaded",
		zap.String("path", path),
		zap.Int("products", c.Len()))
	return c
}

type document struct {
	Products []Product `json:"products" yaml:"products"`
}

func decode(data []byte, isJSON bool) ([]Product, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	list := strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "-")

	if isJSON {
		if list {
			var products []Product
			err := json.Unmarshal(data, &products)
			return products, err
		}
		var doc document
		err := json.Unmarshal(data, &doc)
		return doc.Products, err
	}

	if list {
		var products []Product
		err := yaml.Unmarshal(data, &products)
		return products, err
	}
	var doc document
	err := yaml.Unmarshal(data, &doc)
	return doc.Products, err
}
