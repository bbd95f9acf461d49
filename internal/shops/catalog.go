// Package shops holds the catalog of agri-input shops (seed, fertilizer and
// pesticide dealers) and finds the ones nearest to a farmer.
package shops

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"krishi/internal/geo"
)

// Shop is one catalog entry. Coordinates may be missing.
type Shop struct {
	Name      string   `yaml:"name" json:"name"`
	Address   string   `yaml:"address" json:"address"`
	Phone     string   `yaml:"phone,omitempty" json:"phone,omitempty"`
	Sells     []string `yaml:"sells,omitempty" json:"sells,omitempty"`
	Latitude  any      `yaml:"latitude" json:"-"`
	Longitude any      `yaml:"longitude" json:"-"`
}

// Location parses the shop's coordinates.
func (s Shop) Location() geo.Point {
	return geo.PointFrom(s.Latitude, s.Longitude)
}

// SellsAny reports whether the shop lists one of categories. An empty list
// matches every shop.
func (s Shop) SellsAny(categories ...string) bool {
	if len(categories) == 0 {
		return true
	}
	for _, want := range categories {
		want = strings.TrimSpace(want)
		if want == "" {
			return true
		}
		for _, have := range s.Sells {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// Catalog is an immutable list of shops.
type Catalog struct {
	shops []Shop
}

type catalogFile struct {
	Shops []Shop `yaml:"shops"`
}

// Parse reads a YAML document with a top-level "shops" list.
func Parse(r io.Reader) (*Catalog, error) {
	var file catalogFile
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode shop catalog: %w", err)
	}
	for i, s := range file.Shops {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("shop catalog entry %d has no name", i)
		}
	}
	return &Catalog{shops: file.Shops}, nil
}

// Load reads the catalog at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shop catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// New wraps an in-memory list.
func New(shops []Shop) *Catalog {
	return &Catalog{shops: append([]Shop(nil), shops...)}
}

// Len returns the number of shops.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.shops)
}

// Nearby ranks the shops selling any of categories by distance from origin.
// Shops without coordinates come last; limit <= 0 returns all of them.
func (c *Catalog) Nearby(origin geo.Point, limit int, categories ...string) []geo.Ranked[Shop] {
	if c == nil {
		return nil
	}
	var candidates []Shop
	for _, s := range c.shops {
		if s.SellsAny(categories...) {
			candidates = append(candidates, s)
		}
	}
	ranked := geo.SortByDistance(candidates, origin, Shop.Location)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
