package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Seed is the file format accepted by LoadStatic: a product list and the
// band assigned to each delivery location.
type Seed struct {
	Products  []Product       `json:"products"`
	Locations map[string]Band `json:"locations"`
}

// LoadStatic builds a Static source from a JSON seed.
func LoadStatic(r io.Reader) (*Static, error) {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode catalog seed: %w", err)
	}

	s := NewStatic()
	for i, p := range seed.Products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog seed: product %d has no id", i)
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("catalog seed: product %s has a negative price", p.ID)
		}
		s.PutProduct(p)
	}
	for location, b := range seed.Locations {
		if b.DeliveryFee.IsNegative() || b.MarkupRate.IsNegative() || b.TaxRate.IsNegative() {
			return nil, fmt.Errorf("catalog seed: location %s has a negative rate", location)
		}
		s.PutLocation(location, b)
	}
	return s, nil
}

// LoadStaticFile reads a seed from path.
func LoadStaticFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadStatic(f)
}
