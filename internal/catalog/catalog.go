// Package catalog serves the static list of supported cities shown by the browser client.
// It is read-only and independent of the weather lookup path.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kjstillabower/city-weather-proxy/internal/validation"
)

//go:embed cities.json
var defaultCities []byte

// ErrEmptyCatalog is returned when the source parses but lists no cities.
var ErrEmptyCatalog = errors.New("catalog has no cities")

// City is one catalog entry. Temp and Status are optional last-known values.
type City struct {
	CityCode string  `json:"cityCode"`
	CityName string  `json:"cityName"`
	Temp     *string `json:"temp"`
	Status   *string `json:"status"`
}

type catalogFile struct {
	List []City `json:"List"`
}

// Catalog is an immutable city list.
type Catalog struct {
	cities []City
}

// Load reads the catalog from path, or the embedded default list when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCities
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes a catalog document of the form {"List":[{"CityCode":...}]}.
// Keys match case-insensitively.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.List) == 0 {
		return nil, ErrEmptyCatalog
	}
	return &Catalog{cities: f.List}, nil
}

// List returns a copy of the cities in file order.
func (c *Catalog) List() ([]City, error) {
	out := make([]City, len(c.cities))
	copy(out, c.cities)
	return out, nil
}

// CityIDs returns the codes that parse as city ids, in file order. Used for cache warming.
func (c *Catalog) CityIDs() []int {
	ids := make([]int, 0, len(c.cities))
	for _, city := range c.cities {
		if id, err := validation.ParseCityID(city.CityCode); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
