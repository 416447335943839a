package validation

import (
	"errors"
	"strconv"
	"strings"
)

// ErrCityIDEmpty is returned when the city id is empty or whitespace-only after trim.
var ErrCityIDEmpty = errors.New("city id is required")

// ErrCityIDNotInteger is returned when the city id does not parse as a base-10 integer.
var ErrCityIDNotInteger = errors.New("city id must be an integer")

// ParseCityID trims the input and parses it as a base-10 integer. No range or catalog
// check is made: whether the id exists is the provider's decision.
func ParseCityID(input string) (int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, ErrCityIDEmpty
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrCityIDNotInteger
	}
	return id, nil
}
