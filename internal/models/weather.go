package models

// Condition is one weather descriptor reported by the provider (e.g. "Clear" / "clear sky" / "01d").
type Condition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Measurements holds the numeric readings of a snapshot. Temperatures are metric (°C).
type Measurements struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_Like"`
	TempMin   float64 `json:"temp_Min"`
	TempMax   float64 `json:"temp_Max"`
	Pressure  int     `json:"pressure"`
	Humidity  int     `json:"humidity"`
}

// WeatherSnapshot is one point-in-time weather reading for a city.
// JSON tags follow the shape the browser client reads.
type WeatherSnapshot struct {
	ID         int          `json:"id"`
	Name       string       `json:"name"`
	Conditions []Condition  `json:"weather"`
	Main       Measurements `json:"main"`
}

// NewWeatherSnapshot builds a snapshot that owns its own copy of conditions,
// so later changes to the caller's slice are not observed.
func NewWeatherSnapshot(id int, name string, conditions []Condition, main Measurements) WeatherSnapshot {
	return WeatherSnapshot{
		ID:         id,
		Name:       name,
		Conditions: append([]Condition(nil), conditions...),
		Main:       main,
	}
}

// PrimaryCondition returns the first condition, or the zero value when none exist.
func (s WeatherSnapshot) PrimaryCondition() Condition {
	if len(s.Conditions) == 0 {
		return Condition{}
	}
	return s.Conditions[0]
}

// Clone returns a deep copy. Caches hand out clones so callers cannot mutate stored entries.
func (s WeatherSnapshot) Clone() WeatherSnapshot {
	return NewWeatherSnapshot(s.ID, s.Name, s.Conditions, s.Main)
}
