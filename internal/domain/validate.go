package domain

import "fmt"

// Physically-plausible bounds for current-weather readings. Out-of-range
// values are rejected, never clamped.
const (
	minTemperatureC = -80.0
	maxTemperatureC = 80.0
	minHumidityPct  = 0.0
	maxHumidityPct  = 100.0
)

// ValidateMeasurements applies range checks to the present measurements and
// returns one description per violation. Absent fields are never checked; an
// empty result means the observation is acceptable.
func ValidateMeasurements(m Measurements) []string {
	var violations []string

	if v := m.TemperatureC; v != nil && (*v < minTemperatureC || *v > maxTemperatureC) {
		violations = append(violations, fmt.Sprintf("temperature_c out of range: %g", *v))
	}
	if v := m.HumidityPct; v != nil && (*v < minHumidityPct || *v > maxHumidityPct) {
		violations = append(violations, fmt.Sprintf("humidity_pct out of range: %g", *v))
	}
	if v := m.PrecipitationMM; v != nil && *v < 0 {
		violations = append(violations, fmt.Sprintf("precipitation_mm < 0: %g", *v))
	}
	if v := m.WindSpeedKmh; v != nil && *v < 0 {
		violations = append(violations, fmt.Sprintf("wind_speed_kmh < 0: %g", *v))
	}

	return violations
}
