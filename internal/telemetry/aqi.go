package telemetry

import "math"

type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh int
}

// US EPA breakpoints.
var (
	pm25Breakpoints = []breakpoint{
		{0.0, 12.0, 0, 50},
		{12.1, 35.4, 51, 100},
		{35.5, 55.4, 101, 150},
		{55.5, 150.4, 151, 200},
		{150.5, 250.4, 201, 300},
		{250.5, 350.4, 301, 400},
		{350.5, 500.4, 401, 500},
	}
	pm10Breakpoints = []breakpoint{
		{0, 54, 0, 50},
		{55, 154, 51, 100},
		{155, 254, 101, 150},
		{255, 354, 151, 200},
		{355, 424, 201, 300},
		{425, 504, 301, 400},
		{505, 604, 401, 500},
	}
)

const maxAQI = 500

// ComputeAQI converts particulate concentrations into a US AQI value, taking the
// worst of the PM2.5 and PM10 sub-indices. Missing pollutants are ignored.
func ComputeAQI(pollutants map[Pollutant]float64) int {
	best := 0
	if c, ok := pollutants[PM25]; ok {
		// PM2.5 is truncated to one decimal, PM10 to an integer.
		best = max(best, subIndex(math.Floor(c*10)/10, pm25Breakpoints))
	}
	if c, ok := pollutants[PM10]; ok {
		best = max(best, subIndex(math.Floor(c), pm10Breakpoints))
	}
	return best
}

func subIndex(c float64, table []breakpoint) int {
	if c <= 0 || math.IsNaN(c) {
		return 0
	}
	for _, bp := range table {
		if c <= bp.cHigh {
			if c < bp.cLow {
				c = bp.cLow
			}
			ratio := float64(bp.iHigh-bp.iLow) / (bp.cHigh - bp.cLow)
			return int(math.Round(ratio*(c-bp.cLow))) + bp.iLow
		}
	}
	return maxAQI
}

// Category returns the health category name for an AQI value.
func Category(aqi int) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Moderate"
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups"
	case aqi <= 200:
		return "Unhealthy"
	case aqi <= 300:
		return "Very Unhealthy"
	default:
		return "Hazardous"
	}
}
