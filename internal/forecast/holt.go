package forecast

// StrategyHolt names Holt's linear trend strategy.
const StrategyHolt = "holt"

// Holt is double exponential smoothing: a level and a trend updated per Alpha and
// Beta, projected as level + trend*h.
type Holt struct {
	Alpha float64
	Beta  float64

	confidence Confidence
}

// NewHolt returns Holt smoothing tuned for small AQI series.
func NewHolt() *Holt {
	return &Holt{
		Alpha:      0.6,
		Beta:       0.2,
		confidence: Confidence{Base: 90, Slope: 3, Min: 30, Max: 95},
	}
}

// NewHoltTemperature returns Holt smoothing with the gentler confidence slope
// used for temperature series.
func NewHoltTemperature() *Holt {
	h := NewHolt()
	h.confidence = Confidence{Base: 90, Slope: 2, Min: 30, Max: 95}
	return h
}

func (m *Holt) Name() string { return StrategyHolt }

func (m *Holt) Confidence() Confidence { return m.confidence }

func (m *Holt) Project(data []float64, horizon int) Projection {
	if len(data) < 2 {
		return repeatLast(data, horizon)
	}

	level := data[0]
	trend := data[1] - data[0]

	fitted := make([]float64, 0, len(data))
	fitted = append(fitted, level+trend)
	for t := 1; t < len(data); t++ {
		prevLevel := level
		level = m.Alpha*data[t] + (1-m.Alpha)*(level+trend)
		trend = m.Beta*(level-prevLevel) + (1-m.Beta)*trend
		fitted = append(fitted, level+trend)
	}

	residuals := make([]float64, len(data))
	for i := range data {
		residuals[i] = data[i] - fitted[i]
	}

	values := make([]float64, horizon)
	for h := 1; h <= horizon; h++ {
		values[h-1] = level + trend*float64(h)
	}
	return Projection{Values: values, ResidualStd: stddev(residuals)}
}
