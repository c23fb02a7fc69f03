package forecast

// StrategyAR names the auto-regressive strategy.
const StrategyAR = "ar"

// AR is an AR(p) model with a simplified Yule-Walker fit. Coefficients come from
// autocorrelation ratios scaled by CoefScale, with DampingBias added to the first
// lag; every projected step is blended toward the series mean by MeanReversion.
// The fit favours stability over maximal likelihood.
type AR struct {
	Order         int
	CoefScale     float64
	DampingBias   float64
	MeanReversion float64
}

// NewAR returns an AR(3) with the default damping.
func NewAR() *AR {
	return &AR{
		Order:         3,
		CoefScale:     0.5,
		DampingBias:   0.3,
		MeanReversion: 0.3,
	}
}

func (m *AR) Name() string { return StrategyAR }

func (m *AR) Confidence() Confidence {
	return Confidence{Base: 85, Slope: 2, Min: 40, Max: 90}
}

type arFit struct {
	coefficients []float64
	mean         float64
	residualStd  float64
}

func (m *AR) fit(data []float64) arFit {
	p := m.Order
	mu := mean(data)

	centered := make([]float64, len(data))
	for i, x := range data {
		centered[i] = x - mu
	}

	acf := make([]float64, p+1)
	for lag := 0; lag <= p; lag++ {
		var sum float64
		count := 0
		for i := lag; i < len(centered); i++ {
			sum += centered[i] * centered[i-lag]
			count++
		}
		if count > 0 {
			acf[lag] = sum / float64(count)
		}
	}

	coefficients := make([]float64, p)
	if acf[0] != 0 {
		for i := 0; i < p; i++ {
			coefficients[i] = (acf[i+1] / acf[0]) * m.CoefScale
			if i == 0 {
				coefficients[i] += m.DampingBias
			}
		}
	}

	// One-step-ahead residuals over the history.
	residuals := make([]float64, 0, len(centered)-p)
	for t := p; t < len(centered); t++ {
		var pred float64
		for j := 0; j < p; j++ {
			pred += coefficients[j] * centered[t-j-1]
		}
		residuals = append(residuals, centered[t]-pred)
	}

	return arFit{
		coefficients: coefficients,
		mean:         mu,
		residualStd:  stddev(residuals),
	}
}

func (m *AR) Project(data []float64, horizon int) Projection {
	if len(data) < m.Order+2 {
		return repeatLast(data, horizon)
	}

	f := m.fit(data)
	working := make([]float64, len(data), len(data)+horizon)
	copy(working, data)

	values := make([]float64, 0, horizon)
	for h := 0; h < horizon; h++ {
		pred := f.mean
		for j := 0; j < m.Order && j < len(working); j++ {
			pred += f.coefficients[j] * (working[len(working)-j-1] - f.mean)
		}
		pred = pred*(1-m.MeanReversion) + f.mean*m.MeanReversion

		values = append(values, pred)
		// Later steps condition on earlier, unrounded forecasts.
		working = append(working, pred)
	}

	return Projection{Values: values, ResidualStd: f.residualStd}
}
