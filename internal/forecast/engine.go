// Package forecast projects short-horizon values from a recency-ordered series.
//
// The Engine owns the external contract (horizon validation, rounding, confidence);
// a Strategy owns the model. Two strategies ship: an auto-regressive model with
// mean-reversion damping (AR) and Holt's linear trend smoothing (Holt).
package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/i474232898/airwatch/internal/metrics"
)

var (
	// ErrNoData is returned for an empty series.
	ErrNoData = errors.New("no data to forecast from")
	// ErrInvalidHorizon is returned when the horizon is outside [1, max].
	ErrInvalidHorizon = errors.New("invalid forecast horizon")
	// ErrInvalidSeries is returned when the series holds NaN or infinite values.
	ErrInvalidSeries = errors.New("series contains non-finite values")
)

// DefaultMaxHorizon bounds the number of projected points (one week of hourly steps).
const DefaultMaxHorizon = 168

// Projection is the raw output of a Strategy.
type Projection struct {
	Values      []float64
	ResidualStd float64
	// Degenerate is set when the series was too short to fit and the last
	// observed value was repeated instead.
	Degenerate bool
}

// Strategy fits a model to a chronological (oldest first) series and projects
// horizon future values.
type Strategy interface {
	Name() string
	Project(chronological []float64, horizon int) Projection
	// Confidence is the scoring policy that matches this model's residuals.
	Confidence() Confidence
}

// Confidence maps a residual standard deviation to a score:
// clamp(round(Base - Slope*residualStd), Min, Max).
type Confidence struct {
	Base  float64
	Slope float64
	Min   int
	Max   int
}

// Score returns the bounded confidence for a residual standard deviation.
func (c Confidence) Score(residualStd float64) int {
	score := int(math.Round(c.Base - c.Slope*residualStd))
	return max(c.Min, min(c.Max, score))
}

// Result is what forecast consumers receive.
type Result struct {
	Values     []int  `json:"forecast"`
	Confidence int    `json:"confidence"`
	Strategy   string `json:"strategy"`
	Degenerate bool   `json:"degenerate"`
}

// Engine is safe for concurrent use; it holds no mutable state.
type Engine struct {
	strategy   Strategy
	confidence Confidence
	maxHorizon int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfidence overrides the strategy's confidence policy.
func WithConfidence(c Confidence) Option {
	return func(e *Engine) { e.confidence = c }
}

// WithMaxHorizon overrides DefaultMaxHorizon.
func WithMaxHorizon(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHorizon = n
		}
	}
}

// NewEngine creates an Engine around strategy.
func NewEngine(strategy Strategy, opts ...Option) *Engine {
	e := &Engine{
		strategy:   strategy,
		confidence: strategy.Confidence(),
		maxHorizon: DefaultMaxHorizon,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy returns the name of the model in use.
func (e *Engine) Strategy() string { return e.strategy.Name() }

// MaxHorizon returns the largest accepted horizon.
func (e *Engine) MaxHorizon() int { return e.maxHorizon }

// Forecast projects horizon points from series, which is ordered most recent
// first. Values are rounded to whole units; one confidence covers the horizon.
func (e *Engine) Forecast(series []float64, horizon int) (Result, error) {
	if len(series) == 0 {
		return Result{}, ErrNoData
	}
	if horizon < 1 || horizon > e.maxHorizon {
		return Result{}, fmt.Errorf("%w: %d (allowed 1-%d)", ErrInvalidHorizon, horizon, e.maxHorizon)
	}
	for _, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, ErrInvalidSeries
		}
	}
	defer metrics.ObserveForecast(e.strategy.Name(), time.Now())

	chronological := make([]float64, len(series))
	for i, v := range series {
		chronological[len(series)-1-i] = v
	}

	p := e.strategy.Project(chronological, horizon)
	values := make([]int, len(p.Values))
	for i, v := range p.Values {
		values[i] = int(math.Round(v))
	}

	return Result{
		Values:     values,
		Confidence: e.confidence.Score(p.ResidualStd),
		Strategy:   e.strategy.Name(),
		Degenerate: p.Degenerate,
	}, nil
}

// StrategyByName resolves a configured strategy name ("ar" or "holt").
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", StrategyAR:
		return NewAR(), nil
	case StrategyHolt:
		return NewHolt(), nil
	default:
		return nil, fmt.Errorf("unknown forecast strategy %q", name)
	}
}

func repeatLast(chronological []float64, horizon int) Projection {
	last := chronological[len(chronological)-1]
	values := make([]float64, horizon)
	for i := range values {
		values[i] = last
	}
	return Projection{Values: values, Degenerate: true}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}
