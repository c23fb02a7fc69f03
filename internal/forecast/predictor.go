package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/i474232898/airwatch/internal/telemetry"
)

// History windows and horizon limits for the predictor.
const (
	AQIHistoryWindow         = 48
	TemperatureHistoryWindow = 72
	MaxHourlyHorizon         = 72
	MaxDailyDays             = 7
)

// HistorySource is the read side of the reading store used for forecasting.
type HistorySource interface {
	Recent(ctx context.Context, location string, n int) ([]telemetry.Reading, error)
}

// Point is one projected value.
type Point struct {
	Time       time.Time `json:"time"`
	Predicted  int       `json:"predicted"`
	Confidence int       `json:"confidence"`
}

// Forecast is an hourly projection for a location.
type Forecast struct {
	Location    string    `json:"location"`
	Metric      string    `json:"metric"`
	Strategy    string    `json:"strategy"`
	Confidence  int       `json:"confidence"`
	Degenerate  bool      `json:"degenerate"`
	GeneratedAt time.Time `json:"generatedAt"`
	Points      []Point   `json:"points"`
}

// DailySummary aggregates one day of hourly AQI projections.
type DailySummary struct {
	Day       string    `json:"day"`
	Date      time.Time `json:"date"`
	Min       int       `json:"min"`
	Avg       int       `json:"avg"`
	Max       int       `json:"max"`
	Predicted int       `json:"predicted"`
}

// Predictor reads history from the store and projects it with the engines.
// It is safe for concurrent use.
type Predictor struct {
	history     HistorySource
	aqi         *Engine
	temperature *Engine
	step        time.Duration

	now func() time.Time
}

// NewPredictor builds a Predictor for the named strategy ("ar" or "holt").
func NewPredictor(history HistorySource, strategy string) (*Predictor, error) {
	var aqi, temperature Strategy
	switch strategy {
	case "", StrategyAR:
		aqi, temperature = NewAR(), NewAR()
	case StrategyHolt:
		aqi, temperature = NewHolt(), NewHoltTemperature()
	default:
		return nil, fmt.Errorf("unknown forecast strategy %q", strategy)
	}
	return &Predictor{
		history:     history,
		aqi:         NewEngine(aqi),
		temperature: NewEngine(temperature),
		step:        time.Hour,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// AQIHourly projects the AQI for the next hours (1-72) from the last 48 readings.
func (p *Predictor) AQIHourly(ctx context.Context, location string, hours int) (Forecast, error) {
	if hours < 1 || hours > MaxHourlyHorizon {
		return Forecast{}, fmt.Errorf("%w: hours must be 1-%d", ErrInvalidHorizon, MaxHourlyHorizon)
	}
	return p.aqiForecast(ctx, location, hours)
}

func (p *Predictor) aqiForecast(ctx context.Context, location string, hours int) (Forecast, error) {
	readings, err := p.recent(ctx, location, AQIHistoryWindow)
	if err != nil {
		return Forecast{}, err
	}

	series := make([]float64, 0, len(readings))
	for _, r := range readings {
		series = append(series, float64(r.AQI))
	}
	return p.project(p.aqi, location, "aqi", series, hours)
}

// AQIDaily summarises days (1-7) of hourly AQI projections per calendar day.
func (p *Predictor) AQIDaily(ctx context.Context, location string, days int) ([]DailySummary, error) {
	if days < 1 || days > MaxDailyDays {
		return nil, fmt.Errorf("%w: days must be 1-%d", ErrInvalidHorizon, MaxDailyDays)
	}
	hourly, err := p.aqiForecast(ctx, location, days*24)
	if err != nil {
		return nil, err
	}

	start := hourly.GeneratedAt
	daily := make([]DailySummary, 0, days)
	for d := 0; d < days; d++ {
		slice := hourly.Points[d*24 : (d+1)*24]

		lo, hi, sum := math.MaxInt, math.MinInt, 0
		for _, pt := range slice {
			lo = min(lo, pt.Predicted)
			hi = max(hi, pt.Predicted)
			sum += pt.Predicted
		}
		avg := int(math.Round(float64(sum) / float64(len(slice))))
		date := start.AddDate(0, 0, d)
		daily = append(daily, DailySummary{
			Day:       date.Weekday().String()[:3],
			Date:      time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
			Min:       lo,
			Avg:       avg,
			Max:       hi,
			Predicted: avg,
		})
	}
	return daily, nil
}

// TemperatureHourly projects temperature (°C) for the next hours (1-72) from the
// last 72 readings that carry a temperature.
func (p *Predictor) TemperatureHourly(ctx context.Context, location string, hours int) (Forecast, error) {
	if hours < 1 || hours > MaxHourlyHorizon {
		return Forecast{}, fmt.Errorf("%w: hours must be 1-%d", ErrInvalidHorizon, MaxHourlyHorizon)
	}
	readings, err := p.recent(ctx, location, TemperatureHistoryWindow)
	if err != nil {
		return Forecast{}, err
	}

	series := make([]float64, 0, len(readings))
	for _, r := range readings {
		if r.Temperature != nil {
			series = append(series, *r.Temperature)
		}
	}
	return p.project(p.temperature, location, "temperature", series, hours)
}

func (p *Predictor) recent(ctx context.Context, location string, n int) ([]telemetry.Reading, error) {
	readings, err := p.history.Recent(ctx, location, n)
	if err != nil {
		if errors.Is(err, telemetry.ErrNoData) {
			return nil, fmt.Errorf("%w for %s", ErrNoData, location)
		}
		return nil, err
	}
	return readings, nil
}

func (p *Predictor) project(engine *Engine, location, metric string, series []float64, hours int) (Forecast, error) {
	if len(series) == 0 {
		return Forecast{}, fmt.Errorf("%w: no %s history for %s", ErrNoData, metric, location)
	}
	res, err := engine.Forecast(series, hours)
	if err != nil {
		return Forecast{}, err
	}

	now := p.now()
	points := make([]Point, len(res.Values))
	for i, v := range res.Values {
		points[i] = Point{
			Time:       now.Add(time.Duration(i+1) * p.step),
			Predicted:  v,
			Confidence: res.Confidence,
		}
	}
	return Forecast{
		Location:    location,
		Metric:      metric,
		Strategy:    res.Strategy,
		Confidence:  res.Confidence,
		Degenerate:  res.Degenerate,
		GeneratedAt: now,
		Points:      points,
	}, nil
}
