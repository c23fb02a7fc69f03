package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/airwatch/internal/metrics"
)

// Service orchestrates fetching from providers and persisting readings.
type Service struct {
	store     Store
	provider  Provider
	locations []Location
	logger    *slog.Logger

	now func() time.Time
}

// NewService creates a new Service. locations are the tracked places the
// scheduler collects for.
func NewService(store Store, provider Provider, locations []Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		provider:  provider,
		locations: locations,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Locations returns the tracked locations.
func (s *Service) Locations() []Location {
	out := make([]Location, len(s.locations))
	copy(out, s.locations)
	return out
}

// Collect fetches one fresh reading for loc and appends it to the store.
func (s *Service) Collect(ctx context.Context, loc Location) (Reading, error) {
	r, err := s.fetch(ctx, loc)
	if err != nil {
		metrics.ObserveCollection(loc.Key(), metrics.ResultProviderError)
		return Reading{}, err
	}

	if err := s.store.Append(ctx, r); err != nil {
		metrics.ObserveCollection(loc.Key(), metrics.ResultStoreError)
		return Reading{}, fmt.Errorf("store reading for %s: %w", loc.Key(), err)
	}
	metrics.ObserveCollection(loc.Key(), metrics.ResultOK)
	metrics.ObserveStored(string(r.Source))

	s.logger.Info("collected reading",
		"location", r.Location,
		"aqi", r.AQI,
		"provider", r.Provider,
	)
	return r, nil
}

// CollectResult is the outcome of collecting one location.
type CollectResult struct {
	Location Location `json:"location"`
	Reading  *Reading `json:"reading,omitempty"`
	Err      error    `json:"-"`
}

// CollectMany collects every location concurrently. A failure for one location
// never affects the others.
func (s *Service) CollectMany(ctx context.Context, locs []Location) []CollectResult {
	results := make([]CollectResult, len(locs))

	var wg sync.WaitGroup
	for i, loc := range locs {
		i, loc := i, loc
		wg.Add(1)
		go func() {
			defer wg.Done()

			res := CollectResult{Location: loc}
			r, err := s.Collect(ctx, loc)
			if err != nil {
				s.logger.Warn("collection failed", "location", loc.Key(), "error", err)
				res.Err = err
			} else {
				res.Reading = &r
			}
			results[i] = res
		}()
	}
	wg.Wait()
	return results
}

// Current returns a live reading for loc without storing it. When every provider
// fails, the latest stored provider-sourced reading is returned tagged as cached.
// Device readings are never used as a fallback.
func (s *Service) Current(ctx context.Context, loc Location) (Reading, error) {
	r, err := s.fetch(ctx, loc)
	if err == nil {
		return r, nil
	}

	s.logger.Warn("live fetch failed, trying stored reading", "location", loc.Key(), "error", err)
	last, storeErr := s.store.Latest(ctx, loc.Key())
	if storeErr != nil {
		if errors.Is(storeErr, ErrNoData) {
			return Reading{}, errors.Join(ErrNoData, err)
		}
		return Reading{}, storeErr
	}
	if last.Source != SourceLive && last.Source != SourceCached {
		return Reading{}, errors.Join(ErrNoData, err)
	}
	last.Source = SourceCached
	return last, nil
}

func (s *Service) fetch(ctx context.Context, loc Location) (Reading, error) {
	if s.provider == nil {
		return Reading{}, &ProviderError{Location: loc.Key(), Err: ErrNoProviders}
	}

	r, err := s.provider.Fetch(ctx, loc)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return Reading{}, err
		}
		return Reading{}, &ProviderError{Location: loc.Key(), Err: err}
	}

	r.ID = uuid.NewString()
	r.Location = loc.Key()
	r.Source = SourceLive
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	} else {
		r.Timestamp = r.Timestamp.UTC()
	}
	if r.AQI == 0 && len(r.Pollutants) > 0 {
		r.AQI = ComputeAQI(r.Pollutants)
	}
	if err := r.Validate(); err != nil {
		return Reading{}, &ProviderError{Location: loc.Key(), Err: err}
	}
	return r, nil
}

// Latest delegates to the underlying store.
func (s *Service) Latest(ctx context.Context, loc Location) (Reading, error) {
	return s.store.Latest(ctx, loc.Key())
}

// Recent delegates to the underlying store.
func (s *Service) Recent(ctx context.Context, loc Location, n int) ([]Reading, error) {
	return s.store.Recent(ctx, loc.Key(), n)
}

// Range delegates to the underlying store.
func (s *Service) Range(ctx context.Context, loc Location, from, to time.Time) ([]Reading, error) {
	return s.store.Range(ctx, loc.Key(), from, to)
}

// DeviceReadings returns up to n recent samples of a device, most recent first.
func (s *Service) DeviceReadings(ctx context.Context, deviceID string, n int) ([]DeviceReading, error) {
	return s.store.RecentDevice(ctx, deviceID, n)
}
