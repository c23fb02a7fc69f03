package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/airwatch/internal/telemetry"
)

// readingHistory holds readings for one location in ascending timestamp order.
type readingHistory struct {
	readings []telemetry.Reading
}

// insert keeps ascending order; equal timestamps stay in arrival order.
func (h *readingHistory) insert(r telemetry.Reading) {
	n := len(h.readings)
	if n == 0 || !r.Timestamp.Before(h.readings[n-1].Timestamp) {
		h.readings = append(h.readings, r)
		return
	}
	i := sort.Search(n, func(i int) bool {
		return h.readings[i].Timestamp.After(r.Timestamp)
	})
	h.readings = append(h.readings, telemetry.Reading{})
	copy(h.readings[i+1:], h.readings[i:])
	h.readings[i] = r
}

// MemoryStore is a concurrency-safe in-memory implementation of telemetry.Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key, value: history
	data map[string]*readingHistory
	// key: device id, value: samples in arrival order
	devices map[string][]telemetry.DeviceReading

	// retention configuration
	maxHistory int           // max number of readings per location
	maxAge     time.Duration // optional max age for readings

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory or maxAge is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*readingHistory),
		devices:    make(map[string][]telemetry.DeviceReading),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Append adds a reading for its location and enforces retention.
func (s *MemoryStore) Append(_ context.Context, r telemetry.Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Pollutants = clonePollutants(r.Pollutants)

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[r.Location]
	if !ok {
		history = &readingHistory{}
		s.data[r.Location] = history
	}
	history.insert(r)
	s.enforceRetention(history)
	return nil
}

func (s *MemoryStore) enforceRetention(history *readingHistory) {
	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.readings) > s.maxHistory {
		over := len(history.readings) - s.maxHistory
		history.readings = history.readings[over:]
	}

	// Enforce retention by age; the most recent reading is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := sort.Search(len(history.readings), func(i int) bool {
			return !history.readings[i].Timestamp.Before(cutoff)
		})
		if i >= len(history.readings) {
			i = len(history.readings) - 1
		}
		if i > 0 {
			history.readings = history.readings[i:]
		}
	}
}

// Latest returns the most recent reading for a location.
func (s *MemoryStore) Latest(_ context.Context, location string) (telemetry.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[location]
	if !ok || len(history.readings) == 0 {
		return telemetry.Reading{}, telemetry.ErrNoData
	}
	return cloneReading(history.readings[len(history.readings)-1]), nil
}

// Recent returns up to n readings, most recent first.
func (s *MemoryStore) Recent(_ context.Context, location string, n int) ([]telemetry.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[location]
	if !ok || len(history.readings) == 0 {
		return nil, telemetry.ErrNoData
	}
	if n <= 0 {
		return []telemetry.Reading{}, nil
	}

	total := len(history.readings)
	n = min(n, total)
	result := make([]telemetry.Reading, 0, n)
	for i := total - 1; i >= total-n; i-- {
		result = append(result, cloneReading(history.readings[i]))
	}
	return result, nil
}

// Range returns all readings for a location between from and to (inclusive), oldest first.
func (s *MemoryStore) Range(_ context.Context, location string, from, to time.Time) ([]telemetry.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[location]
	if !ok || len(history.readings) == 0 {
		return nil, telemetry.ErrNoData
	}

	result := []telemetry.Reading{}
	start := sort.Search(len(history.readings), func(i int) bool {
		return !history.readings[i].Timestamp.Before(from)
	})
	for _, r := range history.readings[start:] {
		if r.Timestamp.After(to) {
			break
		}
		result = append(result, cloneReading(r))
	}
	return result, nil
}

// AppendDevice stores a device-originated sample.
func (s *MemoryStore) AppendDevice(_ context.Context, r telemetry.DeviceReading) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	samples := append(s.devices[r.DeviceID], r)
	if s.maxHistory > 0 && len(samples) > s.maxHistory {
		samples = samples[len(samples)-s.maxHistory:]
	}
	s.devices[r.DeviceID] = samples
	return nil
}

// RecentDevice returns up to n samples of a device, most recent first.
func (s *MemoryStore) RecentDevice(_ context.Context, deviceID string, n int) ([]telemetry.DeviceReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.devices[deviceID]
	if len(samples) == 0 {
		return nil, telemetry.ErrNoData
	}
	n = max(0, min(n, len(samples)))
	result := make([]telemetry.DeviceReading, 0, n)
	for i := len(samples) - 1; i >= len(samples)-n; i-- {
		result = append(result, samples[i])
	}
	return result, nil
}

// Close is a no-op; it lets MemoryStore stand in wherever a closable store is expected.
func (s *MemoryStore) Close() error { return nil }

func cloneReading(r telemetry.Reading) telemetry.Reading {
	r.Pollutants = clonePollutants(r.Pollutants)
	return r
}

func clonePollutants(p map[telemetry.Pollutant]float64) map[telemetry.Pollutant]float64 {
	if p == nil {
		return nil
	}
	out := make(map[telemetry.Pollutant]float64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
