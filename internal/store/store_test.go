package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/airwatch/internal/telemetry"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(loc string, offset time.Duration, aqi int) telemetry.Reading {
	temp := 21.5
	return telemetry.Reading{
		ID:          fmt.Sprintf("%s-%d", loc, aqi),
		Location:    loc,
		Timestamp:   base.Add(offset),
		AQI:         aqi,
		Pollutants:  map[telemetry.Pollutant]float64{telemetry.PM25: float64(aqi) / 4, telemetry.CO: 310.4},
		Temperature: &temp,
		Source:      telemetry.SourceLive,
		Provider:    "test",
	}
}

func aqis(readings []telemetry.Reading) []int {
	out := make([]int, 0, len(readings))
	for _, r := range readings {
		out = append(out, r.AQI)
	}
	return out
}

type storeFactory func(t *testing.T) ReadingStore

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) ReadingStore {
			return NewMemoryStore(0, 0)
		},
		"sqlite": func(t *testing.T) ReadingStore {
			s, err := OpenSQLite(context.Background(), ":memory:", nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStores(t *testing.T) {
	for name, factory := range storeFactories() {
		name, factory := name, factory
		t.Run(name, func(t *testing.T) {
			t.Run("LatestAfterAppend", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				_, err := s.Latest(ctx, "delhi:IN")
				require.ErrorIs(t, err, telemetry.ErrNoData)

				r := reading("delhi:IN", 0, 120)
				require.NoError(t, s.Append(ctx, r))

				got, err := s.Latest(ctx, "delhi:IN")
				require.NoError(t, err)
				assert.Equal(t, r.ID, got.ID)
				assert.Equal(t, r.AQI, got.AQI)
				assert.True(t, r.Timestamp.Equal(got.Timestamp))
				assert.Equal(t, telemetry.SourceLive, got.Source)
				assert.InDelta(t, 310.4, got.Pollutants[telemetry.CO], 1e-9)
				require.NotNil(t, got.Temperature)
				assert.InDelta(t, 21.5, *got.Temperature, 1e-9)
				assert.Nil(t, got.WindSpeed)
			})

			t.Run("RecentIsDescending", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				// Arrival order differs from timestamp order on purpose.
				appends := []struct {
					offset time.Duration
					aqi    int
				}{
					{0, 50},
					{time.Hour, 55},
					{4 * time.Hour, 62},
					{3 * time.Hour, 58},
					{2 * time.Hour, 60},
				}
				for _, a := range appends {
					require.NoError(t, s.Append(ctx, reading("pune:IN", a.offset, a.aqi)))
				}

				got, err := s.Recent(ctx, "pune:IN", 5)
				require.NoError(t, err)
				assert.Equal(t, []int{62, 58, 60, 55, 50}, aqis(got))

				got, err = s.Recent(ctx, "pune:IN", 2)
				require.NoError(t, err)
				assert.Equal(t, []int{62, 58}, aqis(got))

				got, err = s.Recent(ctx, "pune:IN", 100)
				require.NoError(t, err)
				assert.Len(t, got, 5)

				_, err = s.Recent(ctx, "goa:IN", 5)
				assert.ErrorIs(t, err, telemetry.ErrNoData)
			})

			t.Run("DuplicateTimestampsAreDistinct", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				first := reading("agra:IN", 0, 90)
				second := reading("agra:IN", 0, 91)
				require.NoError(t, s.Append(ctx, first))
				require.NoError(t, s.Append(ctx, second))

				got, err := s.Recent(ctx, "agra:IN", 10)
				require.NoError(t, err)
				assert.Equal(t, []int{91, 90}, aqis(got))
			})

			t.Run("RangeIsInclusiveAndAscending", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				for i := 0; i < 6; i++ {
					require.NoError(t, s.Append(ctx, reading("mumbai:IN", time.Duration(5-i)*time.Hour, 100+(5-i))))
				}

				got, err := s.Range(ctx, "mumbai:IN", base.Add(time.Hour), base.Add(3*time.Hour))
				require.NoError(t, err)
				assert.Equal(t, []int{101, 102, 103}, aqis(got))
				for _, r := range got {
					assert.False(t, r.Timestamp.Before(base.Add(time.Hour)))
					assert.False(t, r.Timestamp.After(base.Add(3*time.Hour)))
				}

				empty, err := s.Range(ctx, "mumbai:IN", base.Add(48*time.Hour), base.Add(72*time.Hour))
				require.NoError(t, err)
				assert.NotNil(t, empty)
				assert.Empty(t, empty)

				_, err = s.Range(ctx, "kochi:IN", base, base.Add(time.Hour))
				assert.ErrorIs(t, err, telemetry.ErrNoData)
			})

			t.Run("RangeWithFarBounds", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				for i := 0; i < 3; i++ {
					require.NoError(t, s.Append(ctx, reading("jaipur:IN", time.Duration(i)*time.Hour, 70+i)))
				}

				farPast := time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)
				farFuture := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)

				got, err := s.Range(ctx, "jaipur:IN", base.Add(-5*time.Hour), farFuture)
				require.NoError(t, err)
				assert.Equal(t, []int{70, 71, 72}, aqis(got))

				got, err = s.Range(ctx, "jaipur:IN", farPast, base.Add(2*time.Hour))
				require.NoError(t, err)
				assert.Equal(t, []int{70, 71, 72}, aqis(got))

				got, err = s.Range(ctx, "jaipur:IN", farPast, farFuture)
				require.NoError(t, err)
				assert.Len(t, got, 3)
			})

			t.Run("RejectsUnrepresentableTimestamp", func(t *testing.T) {
				s := factory(t)
				r := reading("jaipur:IN", 0, 10)
				r.Timestamp = time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
				assert.ErrorIs(t, s.Append(context.Background(), r), telemetry.ErrInvalidReading)
			})

			t.Run("RejectsMissingFields", func(t *testing.T) {
				s := factory(t)
				r := reading("", 0, 10)
				assert.ErrorIs(t, s.Append(context.Background(), r), telemetry.ErrInvalidReading)
			})

			t.Run("DeviceReadings", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				_, err := s.RecentDevice(ctx, "sensor-1", 5)
				require.ErrorIs(t, err, telemetry.ErrNoData)

				battery := 87.0
				for i := 0; i < 3; i++ {
					require.NoError(t, s.AppendDevice(ctx, telemetry.DeviceReading{
						ID:           fmt.Sprintf("dev-%d", i),
						DeviceID:     "sensor-1",
						Location:     "bengaluru:IN",
						Timestamp:    base.Add(time.Duration(i) * time.Minute),
						PM25:         float64(10 + i),
						PM10:         40,
						BatteryLevel: &battery,
					}))
				}

				got, err := s.RecentDevice(ctx, "sensor-1", 2)
				require.NoError(t, err)
				require.Len(t, got, 2)
				assert.Equal(t, "dev-2", got[0].ID)
				assert.Equal(t, "dev-1", got[1].ID)
				require.NotNil(t, got[0].BatteryLevel)
				assert.InDelta(t, 87.0, *got[0].BatteryLevel, 1e-9)
				assert.Nil(t, got[0].Temperature)
			})

			t.Run("ConcurrentAppendsAndReads", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				var wg sync.WaitGroup
				for w := 0; w < 4; w++ {
					w := w
					wg.Add(1)
					go func() {
						defer wg.Done()
						for i := 0; i < 25; i++ {
							_ = s.Append(ctx, reading("chennai:IN", time.Duration(w*25+i)*time.Minute, w*25+i))
							_, _ = s.Recent(ctx, "chennai:IN", 10)
						}
					}()
				}
				wg.Wait()

				got, err := s.Recent(ctx, "chennai:IN", 100)
				require.NoError(t, err)
				require.Len(t, got, 100)
				for i := 1; i < len(got); i++ {
					assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp))
				}
			})
		})
	}
}

func TestMemoryStoreRetention(t *testing.T) {
	ctx := context.Background()

	t.Run("ByCount", func(t *testing.T) {
		s := NewMemoryStore(3, 0)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Append(ctx, reading("delhi:IN", time.Duration(i)*time.Hour, i)))
		}
		got, err := s.Recent(ctx, "delhi:IN", 10)
		require.NoError(t, err)
		assert.Equal(t, []int{4, 3, 2}, aqis(got))
	})

	t.Run("ByAgeKeepsLatest", func(t *testing.T) {
		s := NewMemoryStore(0, 2*time.Hour)
		s.now = func() time.Time { return base.Add(10 * time.Hour) }

		require.NoError(t, s.Append(ctx, reading("delhi:IN", 0, 1)))
		require.NoError(t, s.Append(ctx, reading("delhi:IN", time.Hour, 2)))

		got, err := s.Latest(ctx, "delhi:IN")
		require.NoError(t, err)
		assert.Equal(t, 2, got.AQI)

		require.NoError(t, s.Append(ctx, reading("delhi:IN", 9*time.Hour, 3)))
		all, err := s.Recent(ctx, "delhi:IN", 10)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, aqis(all))
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0)
	require.NoError(t, s.Append(ctx, reading("delhi:IN", 0, 80)))

	got, err := s.Latest(ctx, "delhi:IN")
	require.NoError(t, err)
	got.Pollutants[telemetry.PM25] = 999

	again, err := s.Latest(ctx, "delhi:IN")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, again.Pollutants[telemetry.PM25], 1e-9)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: DriverMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Driver: DriverSQLite, SQLitePath: ":memory:"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Driver: "postgres"}, nil)
	assert.Error(t, err)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/airwatch.db"

	s, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, reading("delhi:IN", 0, 142)))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Latest(ctx, "delhi:IN")
	require.NoError(t, err)
	assert.Equal(t, 142, got.AQI)
}
