package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name    string
	reading Reading
	err     error
	calls   int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(context.Context, Location) (Reading, error) {
	s.calls++
	return s.reading, s.err
}

var delhi = Location{City: "Delhi", Country: "IN"}

func TestFallbackProviderFirstSuccessWins(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("timeout")}
	second := &stubProvider{name: "second", reading: Reading{AQI: 80}}
	third := &stubProvider{name: "third", reading: Reading{AQI: 90}}

	chain := NewFallbackProvider(nil, first, second, third)
	r, err := chain.Fetch(context.Background(), delhi)
	require.NoError(t, err)

	assert.Equal(t, 80, r.AQI)
	assert.Equal(t, "second", r.Provider)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, third.calls)
}

func TestFallbackProviderJoinsFailures(t *testing.T) {
	errA := errors.New("rate limited")
	errB := errors.New("server error")
	chain := NewFallbackProvider(nil,
		&stubProvider{name: "a", err: errA},
		&stubProvider{name: "b", err: errB},
	)

	_, err := chain.Fetch(context.Background(), delhi)
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "delhi:IN", pe.Location)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestFallbackProviderEmpty(t *testing.T) {
	_, err := NewFallbackProvider(nil).Fetch(context.Background(), delhi)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestFallbackProviderStopsOnCancelledContext(t *testing.T) {
	p := &stubProvider{name: "a", reading: Reading{AQI: 10}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFallbackProvider(nil, p).Fetch(ctx, delhi)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.calls)
}

func TestReadingValidate(t *testing.T) {
	valid := Reading{Location: "delhi:IN", Timestamp: time.Now(), Source: SourceLive}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.Source = ""
	assert.ErrorIs(t, missing.Validate(), ErrInvalidReading)

	missing = valid
	missing.Timestamp = time.Time{}
	assert.ErrorIs(t, missing.Validate(), ErrInvalidReading)

	farFuture := valid
	farFuture.Timestamp = time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, farFuture.Validate(), ErrInvalidReading)

	device := DeviceReading{DeviceID: "s1", Location: "delhi:IN", Timestamp: time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.ErrorIs(t, device.Validate(), ErrInvalidReading)
}
