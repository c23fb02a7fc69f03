package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoProviders is returned by a chain with nothing to ask.
var ErrNoProviders = errors.New("no telemetry providers configured")

// ProviderError reports that every provider in a chain failed for a location.
type ProviderError struct {
	Location string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider failure for %s: %v", e.Location, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// FallbackProvider asks providers in order and returns the first successful reading.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider creates a chain over providers in priority order.
func NewFallbackProvider(logger *slog.Logger, providers ...Provider) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{providers: providers, logger: logger}
}

func (f *FallbackProvider) Name() string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, p.Name())
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}

func (f *FallbackProvider) Fetch(ctx context.Context, loc Location) (Reading, error) {
	if len(f.providers) == 0 {
		return Reading{}, &ProviderError{Location: loc.Key(), Err: ErrNoProviders}
	}

	var errs []error
	for _, p := range f.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		r, err := p.Fetch(ctx, loc)
		if err == nil {
			if r.Provider == "" {
				r.Provider = p.Name()
			}
			return r, nil
		}
		f.logger.Warn("provider fetch failed", "provider", p.Name(), "location", loc.Key(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return Reading{}, &ProviderError{Location: loc.Key(), Err: errors.Join(errs...)}
}
