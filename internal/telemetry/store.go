package telemetry

import (
	"context"

	"github.com/variantlabs/decider/internal/profile"
)

// InstrumentStore wraps a profile store so caught failures surface in the
// profile_store_failures_total counter. The decision engine already logs and
// absorbs these errors; the counter is what alerting watches.
func InstrumentStore(inner profile.Store) profile.Store {
	return &instrumentedStore{inner: inner}
}

type instrumentedStore struct {
	inner profile.Store
}

func (s *instrumentedStore) Lookup(ctx context.Context, userID string) (*profile.Profile, error) {
	prof, err := s.inner.Lookup(ctx, userID)
	if err != nil {
		ProfileStoreFailures.WithLabelValues("lookup").Inc()
	}
	return prof, err
}

func (s *instrumentedStore) Save(ctx context.Context, prof *profile.Profile) error {
	err := s.inner.Save(ctx, prof)
	if err != nil {
		ProfileStoreFailures.WithLabelValues("save").Inc()
	}
	return err
}

func (s *instrumentedStore) Close() error { return s.inner.Close() }
