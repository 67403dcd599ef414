package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	valet "github.com/valet-ai/valet"
)

// ObservedStore wraps a valet.CredentialStore, counting successful writes.
// First-time connects and token refreshes both land on Put.
type ObservedStore struct {
	inner valet.CredentialStore
	inst  *Instruments
}

// WrapStore returns an instrumented credential store.
func WrapStore(inner valet.CredentialStore, inst *Instruments) *ObservedStore {
	return &ObservedStore{inner: inner, inst: inst}
}

var _ valet.CredentialStore = (*ObservedStore)(nil)

func (o *ObservedStore) Put(ctx context.Context, userID string, integration valet.Integration, cred valet.Credential) error {
	err := o.inner.Put(ctx, userID, integration, cred)
	if err == nil {
		o.inst.CredentialWrites.Add(ctx, 1, metric.WithAttributes(
			attribute.String("integration", integration.String()),
		))
	}
	return err
}

func (o *ObservedStore) Get(ctx context.Context, userID string, integration valet.Integration) (valet.Credential, bool, error) {
	return o.inner.Get(ctx, userID, integration)
}

func (o *ObservedStore) Exists(ctx context.Context, userID string, integration valet.Integration) (bool, error) {
	return o.inner.Exists(ctx, userID, integration)
}

func (o *ObservedStore) Init(ctx context.Context) error { return o.inner.Init(ctx) }

func (o *ObservedStore) Close() error { return o.inner.Close() }
