package fetch

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tenantsync/errors"
)

func TestRegistryDispatchesByIntegrationID(t *testing.T) {
	bus := newFakeBus()
	sched := &fakeScheduler{}
	conn := &fakeConnector{pages: pagesOf(1, 2)}
	adapter := newTestAdapter(conn, bus, sched)

	reg := NewRegistry(slog.Default())
	reg.Register(adapter)

	job := syncJob(map[string]any{
		MetaIntegrationID: "int-1",
		MetaEntityType:    "identities",
	})
	require.NoError(t, reg.HandleJob(context.Background(), job))
	assert.Equal(t, 1, conn.calls)
}

func TestRegistryUnknownIntegrationNotRetryable(t *testing.T) {
	reg := NewRegistry(slog.Default())

	job := syncJob(map[string]any{
		MetaIntegrationID: "nope",
		MetaEntityType:    "identities",
	})
	err := reg.HandleJob(context.Background(), job)
	require.Error(t, err)
	assert.False(t, errors.Retryable(err))
}

func TestRegistryContinuationCarriesIntegrationID(t *testing.T) {
	bus := newFakeBus()
	sched := &fakeScheduler{}
	conn := &fakeConnector{pages: pagesOf(2, 1)}
	adapter := newTestAdapter(conn, bus, sched)

	reg := NewRegistry(slog.Default())
	reg.Register(adapter)

	job := syncJob(map[string]any{
		MetaIntegrationID: "int-1",
		MetaEntityType:    "identities",
	})
	require.NoError(t, reg.HandleJob(context.Background(), job))
	require.Len(t, sched.jobs, 1)
	assert.Equal(t, "int-1", sched.jobs[0].Metadata[MetaIntegrationID],
		"continuation jobs must route back through the registry")
}
