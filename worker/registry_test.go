package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/queue"
)

func noopHandler(ctx context.Context, job *queue.Job) error { return nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("parse_document", noopHandler, 4))

	reg, ok := r.lookup("parse_document")
	assert.True(t, ok)
	assert.NotNil(t, reg.handler)

	_, ok = r.lookup("unknown")
	assert.False(t, ok)
}

func TestRegistryDuplicateKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("analyze_document", noopHandler, 0))
	assert.Error(t, r.Register("analyze_document", noopHandler, 0))
}

func TestRegistryKinds(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("parse_document", noopHandler, 0)
	r.MustRegister("graphiti_ingest", noopHandler, 0)

	kinds := r.Kinds()
	assert.ElementsMatch(t, []string{"parse_document", "graphiti_ingest"}, kinds)
}

func TestRegistrationConcurrencyCap(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("analyze_document", noopHandler, 2))
	reg, _ := r.lookup("analyze_document")

	assert.True(t, reg.tryAcquire())
	assert.True(t, reg.tryAcquire())
	assert.False(t, reg.tryAcquire(), "third acquire should hit the cap")

	reg.release()
	assert.True(t, reg.tryAcquire())
}

func TestRegistrationUncapped(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("checkpoint_cleanup", noopHandler, 0))
	reg, _ := r.lookup("checkpoint_cleanup")
	for i := 0; i < 100; i++ {
		assert.True(t, reg.tryAcquire())
	}
}
