package executor

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCancelRegistryUnknownJobIsNotCancelled(t *testing.T) {
	r := NewCancelRegistry()
	assert.False(t, r.IsCancelled(uuid.New()))
}

func TestCancelRegistryCancelThenIsCancelled(t *testing.T) {
	r := NewCancelRegistry()
	id := uuid.New()
	r.Cancel(id)
	assert.True(t, r.IsCancelled(id))
}

func TestCancelRegistryResetClearsFlag(t *testing.T) {
	r := NewCancelRegistry()
	id := uuid.New()
	r.Cancel(id)
	require := assert.New(t)
	require.True(r.IsCancelled(id))
	r.Reset(id)
	require.False(r.IsCancelled(id))
}

func TestCancelRegistryForgetDropsEntry(t *testing.T) {
	r := NewCancelRegistry()
	id := uuid.New()
	r.Cancel(id)
	r.Forget(id)
	// Forget just drops the map entry; querying again lazily recreates an
	// unset flag rather than remembering the prior cancellation.
	assert.False(t, r.IsCancelled(id))
}

func TestCancelRegistryIsSafeForConcurrentUse(t *testing.T) {
	r := NewCancelRegistry()
	id := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); r.Cancel(id) }()
		go func() { defer wg.Done(); r.IsCancelled(id) }()
	}
	wg.Wait()
	assert.True(t, r.IsCancelled(id))
}
