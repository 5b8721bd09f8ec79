package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-dev/quarry/internal/domain"
)

func noopProcessor() Processor {
	return ProcessorFunc(func(ctx context.Context, record *domain.TaskRecord, progress ProgressFunc) (any, error) {
		return nil, nil
	})
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(domain.TaskTypeDocument, noopProcessor()))

	assert.True(t, registry.Has(domain.TaskTypeDocument))
	assert.NotNil(t, registry.Get(domain.TaskTypeDocument))
	assert.False(t, registry.Has(domain.TaskTypeGraph))
	assert.Nil(t, registry.Get(domain.TaskTypeGraph))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(domain.TaskTypeBatch, noopProcessor()))

	err := registry.Register(domain.TaskTypeBatch, noopProcessor())
	assert.ErrorIs(t, err, ErrProcessorRegistered)
}

func TestRegistryRejectsEmptyTypeAndNilProcessor(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	assert.ErrorIs(t, registry.Register("", noopProcessor()), domain.ErrEmptyTaskType)
	assert.Error(t, registry.Register(domain.TaskTypeBatch, nil))
}

func TestRegistryTypes(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(domain.TaskTypeDocument, noopProcessor()))
	require.NoError(t, registry.Register(domain.TaskTypeSchema, noopProcessor()))

	types := registry.Types()
	assert.ElementsMatch(t, []domain.TaskType{domain.TaskTypeDocument, domain.TaskTypeSchema}, types)
}
