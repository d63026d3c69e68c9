package resource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsCleanupsNewestFirst(t *testing.T) {
	cm := newContextManager(context.Background())
	var order []string
	cm.OnShutdown("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	cm.OnShutdown("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("boom")
	})

	assert.True(t, cm.IsActive())
	err := cm.Shutdown()
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []string{"second", "first"}, order)
	assert.False(t, cm.IsActive())
	assert.ErrorIs(t, cm.GetContext().Err(), context.Canceled)

	assert.NoError(t, cm.Shutdown())
	assert.Len(t, order, 2)
}

func TestWithTimeoutDerivesFromRoot(t *testing.T) {
	cm := newContextManager(context.Background())
	ctx, cancel := cm.WithTimeout(time.Hour)
	defer cancel()
	cm.Shutdown()
	assert.Error(t, ctx.Err())
}
