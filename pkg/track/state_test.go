package track

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	State
	Name string
}

type recordingLoader struct {
	calls []string
	err   error
}

func (l *recordingLoader) Load(_ context.Context, _ any, property string) error {
	l.calls = append(l.calls, property)
	return l.err
}

func TestState_Changes(t *testing.T) {
	it := &item{}
	assert.Empty(t, it.ChangedProperties())

	it.NotifyChanged("Name")
	it.NotifyChanged("Age")
	it.NotifyChanged("Name")
	assert.Equal(t, []string{"Age", "Name"}, it.ChangedProperties())
	assert.True(t, it.IsChanged("Name"))

	it.ResetChanges()
	assert.Empty(t, it.ChangedProperties())
	assert.False(t, it.IsChanged("Name"))
}

func TestState_ForeignKeys(t *testing.T) {
	var s State
	_, ok := s.ForeignKey("Parent")
	assert.False(t, ok)

	s.SetForeignKey("Parent", []any{int64(4)})
	key, ok := s.ForeignKey("Parent")
	require.True(t, ok)
	assert.Equal(t, []any{int64(4)}, key)
}

func TestState_EnsureLoaded(t *testing.T) {
	ctx := context.Background()

	t.Run("detached entities are not loaded", func(t *testing.T) {
		it := &item{}
		require.NoError(t, it.EnsureLoaded(ctx, it, "Children"))
		assert.False(t, it.IsLoaded("Children"))
	})

	t.Run("loads once", func(t *testing.T) {
		loader := &recordingLoader{}
		it := &item{}
		it.Attach(loader)
		assert.True(t, it.Attached())

		require.NoError(t, it.EnsureLoaded(ctx, it, "Children"))
		require.NoError(t, it.EnsureLoaded(ctx, it, "Children"))
		assert.Equal(t, []string{"Children"}, loader.calls)
		assert.True(t, it.IsLoaded("Children"))
	})

	t.Run("failed loads are retried", func(t *testing.T) {
		loader := &recordingLoader{err: errors.New("boom")}
		it := &item{}
		it.Attach(loader)
		assert.Error(t, it.EnsureLoaded(ctx, it, "Parent"))
		assert.False(t, it.IsLoaded("Parent"))

		loader.err = nil
		require.NoError(t, it.EnsureLoaded(ctx, it, "Parent"))
		assert.Equal(t, []string{"Parent", "Parent"}, loader.calls)
	})
}

func TestOf(t *testing.T) {
	it := &item{}
	assert.Same(t, &it.State, Of(it))
	assert.Nil(t, Of(struct{}{}))
	assert.Nil(t, Of(nil))
}
