package session

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/webmodder/internal/providers/browser/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gauge struct{ n int }

func (g *gauge) SetSessions(n int) { g.n = n }

func TestManagerLifecycle(t *testing.T) {
	g := &gauge{}
	m := NewManager(Options{
		Fetcher:  newFakeFetcher(map[string]string{"https://site.test/a": pageA}),
		Renderer: sandbox.NewRenderer(sandbox.DefaultConfig()),
	}).WithGauge(g)

	first := m.Create()
	second := m.Create()
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, 2, g.n)

	got, ok := m.Get(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)

	require.NoError(t, second.Navigate(context.Background(), "https://site.test/a"))

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID().String(), list[0].ID, "creation order")
	assert.Equal(t, StateIdle, list[0].State)
	assert.Equal(t, StateRendered, list[1].State)

	assert.True(t, m.Delete(first.ID()))
	assert.False(t, m.Delete(first.ID()))
	_, ok = m.Get(first.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, g.n)

	m.Close()
	assert.Equal(t, 0, m.Count())
	assert.ErrorIs(t, second.Navigate(context.Background(), "https://site.test/a"), ErrClosed)
}
