package daysync

import (
	"context"
	"testing"

	"trading-journal/internal/discipline"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindings_ButtonAndHotkeyShareCommand(t *testing.T) {
	f := newFixture(t, 3)
	b := DefaultBindings(f.cache)

	byName, ok := b.Lookup("quick_log")
	require.True(t, ok)
	byKey, ok := b.Lookup("L")
	require.True(t, ok)
	assert.Same(t, byName, byKey)

	ctx := context.Background()
	rec, err := b.Dispatch(ctx, "quick_log")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.UsedTrades)

	rec, handled, err := b.HandleKey(ctx, KeyEvent{Key: "l"})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 2, rec.UsedTrades)
}

func TestBindings_HandleKeyIgnoresEditingAndModifiers(t *testing.T) {
	f := newFixture(t, 3)
	b := DefaultBindings(f.cache)
	ctx := context.Background()

	for _, ev := range []KeyEvent{
		{Key: "l", Editing: true},
		{Key: "l", Ctrl: true},
		{Key: "l", Meta: true},
		{Key: "l", Alt: true},
		{Key: "k"},
	} {
		_, handled, err := b.HandleKey(ctx, ev)
		require.NoError(t, err)
		assert.False(t, handled, "%+v", ev)
	}

	rec, err := f.svc.Today(ctx, testUser, testTZ)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.UsedTrades)
}

func TestBindings_UnknownCommand(t *testing.T) {
	b := NewBindings()
	_, err := b.Dispatch(context.Background(), "nuke")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestQuickLogCommand_UnauthenticatedIsSilent(t *testing.T) {
	c := NewCache(&gatedSource{}, nil, Options{Logger: zerolog.Nop()})
	defer c.Close()

	rec, err := NewQuickLogCommand(c).Execute(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestQuickLogCommand_MaxReachedSurfaces(t *testing.T) {
	f := newFixture(t, 1)
	cmd := NewQuickLogCommand(f.cache)
	ctx := context.Background()

	_, err := cmd.Execute(ctx)
	require.NoError(t, err)
	_, err = cmd.Execute(ctx)
	assert.ErrorIs(t, err, discipline.ErrMaxReached)
}
