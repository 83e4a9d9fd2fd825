package qtimer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPile_FiresInOrder(t *testing.T) {
	pile := NewPile()
	var fired []string

	var a, b, c Timer
	a.InitNew(pile, func(*Timer, any) { fired = append(fired, "a") }, nil)
	b.InitNew(pile, func(*Timer, any) { fired = append(fired, "b") }, nil)
	c.InitNew(pile, func(*Timer, any) { fired = append(fired, "c") }, nil)

	base := time.Now()
	a.Set(30 * time.Millisecond)
	b.Set(10 * time.Millisecond)
	c.Set(20 * time.Millisecond)

	require.Equal(t, 3, pile.Len())

	n := pile.Poll(base.Add(25 * time.Millisecond))
	require.Equal(t, 2, n)
	require.Equal(t, []string{"b", "c"}, fired)
	require.Equal(t, 1, pile.Len())

	n = pile.Poll(base.Add(35 * time.Millisecond))
	require.Equal(t, 1, n)
	require.Equal(t, []string{"b", "c", "a"}, fired)
	require.Equal(t, 0, pile.Len())
}

func TestTimer_UnsetBeforeFire(t *testing.T) {
	pile := NewPile()
	fired := false

	var tm Timer
	tm.InitNew(pile, func(*Timer, any) { fired = true }, nil)
	tm.Set(time.Millisecond)
	require.True(t, tm.Armed())

	tm.Unset()
	require.False(t, tm.Armed())
	require.Equal(t, 0, pile.Len())

	pile.Poll(time.Now().Add(time.Hour))
	require.False(t, fired)
}

func TestTimer_UnsetIdempotent(t *testing.T) {
	var tm Timer
	tm.Unset() // uninitialised timer: must not panic
	require.False(t, tm.Armed())
}

func TestTimer_ResetReplacesDeadline(t *testing.T) {
	pile := NewPile()
	callCount := 0

	var tm Timer
	tm.InitNew(pile, func(*Timer, any) { callCount++ }, nil)

	tm.Set(time.Hour)
	tm.Set(time.Millisecond) // reset to a much sooner deadline
	require.Equal(t, 1, pile.Len())

	pile.Poll(time.Now().Add(time.Second))
	require.Equal(t, 1, callCount)
}

func TestPile_NextDeadline(t *testing.T) {
	pile := NewPile()
	_, ok := pile.NextDeadline()
	require.False(t, ok)

	var tm Timer
	tm.InitNew(pile, func(*Timer, any) {}, nil)
	tm.Set(5 * time.Millisecond)

	d, ok := pile.NextDeadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(5*time.Millisecond), d, 2*time.Millisecond)
}

func TestTimer_CtxPassedThrough(t *testing.T) {
	pile := NewPile()
	type ctxT struct{ id int }
	var got any

	var tm Timer
	tm.InitNew(pile, func(_ *Timer, ctx any) { got = ctx }, ctxT{id: 7})
	tm.Set(0)
	pile.Poll(time.Now())
	require.Equal(t, ctxT{id: 7}, got)
}
