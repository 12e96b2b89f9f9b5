package starlark

import (
	"context"
	"testing"

	"github.com/leapstack-labs/sqlweave/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestScope_Shadowing(t *testing.T) {
	s := NewScope(starlark.StringDict{"x": starlark.String("global")})

	v, ok := s.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, starlark.String("global"), v)

	s.Push()
	s.Set("x", starlark.String("local"))
	v, _ = s.Lookup("x")
	assert.Equal(t, starlark.String("local"), v)
	assert.Equal(t, starlark.String("local"), s.Env()["x"])

	s.Pop()
	v, _ = s.Lookup("x")
	assert.Equal(t, starlark.String("global"), v)
	assert.Equal(t, starlark.String("global"), s.Env()["x"])

	_, ok = s.Lookup("missing")
	assert.False(t, ok)
}

func TestScope_PopKeepsOutermostFrame(t *testing.T) {
	s := NewScope(nil)
	s.Pop()
	s.Pop()
	s.Set("a", starlark.MakeInt(1))
	v, ok := s.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, starlark.MakeInt(1), v)
}

func TestScope_Assign(t *testing.T) {
	s := NewScope(nil)
	s.Set("total", starlark.MakeInt(0))
	s.Push()
	s.Assign("total", starlark.MakeInt(5))
	s.Assign("fresh", starlark.MakeInt(1))
	s.Pop()

	v, _ := s.Lookup("total")
	assert.Equal(t, starlark.MakeInt(5), v)
	_, ok := s.Lookup("fresh")
	assert.False(t, ok, "assign without an existing binding is frame local")
}

func TestScope_Eval(t *testing.T) {
	s := NewScope(starlark.StringDict{"cols": starlark.NewList([]starlark.Value{starlark.String("a"), starlark.String("b")})})
	s.Set("sep", starlark.String(", "))
	thread := NewThread(context.Background(), "test", ThreadOptions{Logger: testutil.NewTestLogger(t)})
	defer ReleaseThread(thread)

	out, err := s.EvalString(thread, "m.sql", "sep.join(cols)")
	require.NoError(t, err)
	assert.Equal(t, "a, b", out)

	out, err = s.EvalString(thread, "m.sql", "None")
	require.NoError(t, err)
	assert.Equal(t, "", out)

	_, err = s.Eval(thread, "m.sql", "undefined_name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined")
}

func TestThread_MaxSteps(t *testing.T) {
	thread := NewThread(context.Background(), "test", ThreadOptions{MaxSteps: 100})
	s := NewScope(nil)

	_, err := s.Eval(thread, "m.sql", "[x for x in range(100000)]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many steps")
}

func TestThread_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	thread := NewThread(ctx, "test", ThreadOptions{})
	defer ReleaseThread(thread)

	_, err := NewScope(nil).Eval(thread, "m.sql", "[x for x in range(100000)]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
}

func TestLocal(t *testing.T) {
	thread := NewThread(context.Background(), "test", ThreadOptions{})
	thread.SetLocal("k", 42)

	v, ok := Local[int](thread, "k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = Local[string](thread, "k")
	assert.False(t, ok)
}
