package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulstack/soulmesh/core"
)

const calcSource = `
---Adds two numbers.
---@param a integer: first addend
---@param b integer: second addend
function add(a, b)
	return a + b
end

function greet(name)
	print("hello " .. name)
	return true
end

function _secret()
	return 42
end

function reveal()
	return _secret()
end
`

func TestExecuteAdd(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), calcSource, "add", []any{2, 3}, nil, 0)

	require.Nil(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, int64(5), res.Result)
	assert.Empty(t, res.Output)
}

func TestExecuteCapturesOutput(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), calcSource, "greet", []any{"world"}, nil, 0)

	require.True(t, res.Success)
	assert.Equal(t, true, res.Result)
	assert.Equal(t, "hello world\n", res.Output)
}

func TestExecutePrivateStaysCallableInternally(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), calcSource, "reveal", nil, nil, 0)
	require.True(t, res.Success)
	assert.Equal(t, int64(42), res.Result)
}

func TestExecuteFunctionNotFound(t *testing.T) {
	e := New()
	res := e.Execute(context.Background(), calcSource, "subtract", nil, nil, 0)

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.ExecCodeFunctionNotFound, res.Error.Code)
}

func TestExecuteGuestErrorIsStructured(t *testing.T) {
	src := `function boom() error("kaput") end`
	e := New()
	res := e.Execute(context.Background(), src, "boom", nil, nil, 0)

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.ExecCodeExecutionError, res.Error.Code)
	assert.Contains(t, res.Error.Message, "kaput")
}

func TestExecuteTimeoutUnblocksCaller(t *testing.T) {
	src := `function spin() while true do end end`
	e := New()

	start := time.Now()
	res := e.Execute(context.Background(), src, "spin", nil, nil, 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.ExecCodeTimeout, res.Error.Code)
	assert.Less(t, elapsed, 2*time.Second, "caller must not block on the spinning worker")
}

func TestExecuteRejectsViolationBeforeRunning(t *testing.T) {
	src := `
function f()
	return os.time()
end
`
	e := New()
	res := e.Execute(context.Background(), src, "f", nil, nil, 0)

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.ExecCodeSandboxViolation, res.Error.Code)
	assert.Contains(t, res.Error.Message, "os")
}

func TestExecuteKwargsAsTrailingTable(t *testing.T) {
	src := `
function describe(opts)
	return opts.name .. ":" .. opts.count
end
`
	e := New()
	res := e.Execute(context.Background(), src, "describe", nil, map[string]any{"name": "x", "count": 2}, 0)

	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, "x:2", res.Result)
}

func TestExecuteMultipleReturnValues(t *testing.T) {
	src := `function pair() return 1, "two" end`
	e := New()
	res := e.Execute(context.Background(), src, "pair", nil, nil, 0)

	require.True(t, res.Success)
	assert.Equal(t, []any{int64(1), "two"}, res.Result)
}

func TestExecuteTableRoundTrip(t *testing.T) {
	src := `
function echo(t)
	return t
end

function build()
	return {x = 1, tags = {"a", "b"}}
end
`
	e := New()

	res := e.Execute(context.Background(), src, "echo", []any{map[string]any{"k": "v"}}, nil, 0)
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"k": "v"}, res.Result)

	res = e.Execute(context.Background(), src, "build", nil, nil, 0)
	require.True(t, res.Success)
	built, ok := res.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1), built["x"])
	assert.Equal(t, []any{"a", "b"}, built["tags"])
}

func TestExecuteAllowedLibrariesWork(t *testing.T) {
	src := `
function hyp(a, b)
	return math.sqrt(a * a + b * b)
end
`
	e := New()
	res := e.Execute(context.Background(), src, "hyp", []any{3, 4}, nil, 0)
	require.True(t, res.Success)
	assert.Equal(t, int64(5), res.Result)
}

func TestExecuteContextCancellation(t *testing.T) {
	src := `function spin() while true do end end`
	e := New()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := e.Execute(ctx, src, "spin", nil, nil, time.Minute)

	require.NotNil(t, res.Error)
	assert.Equal(t, core.ExecCodeTimeout, res.Error.Code)
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	limiter := core.NewExecLimiter(1)
	e := New(func(o *Options) { o.Limiter = limiter })

	src := `function quick() return 1 end`
	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			res := e.Execute(context.Background(), src, "quick", nil, nil, 0)
			assert.True(t, res.Success)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("executions did not drain")
		}
	}
	assert.Equal(t, 0, limiter.InFlight())
}
